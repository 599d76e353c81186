// Package docstore is the SQL-backed Document Store: schema-versioned
// tables for every persisted collection the spec names plus the Log Sink's
// append-only log table. Grounded on the teacher's
// pkg/memory/session_service_sql.SQLSessionService — same database/sql,
// multi-dialect, blank-imported-driver shape, generalised from session
// storage to the registry's own collections.
//
// The spec's MONGODB_URL/DATABASE_NAME environment variables name a
// MongoDB-backed store, but no repo in the retrieval pack imports a Mongo
// driver (see DESIGN.md); DATABASE_DSN/DATABASE_DRIVER select among
// postgres, mysql, and sqlite instead.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/registry"
)

// Dialect names the SQL flavor. "sqlite" is the zero-config local default.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

type Config struct {
	Driver          Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the Document Store: one *sql.DB shared by the registry
// persister, the memory doc-side, and the log sink.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	dialect := cfg.Driver
	if dialect == "" {
		dialect = DialectSQLite
	}
	driverName := string(dialect)
	if dialect == DialectSQLite {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 10
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = time.Hour
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the backing database is reachable, for /readyz.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB returns the shared *sql.DB handle, for components (the log sink) that
// own their own table access rather than routing through the Store's API.
func (s *Store) DB() *sql.DB { return s.db }

// placeholder returns the dialect-correct bind-parameter marker for the
// nth (1-indexed) argument: "?" for sqlite/mysql, "$n" for postgres.
func (s *Store) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) initSchema(ctx context.Context) error {
	serialPK := "INTEGER PRIMARY KEY AUTOINCREMENT"
	switch s.dialect {
	case DialectPostgres:
		serialPK = "SERIAL PRIMARY KEY"
	case DialectMySQL:
		serialPK = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS services (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS llm_profiles (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			content_type VARCHAR(32) NOT NULL,
			importance DOUBLE PRECISION NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_agent_id ON memories(agent_id)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id ` + serialPK + `,
			agent_id VARCHAR(64) NOT NULL,
			execution_id VARCHAR(64) NOT NULL,
			rating INTEGER NOT NULL,
			comment TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_agent_id ON feedback(agent_id)`,
		`CREATE TABLE IF NOT EXISTS demos (
			id VARCHAR(64) PRIMARY KEY,
			agent_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS logs (
			id ` + serialPK + `,
			execution_id VARCHAR(64),
			service_id VARCHAR(64),
			agent_id VARCHAR(64),
			level VARCHAR(16) NOT NULL,
			module VARCHAR(128) NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			timestamp TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_execution_id ON logs(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// --- registry.Persister -----------------------------------------------

func (s *Store) upsertNamed(ctx context.Context, table, id, name string, data any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}
	now := time.Now().UTC()

	var existsQuery string
	switch s.dialect {
	case DialectPostgres:
		existsQuery = fmt.Sprintf("SELECT 1 FROM %s WHERE id = $1", table)
	default:
		existsQuery = fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table)
	}
	var dummy int
	err = s.db.QueryRowContext(ctx, existsQuery, id).Scan(&dummy)
	switch {
	case err == sql.ErrNoRows:
		insert := fmt.Sprintf(
			"INSERT INTO %s (id, name, data, created_at, updated_at) VALUES (%s, %s, %s, %s, %s)",
			table, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5))
		_, err = s.db.ExecContext(ctx, insert, id, name, string(blob), now, now)
		return err
	case err != nil:
		return fmt.Errorf("check existing %s row: %w", table, err)
	default:
		update := fmt.Sprintf(
			"UPDATE %s SET name = %s, data = %s, updated_at = %s WHERE id = %s",
			table, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))
		_, err = s.db.ExecContext(ctx, update, name, string(blob), now, id)
		return err
	}
}

func (s *Store) deleteByID(ctx context.Context, table, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", table, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *Store) SaveService(ctx context.Context, svc *registry.Service) error {
	return s.upsertNamed(ctx, "services", svc.GetID(), svc.GetName(), svc)
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "services", id)
}

func (s *Store) SaveAgent(ctx context.Context, a *registry.Agent) error {
	return s.upsertNamed(ctx, "agents", a.GetID(), a.GetName(), a)
}

func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "agents", id)
}

func (s *Store) SaveProfile(ctx context.Context, p *registry.LLMProfile) error {
	return s.upsertNamed(ctx, "llm_profiles", p.GetID(), p.GetName(), p)
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "llm_profiles", id)
}

var _ registry.Persister = (*Store)(nil)

// --- memory.DocStore -----------------------------------------------------

func (s *Store) SaveMemory(ctx context.Context, r memory.Record) error {
	metaBlob, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal memory metadata: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO memories (id, agent_id, content, content_type, importance, metadata, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6), s.placeholder(7))
	_, err = s.db.ExecContext(ctx, query, r.ID, r.AgentID, r.Content, string(r.ContentType), r.Importance, string(metaBlob), r.CreatedAt)
	return err
}

func (s *Store) DeleteMemory(ctx context.Context, agentID, id string) error {
	query := fmt.Sprintf("DELETE FROM memories WHERE id = %s AND agent_id = %s", s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, query, id, agentID)
	return err
}

func (s *Store) ListMemories(ctx context.Context, agentID string, limit int) ([]memory.Record, error) {
	query := fmt.Sprintf(
		"SELECT id, agent_id, content, content_type, importance, metadata, created_at FROM memories WHERE agent_id = %s ORDER BY created_at DESC",
		s.placeholder(1))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []memory.Record
	for rows.Next() {
		var rec memory.Record
		var contentType string
		var metaBlob sql.NullString
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Content, &contentType, &rec.Importance, &metaBlob, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		rec.ContentType = memory.ContentType(contentType)
		if metaBlob.Valid && metaBlob.String != "" {
			_ = json.Unmarshal([]byte(metaBlob.String), &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) CountMemories(ctx context.Context, agentID string) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM memories WHERE agent_id = %s", s.placeholder(1))
	var count int
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&count)
	return count, err
}

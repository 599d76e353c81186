// Package logsink implements the Log Sink (§4.8): an append-only,
// execution-scoped log record store with a global query path. Durable
// storage is the Document Store's logs table; an in-process ring buffer
// per active execution serves SSE tailing from memory without a database
// query; each entry is appended to it after its durable insert. Grounded on the teacher's pkg/logger package
// structure (level parsing, caller filtering) plus the Document Store
// described in SPEC_FULL.md.
package logsink

import (
	"container/ring"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// Level mirrors the spec's {DEBUG, INFO, WARNING, ERROR, CRITICAL} set.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Entry is one log record.
type Entry struct {
	Timestamp   time.Time
	Level       Level
	Module      string
	Message     string
	Details     map[string]any
	ExecutionID string
	ServiceID   string
	AgentID     string
}

// Filter narrows a Query.
type Filter struct {
	Level       Level
	Module      string
	Text        string
	Since       time.Time
	Until       time.Time
	ExecutionID string
	Offset      int
	Limit       int
}

const maxPageSize = 1000
const maxDeletionAgeDays = 365
const ringBufferSize = 512

// DB is the database/sql handle backing durable storage; pkg/docstore.Store
// satisfies this via its embedded *sql.DB plumbing, but logsink owns its
// own table access rather than routing through docstore's Go API so log
// writes never contend with the registry-persistence code path.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Dialect selects the bind-placeholder style, matching pkg/docstore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Sink is the Log Sink's entry point.
type Sink struct {
	db      DB
	dialect Dialect

	mu     sync.Mutex
	active map[string]*ring.Ring // execution_id -> ring buffer of *Entry
}

func New(db DB, dialect Dialect) *Sink {
	return &Sink{db: db, dialect: dialect, active: make(map[string]*ring.Ring)}
}

func (s *Sink) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Write appends an entry: synchronously into the durable logs table, and
// into the execution's in-process ring buffer if ExecutionID is set.
func (s *Sink) Write(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	detailsBlob, err := json.Marshal(e.Details)
	if err != nil {
		return uxerr.Wrap(uxerr.Bug, err)
	}

	query := fmt.Sprintf(
		`INSERT INTO logs (execution_id, service_id, agent_id, level, module, message, details, timestamp)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8))
	if _, err := s.db.ExecContext(ctx, query, nullable(e.ExecutionID), nullable(e.ServiceID), nullable(e.AgentID),
		string(e.Level), e.Module, e.Message, string(detailsBlob), e.Timestamp); err != nil {
		return uxerr.Wrap(uxerr.StoreUnavailable, err)
	}

	if e.ExecutionID != "" {
		s.appendRing(e)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Sink) appendRing(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.active[e.ExecutionID]
	if !ok {
		r = ring.New(ringBufferSize)
	}
	r.Value = e
	s.active[e.ExecutionID] = r.Next()
}

// Tail returns the buffered entries for an in-flight execution, oldest
// first, for low-latency SSE detail panes.
func (s *Sink) Tail(executionID string) []Entry {
	s.mu.Lock()
	r, ok := s.active[executionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	var out []Entry
	r.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(Entry))
	})
	return out
}

// CloseExecution drops the ring buffer once an execution finishes; every
// entry already landed durably via Write.
func (s *Sink) CloseExecution(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, executionID)
}

// Query filters the durable log table. Free-text match uses LIKE, kept
// portable across sqlite/mysql/postgres rather than reaching for
// dialect-specific full-text search (§ Log Sink).
func (s *Sink) Query(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		conditions = append(conditions, fmt.Sprintf(cond, s.placeholder(len(args)+1)))
		args = append(args, arg)
	}
	if f.Level != "" {
		add("level = %s", string(f.Level))
	}
	if f.Module != "" {
		add("module = %s", f.Module)
	}
	if f.ExecutionID != "" {
		add("execution_id = %s", f.ExecutionID)
	}
	if f.Text != "" {
		add("message LIKE %s", "%"+f.Text+"%")
	}
	if !f.Since.IsZero() {
		add("timestamp >= %s", f.Since)
	}
	if !f.Until.IsZero() {
		add("timestamp <= %s", f.Until)
	}

	query := "SELECT execution_id, service_id, agent_id, level, module, message, details, timestamp FROM logs"
	if len(conditions) > 0 {
		query += " WHERE "
		for i, c := range conditions {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %d OFFSET %d", limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var executionID, serviceID, agentID sql.NullString
		var detailsBlob sql.NullString
		var level, module, message string
		if err := rows.Scan(&executionID, &serviceID, &agentID, &level, &module, &message, &detailsBlob, &e.Timestamp); err != nil {
			return nil, uxerr.Wrap(uxerr.StoreUnavailable, err)
		}
		e.ExecutionID, e.ServiceID, e.AgentID = executionID.String, serviceID.String, agentID.String
		e.Level, e.Module, e.Message = Level(level), module, message
		if detailsBlob.Valid && detailsBlob.String != "" {
			_ = json.Unmarshal([]byte(detailsBlob.String), &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteByService bulk-deletes log entries for a service older than
// maxAgeDays (capped at 365 per §4.8).
func (s *Sink) DeleteByService(ctx context.Context, serviceID string, maxAgeDays int) error {
	if maxAgeDays <= 0 || maxAgeDays > maxDeletionAgeDays {
		maxAgeDays = maxDeletionAgeDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	query := fmt.Sprintf("DELETE FROM logs WHERE service_id = %s AND timestamp < %s", s.placeholder(1), s.placeholder(2))
	_, err := s.db.ExecContext(ctx, query, serviceID, cutoff)
	if err != nil {
		return uxerr.Wrap(uxerr.StoreUnavailable, err)
	}
	return nil
}

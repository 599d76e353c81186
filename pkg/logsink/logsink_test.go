package logsink

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id VARCHAR(64),
		service_id VARCHAR(64),
		agent_id VARCHAR(64),
		level VARCHAR(16) NOT NULL,
		module VARCHAR(128) NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		timestamp TIMESTAMP NOT NULL
	)`)
	require.NoError(t, err)
	return db
}

func TestWriteAndQuery(t *testing.T) {
	sink := New(testDB(t), DialectSQLite)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, Entry{
		ExecutionID: "exec-1", Level: LevelInfo, Module: "executor", Message: "started",
	}))
	require.NoError(t, sink.Write(ctx, Entry{
		ExecutionID: "exec-1", Level: LevelError, Module: "executor", Message: "tool call failed",
	}))

	entries, err := sink.Query(ctx, Filter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestQueryFiltersByLevel(t *testing.T) {
	sink := New(testDB(t), DialectSQLite)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, Entry{ExecutionID: "e1", Level: LevelInfo, Module: "m", Message: "info"}))
	require.NoError(t, sink.Write(ctx, Entry{ExecutionID: "e1", Level: LevelError, Module: "m", Message: "error"}))

	entries, err := sink.Query(ctx, Filter{Level: LevelError})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Message)
}

func TestQueryTextSearch(t *testing.T) {
	sink := New(testDB(t), DialectSQLite)
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, Entry{Level: LevelInfo, Module: "m", Message: "connection refused"}))
	require.NoError(t, sink.Write(ctx, Entry{Level: LevelInfo, Module: "m", Message: "all good"}))

	entries, err := sink.Query(ctx, Filter{Text: "refused"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "connection refused", entries[0].Message)
}

func TestTailAndCloseExecution(t *testing.T) {
	sink := New(testDB(t), DialectSQLite)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, Entry{ExecutionID: "exec-1", Level: LevelInfo, Module: "m", Message: "one"}))
	require.NoError(t, sink.Write(ctx, Entry{ExecutionID: "exec-1", Level: LevelInfo, Module: "m", Message: "two"}))

	tailed := sink.Tail("exec-1")
	require.Len(t, tailed, 2)
	assert.Equal(t, "one", tailed[0].Message)
	assert.Equal(t, "two", tailed[1].Message)

	sink.CloseExecution("exec-1")
	assert.Empty(t, sink.Tail("exec-1"))
}

func TestDeleteByService(t *testing.T) {
	sink := New(testDB(t), DialectSQLite)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -400)
	require.NoError(t, sink.Write(ctx, Entry{ServiceID: "svc-1", Level: LevelInfo, Module: "m", Message: "old", Timestamp: old}))
	require.NoError(t, sink.Write(ctx, Entry{ServiceID: "svc-1", Level: LevelInfo, Module: "m", Message: "recent"}))

	require.NoError(t, sink.DeleteByService(ctx, "svc-1", 365))

	entries, err := sink.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].Message)
}

func TestQueryDetailsRoundTrip(t *testing.T) {
	sink := New(testDB(t), DialectSQLite)
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, Entry{
		Level: LevelInfo, Module: "m", Message: "with details",
		Details: map[string]any{"iteration": float64(1)},
	}))

	entries, err := sink.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1), entries[0].Details["iteration"])
}

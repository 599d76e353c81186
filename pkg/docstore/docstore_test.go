package docstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxmcp/uxmcp/pkg/memory"
	"github.com/uxmcp/uxmcp/pkg/registry"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), Config{Driver: DialectSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenInitializesSchema(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Ping(context.Background()))
	require.NotNil(t, s.DB())
}

func TestSaveGetDeleteService(t *testing.T) {
	s := testStore(t)
	svc := &registry.Service{ID: "svc-1", Name: "weather", Route: "/weather/{city}", Method: registry.MethodGET}
	require.NoError(t, s.SaveService(context.Background(), svc))

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM services WHERE id = ?", svc.ID).Scan(&count))
	assert.Equal(t, 1, count)

	svc.Description = "updated"
	require.NoError(t, s.SaveService(context.Background(), svc))
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM services WHERE id = ?", svc.ID).Scan(&count))
	assert.Equal(t, 1, count, "a second save on the same id must update, not duplicate")

	require.NoError(t, s.DeleteService(context.Background(), svc.ID))
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM services WHERE id = ?", svc.ID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSaveGetDeleteAgent(t *testing.T) {
	s := testStore(t)
	a := &registry.Agent{ID: "agent-1", Name: "assistant"}
	require.NoError(t, s.SaveAgent(context.Background(), a))
	require.NoError(t, s.DeleteAgent(context.Background(), a.ID))

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM agents WHERE id = ?", a.ID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSaveGetDeleteProfile(t *testing.T) {
	s := testStore(t)
	p := &registry.LLMProfile{ID: "profile-1", Name: "default", Model: "gpt-4o", Mode: registry.ModeJSON}
	require.NoError(t, s.SaveProfile(context.Background(), p))
	require.NoError(t, s.DeleteProfile(context.Background(), p.ID))

	var count int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM llm_profiles WHERE id = ?", p.ID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestMemoryCRUD(t *testing.T) {
	s := testStore(t)
	rec := memory.Record{
		ID: "mem-1", AgentID: "agent-1", Content: "a fact", ContentType: memory.ContentStoredKnowledge,
		Importance: 0.8, Metadata: map[string]any{"source": "test"},
	}
	require.NoError(t, s.SaveMemory(context.Background(), rec))

	count, err := s.CountMemories(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recs, err := s.ListMemories(context.Background(), "agent-1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a fact", recs[0].Content)
	assert.Equal(t, "test", recs[0].Metadata["source"])

	require.NoError(t, s.DeleteMemory(context.Background(), "agent-1", "mem-1"))
	count, err = s.CountMemories(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestListMemoriesRespectsLimit(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 5; i++ {
		rec := memory.Record{ID: fmt.Sprintf("mem-%d", i), AgentID: "agent-1", Content: "fact", ContentType: memory.ContentConversation, Importance: 0.5}
		require.NoError(t, s.SaveMemory(context.Background(), rec))
	}
	recs, err := s.ListMemories(context.Background(), "agent-1", 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestPersisterInterfaceSatisfied(t *testing.T) {
	var _ registry.Persister = (*Store)(nil)
}

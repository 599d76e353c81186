package chromem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndQueryReturnsNearestMatch(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), "memories", "a", []float32{1, 0, 0}, map[string]any{"content": "alpha fact", "agent_id": "agent-1"}))
	require.NoError(t, s.Upsert(context.Background(), "memories", "b", []float32{0, 1, 0}, map[string]any{"content": "beta fact", "agent_id": "agent-1"}))

	matches, err := s.Query(context.Background(), "memories", []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "alpha fact", matches[0].Content)
}

func TestQueryClampsTopKToCollectionSize(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), "memories", "a", []float32{1, 0}, map[string]any{"content": "one"}))

	matches, err := s.Query(context.Background(), "memories", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestQueryEmptyCollectionReturnsNoResults(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	matches, err := s.Query(context.Background(), "empty-collection", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeleteRemovesDocument(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), "memories", "a", []float32{1, 0}, map[string]any{"content": "one"}))
	require.NoError(t, s.Delete(context.Background(), "memories", "a"))

	matches, err := s.Query(context.Background(), "memories", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDeleteCollectionRemovesAllDocuments(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), "memories", "a", []float32{1, 0}, map[string]any{"content": "one"}))
	require.NoError(t, s.DeleteCollection(context.Background(), "memories"))

	matches, err := s.Query(context.Background(), "memories", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestQueryFiltersByMetadata(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, s.Upsert(context.Background(), "memories", "a", []float32{1, 0}, map[string]any{"content": "mine", "agent_id": "agent-1"}))
	require.NoError(t, s.Upsert(context.Background(), "memories", "b", []float32{1, 0}, map[string]any{"content": "theirs", "agent_id": "agent-2"}))

	matches, err := s.Query(context.Background(), "memories", []float32{1, 0}, 5, map[string]any{"agent_id": "agent-1"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "mine", matches[0].Content)
}

func TestNameReturnsBackendIdentifier(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "chromem", s.Name())
}

func TestPersistPathWritesAndReloadsData(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{PersistPath: dir})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), "memories", "a", []float32{1, 0}, map[string]any{"content": "persisted fact"}))

	reopened, err := New(Config{PersistPath: dir})
	require.NoError(t, err)
	matches, err := reopened.Query(context.Background(), "memories", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "persisted fact", matches[0].Content)
}

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutGetByIDAndName(t *testing.T) {
	s := NewStore[*Service]()
	svc := &Service{ID: "1", Name: "weather"}
	require.NoError(t, s.Put(svc))

	got, ok := s.Get("1")
	assert.True(t, ok)
	assert.Same(t, svc, got)

	byName, ok := s.GetByName("weather")
	assert.True(t, ok)
	assert.Same(t, svc, byName)
}

func TestStorePutRejectsNameConflict(t *testing.T) {
	s := NewStore[*Service]()
	require.NoError(t, s.Put(&Service{ID: "1", Name: "weather"}))
	err := s.Put(&Service{ID: "2", Name: "weather"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNameConflict)
}

func TestStorePutRenameDropsOldIndex(t *testing.T) {
	s := NewStore[*Service]()
	require.NoError(t, s.Put(&Service{ID: "1", Name: "old-name"}))
	require.NoError(t, s.Put(&Service{ID: "1", Name: "new-name"}))

	_, ok := s.GetByName("old-name")
	assert.False(t, ok)
	got, ok := s.GetByName("new-name")
	assert.True(t, ok)
	assert.Equal(t, "1", got.GetID())
}

func TestStoreDelete(t *testing.T) {
	s := NewStore[*Service]()
	require.NoError(t, s.Put(&Service{ID: "1", Name: "weather"}))
	require.NoError(t, s.Delete("1"))

	_, ok := s.Get("1")
	assert.False(t, ok)
	_, ok = s.GetByName("weather")
	assert.False(t, ok)

	err := s.Delete("1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreListAndCount(t *testing.T) {
	s := NewStore[*Service]()
	require.NoError(t, s.Put(&Service{ID: "1", Name: "a"}))
	require.NoError(t, s.Put(&Service{ID: "2", Name: "b"}))

	assert.Equal(t, 2, s.Count())
	assert.Len(t, s.List(), 2)
}

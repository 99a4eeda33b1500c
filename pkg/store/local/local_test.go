package local

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "localstore"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("blob-1", []byte("contents")))

	data, found, err := s.Get("blob-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("contents"), data)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)

	data, found, err := s.Get("no-such-blob")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)
}

func TestPutOverwrites(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("blob", []byte("v1")))
	require.NoError(t, s.Put("blob", []byte("v2")))

	data, found, err := s.Get("blob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), data)
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "localstore")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("blob", []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	data, found, err := s.Get("blob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("persisted"), data)
}

package spill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinypool-io/tinypool/internal/datastore"
)

func newTestManager(t *testing.T, store *datastore.Store) *Manager {
	t.Helper()
	dir := t.TempDir()
	get := func(id uint64) ([]byte, error) {
		st, ok := store.Lookup(id)
		if !ok {
			return nil, assertMissing{id}
		}
		return st.Data, nil
	}
	return New(store, 1, dir, get)
}

type assertMissing struct{ id uint64 }

func (e assertMissing) Error() string { return "missing id in test store" }

func TestMoveToDiskThenRestore(t *testing.T) {
	store := datastore.New()
	store.Insert(1, datastore.RefState{Size: 5, Data: []byte("hello")})
	m := newTestManager(t, store)

	path, err := m.MoveToDisk(1, "", false)
	require.NoError(t, err)
	assert.Equal(t, m.DefaultPath(1), path)

	data, err := m.RestoreFromDisk(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestCopyToDiskKeepsMemoryFlagSet(t *testing.T) {
	store := datastore.New()
	store.Insert(1, datastore.RefState{Size: 5, Data: []byte("hello")})
	m := newTestManager(t, store)

	_, err := m.CopyToDisk(1, "")
	require.NoError(t, err)

	st, _ := store.Lookup(1)
	assert.True(t, st.HasData())
	assert.True(t, st.HasFile())
}

func TestMoveToDiskReusesExistingFile(t *testing.T) {
	store := datastore.New()
	store.Insert(1, datastore.RefState{Size: 5, Data: []byte("hello")})
	m := newTestManager(t, store)

	path := m.DefaultPath(1)
	_, err := m.MoveToDisk(1, path, false)
	require.NoError(t, err)

	// Remove backing data so a rewrite attempt would fail if it happened.
	store.RestoreMemory(1, nil)
	store.Insert(1, datastore.RefState{Size: 5, File: path})

	_, err = m.MoveToDisk(1, path, false)
	require.NoError(t, err, "an existing path on disk must be trusted, not rewritten from a now-empty payload")
}

func TestSaveToDiskDoesNotTouchRefState(t *testing.T) {
	store := datastore.New()
	store.Insert(1, datastore.RefState{Size: 5, Data: []byte("hello")})
	m := newTestManager(t, store)

	path := t.TempDir() + "/snapshot"
	require.NoError(t, m.SaveToDisk(1, path))

	st, _ := store.Lookup(1)
	assert.False(t, st.HasFile(), "save_to_disk must not set RefState.File")
	assert.True(t, st.HasData())

	data, err := m.RestoreFromDisk(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestDestroyRemovesFileAndEntry(t *testing.T) {
	store := datastore.New()
	store.Insert(1, datastore.RefState{Size: 5, Data: []byte("hello")})
	m := newTestManager(t, store)

	path, err := m.MoveToDisk(1, "", false)
	require.NoError(t, err)

	m.Destroy(1)
	_, ok := store.Lookup(1)
	assert.False(t, ok)

	_, err = m.RestoreFromDisk(path)
	assert.Error(t, err, "destroy must remove the on-disk file")
}

func TestDestroyIdempotent(t *testing.T) {
	store := datastore.New()
	m := newTestManager(t, store)
	m.Destroy(42) // never existed; must not panic
}

func TestDeleteFromDiskMissingFileErrors(t *testing.T) {
	store := datastore.New()
	m := newTestManager(t, store)
	err := m.DeleteFromDisk(t.TempDir() + "/nope")
	assert.Error(t, err, "unlike destroy, delete_from_disk is user-invoked and must surface a missing file")
}

package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLevelDB(t *testing.T) Store {
	t.Helper()
	st, err := NewLevelDB(filepath.Join(t.TempDir(), "checkpoint"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestLastSyncedEmptyStore(t *testing.T) {
	st := newTestLevelDB(t)
	_, _, ok, err := st.LastSynced()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordAndReadLastSynced(t *testing.T) {
	st := newTestLevelDB(t)
	require.NoError(t, st.RecordSynced(42, "hash-42"))

	height, hash, ok, err := st.LastSynced()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), height)
	assert.Equal(t, "hash-42", hash)
}

func TestDeleteFromClearsAtOrAboveHeight(t *testing.T) {
	st := newTestLevelDB(t)
	require.NoError(t, st.RecordSynced(100, "hash-100"))

	require.NoError(t, st.DeleteFrom(100))

	_, _, ok, err := st.LastSynced()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteFromLeavesEarlierCheckpointUntouched(t *testing.T) {
	st := newTestLevelDB(t)
	require.NoError(t, st.RecordSynced(50, "hash-50"))

	require.NoError(t, st.DeleteFrom(100))

	height, hash, ok, err := st.LastSynced()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(50), height)
	assert.Equal(t, "hash-50", hash)
}

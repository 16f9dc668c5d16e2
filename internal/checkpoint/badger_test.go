package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *InFlightJournal {
	t.Helper()
	j, err := NewInFlightJournal(filepath.Join(t.TempDir(), "inflight"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOrphanedEmptyJournal(t *testing.T) {
	j := newTestJournal(t)
	orphaned, err := j.Orphaned()
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestMarkDispatchedThenAcked(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.MarkDispatched(7))

	orphaned, err := j.Orphaned()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{7}, orphaned)

	require.NoError(t, j.MarkAcked(7))

	orphaned, err = j.Orphaned()
	require.NoError(t, err)
	assert.Empty(t, orphaned)
}

func TestMarkAckedUnknownHeightIsNotAnError(t *testing.T) {
	j := newTestJournal(t)
	assert.NoError(t, j.MarkAcked(999))
}

func TestMultipleDispatchedHeights(t *testing.T) {
	j := newTestJournal(t)
	for _, h := range []uint64{1, 2, 3} {
		require.NoError(t, j.MarkDispatched(h))
	}
	require.NoError(t, j.MarkAcked(2))

	orphaned, err := j.Orphaned()
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{1, 3}, orphaned)
}

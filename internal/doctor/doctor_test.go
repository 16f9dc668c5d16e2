package doctor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xloem/vartex/internal/model"
	"github.com/xloem/vartex/internal/store"
)

// fakeStore answers EachRow from a canned set of rows, ignoring the CQL text.
type fakeStore struct {
	rows []map[string]interface{}
}

func (f *fakeStore) Execute(ctx context.Context, profile store.Profile, stmt store.Statement) error {
	return nil
}

func (f *fakeStore) EachRow(ctx context.Context, profile store.Profile, cql string, params []interface{}, cb store.RowCallback) error {
	for _, r := range f.rows {
		if err := cb(r); err != nil {
			return err
		}
	}
	return nil
}

func TestCheckForBlockGapsDetectsShortfall(t *testing.T) {
	fs := &fakeStore{rows: []map[string]interface{}{
		{"height": int64(0)},
		{"height": int64(1)},
	}}
	d := New(fs, 1<<20)

	hasGaps, err := d.CheckForBlockGaps(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, hasGaps)
}

func TestCheckForBlockGapsSkipsStoreWhenFullyCached(t *testing.T) {
	fs := &fakeStore{}
	d := New(fs, 1<<20)
	for h := uint64(0); h < 3; h++ {
		d.ObserveLocal(h, "hash")
	}

	hasGaps, err := d.CheckForBlockGaps(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, hasGaps)
}

func TestFindMissingBlocksReturnsUnmatchedHeights(t *testing.T) {
	hashList := model.HashList{"h0", "h1", "h2"}
	fs := &fakeStore{rows: []map[string]interface{}{
		{"height": int64(0), "indep_hash": "h0"},
		{"height": int64(1), "indep_hash": "wrong-hash"},
	}}
	d := New(fs, 1<<20)

	missing, err := d.FindMissingBlocks(context.Background(), hashList)
	require.NoError(t, err)

	heights := make([]uint64, len(missing))
	for i, hh := range missing {
		heights[i] = hh.Height
	}
	assert.ElementsMatch(t, []uint64{1, 2}, heights)
}

func TestFindMissingBlocksAllPresent(t *testing.T) {
	hashList := model.HashList{"h0", "h1"}
	fs := &fakeStore{rows: []map[string]interface{}{
		{"height": int64(0), "indep_hash": "h0"},
		{"height": int64(1), "indep_hash": "h1"},
	}}
	d := New(fs, 1<<20)

	missing, err := d.FindMissingBlocks(context.Background(), hashList)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestResolveDivergence(t *testing.T) {
	hashList := model.HashList{"h0", "h1", "h2"}
	assert.True(t, ResolveDivergence(hashList, 1, "h1"))
	assert.False(t, ResolveDivergence(hashList, 1, "wrong"))
	assert.False(t, ResolveDivergence(hashList, 10, "h1"), "out-of-range height is not a match")
}

package querybuilder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xloem/vartex/internal/store"
)

func int64p(n int64) *int64 { return &n }

func TestGenerateTransactionQueryByID(t *testing.T) {
	stmt := GenerateTransactionQuery(TransactionParams{ID: "abc123"})
	assert.Contains(t, stmt.CQL, "id = ?")
	assert.Contains(t, stmt.CQL, "ALLOW FILTERING")
	assert.Equal(t, []interface{}{"abc123"}, stmt.Params)
}

func TestGenerateTransactionQueryByIDs(t *testing.T) {
	stmt := GenerateTransactionQuery(TransactionParams{IDs: []string{"a", "b", "c"}})
	assert.Contains(t, stmt.CQL, "id IN (?, ?, ?)")
	assert.Equal(t, []interface{}{"a", "b", "c"}, stmt.Params)
}

func TestGenerateTransactionQueryCombinesFilters(t *testing.T) {
	stmt := GenerateTransactionQuery(TransactionParams{
		To:        "target-addr",
		MinHeight: int64p(10),
		MaxHeight: int64p(20),
	})
	assert.Contains(t, stmt.CQL, "target = ?")
	assert.Contains(t, stmt.CQL, "block_height >= ?")
	assert.Contains(t, stmt.CQL, "block_height <= ?")
	assert.Equal(t, []interface{}{"target-addr", int64(10), int64(20)}, stmt.Params)
}

func TestGenerateTransactionQueryNoFilters(t *testing.T) {
	stmt := GenerateTransactionQuery(TransactionParams{})
	assert.Equal(t, "SELECT * FROM transaction ALLOW FILTERING", stmt.CQL)
	assert.Empty(t, stmt.Params)
}

func TestGenerateTransactionQueryIgnoresUnparseableSince(t *testing.T) {
	stmt := GenerateTransactionQuery(TransactionParams{Since: "not-a-uuid"})
	assert.NotContains(t, stmt.CQL, "block_timestamp")
}

func TestGenerateBlockQueryAscAddsOffsetToMin(t *testing.T) {
	stmt := GenerateBlockQuery(BlockParams{
		SortOrder: SortHeightAsc,
		MinHeight: 100,
		MaxHeight: 200,
		Offset:    5,
	})
	assert.Contains(t, stmt.CQL, "block_gql_asc")
	assert.Equal(t, []interface{}{int64(105), int64(200)}, stmt.Params)
}

func TestGenerateBlockQueryDescSubtractsOffsetFromMax(t *testing.T) {
	stmt := GenerateBlockQuery(BlockParams{
		SortOrder: SortHeightDesc,
		MinHeight: 100,
		MaxHeight: 200,
		Offset:    5,
	})
	assert.Contains(t, stmt.CQL, "block_gql_desc")
	assert.Equal(t, []interface{}{int64(100), int64(195)}, stmt.Params)
}

func TestGenerateBlockQueryDefaultFetchSize(t *testing.T) {
	stmt := GenerateBlockQuery(BlockParams{SortOrder: SortHeightAsc})
	assert.Contains(t, stmt.CQL, "LIMIT 100")
}

func TestGenerateTagQueryMultipleValues(t *testing.T) {
	stmts := GenerateTagQuery([]TagFilter{
		{Name: "App-Name", Values: []string{"a", "b"}},
		{Name: "Content-Type"},
	})
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0].CQL, "value IN (?, ?)")
	assert.Equal(t, []interface{}{"App-Name", "a", "b"}, stmts[0].Params)
	assert.Contains(t, stmts[1].CQL, "name = ?")
	assert.NotContains(t, stmts[1].CQL, "value")
	assert.Equal(t, []interface{}{"Content-Type"}, stmts[1].Params)
}

// fakeStore is a minimal store.Store double for exercising Builder.Run
// without a live Cassandra cluster.
type fakeStore struct {
	rows  []Row
	calls int
}

func (f *fakeStore) Execute(ctx context.Context, profile store.Profile, stmt store.Statement) error {
	return nil
}
func (f *fakeStore) ExecuteBatch(ctx context.Context, profile store.Profile, stmts []store.Statement) error {
	return nil
}
func (f *fakeStore) EachRow(ctx context.Context, profile store.Profile, cql string, params []interface{}, cb store.RowCallback) error {
	f.calls++
	for _, r := range f.rows {
		if err := cb(r); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeStore) Close() {}

func TestBuilderRunPopulatesLocalCache(t *testing.T) {
	fs := &fakeStore{rows: []Row{{"id": "tx1"}}}
	b, err := New(fs, 16, nil)
	require.NoError(t, err)

	stmt := store.Statement{CQL: "SELECT * FROM transaction WHERE id = ?", Params: []interface{}{"tx1"}}

	rows, err := b.Run(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, fs.rows, rows)
	assert.Equal(t, 1, fs.calls)

	// Second call should be served from the local LRU tier, not the store.
	rows2, err := b.Run(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, fs.rows, rows2)
	assert.Equal(t, 1, fs.calls, "expected cache hit, store should not be queried again")
}

func TestBuilderRunWithoutCacheAlwaysQueriesStore(t *testing.T) {
	fs := &fakeStore{rows: []Row{{"id": "tx1"}}}
	b, err := New(fs, 0, nil)
	require.NoError(t, err)

	stmt := store.Statement{CQL: "SELECT * FROM transaction WHERE id = ?", Params: []interface{}{"tx1"}}

	_, err = b.Run(context.Background(), stmt)
	require.NoError(t, err)
	_, err = b.Run(context.Background(), stmt)
	require.NoError(t, err)
	assert.Equal(t, 2, fs.calls)
}

package gqlgateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xloem/vartex/internal/querybuilder"
	"github.com/xloem/vartex/internal/store"
)

// routingStore dispatches EachRow results by a substring of the CQL, letting
// one fake stand in for both the transaction/block table and the tx_tag
// lookup a resolver issues per transaction.
type routingStore struct {
	txRows   []map[string]interface{}
	tagRows  []map[string]interface{}
}

func (s *routingStore) Execute(ctx context.Context, profile store.Profile, stmt store.Statement) error {
	return nil
}
func (s *routingStore) ExecuteBatch(ctx context.Context, profile store.Profile, stmts []store.Statement) error {
	return nil
}
func (s *routingStore) EachRow(ctx context.Context, profile store.Profile, cql string, params []interface{}, cb store.RowCallback) error {
	rows := s.txRows
	if contains(cql, "tx_tag") {
		rows = s.tagRows
	}
	for _, r := range rows {
		if err := cb(r); err != nil {
			return err
		}
	}
	return nil
}
func (s *routingStore) Close() {}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestTransactionResolverFieldAccessors(t *testing.T) {
	rs := &routingStore{
		txRows: []map[string]interface{}{{
			"id":               "tx1",
			"owner":            "owner1",
			"target":           "target1",
			"quantity":         int64(500),
			"block_height":     int64(10),
			"block_indep_hash": "blockhash",
			"block_timestamp":  int64(1600000000),
		}},
		tagRows: []map[string]interface{}{
			{"name": "App-Name", "value": "vartex"},
		},
	}
	qb, err := querybuilder.New(rs, 0, nil)
	require.NoError(t, err)
	r := NewResolver(qb)

	tx, err := r.Transaction(context.Background(), transactionArgs{ID: "tx1"})
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, "tx1", tx.ID())
	assert.Equal(t, "owner1", tx.Owner())
	require.NotNil(t, tx.Target())
	assert.Equal(t, "target1", *tx.Target())
	require.NotNil(t, tx.Quantity())
	assert.Equal(t, "500", *tx.Quantity())
	assert.Equal(t, int32(10), tx.BlockHeight())
	assert.Equal(t, "blockhash", tx.BlockIndepHash())

	require.Len(t, tx.Tags(), 1)
	assert.Equal(t, "App-Name", tx.Tags()[0].Name())
	assert.Equal(t, "vartex", tx.Tags()[0].Value())
}

func TestTransactionResolverNotFound(t *testing.T) {
	rs := &routingStore{}
	qb, err := querybuilder.New(rs, 0, nil)
	require.NoError(t, err)
	r := NewResolver(qb)

	tx, err := r.Transaction(context.Background(), transactionArgs{ID: "missing"})
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestBlockResolverFieldAccessors(t *testing.T) {
	rs := &routingStore{
		txRows: []map[string]interface{}{{
			"indep_hash":     "blockhash1",
			"height":         int64(5),
			"timestamp":      int64(1600000000),
			"previous_block": "blockhash0",
		}},
	}
	qb, err := querybuilder.New(rs, 0, nil)
	require.NoError(t, err)
	r := NewResolver(qb)

	blocks, err := r.Block(context.Background(), blockArgs{})
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	assert.Equal(t, "blockhash1", blocks[0].IndepHash())
	assert.Equal(t, int32(5), blocks[0].Height())
	require.NotNil(t, blocks[0].PreviousBlock())
	assert.Equal(t, "blockhash0", *blocks[0].PreviousBlock())
}

func TestStrPtrNilOnEmptyString(t *testing.T) {
	assert.Nil(t, strPtr(""))
	assert.Nil(t, strPtr(nil))
	s := strPtr("x")
	require.NotNil(t, s)
	assert.Equal(t, "x", *s)
}

func TestIntStrPtrDistinguishesAbsentFromZero(t *testing.T) {
	assert.Nil(t, intStrPtr(nil))
	v := intStrPtr(int64(0))
	require.NotNil(t, v)
	assert.Equal(t, "0", *v)
}

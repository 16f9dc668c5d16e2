package project

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xloem/vartex/internal/model"
)

func cqls(t *testing.T, block *model.Block) []string {
	t.Helper()
	stmts := Project(block)
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.CQL
	}
	return out
}

func containsTable(t *testing.T, cqlList []string, table string) bool {
	t.Helper()
	for _, c := range cqlList {
		if contains(c, "INTO "+table+" ") {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func baseBlock() *model.Block {
	return &model.Block{
		IndepHash:      "block-hash-1",
		Height:         json.RawMessage(`100`),
		PreviousBlock:  "block-hash-0",
		Timestamp:      json.RawMessage(`1600000000`),
		Txs:            []string{"tx1"},
		HashListMerkle: "merkle",
		WalletListHash: "wallet",
		RewardAddr:     "reward-addr",
	}
}

func TestProjectBuildsBlockTables(t *testing.T) {
	b := baseBlock()
	list := cqls(t, b)

	assert.True(t, containsTable(t, list, "block"))
	assert.True(t, containsTable(t, list, "block_gql_asc"))
	assert.True(t, containsTable(t, list, "block_gql_desc"))
	assert.True(t, containsTable(t, list, "block_height_by_block_hash"))
}

func TestProjectOmitsPoaWhenNil(t *testing.T) {
	b := baseBlock()
	b.Poa = nil
	list := cqls(t, b)
	assert.False(t, containsTable(t, list, "poa"))
}

func TestProjectIncludesPoaWhenPresent(t *testing.T) {
	b := baseBlock()
	b.Poa = &model.POA{Option: "1", TxPath: "path", DataPath: "dpath", Chunk: "chunk"}
	list := cqls(t, b)
	require.True(t, containsTable(t, list, "poa"))
}

func TestProjectTransactionTablesAndTagCompleteness(t *testing.T) {
	b := baseBlock()
	b.Transactions = []model.Transaction{
		{
			ID:       "tx1",
			Owner:    "owner1",
			DataSize: json.RawMessage(`1024`),
			Tags: []model.Tag{
				{Name: "App-Name", Value: "vartex"},
				{Name: "Content-Type", Value: "text/plain"},
			},
		},
	}
	stmts := Project(b)

	var tagRows, txRows, offsetRows, byIDRows int
	for _, s := range stmts {
		switch {
		case contains(s.CQL, "INTO tx_tag "):
			tagRows++
		case contains(s.CQL, "INTO transaction "):
			txRows++
		case contains(s.CQL, "INTO tx_offset "):
			offsetRows++
		case contains(s.CQL, "INTO block_by_tx_id "):
			byIDRows++
		}
	}

	assert.Equal(t, 2, tagRows, "one tx_tag row per tag")
	assert.Equal(t, 1, txRows)
	assert.Equal(t, 1, offsetRows, "data_size > 0 emits a tx_offset row")
	assert.Equal(t, 1, byIDRows)
}

func TestProjectOmitsTxOffsetWhenDataSizeZero(t *testing.T) {
	b := baseBlock()
	b.Transactions = []model.Transaction{
		{ID: "tx1", DataSize: json.RawMessage(`0`)},
	}
	stmts := Project(b)

	for _, s := range stmts {
		assert.False(t, contains(s.CQL, "INTO tx_offset "), "data_size=0 should not emit tx_offset")
	}
}

func TestProjectNonEmptyColumnFiltering(t *testing.T) {
	b := baseBlock()
	b.RewardAddr = ""
	stmts := Project(b)

	var blockStmt string
	for _, s := range stmts {
		if contains(s.CQL, "INTO block ") {
			blockStmt = s.CQL
			break
		}
	}
	require.NotEmpty(t, blockStmt)
	assert.NotContains(t, blockStmt, "reward_addr")
}

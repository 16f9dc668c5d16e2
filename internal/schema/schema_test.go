package schema

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xloem/vartex/internal/store"
)

type recordingStore struct {
	executed []string
	failAt   int // 0-indexed statement number to fail on, -1 to never fail
}

func (s *recordingStore) Execute(ctx context.Context, profile store.Profile, stmt store.Statement) error {
	idx := len(s.executed)
	s.executed = append(s.executed, stmt.CQL)
	if s.failAt >= 0 && idx == s.failAt {
		return assert.AnError
	}
	return nil
}

func (s *recordingStore) ExecuteBatch(ctx context.Context, profile store.Profile, stmts []store.Statement) error {
	return nil
}

func (s *recordingStore) EachRow(ctx context.Context, profile store.Profile, cql string, params []interface{}, cb store.RowCallback) error {
	return nil
}

func (s *recordingStore) Close() {}

func TestInitCreatesKeyspaceThenAllTables(t *testing.T) {
	rs := &recordingStore{failAt: -1}
	err := Init(context.Background(), rs, "vartex_test", 1, time.Second)
	require.NoError(t, err)

	require.NotEmpty(t, rs.executed)
	assert.Contains(t, rs.executed[0], "CREATE KEYSPACE IF NOT EXISTS vartex_test")
	assert.Equal(t, len(tableStatements)+1, len(rs.executed))

	for _, table := range []string{"block", "block_gql_asc", "block_gql_desc",
		"block_height_by_block_hash", "block_by_tx_id", "poa", "transaction",
		"tx_tag", "tx_offset"} {
		found := false
		for _, cql := range rs.executed[1:] {
			if strings.Contains(cql, "CREATE TABLE IF NOT EXISTS "+table+" ") {
				found = true
				break
			}
		}
		assert.True(t, found, "expected a CREATE TABLE statement for %s", table)
	}
}

func TestInitStopsOnFirstFailingStatement(t *testing.T) {
	rs := &recordingStore{failAt: 2}
	err := Init(context.Background(), rs, "vartex_test", 1, time.Second)
	require.Error(t, err)
	assert.Len(t, rs.executed, 3)
}

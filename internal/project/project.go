// Package project implements the Row Projector (spec.md §4.2): given an
// upstream block and its transactions, produce the batch of insert
// statements covering every table in spec.md §3. Grounded on
// datasync/chaindatafetcher/kafka/repository.go's makeBlockGroupOutput
// shape ("take blockchain domain types, build an output payload"),
// generalized from one output (a Kafka message) to many (prepared CQL
// inserts).
package project

import (
	"fmt"

	"github.com/xloem/vartex/internal/model"
	"github.com/xloem/vartex/internal/store"
	"github.com/xloem/vartex/internal/typeadapt"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("project")

// col is one non-empty column/value pair. Non-null filtering (spec.md §4.2:
// "only columns with non-empty values are included... to avoid writing
// tombstones") happens by simply never appending an empty column here.
type col struct {
	name  string
	value interface{}
}

func insertStatement(table string, cols []col, notIfExists bool) store.Statement {
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	params := make([]interface{}, len(cols))
	for i, c := range cols {
		names[i] = c.name
		placeholders[i] = "?"
		params[i] = c.value
	}
	cql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, joinComma(names), joinComma(placeholders))
	if notIfExists {
		cql += " IF NOT EXISTS"
	}
	return store.Statement{CQL: cql, Params: params, NotIfExists: notIfExists}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case nil:
		return true
	}
	return false
}

func nonEmptyCols(cols []col) []col {
	out := make([]col, 0, len(cols))
	for _, c := range cols {
		if isEmpty(c.value) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Project builds every insert statement for one block and its transactions
// (spec.md §4.2, §3). The result is handed to store.Store.ExecuteBatch as a
// unit: a block is "imported" only once every statement resolves (spec.md
// §4.3).
func Project(block *model.Block) []store.Statement {
	height := typeadapt.ToLong(block.Height)
	timestamp := typeadapt.ToLong(block.Timestamp)

	var stmts []store.Statement

	stmts = append(stmts, insertStatement("block", nonEmptyCols([]col{
		{"indep_hash", block.IndepHash},
		{"height", height},
		{"previous_block", block.PreviousBlock},
		{"timestamp", timestamp},
		{"txs", block.Txs},
		{"tags", typeadapt.TagSet(block.Tags)},
		{"diff", typeadapt.ToLong(block.Diff)},
		{"cumulative_diff", typeadapt.ToLong(block.CumulativeDiff)},
		{"last_retarget", typeadapt.ToLong(block.LastRetarget)},
		{"hash_list_merkle", block.HashListMerkle},
		{"wallet_list", block.WalletListHash},
		{"reward_addr", block.RewardAddr},
		{"reward_pool", typeadapt.ToLong(block.RewardPool)},
	}), false))

	// block_gql_asc and block_gql_desc hold the same (height, indep_hash,
	// timestamp) triples, differing only in clustering order (spec.md §3
	// invariant 5). Both use a fixed partition per spec.md §3.
	stmts = append(stmts, insertStatement("block_gql_asc", []col{
		{"partition_id", "gql1"},
		{"height", height},
		{"indep_hash", block.IndepHash},
		{"timestamp", timestamp},
	}, false))
	stmts = append(stmts, insertStatement("block_gql_desc", []col{
		{"partition_id", "gql2"},
		{"height", height},
		{"indep_hash", block.IndepHash},
		{"timestamp", timestamp},
	}, false))

	// Single-writer-wins inserts (spec.md §5): these two are IF NOT EXISTS,
	// everything else above and below is a plain insert relying on
	// primary-key idempotence.
	stmts = append(stmts, insertStatement("block_height_by_block_hash", []col{
		{"block_hash", block.IndepHash},
		{"height", height},
	}, true))

	if block.Poa != nil {
		stmts = append(stmts, insertStatement("poa", nonEmptyCols([]col{
			{"block_hash", block.IndepHash},
			{"block_height", height},
			{"option", block.Poa.Option},
			{"tx_path", block.Poa.TxPath},
			{"data_path", block.Poa.DataPath},
			{"chunk", block.Poa.Chunk},
		}), false))
	}

	for _, tx := range block.Transactions {
		stmts = append(stmts, projectTransaction(block, height, timestamp, tx)...)
	}

	return stmts
}

func projectTransaction(block *model.Block, blockHeight, blockTimestamp int64, tx model.Transaction) []store.Statement {
	var stmts []store.Statement

	dataSize := typeadapt.ToLong(tx.DataSize)
	tagCount := len(tx.Tags)

	stmts = append(stmts, insertStatement("transaction", nonEmptyCols([]col{
		{"id", tx.ID},
		{"owner", tx.Owner},
		{"target", tx.Target},
		{"quantity", typeadapt.ToLong(tx.Quantity)},
		{"reward", typeadapt.ToLong(tx.Reward)},
		{"data_root", tx.DataRoot},
		{"data_size", dataSize},
		{"signature", tx.Signature},
		{"last_tx", tx.LastTx},
		{"format", typeadapt.ToLong(tx.Format)},
		{"tag_count", tagCount},
		{"block_height", blockHeight},
		{"block_indep_hash", block.IndepHash},
		{"block_timestamp", blockTimestamp},
	}), false))

	stmts = append(stmts, insertStatement("block_by_tx_id", []col{
		{"tx_id", tx.ID},
		{"block_indep_hash", block.IndepHash},
		{"block_height", blockHeight},
	}, true))

	// Tag rows: tag_index = i, next_tag_index = i+1 except the last, which
	// is NULL (omitted entirely, since a NULL column value is simply not
	// included in the insert -- spec.md §4.2's non-null filtering applies
	// here too). Tag completeness (spec.md §3 invariant 3): exactly len(tags)
	// rows, indices 0..k-1.
	for i, tag := range tx.Tags {
		cols := []col{
			{"name", tag.Name},
			{"value", tag.Value},
			{"tx_id", tx.ID},
			{"tag_index", i},
		}
		if i < len(tx.Tags)-1 {
			cols = append(cols, col{"next_tag_index", i + 1})
		}
		stmts = append(stmts, insertStatement("tx_tag", cols, false))
	}

	// tx_offset is emitted only when data_size > 0 (spec.md §4.2, §8
	// boundary behavior).
	if dataSize > 0 {
		stmts = append(stmts, insertStatement("tx_offset", []col{
			{"tx_id", tx.ID},
			{"size", dataSize},
		}, false))
	}

	if len(tx.Tags) == 0 {
		logger.Info("transaction has no tags", "tx", tx.ID)
	}

	return stmts
}

// Package schema is the Schema Initializer (spec.md §2, §6): one-shot DDL to
// create the keyspace and the nine tables in spec.md §3, executed serially
// on a fresh keyspace with SimpleStrategy replication factor 1 by default.
package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/xloem/vartex/internal/store"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("schema")

const keyspaceStatement = `
CREATE KEYSPACE IF NOT EXISTS %s
WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}`

// tableStatements are executed, in order, after the keyspace exists. Order
// matters only in that it's deterministic and easy to read top to bottom;
// none of these DDL statements depend on another having run first.
var tableStatements = []string{
	`CREATE TABLE IF NOT EXISTS block (
		indep_hash text PRIMARY KEY,
		height bigint,
		previous_block text,
		timestamp bigint,
		txs list<text>,
		tags set<frozen<tuple<text,text>>>,
		diff bigint,
		cumulative_diff bigint,
		last_retarget bigint,
		hash_list_merkle text,
		wallet_list text,
		reward_addr text,
		reward_pool bigint
	)`,
	`CREATE TABLE IF NOT EXISTS block_gql_asc (
		partition_id text,
		height bigint,
		indep_hash text,
		timestamp bigint,
		PRIMARY KEY (partition_id, height, indep_hash)
	) WITH CLUSTERING ORDER BY (height ASC)`,
	`CREATE TABLE IF NOT EXISTS block_gql_desc (
		partition_id text,
		height bigint,
		indep_hash text,
		timestamp bigint,
		PRIMARY KEY (partition_id, height, indep_hash)
	) WITH CLUSTERING ORDER BY (height DESC)`,
	`CREATE TABLE IF NOT EXISTS block_height_by_block_hash (
		block_hash text PRIMARY KEY,
		height bigint
	)`,
	`CREATE TABLE IF NOT EXISTS block_by_tx_id (
		tx_id text PRIMARY KEY,
		block_indep_hash text,
		block_height bigint
	)`,
	`CREATE TABLE IF NOT EXISTS poa (
		block_hash text,
		block_height bigint,
		option text,
		tx_path text,
		data_path text,
		chunk text,
		PRIMARY KEY (block_hash, block_height)
	) WITH CLUSTERING ORDER BY (block_height DESC)`,
	`CREATE TABLE IF NOT EXISTS transaction (
		id text PRIMARY KEY,
		owner text,
		target text,
		quantity bigint,
		reward bigint,
		data_root text,
		data_size bigint,
		signature text,
		last_tx text,
		format bigint,
		tag_count int,
		block_height bigint,
		block_indep_hash text,
		block_timestamp bigint
	)`,
	`CREATE TABLE IF NOT EXISTS tx_tag (
		name text,
		value text,
		tx_id text,
		tag_index int,
		next_tag_index int,
		PRIMARY KEY (name, value, tx_id, tag_index)
	)`,
	`CREATE TABLE IF NOT EXISTS tx_offset (
		tx_id text PRIMARY KEY,
		size bigint,
		offset bigint
	)`,
}

// Init creates the keyspace (if absent) and every table in spec.md §3,
// running the whole sequence under a single deadline of timeout -- the
// same bounded-wait-at-startup shape the teacher applies to node readiness.
// Returns exit-code-friendly errors: callers translate a non-nil error into
// process exit code 1, nil into exit code 0 (spec.md §6 "Exit codes").
func Init(ctx context.Context, s store.Store, keyspace string, replicationFactor int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("creating keyspace", "keyspace", keyspace, "replicationFactor", replicationFactor)
	cql := fmt.Sprintf(keyspaceStatement, keyspace, replicationFactor)
	if err := s.Execute(ctx, store.ProfileFull, store.Statement{CQL: cql}); err != nil {
		return errors.Wrap(err, "creating keyspace")
	}

	for i, stmt := range tableStatements {
		logger.Info("applying DDL statement", "index", i)
		if err := s.Execute(ctx, store.ProfileFull, store.Statement{CQL: stmt}); err != nil {
			return errors.Wrapf(err, "applying DDL statement %d", i)
		}
	}
	logger.Info("schema initialization complete")
	return nil
}

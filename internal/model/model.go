// Package model holds the upstream chain's value types (spec.md §3): blocks,
// transactions and tags, exactly as the remote node serves them over JSON.
// Field types are deliberately loose (json.RawMessage) where the
// upstream is loosely typed; internal/typeadapt is where that looseness gets
// coerced into column values.
package model

import "encoding/json"

// Tag is a name/value pair attached at a positional index to a transaction.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// POA is the proof-of-access substructure attached to a block. The core never
// validates it (spec.md Non-goals); it is stored opaquely.
type POA struct {
	Option   string `json:"option"`
	TxPath   string `json:"tx_path"`
	DataPath string `json:"data_path"`
	Chunk    string `json:"chunk"`
}

// Transaction is an upstream transaction. It only ever exists inside a block;
// there is no standalone pending-tx store in the core (spec.md §3).
type Transaction struct {
	ID       string          `json:"id"`
	Owner    string          `json:"owner"`
	Target   string          `json:"target"`
	Quantity json.RawMessage `json:"quantity"`
	Reward   json.RawMessage `json:"reward"`
	DataRoot string          `json:"data_root"`
	DataSize json.RawMessage `json:"data_size"`
	Signature string         `json:"signature"`
	LastTx   string          `json:"last_tx"`
	Format   json.RawMessage `json:"format"`
	Tags     []Tag           `json:"tags"`
}

// Block is an upstream block, identified by IndepHash.
type Block struct {
	IndepHash      string          `json:"indep_hash"`
	Height         json.RawMessage `json:"height"`
	PreviousBlock  string          `json:"previous_block"`
	Timestamp      json.RawMessage `json:"timestamp"`
	Txs            []string        `json:"txs"`
	Tags           []Tag           `json:"tags"`
	Diff           json.RawMessage `json:"diff"`
	CumulativeDiff json.RawMessage `json:"cumulative_diff"`
	LastRetarget   json.RawMessage `json:"last_retarget"`
	HashListMerkle string          `json:"hash_list_merkle"`
	WalletListHash string          `json:"wallet_list"`
	RewardAddr     string          `json:"reward_addr"`
	RewardPool     json.RawMessage `json:"reward_pool"`
	Poa            *POA            `json:"poa"`

	// Transactions holds the fully hydrated transactions for this block,
	// fetched alongside it. Never populated by the upstream block payload
	// itself (which only carries tx ids in Txs); internal/nodeclient fills
	// it in after a per-block fetch.
	Transactions []Transaction `json:"-"`
}

// NodeInfo is the remote node's current-tip summary (spec.md §6).
type NodeInfo struct {
	Current string `json:"current"`
	Height  uint64 `json:"height"`
}

// HashList is the authoritative ordered sequence of block indep_hash values,
// index = height.
type HashList []string

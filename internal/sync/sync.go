// Package sync implements the Sync Orchestrator (spec.md §4.6): startSync,
// the polling loop, and fork recovery. Grounded on
// datasync/chaindatafetcher/chaindata_fetcher.go's overall shape (a
// long-lived component holding process-wide state, driving a checkpoint
// forward, fanning work out to a repository/broker, retrying on transient
// nil responses) generalized from klaytn's block-subscription model to
// spec.md's poll-and-reconcile model.
package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/xloem/vartex/internal/checkpoint"
	"github.com/xloem/vartex/internal/config"
	"github.com/xloem/vartex/internal/doctor"
	"github.com/xloem/vartex/internal/eventbus"
	"github.com/xloem/vartex/internal/metrics"
	"github.com/xloem/vartex/internal/model"
	"github.com/xloem/vartex/internal/nodeclient"
	"github.com/xloem/vartex/internal/project"
	"github.com/xloem/vartex/internal/store"
	"github.com/xloem/vartex/internal/typeadapt"
	"github.com/xloem/vartex/internal/vlog"
	"github.com/xloem/vartex/internal/workerpool"
)

var logger = vlog.New("sync")

// maxForkWalkback bounds resolveFork's ancestor search (Design Notes §9 /
// Open Question decision #4): a real reorg never walks back more than a
// handful of blocks, so exceeding this is treated as unrecoverable rather
// than risking an unbounded re-import loop against a misbehaving node.
const maxForkWalkback = 1024

// Doctor is the subset of *doctor.Doctor the orchestrator depends on.
type Doctor interface {
	CheckForBlockGaps(ctx context.Context, topHeight uint64) (bool, error)
	FindMissingBlocks(ctx context.Context, hashList model.HashList) ([]doctor.HeightHash, error)
	ObserveLocal(height uint64, hash string)
}

// Orchestrator holds the process-wide state of spec.md §4.6: topHash,
// topHeight, gatewayHeight, currentHeight, isPaused, isPollingStarted. Most
// mutation happens from the goroutine running Run/startPolling, but
// ImportBlock runs on worker-pool goroutines and raises gatewayHeight
// concurrently. mu guards every field, serializing those concurrent
// ImportBlock writers and letting metrics/progress readers on other
// goroutines observe the state safely.
type Orchestrator struct {
	node       nodeclient.Client
	st         store.Store
	doc        Doctor
	pool       *workerpool.Pool
	ckpt       checkpoint.Store
	inflight   *checkpoint.InFlightJournal
	bus        *eventbus.Bus
	cfg        *config.Config

	mu             sync.RWMutex
	topHash        string
	topHeight      uint64
	gatewayHeight  uint64
	currentHeight  uint64
	isPaused       bool
	isPollingStarted bool
}

// New builds an Orchestrator. bus may be nil when no downstream notification
// bus is configured (spec.md §6 lists Kafka brokers as optional). pool is
// set afterward via SetPool, since the pool's ImportFunc is this
// Orchestrator's own ImportBlock method -- the two are constructed in
// sequence, not simultaneously.
func New(node nodeclient.Client, st store.Store, doc Doctor, ckpt checkpoint.Store, inflight *checkpoint.InFlightJournal, bus *eventbus.Bus, cfg *config.Config) *Orchestrator {
	return &Orchestrator{node: node, st: st, doc: doc, ckpt: ckpt, inflight: inflight, bus: bus, cfg: cfg}
}

// SetPool wires the worker pool once it has been constructed with this
// Orchestrator's ImportBlock as its ImportFunc.
func (o *Orchestrator) SetPool(pool *workerpool.Pool) {
	o.pool = pool
}

func (o *Orchestrator) setPaused(v bool) {
	o.mu.Lock()
	o.isPaused = v
	o.mu.Unlock()
}

func (o *Orchestrator) Paused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isPaused
}

func (o *Orchestrator) CurrentHeight() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.currentHeight
}

// Run performs startSync (spec.md §4.6 steps 1-8) and then blocks running
// the polling loop until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.pool.Start(ctx)
	defer o.pool.Stop()

	hashList, err := o.node.GetHashList(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching authoritative hash list")
	}
	o.mu.Lock()
	o.topHeight = uint64(len(hashList))
	if len(hashList) > 0 {
		o.topHash = hashList[len(hashList)-1]
	}
	o.mu.Unlock()
	metrics.SetTopHeight(o.topHeight)

	firstRun, err := o.isFirstRun(ctx)
	if err != nil {
		return errors.Wrap(err, "detecting first run")
	}

	var unsynced []doctor.HeightHash
	if firstRun {
		unsynced = make([]doctor.HeightHash, len(hashList))
		for h, hash := range hashList {
			unsynced[h] = doctor.HeightHash{Height: uint64(h), Hash: hash}
		}
	} else {
		// CheckForBlockGaps is the cheap existence probe (spec.md §4.4): only
		// pay for the full authoritative map-diff in FindMissingBlocks when
		// there's reason to think the block count is short.
		hasGaps, err := o.doc.CheckForBlockGaps(ctx, o.topHeight)
		if err != nil {
			return errors.Wrap(err, "checking for block gaps")
		}
		if hasGaps {
			unsynced, err = o.doc.FindMissingBlocks(ctx, hashList)
			if err != nil {
				return errors.Wrap(err, "finding missing blocks during gap repair")
			}
		}
	}

	unsynced = mergeOrphaned(unsynced, o.orphanedHeightHashes(hashList))

	if o.cfg.DevelopmentSyncLength != nil {
		n := *o.cfg.DevelopmentSyncLength
		if n < 0 {
			n = 0
		}
		if n > len(unsynced) {
			n = len(unsynced)
		}
		logger.Warn("DEVELOPMENT_SYNC_LENGTH truncation active", "from_index", n)
		unsynced = unsynced[n:]
	}

	metrics.SetBlockGaps(len(unsynced))

	if len(unsynced) == 0 {
		return o.startPolling(ctx)
	}

	if err := o.bulkImport(ctx, unsynced); err != nil {
		logger.Crit("bulk import failed, terminating", "err", err)
		return err
	}

	if !firstRun && o.bus != nil {
		for _, hh := range unsynced {
			if err := o.bus.GapRepaired(hh.Height, hh.Hash); err != nil {
				logger.Warn("failed to publish gap:repaired", "height", hh.Height, "err", err)
			}
		}
	}

	return o.startPolling(ctx)
}

func (o *Orchestrator) isFirstRun(ctx context.Context) (bool, error) {
	if o.ckpt != nil {
		if _, _, ok, err := o.ckpt.LastSynced(); err != nil {
			return false, errors.Wrap(err, "reading resume checkpoint")
		} else if ok {
			return false, nil
		}
	}

	var count int
	err := o.st.EachRow(ctx, store.ProfileFast, "SELECT height FROM block", nil, func(row map[string]interface{}) error {
		count++
		return nil
	})
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// orphanedHeightHashes surfaces InFlightJournal.Orphaned() (spec.md §7 item
// 5's self-healing policy): heights a crashed worker dispatched but never
// acked, resolved back to their authoritative hash so Run re-imports them
// on this startup instead of waiting for the next full gap scan.
func (o *Orchestrator) orphanedHeightHashes(hashList model.HashList) []doctor.HeightHash {
	if o.inflight == nil {
		return nil
	}
	heights, err := o.inflight.Orphaned()
	if err != nil {
		logger.Warn("failed to read orphaned in-flight journal", "err", err)
		return nil
	}
	out := make([]doctor.HeightHash, 0, len(heights))
	for _, h := range heights {
		if h >= uint64(len(hashList)) {
			continue
		}
		out = append(out, doctor.HeightHash{Height: h, Hash: hashList[h]})
	}
	return out
}

// mergeOrphaned unions extra into base, keyed by height, so a height already
// slated for (re-)import isn't dispatched twice.
func mergeOrphaned(base, extra []doctor.HeightHash) []doctor.HeightHash {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[uint64]bool, len(base))
	for _, hh := range base {
		seen[hh.Height] = true
	}
	for _, hh := range extra {
		if !seen[hh.Height] {
			base = append(base, hh)
			seen[hh.Height] = true
		}
	}
	sort.Slice(base, func(i, j int) bool { return base[i].Height < base[j].Height })
	return base
}

// bulkImport dispatches every unsynced height through the worker pool,
// bounded by PARALLEL_WORKERS (spec.md §4.6 step 7), updating currentHeight
// and firing ObserveLocal on each completion.
func (o *Orchestrator) bulkImport(ctx context.Context, unsynced []doctor.HeightHash) error {
	sort.Slice(unsynced, func(i, j int) bool { return unsynced[i].Height < unsynced[j].Height })

	acks := make([]<-chan error, 0, len(unsynced))
	for _, hh := range unsynced {
		if o.inflight != nil {
			_ = o.inflight.MarkDispatched(hh.Height)
		}
		acks = append(acks, o.pool.ImportBlock(hh.Height))
	}

	for i, ack := range acks {
		if err := <-ack; err != nil {
			return errors.Wrapf(err, "importing block at height %d", unsynced[i].Height)
		}
		if o.inflight != nil {
			_ = o.inflight.MarkAcked(unsynced[i].Height)
		}
		o.mu.Lock()
		o.currentHeight = unsynced[i].Height
		o.mu.Unlock()
		metrics.SetCurrentHeight(unsynced[i].Height)
	}
	return nil
}

// ImportBlock is the ImportFunc handed to workerpool.New: fetch the block,
// project it, write it, record the checkpoint and notify the event bus
// (spec.md §4.5/§4.2/§4.3/§4.8).
func (o *Orchestrator) ImportBlock(ctx context.Context, height uint64) error {
	hashList, err := o.node.GetHashList(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching hash list for import")
	}
	if height >= uint64(len(hashList)) {
		return errors.Errorf("height %d beyond known hash list (len %d)", height, len(hashList))
	}
	hash := hashList[height]

	block, err := o.node.FetchBlockByHash(ctx, hash)
	if err != nil {
		return errors.Wrapf(err, "fetching block %s at height %d", hash, height)
	}

	stmts := project.Project(block)
	if err := o.st.ExecuteBatch(ctx, store.ProfileFull, stmts); err != nil {
		return errors.Wrapf(err, "writing block %s at height %d", hash, height)
	}

	o.doc.ObserveLocal(height, hash)
	if o.ckpt != nil {
		if err := o.ckpt.RecordSynced(height, hash); err != nil {
			logger.Warn("failed to record checkpoint", "height", height, "err", err)
		}
	}
	if o.bus != nil {
		if err := o.bus.BlockImported(height, hash); err != nil {
			logger.Warn("failed to publish block:imported", "height", height, "err", err)
		}
	}

	o.mu.Lock()
	if height > o.gatewayHeight {
		o.gatewayHeight = height
	}
	gatewayHeight := o.gatewayHeight
	o.mu.Unlock()
	metrics.SetGatewayHeight(gatewayHeight)
	return nil
}

// startPolling implements spec.md §4.6's polling loop.
func (o *Orchestrator) startPolling(ctx context.Context) error {
	o.mu.Lock()
	o.isPollingStarted = true
	o.mu.Unlock()

	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if o.Paused() {
			continue
		}

		info, err := o.node.GetNodeInfo(ctx)
		if err != nil {
			logger.Warn("getNodeInfo failed, retrying next tick", "err", err)
			continue
		}
		if info == nil {
			continue
		}

		_, topHash, err := o.getMaxHeightBlock(ctx)
		if err != nil {
			logger.Warn("getMaxHeightBlock failed, retrying next tick", "err", err)
			continue
		}
		if info.Current == topHash {
			continue
		}

		currentRemote, err := o.node.FetchBlockByHash(ctx, info.Current)
		if err != nil {
			logger.Warn("failed fetching remote tip", "hash", info.Current, "err", err)
			continue
		}
		parent, err := o.node.FetchBlockByHash(ctx, currentRemote.PreviousBlock)
		if err != nil {
			logger.Warn("failed fetching remote tip's parent", "hash", currentRemote.PreviousBlock, "err", err)
			continue
		}

		if parent.IndepHash != topHash {
			if err := o.resolveFork(ctx, currentRemote); err != nil {
				logger.Error("fork resolution failed", "err", err)
			}
			continue
		}

		ack := o.pool.ImportBlock(info.Height)
		if err := <-ack; err != nil {
			logger.Error("importBlock failed during polling", "height", info.Height, "err", err)
			continue
		}
		o.mu.Lock()
		o.topHash = info.Current
		o.currentHeight = info.Height
		o.mu.Unlock()
		metrics.SetCurrentHeight(info.Height)
	}
}

func (o *Orchestrator) pollInterval() time.Duration {
	if config.PollInterval > 0 {
		return config.PollInterval
	}
	return 30 * time.Second
}

// resolveFork implements spec.md §4.6's resolveFork: pause polling, walk
// back one block at a time until an already-known ancestor is found, then
// delete every locally persisted block beyond that ancestor's height.
func (o *Orchestrator) resolveFork(ctx context.Context, block *model.Block) error {
	o.setPaused(true)
	defer o.setPaused(false)

	if o.bus != nil {
		_ = o.bus.ForkDetected(uint64(typeadapt.ToLong(block.Height)), "divergence detected at tip, walking back")
	}

	current := block
	for steps := 0; ; steps++ {
		if steps >= maxForkWalkback {
			logger.Crit("fork walkback exceeded maxForkWalkback, unrecoverable divergence", "steps", steps)
		}

		parent, err := o.node.FetchBlockByHash(ctx, current.PreviousBlock)
		if err != nil {
			return errors.Wrapf(err, "walking back fork at %s", current.PreviousBlock)
		}

		knownLocally, height, err := o.isKnownLocally(ctx, parent.IndepHash)
		if err != nil {
			return errors.Wrap(err, "checking local knowledge of ancestor")
		}
		if knownLocally {
			if err := o.deleteFromHeight(ctx, height+1); err != nil {
				return errors.Wrap(err, "deleting diverged blocks")
			}
			o.mu.Lock()
			o.topHash = parent.IndepHash
			o.mu.Unlock()
			metrics.IncForkResolutions()
			return nil
		}

		parentHeight := uint64(typeadapt.ToLong(parent.Height))
		ack := o.pool.ImportBlock(parentHeight)
		if err := <-ack; err != nil {
			return errors.Wrapf(err, "re-importing ancestor at height %d", parentHeight)
		}
		current = parent
	}
}

// getMaxHeightBlock reads the current (gatewayHeight, topHash) pair directly
// from the store (spec.md §4.6 polling step 2), per Open Question decision
// #1: queried against block_gql_desc (clustered height DESC) with LIMIT 1,
// since that table's whole purpose is serving exactly this "give me the tip"
// read without a full table scan.
func (o *Orchestrator) getMaxHeightBlock(ctx context.Context) (height uint64, hash string, err error) {
	err = o.st.EachRow(ctx, store.ProfileFast, "SELECT height, indep_hash FROM block_gql_desc LIMIT 1", nil, func(row map[string]interface{}) error {
		if h, ok := row["height"].(int64); ok {
			height = uint64(h)
		}
		hash, _ = row["indep_hash"].(string)
		return nil
	})
	return height, hash, err
}

func (o *Orchestrator) isKnownLocally(ctx context.Context, hash string) (bool, uint64, error) {
	var found bool
	var height uint64
	err := o.st.EachRow(ctx, store.ProfileFast, "SELECT height FROM block_height_by_block_hash WHERE block_hash = ?", []interface{}{hash}, func(row map[string]interface{}) error {
		found = true
		if h, ok := row["height"].(int64); ok {
			height = uint64(h)
		}
		return nil
	})
	return found, height, err
}

// diverged is one locally persisted block at or beyond a fork ancestor's
// height, with everything needed to roll back its denormalized rows.
type diverged struct {
	height    uint64
	indepHash string
	txIDs     []string
}

// deleteFromHeight streams the block table under the fast profile and rolls
// back every row at or above height, fanned out across all nine tables
// (spec.md §3 invariant 5's denormalization symmetry). block's primary key is
// indep_hash, not height (internal/schema's DDL) -- a DELETE restricted only
// on height is rejected by Cassandra, so the delete set is gathered by
// streaming (indep_hash, height, txs) and every statement below is keyed on
// indep_hash or the per-transaction ids reachable from it.
func (o *Orchestrator) deleteFromHeight(ctx context.Context, height uint64) error {
	var toDelete []diverged
	err := o.st.EachRow(ctx, store.ProfileFast, "SELECT indep_hash, height, txs FROM block", nil, func(row map[string]interface{}) error {
		h, ok := row["height"].(int64)
		if !ok || uint64(h) < height {
			return nil
		}
		hash, _ := row["indep_hash"].(string)
		if hash == "" {
			return nil
		}
		txs, _ := row["txs"].([]string)
		toDelete = append(toDelete, diverged{height: uint64(h), indepHash: hash, txIDs: txs})
		return nil
	})
	if err != nil {
		return err
	}

	var stmts []store.Statement
	for _, d := range toDelete {
		blockStmts, err := o.deleteStatementsForBlock(ctx, d)
		if err != nil {
			return errors.Wrapf(err, "gathering rollback statements for block %s", d.indepHash)
		}
		stmts = append(stmts, blockStmts...)
	}
	if len(stmts) > 0 {
		if err := o.st.ExecuteBatch(ctx, store.ProfileFull, stmts); err != nil {
			return errors.Wrap(err, "deleting diverged rows")
		}
	}

	if o.ckpt != nil {
		if err := o.ckpt.DeleteFrom(height); err != nil {
			logger.Warn("failed to roll back checkpoint", "height", height, "err", err)
		}
	}
	return nil
}

// deleteStatementsForBlock builds the delete set for one diverged block:
// its own block/block_gql_asc/block_gql_desc/block_height_by_block_hash/poa
// rows, plus transaction/block_by_tx_id/tx_offset/tx_tag rows for every
// transaction it carried.
func (o *Orchestrator) deleteStatementsForBlock(ctx context.Context, d diverged) ([]store.Statement, error) {
	stmts := []store.Statement{
		{CQL: "DELETE FROM block WHERE indep_hash = ?", Params: []interface{}{d.indepHash}},
		{CQL: "DELETE FROM block_height_by_block_hash WHERE block_hash = ?", Params: []interface{}{d.indepHash}},
		{CQL: "DELETE FROM block_gql_asc WHERE partition_id = ? AND height = ? AND indep_hash = ?", Params: []interface{}{"gql1", int64(d.height), d.indepHash}},
		{CQL: "DELETE FROM block_gql_desc WHERE partition_id = ? AND height = ? AND indep_hash = ?", Params: []interface{}{"gql2", int64(d.height), d.indepHash}},
		{CQL: "DELETE FROM poa WHERE block_hash = ? AND block_height = ?", Params: []interface{}{d.indepHash, int64(d.height)}},
	}

	for _, txID := range d.txIDs {
		stmts = append(stmts,
			store.Statement{CQL: "DELETE FROM transaction WHERE id = ?", Params: []interface{}{txID}},
			store.Statement{CQL: "DELETE FROM block_by_tx_id WHERE tx_id = ?", Params: []interface{}{txID}},
			store.Statement{CQL: "DELETE FROM tx_offset WHERE tx_id = ?", Params: []interface{}{txID}},
		)

		tagStmts, err := o.tagDeleteStatements(ctx, txID)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, tagStmts...)
	}
	return stmts, nil
}

// tagDeleteStatements recovers every tx_tag row belonging to txID. tx_tag's
// primary key is (name, value, tx_id, tag_index) with name as the partition
// key, so tx_id alone can't address a delete; this scans the table once per
// rolled-back transaction to recover the full keys. Acceptable only because
// fork rollback is rare and bounded by maxForkWalkback.
func (o *Orchestrator) tagDeleteStatements(ctx context.Context, txID string) ([]store.Statement, error) {
	var stmts []store.Statement
	err := o.st.EachRow(ctx, store.ProfileFast, "SELECT name, value, tag_index FROM tx_tag WHERE tx_id = ? ALLOW FILTERING", []interface{}{txID}, func(row map[string]interface{}) error {
		name, _ := row["name"].(string)
		value, _ := row["value"].(string)
		stmts = append(stmts, store.Statement{
			CQL:    "DELETE FROM tx_tag WHERE name = ? AND value = ? AND tx_id = ? AND tag_index = ?",
			Params: []interface{}{name, value, txID, asInt(row["tag_index"])},
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scanning tx_tag for tx %s", txID)
	}
	return stmts, nil
}

func asInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	default:
		return 0
	}
}

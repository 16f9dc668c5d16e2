// Package doctor implements gap detection and fork divergence detection
// against an authoritative hash list (spec.md §4.4). Grounded on
// datasync/chaindatafetcher/chaindata_fetcher.go's checkpoint-gap-filling
// shape (sendRequests from checkpoint to current head), plus:
//   - gopkg.in/fatih/set.v0 (same library work/worker.go uses for
//     ancestor/family sets) for the mutable missing-height set.
//   - github.com/VictoriaMetrics/fastcache as a local height->hash existence
//     cache, so a CheckForBlockGaps call whose heights are all cached skips
//     the store round trip.
package doctor

import (
	"context"
	"sort"
	"strconv"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/pkg/errors"
	set "gopkg.in/fatih/set.v0"

	"github.com/xloem/vartex/internal/model"
	"github.com/xloem/vartex/internal/store"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("doctor")

// HeightHash identifies a block by both its height and its indep_hash, the
// pair the fork-check and gap-repair logic both compare on.
type HeightHash struct {
	Height uint64
	Hash   string
}

// Doctor detects gaps (missing heights) and fork divergence against an
// authoritative hash list (spec.md §4.4).
type Doctor struct {
	store Store
	cache *fastcache.Cache
}

// Store is the subset of store.Store the doctor needs; kept narrow so tests
// can fake it without pulling in a real gocql session.
type Store interface {
	Execute(ctx context.Context, profile store.Profile, stmt store.Statement) error
	EachRow(ctx context.Context, profile store.Profile, cql string, params []interface{}, cb store.RowCallback) error
}

// New builds a Doctor with a local existence cache of cacheSizeBytes
// (internal/config.Config.DoctorCacheSizeBytes).
func New(s Store, cacheSizeBytes int) *Doctor {
	return &Doctor{store: s, cache: fastcache.New(cacheSizeBytes)}
}

func cacheKey(height uint64) []byte {
	return []byte(strconv.FormatUint(height, 10))
}

// ObserveLocal records that height -> hash is known to be persisted, so a
// later CheckForBlockGaps call can skip the store round trip for that
// height. Callers (internal/sync) call this after every successful import.
func (d *Doctor) ObserveLocal(height uint64, hash string) {
	d.cache.Set(cacheKey(height), []byte(hash))
}

// CheckForBlockGaps is the cheap existence probe (spec.md §4.4): does the
// block table have fewer rows than the known topHeight? When every height
// below topHeight is in the local cache the store is not queried; otherwise
// every row of the block table is counted in one fast-profile streaming pass.
func (d *Doctor) CheckForBlockGaps(ctx context.Context, topHeight uint64) (bool, error) {
	var uncached uint64
	for h := uint64(0); h < topHeight; h++ {
		if _, ok := d.cache.HasGet(nil, cacheKey(h)); !ok {
			uncached++
		}
	}
	if uncached == 0 {
		return false, nil
	}

	var rowCount uint64
	err := d.store.EachRow(ctx, store.ProfileFast, "SELECT height FROM block", nil, func(row map[string]interface{}) error {
		rowCount++
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "checking for block gaps")
	}
	return rowCount < topHeight, nil
}

// FindMissingBlocks implements spec.md §4.4's first-run/resume path: stream
// the full block table (autopaged, fast profile), build a mutable map from
// height -> {hash,height} initialized from the hash list, delete entries
// where a local row matches on both height and indep_hash; the remainder,
// sorted ascending, is the missing set.
func (d *Doctor) FindMissingBlocks(ctx context.Context, hashList model.HashList) ([]HeightHash, error) {
	missing := set.New()
	byHeight := make(map[uint64]HeightHash, len(hashList))
	for height, hash := range hashList {
		h := uint64(height)
		byHeight[h] = HeightHash{Height: h, Hash: hash}
		missing.Add(h)
	}

	err := d.store.EachRow(ctx, store.ProfileFast, "SELECT indep_hash, height FROM block", nil, func(row map[string]interface{}) error {
		height, ok := asUint64(row["height"])
		if !ok {
			return nil
		}
		hash, _ := row["indep_hash"].(string)
		expected, ok := byHeight[height]
		if ok && expected.Hash == hash {
			missing.Remove(height)
			d.ObserveLocal(height, hash)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "streaming block table")
	}

	out := make([]HeightHash, 0, missing.Size())
	set.Each(missing, func(item interface{}) bool {
		h := item.(uint64)
		out = append(out, byHeight[h])
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out, nil
}

// ResolveDivergence reports whether localHash (the store's currently known
// hash at a given height) matches the authoritative hashList at that height
// (spec.md §3 invariant 1: "for every persisted block at height h, its
// indep_hash equals hashList[h]"). internal/sync's fork walkback does not
// call it; it looks ancestors up in block_height_by_block_hash instead.
func ResolveDivergence(hashList model.HashList, height uint64, localHash string) bool {
	if height >= uint64(len(hashList)) {
		return false
	}
	return hashList[height] == localHash
}

func asUint64(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case int64:
		return uint64(t), true
	case int:
		return uint64(t), true
	case uint64:
		return t, true
	default:
		return 0, false
	}
}


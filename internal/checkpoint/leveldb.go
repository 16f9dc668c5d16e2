// Package checkpoint persists local resume-cursor state that is NOT part of
// spec.md §3 (the canonical store is the Cassandra-style keyspace) but is
// needed so startSync can resume without re-deriving the full hash->height
// map on every restart. Two adapted teacher modules back it:
//   - this file, adapted from storage/database/leveldb_database.go (trimmed
//     from klaytn's full chain-KV schema down to a single height->hash
//     checkpoint bucket), backed by github.com/syndtr/goleveldb.
//   - badger.go, adapted from storage/database/badger_database.go, backed by
//     github.com/dgraph-io/badger, recording in-flight importBlock jobs.
package checkpoint

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Store is the resume-cursor persistence interface the orchestrator
// (internal/sync) depends on.
type Store interface {
	// LastSynced returns the highest height known to have been fully
	// imported, and its hash, or ok=false if nothing has ever been recorded.
	LastSynced() (height uint64, hash string, ok bool, err error)
	// RecordSynced persists a new high-water mark after a successful import.
	RecordSynced(height uint64, hash string) error
	// DeleteFrom removes any recorded high-water mark at or above height,
	// called during fork rollback (spec.md §4.6 resolveFork) so a restart
	// mid-rollback doesn't resume past the rollback point.
	DeleteFrom(height uint64) error
	Close() error
}

const lastSyncedKey = "checkpoint:last-synced"

type levelDBStore struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a leveldb checkpoint store at path.
func NewLevelDB(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb checkpoint store at %s", path)
	}
	return &levelDBStore{db: db}, nil
}

func encodeCheckpoint(height uint64, hash string) []byte {
	buf := make([]byte, 8+len(hash))
	binary.BigEndian.PutUint64(buf[:8], height)
	copy(buf[8:], hash)
	return buf
}

func decodeCheckpoint(buf []byte) (uint64, string) {
	if len(buf) < 8 {
		return 0, ""
	}
	return binary.BigEndian.Uint64(buf[:8]), string(buf[8:])
}

func (s *levelDBStore) LastSynced() (uint64, string, bool, error) {
	v, err := s.db.Get([]byte(lastSyncedKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, errors.Wrap(err, "reading last-synced checkpoint")
	}
	h, hash := decodeCheckpoint(v)
	return h, hash, true, nil
}

func (s *levelDBStore) RecordSynced(height uint64, hash string) error {
	if err := s.db.Put([]byte(lastSyncedKey), encodeCheckpoint(height, hash), nil); err != nil {
		return errors.Wrap(err, "writing last-synced checkpoint")
	}
	return nil
}

// DeleteFrom is a no-op for the single high-water-mark key unless the
// recorded height is itself at or above the rollback point, in which case
// the checkpoint is cleared so the next startup treats everything from
// height as unsynced.
func (s *levelDBStore) DeleteFrom(height uint64) error {
	h, _, ok, err := s.LastSynced()
	if err != nil {
		return err
	}
	if !ok || h < height {
		return nil
	}
	if err := s.db.Delete([]byte(lastSyncedKey), nil); err != nil {
		return errors.Wrap(err, "clearing last-synced checkpoint during rollback")
	}
	return nil
}

func (s *levelDBStore) Close() error {
	return s.db.Close()
}

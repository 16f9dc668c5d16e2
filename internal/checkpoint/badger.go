package checkpoint

import (
	"strconv"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/pkg/errors"
)

// InFlightJournal records which heights currently have an importBlock job
// dispatched but not yet acknowledged. If a worker crashes mid-job, the
// height stays recorded here; on the next startup internal/sync reads
// Orphaned() and merges those heights into the set it re-imports, without
// waiting for Doctor.FindMissingBlocks to report them.
type InFlightJournal struct {
	db *badger.DB
}

// NewInFlightJournal opens (or creates) a badger-backed journal at path.
func NewInFlightJournal(path string) (*InFlightJournal, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger in-flight journal at %s", path)
	}
	return &InFlightJournal{db: db}, nil
}

func journalKey(height uint64) []byte {
	return []byte("inflight:" + strconv.FormatUint(height, 10))
}

// MarkDispatched records that height has been handed to a worker.
func (j *InFlightJournal) MarkDispatched(height uint64) error {
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(journalKey(height), []byte(time.Now().UTC().Format(time.RFC3339))))
	})
}

// MarkAcked removes height once its importBlock job has been acknowledged.
func (j *InFlightJournal) MarkAcked(height uint64) error {
	return j.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(journalKey(height))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

// Orphaned returns every height still marked dispatched, i.e. jobs that
// never got acked -- heights internal/sync re-imports on the next startup.
func (j *InFlightJournal) Orphaned() ([]uint64, error) {
	var out []uint64
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("inflight:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			h, err := strconv.ParseUint(key[len("inflight:"):], 10, 64)
			if err != nil {
				continue
			}
			out = append(out, h)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing orphaned in-flight jobs")
	}
	return out, nil
}

func (j *InFlightJournal) Close() error {
	return j.db.Close()
}

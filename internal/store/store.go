// Package store wraps the wide-column store driver (spec.md §4.3, §6):
// prepared, idempotent, profile-driven execute/eachRow against Cassandra.
// Built on github.com/gocql/gocql -- named per the out-of-pack rule in
// DESIGN.md, since no Cassandra driver appears anywhere in the retrieval
// pack; gocql's Query/Iter/Consistency/SerialConsistency/Idempotent API is
// the real ecosystem match for the exact semantics spec.md §4.3 names.
package store

import (
	"context"
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("store")

// Profile names an execution profile: a named bundle of timeout +
// consistency settings applied to a store operation (spec.md §4.3, GLOSSARY).
type Profile string

const (
	// ProfileFast: 5s timeout, ANY consistency, LOCAL_SERIAL serial
	// consistency. Cheap scans (doctor).
	ProfileFast Profile = "fast"
	// ProfileGQL: 5s timeout, ALL/SERIAL. Query-side reads.
	ProfileGQL Profile = "gql"
	// ProfileFull: 15s timeout, ALL/SERIAL. All core writes.
	ProfileFull Profile = "full"
)

type profileSettings struct {
	timeout           time.Duration
	consistency       gocql.Consistency
	serialConsistency gocql.SerialConsistency
}

var profiles = map[Profile]profileSettings{
	ProfileFast: {timeout: 5 * time.Second, consistency: gocql.Any, serialConsistency: gocql.LocalSerial},
	ProfileGQL:  {timeout: 5 * time.Second, consistency: gocql.All, serialConsistency: gocql.Serial},
	ProfileFull: {timeout: 15 * time.Second, consistency: gocql.All, serialConsistency: gocql.Serial},
}

// Statement is one prepared, idempotent write or read (spec.md §4.3 item 4:
// "writes use prepared statements with isIdempotent=true").
type Statement struct {
	CQL    string
	Params []interface{}
	// NotIfExists marks statements that must use IF NOT EXISTS semantics
	// (spec.md §5: block_height_by_block_hash and block_by_tx_id inserts are
	// single-writer-wins; all others are plain inserts).
	NotIfExists bool
}

// RowCallback receives one streamed row as column name -> value, the shape
// gocql.Iter.MapScan produces, mirroring the teacher's eachRow(onRow, onDone)
// callback style (spec.md §6).
type RowCallback func(row map[string]interface{}) error

// Store is the interface the sync engine consumes (spec.md §6). A single
// long-lived instance is shared by the main process; each worker holds its
// own (spec.md §5).
type Store interface {
	// Execute runs one statement under the given profile. All core writes
	// go through ExecuteBatch (spec.md §4.3: "does not wrap the projected
	// statements in a logged batch; executes them in parallel and joins").
	Execute(ctx context.Context, profile Profile, stmt Statement) error
	// ExecuteBatch runs every statement concurrently and joins; it does NOT
	// use a gocql logged batch (spec.md, Design Notes §9: "do not wrap the
	// per-block fan-out in a logged batch"). A block is "imported" only once
	// every statement here has resolved successfully.
	ExecuteBatch(ctx context.Context, profile Profile, stmts []Statement) error
	// EachRow streams query results with autopaging under the given
	// profile, invoking cb for every row (spec.md §6 "eachRow... streaming
	// with autopaging").
	EachRow(ctx context.Context, profile Profile, cql string, params []interface{}, cb RowCallback) error
	Close()
}

type cqlStore struct {
	session *gocql.Session
}

// New dials the Cassandra cluster at the given contact points.
func New(contactPoints []string, keyspace string) (Store, error) {
	cluster := gocql.NewCluster(contactPoints...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrap(err, "creating cassandra session")
	}
	return &cqlStore{session: session}, nil
}

func (s *cqlStore) query(profile Profile, cql string, params []interface{}) *gocql.Query {
	p := profiles[profile]
	q := s.session.Query(cql, params...)
	q = q.Consistency(p.consistency).SerialConsistency(p.serialConsistency)
	q = q.Idempotent(true)
	q = q.WithContext(context.Background())
	return q
}

func (s *cqlStore) Execute(ctx context.Context, profile Profile, stmt Statement) error {
	p := profiles[profile]
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	q := s.query(profile, stmt.CQL, stmt.Params).WithContext(ctx)
	if err := q.Exec(); err != nil {
		return errors.Wrapf(err, "executing statement under profile %s", profile)
	}
	return nil
}

// ExecuteBatch dispatches every statement concurrently and waits for all of
// them -- deliberately not a gocql logged batch, per Design Notes §9.
func (s *cqlStore) ExecuteBatch(ctx context.Context, profile Profile, stmts []Statement) error {
	errCh := make(chan error, len(stmts))
	for _, stmt := range stmts {
		stmt := stmt
		go func() {
			errCh <- s.Execute(ctx, profile, stmt)
		}()
	}
	var firstErr error
	for range stmts {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *cqlStore) EachRow(ctx context.Context, profile Profile, cql string, params []interface{}, cb RowCallback) error {
	p := profiles[profile]
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	iter := s.query(profile, cql, params).WithContext(ctx).PageSize(5000).Iter()
	for {
		row := make(map[string]interface{})
		if !iter.MapScan(row) {
			break
		}
		if err := cb(row); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return errors.Wrap(err, "streaming rows")
	}
	return nil
}

func (s *cqlStore) Close() {
	s.session.Close()
	logger.Info("store session closed")
}

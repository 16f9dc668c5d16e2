// Package querybuilder implements the Query Builder (spec.md §4.7):
// parameterized SELECT construction against transaction, block_gql_asc/desc,
// and tx_tag, plus two cache tiers in front of the store. Grounded on
// work/worker.go's request/response shape for the in-process LRU tier
// (github.com/hashicorp/golang-lru, same memoization idiom the teacher uses
// for its txpool lookups) and enriched with github.com/go-redis/redis/v7 +
// github.com/golang/snappy for a cross-instance shared cache -- neither
// appears in the teacher's own go.mod, so this tier is grounded on the rest
// of the retrieval pack rather than on klaytn itself (see DESIGN.md).
package querybuilder

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/xloem/vartex/internal/store"
	"github.com/xloem/vartex/internal/typeadapt"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("querybuilder")

// SortOrder selects which physical table a block query reads (spec.md §4.7:
// "sortOrder chooses which physical table to read").
type SortOrder string

const (
	SortHeightAsc  SortOrder = "HEIGHT_ASC"
	SortHeightDesc SortOrder = "HEIGHT_DESC"
)

// TagFilter is one requested tag constraint (spec.md §4.7 "Tags").
type TagFilter struct {
	Name   string
	Values []string
}

// TransactionParams are the optional inputs to a transaction query (spec.md
// §4.7 "Transactions").
type TransactionParams struct {
	ID              string
	IDs             []string
	To              string
	Since           string // a time-based UUID string
	StatusConfirmed bool
	MinHeight       *int64
	MaxHeight       *int64
}

// BlockParams are the inputs to a block query (spec.md §4.7 "Blocks").
type BlockParams struct {
	SortOrder SortOrder
	MinHeight int64
	MaxHeight int64
	Offset    int64
	FetchSize int
}

// GenerateTransactionQuery builds the parameterized SELECT for the
// transaction table. All WHERE terms are ANDed; ALLOW FILTERING is always
// set (spec.md §4.7). No ORDER BY clause is emitted.
func GenerateTransactionQuery(p TransactionParams) store.Statement {
	var where []string
	var params []interface{}

	switch {
	case p.ID != "":
		where = append(where, "id = ?")
		params = append(params, p.ID)
	case len(p.IDs) > 0:
		where = append(where, fmt.Sprintf("id IN (%s)", placeholders(len(p.IDs))))
		for _, id := range p.IDs {
			params = append(params, id)
		}
	}

	if p.To != "" {
		where = append(where, "target = ?")
		params = append(params, p.To)
	}

	if p.Since != "" {
		if id := uuid.Parse(p.Since); id != nil {
			if secs, ok := typeadapt.TimeFromUUID(id); ok {
				where = append(where, "block_timestamp < ?")
				params = append(params, secs)
			}
		} else {
			logger.Warn("unparseable since UUID, ignoring", "since", p.Since)
		}
	}

	if p.StatusConfirmed {
		where = append(where, "block_height >= 0")
	}

	if p.MinHeight != nil {
		where = append(where, "block_height >= ?")
		params = append(params, *p.MinHeight)
	}
	if p.MaxHeight != nil {
		where = append(where, "block_height <= ?")
		params = append(params, *p.MaxHeight)
	}

	cql := "SELECT * FROM transaction"
	if len(where) > 0 {
		cql += " WHERE " + strings.Join(where, " AND ")
	}
	cql += " ALLOW FILTERING"

	return store.Statement{CQL: cql, Params: params}
}

// GenerateBlockQuery builds the parameterized SELECT against block_gql_asc
// or block_gql_desc depending on SortOrder, applying the client-offset
// adjustment spec.md §4.7 describes: "ASC adds offset to minHeight; DESC
// subtracts offset from maxHeight."
func GenerateBlockQuery(p BlockParams) store.Statement {
	table := "block_gql_asc"
	minHeight := p.MinHeight + p.Offset
	maxHeight := p.MaxHeight
	if p.SortOrder == SortHeightDesc {
		table = "block_gql_desc"
		maxHeight = p.MaxHeight - p.Offset
		minHeight = p.MinHeight
	}

	fetchSize := p.FetchSize
	if fetchSize <= 0 {
		fetchSize = 100
	}

	cql := fmt.Sprintf(
		"SELECT * FROM %s WHERE height >= ? AND height <= ? LIMIT %d ALLOW FILTERING",
		table, fetchSize,
	)
	return store.Statement{CQL: cql, Params: []interface{}{minHeight, maxHeight}}
}

// GenerateTagQuery builds one statement per TagFilter (spec.md §4.7 "Tags":
// "for each requested TagFilter, append name = ? and either value IN (?,…)
// or value = ?. Returns tx_id projection.").
func GenerateTagQuery(filters []TagFilter) []store.Statement {
	stmts := make([]store.Statement, 0, len(filters))
	for _, f := range filters {
		var where string
		params := []interface{}{f.Name}
		if len(f.Values) > 1 {
			where = fmt.Sprintf("name = ? AND value IN (%s)", placeholders(len(f.Values)))
			for _, v := range f.Values {
				params = append(params, v)
			}
		} else if len(f.Values) == 1 {
			where = "name = ? AND value = ?"
			params = append(params, f.Values[0])
		} else {
			where = "name = ?"
		}
		cql := fmt.Sprintf("SELECT tx_id FROM tx_tag WHERE %s ALLOW FILTERING", where)
		stmts = append(stmts, store.Statement{CQL: cql, Params: params})
	}
	return stmts
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

// Row is one result row, column name -> value.
type Row = map[string]interface{}

// cacheTier is the shared-cache abstraction the in-process LRU and the
// optional Redis tier both satisfy, so Builder doesn't care which (or both)
// are configured.
type cacheTier interface {
	get(key string) ([]Row, bool)
	set(key string, rows []Row)
}

// Builder executes generated statements against the store through two
// optional cache tiers: an in-process LRU (hashicorp/golang-lru) and a
// shared Redis tier (go-redis/redis/v7, snappy-compressed payloads).
type Builder struct {
	st    store.Store
	local *lruTier
	remote cacheTier
}

// New builds a Builder. localCacheSize <= 0 disables the in-process LRU
// tier. remote may be nil to disable the shared tier.
func New(st store.Store, localCacheSize int, remote cacheTier) (*Builder, error) {
	b := &Builder{st: st, remote: remote}
	if localCacheSize > 0 {
		c, err := lru.New(localCacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "building in-process query cache")
		}
		b.local = &lruTier{cache: c}
	}
	return b, nil
}

type lruTier struct {
	cache *lru.Cache
}

func (t *lruTier) get(key string) ([]Row, bool) {
	v, ok := t.cache.Get(key)
	if !ok {
		return nil, false
	}
	rows, ok := v.([]Row)
	return rows, ok
}

func (t *lruTier) set(key string, rows []Row) {
	t.cache.Add(key, rows)
}

func cacheKeyFor(stmt store.Statement) string {
	return fmt.Sprintf("%s|%v", stmt.CQL, stmt.Params)
}

// Run executes stmt under the gql profile, consulting the local tier, then
// the remote tier, then the store, populating both tiers on a miss
// (spec.md §4.3 ProfileGQL: "Query-side reads").
func (b *Builder) Run(ctx context.Context, stmt store.Statement) ([]Row, error) {
	key := cacheKeyFor(stmt)

	if b.local != nil {
		if rows, ok := b.local.get(key); ok {
			return rows, nil
		}
	}
	if b.remote != nil {
		if rows, ok := b.remote.get(key); ok {
			if b.local != nil {
				b.local.set(key, rows)
			}
			return rows, nil
		}
	}

	var rows []Row
	err := b.st.EachRow(ctx, store.ProfileGQL, stmt.CQL, stmt.Params, func(row Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "running query")
	}

	if b.local != nil {
		b.local.set(key, rows)
	}
	if b.remote != nil {
		b.remote.set(key, rows)
	}
	return rows, nil
}

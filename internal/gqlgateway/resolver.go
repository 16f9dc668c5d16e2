package gqlgateway

import (
	"context"
	"strconv"

	"github.com/xloem/vartex/internal/querybuilder"
	"github.com/xloem/vartex/internal/store"
)

// Resolver is the graph-gophers/graphql-go root resolver, delegating every
// field to the Query Builder (spec.md §4.7) rather than touching the store
// directly.
type Resolver struct {
	qb *querybuilder.Builder
}

// NewResolver builds a Resolver bound to qb.
func NewResolver(qb *querybuilder.Builder) *Resolver {
	return &Resolver{qb: qb}
}

type transactionArgs struct {
	ID string
}

// Transaction resolves Query.transaction(id).
func (r *Resolver) Transaction(ctx context.Context, args transactionArgs) (*transactionResolver, error) {
	stmt := querybuilder.GenerateTransactionQuery(querybuilder.TransactionParams{ID: args.ID})
	rows, err := r.qb.Run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	tags, err := r.loadTags(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return &transactionResolver{row: rows[0], tags: tags}, nil
}

type transactionsArgs struct {
	Ids       *[]string
	To        *string
	Since     *string
	Status    *string
	MinHeight *int32
	MaxHeight *int32
	First     *int32
}

// Transactions resolves Query.transactions(...).
func (r *Resolver) Transactions(ctx context.Context, args transactionsArgs) ([]*transactionResolver, error) {
	params := querybuilder.TransactionParams{}
	if args.Ids != nil {
		params.IDs = *args.Ids
	}
	if args.To != nil {
		params.To = *args.To
	}
	if args.Since != nil {
		params.Since = *args.Since
	}
	if args.Status != nil && *args.Status == "confirmed" {
		params.StatusConfirmed = true
	}
	if args.MinHeight != nil {
		v := int64(*args.MinHeight)
		params.MinHeight = &v
	}
	if args.MaxHeight != nil {
		v := int64(*args.MaxHeight)
		params.MaxHeight = &v
	}

	stmt := querybuilder.GenerateTransactionQuery(params)
	rows, err := r.qb.Run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if args.First != nil && int(*args.First) < len(rows) {
		rows = rows[:*args.First]
	}

	out := make([]*transactionResolver, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		tags, err := r.loadTags(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, &transactionResolver{row: row, tags: tags})
	}
	return out, nil
}

type blockArgs struct {
	SortOrder *string
	MinHeight *int32
	MaxHeight *int32
	Offset    *int32
	First     *int32
}

// Block resolves Query.block(...).
func (r *Resolver) Block(ctx context.Context, args blockArgs) ([]*blockResolver, error) {
	params := querybuilder.BlockParams{SortOrder: querybuilder.SortHeightAsc}
	if args.SortOrder != nil && *args.SortOrder == string(querybuilder.SortHeightDesc) {
		params.SortOrder = querybuilder.SortHeightDesc
	}
	if args.MinHeight != nil {
		params.MinHeight = int64(*args.MinHeight)
	}
	if args.MaxHeight != nil {
		params.MaxHeight = int64(*args.MaxHeight)
	}
	if args.Offset != nil {
		params.Offset = int64(*args.Offset)
	}
	if args.First != nil {
		params.FetchSize = int(*args.First)
	}

	stmt := querybuilder.GenerateBlockQuery(params)
	rows, err := r.qb.Run(ctx, stmt)
	if err != nil {
		return nil, err
	}

	out := make([]*blockResolver, 0, len(rows))
	for _, row := range rows {
		out = append(out, &blockResolver{row: row})
	}
	return out, nil
}

// loadTags fetches the tag rows belonging to one transaction. tx_tag's
// primary key is (name, value, tx_id, tag_index); this query crosses that
// key with ALLOW FILTERING on tx_id, mirroring the "ALLOW FILTERING always
// set" convention the rest of the Query Builder follows (spec.md §4.7).
func (r *Resolver) loadTags(ctx context.Context, txID string) ([]tagResolver, error) {
	stmt := store.Statement{
		CQL:    "SELECT name, value FROM tx_tag WHERE tx_id = ? ALLOW FILTERING",
		Params: []interface{}{txID},
	}
	rows, err := r.qb.Run(ctx, stmt)
	if err != nil {
		return nil, err
	}
	out := make([]tagResolver, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		value, _ := row["value"].(string)
		out = append(out, tagResolver{name: name, value: value})
	}
	return out, nil
}

type transactionResolver struct {
	row  querybuilder.Row
	tags []tagResolver
}

func (t *transactionResolver) ID() string             { return str(t.row["id"]) }
func (t *transactionResolver) Owner() string           { return str(t.row["owner"]) }
func (t *transactionResolver) Target() *string         { return strPtr(t.row["target"]) }
func (t *transactionResolver) Quantity() *string       { return intStrPtr(t.row["quantity"]) }
func (t *transactionResolver) Reward() *string         { return intStrPtr(t.row["reward"]) }
func (t *transactionResolver) DataSize() *string       { return intStrPtr(t.row["data_size"]) }
func (t *transactionResolver) DataRoot() *string       { return strPtr(t.row["data_root"]) }
func (t *transactionResolver) BlockHeight() int32      { return int32(intVal(t.row["block_height"])) }
func (t *transactionResolver) BlockIndepHash() string  { return str(t.row["block_indep_hash"]) }
func (t *transactionResolver) BlockTimestamp() int32   { return int32(intVal(t.row["block_timestamp"])) }
func (t *transactionResolver) Tags() []tagResolver      { return t.tags }

type tagResolver struct{ name, value string }

func (t tagResolver) Name() string  { return t.name }
func (t tagResolver) Value() string { return t.value }

type blockResolver struct {
	row querybuilder.Row
}

func (b *blockResolver) IndepHash() string     { return str(b.row["indep_hash"]) }
func (b *blockResolver) Height() int32         { return int32(intVal(b.row["height"])) }
func (b *blockResolver) Timestamp() int32      { return int32(intVal(b.row["timestamp"])) }
func (b *blockResolver) PreviousBlock() *string { return strPtr(b.row["previous_block"]) }

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func strPtr(v interface{}) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func intVal(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

func intStrPtr(v interface{}) *string {
	n := intVal(v)
	if n == 0 {
		if _, ok := v.(int64); !ok {
			return nil
		}
	}
	s := strconv.FormatInt(n, 10)
	return &s
}

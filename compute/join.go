package compute

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/table"
)

const defaultOutputBatchSize = 64 * 1024

type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
	LeftSemiJoin
	LeftAntiJoin
)

var joinTypeNames = map[JoinType]string{
	InnerJoin:      "inner",
	LeftOuterJoin:  "left outer",
	RightOuterJoin: "right outer",
	FullOuterJoin:  "full outer",
	LeftSemiJoin:   "left semi",
	LeftAntiJoin:   "left anti",
}

func (t JoinType) String() string {
	if name, ok := joinTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("JoinType(%d)", int(t))
}

// ParseJoinType accepts the names returned by JoinType.String.
func ParseJoinType(name string) (JoinType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range joinTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown join type %q", name)
}

// padsLeft reports whether output rows may lack a left row.
func (t JoinType) padsLeft() bool { return t == RightOuterJoin || t == FullOuterJoin }

// padsRight reports whether output rows may lack a right row.
func (t JoinType) padsRight() bool { return t == LeftOuterJoin || t == FullOuterJoin }

// leftOnly reports whether the output contains left columns only.
func (t JoinType) leftOnly() bool { return t == LeftSemiJoin || t == LeftAntiJoin }

type joinOptions struct {
	joinType        JoinType
	leftSuffix      string
	rightSuffix     string
	outputBatchSize int
	buildPartitions int
	mem             memory.Allocator
}

type JoinOption func(*joinOptions)

func WithJoinType(t JoinType) JoinOption {
	return func(o *joinOptions) {
		o.joinType = t
	}
}

// WithSuffixes sets the suffixes appended to non-key columns whose names
// exist on both sides. The defaults are "" for the left and "_right" for the
// right side.
func WithSuffixes(left, right string) JoinOption {
	return func(o *joinOptions) {
		o.leftSuffix = left
		o.rightSuffix = right
	}
}

// WithOutputBatchSize sets the maximum number of rows per output batch.
func WithOutputBatchSize(rows int) JoinOption {
	return func(o *joinOptions) {
		o.outputBatchSize = rows
	}
}

// WithBuildPartitions splits the build side into n hash partitions that are
// indexed in parallel.
func WithBuildPartitions(n int) JoinOption {
	return func(o *joinOptions) {
		o.buildPartitions = n
	}
}

func WithAllocator(mem memory.Allocator) JoinOption {
	return func(o *joinOptions) {
		o.mem = mem
	}
}

// HashJoinEngine joins two tables on equal key columns. The right table is
// indexed and the left table probes the index.
type HashJoinEngine struct {
	opts joinOptions
}

func NewHashJoinEngine(opts ...JoinOption) *HashJoinEngine {
	o := joinOptions{
		joinType:        InnerJoin,
		rightSuffix:     "_right",
		outputBatchSize: defaultOutputBatchSize,
		buildPartitions: 1,
		mem:             memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.outputBatchSize <= 0 {
		o.outputBatchSize = defaultOutputBatchSize
	}
	if o.buildPartitions <= 0 {
		o.buildPartitions = 1
	}
	return &HashJoinEngine{opts: o}
}

// HashJoin joins left and right on keys. See HashJoinEngine.Join.
func HashJoin(ctx context.Context, left, right *table.Table, keys []string, opts ...JoinOption) (*table.Table, error) {
	return NewHashJoinEngine(opts...).Join(ctx, left, right, keys)
}

// Join returns a new table with one row per pair of left and right rows whose
// key columns are all equal. Rows with a null key never match. Output rows
// follow the left table order, and for each left row the matching right rows
// follow the right table order. Rows padded by outer joins for unmatched right
// rows come last, in right table order.
//
// The output schema has every left column followed by the non-key right
// columns. Key columns appear once and are taken from the right row when an
// outer join has no left row.
//
// Join either returns the complete result or an error and no table.
func (e *HashJoinEngine) Join(ctx context.Context, left, right *table.Table, keys []string) (*table.Table, error) {
	joinKeys, err := resolveKeys(left.Schema(), right.Schema(), keys)
	if err != nil {
		return nil, err
	}
	layout, err := newOutputLayout(left.Schema(), right.Schema(), joinKeys, e.opts)
	if err != nil {
		return nil, err
	}

	index, err := buildIndex(ctx, right, joinKeys, e.opts.buildPartitions)
	if err != nil {
		return nil, errors.Wrap(err, "build phase")
	}

	pairs, err := probe(ctx, left, index, joinKeys, e.opts.joinType)
	if err != nil {
		return nil, errors.Wrap(err, "probe phase")
	}
	if e.opts.joinType.padsLeft() {
		pairs = appendUnmatchedRight(pairs, right)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return materialize(layout, left, right, pairs, e.opts)
}

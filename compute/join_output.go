package compute

import (
	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/table"
)

type joinSide int

const (
	leftSide joinSide = iota
	rightSide
)

type outputColumn struct {
	side  joinSide
	index int
	// coalesce is the right column used when the left row is absent, or -1.
	coalesce int
}

type outputLayout struct {
	schema  *arrow.Schema
	columns []outputColumn
}

func newOutputLayout(left, right *arrow.Schema, keys []joinKey, opts joinOptions) (*outputLayout, error) {
	joinType := opts.joinType
	leftKeys := make(map[int]int, len(keys))
	rightKeys := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		leftKeys[k.left] = k.right
		rightKeys[k.right] = struct{}{}
	}

	leftNames := make(map[string]struct{})
	for i, f := range left.Fields() {
		if _, ok := leftKeys[i]; !ok {
			leftNames[f.Name] = struct{}{}
		}
	}
	rightNames := make(map[string]struct{})
	if !joinType.leftOnly() {
		for i, f := range right.Fields() {
			if _, ok := rightKeys[i]; !ok {
				rightNames[f.Name] = struct{}{}
			}
		}
	}

	var (
		fields  []arrow.Field
		columns []outputColumn
	)
	for i, f := range left.Fields() {
		col := outputColumn{side: leftSide, index: i, coalesce: -1}
		if r, ok := leftKeys[i]; ok {
			if joinType.padsLeft() {
				col.coalesce = r
			}
		} else if _, ok := rightNames[f.Name]; ok {
			f.Name += opts.leftSuffix
		}
		f.Nullable = f.Nullable || joinType.padsLeft()
		fields = append(fields, f)
		columns = append(columns, col)
	}
	if !joinType.leftOnly() {
		for i, f := range right.Fields() {
			if _, ok := rightKeys[i]; ok {
				continue
			}
			if _, ok := leftNames[f.Name]; ok {
				f.Name += opts.rightSuffix
			}
			f.Nullable = f.Nullable || joinType.padsRight()
			fields = append(fields, f)
			columns = append(columns, outputColumn{side: rightSide, index: i, coalesce: -1})
		}
	}

	names := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := names[f.Name]; ok {
			return nil, &ColumnCollisionError{Column: f.Name}
		}
		names[f.Name] = struct{}{}
	}

	return &outputLayout{
		schema:  arrow.NewSchema(fields, nil),
		columns: columns,
	}, nil
}

// materialize gathers the rows addressed by pairs into batches of at most
// outputBatchSize rows. No table is returned on error and every batch built
// so far is released.
func materialize(layout *outputLayout, left, right *table.Table, pairs []joinPair, opts joinOptions) (*table.Table, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	for start := 0; start < len(pairs); start += opts.outputBatchSize {
		end := start + opts.outputBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch, err := gatherBatch(opts.mem, layout, left, right, pairs[start:end])
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return table.FromBatches(layout.schema, batches...)
}

// cell is the source of one output value. A nil column is a null.
type cell struct {
	column arrow.Array
	row    int
}

func gatherBatch(mem memory.Allocator, layout *outputLayout, left, right *table.Table, pairs []joinPair) (arrow.Record, error) {
	columns := make([]arrow.Array, 0, len(layout.columns))
	defer func() {
		for _, c := range columns {
			c.Release()
		}
	}()

	cells := make([]cell, len(pairs))
	for i, col := range layout.columns {
		for j, p := range pairs {
			src, ref := left, p.left
			index := col.index
			if col.side == rightSide {
				src, ref = right, p.right
			} else if !ref.present() && col.coalesce >= 0 {
				src, ref, index = right, p.right, col.coalesce
			}
			if !ref.present() {
				cells[j] = cell{}
				continue
			}
			cells[j] = cell{column: src.Batch(ref.batch).Column(index), row: ref.row}
		}

		dt := layout.schema.Field(i).Type
		var (
			column arrow.Array
			err    error
		)
		if schema.Supported(dt) {
			column = buildColumn(mem, dt, cells)
		} else {
			column, err = concatColumn(mem, dt, cells)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "gather column %q", layout.schema.Field(i).Name)
		}
		columns = append(columns, column)
	}
	return array.NewRecord(layout.schema, columns, int64(len(pairs))), nil
}

func buildColumn(mem memory.Allocator, dt arrow.DataType, cells []cell) arrow.Array {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(len(cells))
	for _, c := range cells {
		if c.column == nil || c.column.IsNull(c.row) {
			b.AppendNull()
			continue
		}
		appendValue(b, c.column, c.row)
	}
	return b.NewArray()
}

func appendValue(b array.Builder, src arrow.Array, row int) {
	switch b := b.(type) {
	case *array.Int32Builder:
		b.Append(src.(*array.Int32).Value(row))
	case *array.Int64Builder:
		b.Append(src.(*array.Int64).Value(row))
	case *array.Float32Builder:
		b.Append(src.(*array.Float32).Value(row))
	case *array.Float64Builder:
		b.Append(src.(*array.Float64).Value(row))
	case *array.BooleanBuilder:
		b.Append(src.(*array.Boolean).Value(row))
	case *array.StringBuilder:
		b.Append(src.(*array.String).Value(row))
	case *array.BinaryBuilder:
		b.Append(src.(*array.Binary).Value(row))
	}
}

// concatColumn gathers columns of any type by slicing runs of consecutive
// rows out of their source arrays and concatenating the slices.
func concatColumn(mem memory.Allocator, dt arrow.DataType, cells []cell) (arrow.Array, error) {
	var pieces []arrow.Array
	defer func() {
		for _, p := range pieces {
			p.Release()
		}
	}()

	for start := 0; start < len(cells); {
		end := start + 1
		first := cells[start]
		for end < len(cells) {
			next := cells[end]
			if first.column == nil {
				if next.column != nil {
					break
				}
			} else if next.column != first.column || next.row != first.row+(end-start) {
				break
			}
			end++
		}

		if first.column == nil {
			pieces = append(pieces, array.MakeArrayOfNull(mem, dt, end-start))
		} else {
			pieces = append(pieces, array.NewSlice(first.column, int64(first.row), int64(first.row+end-start)))
		}
		start = end
	}
	return array.Concatenate(pieces, mem)
}

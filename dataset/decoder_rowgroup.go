package dataset

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/storage"
)

// RowGroupDecoder decodes parquet fragments row by row with segmentio/parquet-go.
// Every decode call reads up to BatchSize rows of the current row group.
// Only flat schemas of the supported column types can be decoded.
type RowGroupDecoder struct {
	BatchSize int
	Allocator memory.Allocator
}

func NewRowGroupDecoder(batchSize int) *RowGroupDecoder {
	return &RowGroupDecoder{BatchSize: batchSize, Allocator: memory.DefaultAllocator}
}

func (d *RowGroupDecoder) Open(_ context.Context, r *storage.BucketReader) (_ FragmentReader, err error) {
	defer recoverDecodePanic(&err)

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	mem := d.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	f, err := parquet.OpenFile(r, r.Size(), &parquet.FileConfig{
		SkipPageIndex:    true,
		SkipBloomFilters: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open parquet file")
	}
	s, err := arrowSchema(f.Schema())
	if err != nil {
		return nil, err
	}

	return &rowGroupReader{
		file:   f,
		schema: s,
		mem:    mem,
		buffer: make([]parquet.Row, batchSize),
	}, nil
}

func arrowSchema(s *parquet.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(s.Fields()))
	for _, field := range s.Fields() {
		if !field.Leaf() || field.Repeated() {
			return nil, &columnError{column: field.Name(), err: errors.New("nested and repeated columns are not supported")}
		}

		var dt arrow.DataType
		switch field.Type().Kind() {
		case parquet.Boolean:
			dt = schema.Bool
		case parquet.Int32:
			dt = schema.Int32
		case parquet.Int64:
			dt = schema.Int64
		case parquet.Float:
			dt = schema.Float32
		case parquet.Double:
			dt = schema.Float64
		case parquet.ByteArray:
			dt = schema.Binary
			if lt := field.Type().LogicalType(); lt != nil && lt.UTF8 != nil {
				dt = schema.Utf8
			}
		default:
			return nil, &columnError{column: field.Name(), err: errors.Errorf("unsupported physical type %s", field.Type().Kind())}
		}
		fields = append(fields, arrow.Field{Name: field.Name(), Type: dt, Nullable: field.Optional()})
	}
	return schema.New(fields...), nil
}

type rowGroupReader struct {
	file   *parquet.File
	schema *arrow.Schema
	mem    memory.Allocator

	rowGroup int
	rows     parquet.Rows
	buffer   []parquet.Row
}

func (r *rowGroupReader) Schema() *arrow.Schema { return r.schema }

// Next reads up to one batch of rows. segmentio panics on some malformed
// pages, those panics are returned as errors.
func (r *rowGroupReader) Next() (_ arrow.Record, err error) {
	defer recoverDecodePanic(&err)

	rowGroups := r.file.RowGroups()
	for {
		if r.rows == nil {
			if r.rowGroup >= len(rowGroups) {
				return nil, io.EOF
			}
			r.rows = rowGroups[r.rowGroup].Rows()
			r.rowGroup++
		}

		n, err := r.rows.ReadRows(r.buffer)
		if err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "read rows of row group %d", r.rowGroup-1)
		}
		if err == io.EOF {
			if closeErr := r.rows.Close(); closeErr != nil {
				return nil, closeErr
			}
			r.rows = nil
		}
		if n == 0 {
			continue
		}
		return r.buildRecord(r.buffer[:n])
	}
}

func (r *rowGroupReader) buildRecord(rows []parquet.Row) (arrow.Record, error) {
	builder := array.NewRecordBuilder(r.mem, r.schema)
	defer builder.Release()

	numColumns := len(r.schema.Fields())
	for _, row := range rows {
		if len(row) != numColumns {
			return nil, errors.Errorf("row has %d values, expected %d", len(row), numColumns)
		}
		for _, v := range row {
			column := v.Column()
			if column < 0 || column >= numColumns {
				return nil, errors.Errorf("value for unknown column %d", column)
			}
			appendParquetValue(builder.Field(column), v)
		}
	}
	return builder.NewRecord(), nil
}

func appendParquetValue(b array.Builder, v parquet.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.Boolean())
	case *array.Int32Builder:
		b.Append(v.Int32())
	case *array.Int64Builder:
		b.Append(v.Int64())
	case *array.Float32Builder:
		b.Append(v.Float())
	case *array.Float64Builder:
		b.Append(v.Double())
	case *array.StringBuilder:
		b.Append(string(v.ByteArray()))
	case *array.BinaryBuilder:
		b.Append(v.ByteArray())
	}
}

func (r *rowGroupReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}

package compute

import (
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/stretchr/testify/require"

	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/table"
)

// record assembles a batch and drops the caller's column references.
func record(t *testing.T, s *arrow.Schema, columns ...arrow.Array) arrow.Record {
	t.Helper()
	defer func() {
		for _, c := range columns {
			c.Release()
		}
	}()
	batch, err := schema.NewRecordBatch(s, columns)
	require.NoError(t, err)
	return batch
}

// newTable builds a table and drops the caller's batch references.
func newTable(t *testing.T, s *arrow.Schema, batches ...arrow.Record) *table.Table {
	t.Helper()
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()
	tbl, err := table.FromBatches(s, batches...)
	require.NoError(t, err)
	return tbl
}

// values returns the values of one column across all batches with nil for
// nulls.
func values(t *testing.T, tbl *table.Table, name string) []interface{} {
	t.Helper()
	chunks, err := tbl.Column(name)
	require.NoError(t, err)

	result := make([]interface{}, 0, tbl.NumRows())
	for _, chunk := range chunks {
		for i := 0; i < chunk.Len(); i++ {
			if chunk.IsNull(i) {
				result = append(result, nil)
				continue
			}
			switch c := chunk.(type) {
			case *array.Int32:
				result = append(result, c.Value(i))
			case *array.Int64:
				result = append(result, c.Value(i))
			case *array.Float32:
				result = append(result, c.Value(i))
			case *array.Float64:
				result = append(result, c.Value(i))
			case *array.String:
				result = append(result, c.Value(i))
			case *array.Binary:
				result = append(result, string(c.Value(i)))
			case *array.Boolean:
				result = append(result, c.Value(i))
			case *array.Timestamp:
				result = append(result, c.Value(i))
			case *array.Date32:
				result = append(result, c.Value(i))
			case *array.Dictionary:
				result = append(result, c.Dictionary().(*array.String).Value(c.GetValueIndex(i)))
			default:
				t.Fatalf("unexpected column type %s", chunk.DataType())
			}
		}
	}
	return result
}

func fieldNames(s *arrow.Schema) []string {
	names := make([]string, 0, len(s.Fields()))
	for _, f := range s.Fields() {
		names = append(names, f.Name)
	}
	return names
}

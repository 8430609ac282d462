package pqtest

import (
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/require"

	"Shopify/arrow-dataset-engine/schema"
)

// Record assembles a batch and releases the given columns.
func Record(t testing.TB, s *arrow.Schema, columns ...arrow.Array) arrow.Record {
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

// Int64Record returns a single column batch holding values.
func Int64Record(t testing.TB, mem memory.Allocator, name string, values ...int64) arrow.Record {
	s := schema.New(schema.Field(name, schema.Int64))
	return Record(t, s, schema.NewInt64Column(mem, values, nil))
}

// Int64Values flattens an int64 column of batches, with nulls as zero.
func Int64Values(batches []arrow.Record, column int) []int64 {
	var result []int64
	for _, batch := range batches {
		result = append(result, batch.Column(column).(*array.Int64).Int64Values()...)
	}
	return result
}

// StringValues flattens a string column of batches, with nulls as "".
func StringValues(batches []arrow.Record, column int) []string {
	var result []string
	for _, batch := range batches {
		col := batch.Column(column).(*array.String)
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				result = append(result, "")
				continue
			}
			result = append(result, col.Value(i))
		}
	}
	return result
}

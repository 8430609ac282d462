package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
)

// NewRecordBatch assembles columns into a record. Unlike array.NewRecord it
// reports shape problems as errors. The record retains the columns, callers
// keep ownership of their own references.
func NewRecordBatch(s *arrow.Schema, columns []arrow.Array) (arrow.Record, error) {
	if len(columns) != len(s.Fields()) {
		return nil, &SchemaMismatchError{
			Reason: fmt.Sprintf("expected %d columns, got %d", len(s.Fields()), len(columns)),
		}
	}

	var numRows int64
	for i, column := range columns {
		field := s.Field(i)
		if !arrow.TypeEqual(field.Type, column.DataType()) {
			return nil, &SchemaMismatchError{
				Column: field.Name,
				Reason: fmt.Sprintf("expected type %s, got %s", field.Type, column.DataType()),
			}
		}
		if i == 0 {
			numRows = int64(column.Len())
			continue
		}
		if int64(column.Len()) != numRows {
			return nil, &SchemaMismatchError{
				Column: field.Name,
				Reason: fmt.Sprintf("column has %d rows, expected %d", column.Len(), numRows),
			}
		}
	}

	return array.NewRecord(s, columns, numRows), nil
}

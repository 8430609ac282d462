package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"
)

// Supported data types. Join keys must have one of these types and the
// segmentio reader and writer handle exactly this set. Other arrow types are
// carried through scans and joins as non-key columns.
var (
	Int32   arrow.DataType = arrow.PrimitiveTypes.Int32
	Int64   arrow.DataType = arrow.PrimitiveTypes.Int64
	Float32 arrow.DataType = arrow.PrimitiveTypes.Float32
	Float64 arrow.DataType = arrow.PrimitiveTypes.Float64
	Utf8    arrow.DataType = arrow.BinaryTypes.String
	Binary  arrow.DataType = arrow.BinaryTypes.Binary
	Bool    arrow.DataType = arrow.FixedWidthTypes.Boolean
)

func Supported(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT32, arrow.INT64, arrow.FLOAT32, arrow.FLOAT64, arrow.STRING, arrow.BINARY, arrow.BOOL:
		return true
	default:
		return false
	}
}

func New(fields ...arrow.Field) *arrow.Schema {
	return arrow.NewSchema(fields, nil)
}

func Field(name string, dt arrow.DataType) arrow.Field {
	return arrow.Field{Name: name, Type: dt, Nullable: true}
}

func RequiredField(name string, dt arrow.DataType) arrow.Field {
	return arrow.Field{Name: name, Type: dt}
}

var ErrAmbiguousColumn = errors.New("ambiguous column name")

// FieldIndex resolves a column name to its position. It returns -1 and no
// error when the column is absent.
func FieldIndex(s *arrow.Schema, name string) (int, error) {
	indices := s.FieldIndices(name)
	switch len(indices) {
	case 0:
		return -1, nil
	case 1:
		return indices[0], nil
	default:
		return -1, errors.Wrapf(ErrAmbiguousColumn, "column %q appears %d times", name, len(indices))
	}
}

// SchemaMismatchError is returned when a batch does not have the shape of the
// schema it is checked against.
type SchemaMismatchError struct {
	// Column is the offending column name, empty for column count mismatches.
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return "schema mismatch: " + e.Reason
	}
	return fmt.Sprintf("schema mismatch in column %q: %s", e.Column, e.Reason)
}

// Validate checks that got has the same column count, names and types as expected.
// Nullability is not compared.
func Validate(expected, got *arrow.Schema) error {
	if len(expected.Fields()) != len(got.Fields()) {
		return &SchemaMismatchError{
			Reason: fmt.Sprintf("expected %d columns, got %d", len(expected.Fields()), len(got.Fields())),
		}
	}
	for i, want := range expected.Fields() {
		have := got.Field(i)
		if want.Name != have.Name {
			return &SchemaMismatchError{
				Column: want.Name,
				Reason: fmt.Sprintf("column %d is named %q", i, have.Name),
			}
		}
		if !arrow.TypeEqual(want.Type, have.Type) {
			return &SchemaMismatchError{
				Column: want.Name,
				Reason: fmt.Sprintf("expected type %s, got %s", want.Type, have.Type),
			}
		}
	}
	return nil
}

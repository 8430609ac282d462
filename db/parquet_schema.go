package db

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/arrow-dataset-engine/schema"
)

var goTypes = map[arrow.Type]reflect.Type{
	arrow.BOOL:    reflect.TypeOf(false),
	arrow.INT32:   reflect.TypeOf(int32(0)),
	arrow.INT64:   reflect.TypeOf(int64(0)),
	arrow.FLOAT32: reflect.TypeOf(float32(0)),
	arrow.FLOAT64: reflect.TypeOf(float64(0)),
	arrow.STRING:  reflect.TypeOf(""),
	arrow.BINARY:  reflect.TypeOf([]byte(nil)),
}

// parquetSchema converts s into a segmentio schema. Group nodes order their
// fields by name, so the schema is derived from a struct model which keeps
// the column order of s.
func parquetSchema(s *arrow.Schema) (*parquet.Schema, error) {
	fields := make([]reflect.StructField, 0, len(s.Fields()))
	for i, f := range s.Fields() {
		goType, ok := goTypes[f.Type.ID()]
		if !ok {
			return nil, &schema.SchemaMismatchError{Column: f.Name, Reason: fmt.Sprintf("type %s cannot be written", f.Type)}
		}
		if f.Name == "" || strings.ContainsAny(f.Name, `,"`) {
			return nil, &schema.SchemaMismatchError{Column: f.Name, Reason: "column name cannot be written"}
		}

		tag := f.Name
		if f.Nullable {
			tag += ",optional"
		}
		fields = append(fields, reflect.StructField{
			Name: fmt.Sprintf("Column%d", i),
			Type: goType,
			Tag:  reflect.StructTag(fmt.Sprintf("parquet:%q", tag)),
		})
	}

	model := reflect.New(reflect.StructOf(fields)).Interface()
	return parquet.NewSchema("schema", parquet.SchemaOf(model)), nil
}

// parquetRow returns row i of batch with one value per column of s.
func parquetRow(s *arrow.Schema, batch arrow.Record, i int) (parquet.Row, error) {
	row := make(parquet.Row, 0, batch.NumCols())
	for col, column := range batch.Columns() {
		field := s.Field(col)
		if column.IsNull(i) {
			if !field.Nullable {
				return nil, errors.Errorf("null value in required column %q", field.Name)
			}
			row = append(row, parquet.NullValue().Level(0, 0, col))
			continue
		}

		definitionLevel := 0
		if field.Nullable {
			definitionLevel = 1
		}
		row = append(row, parquetValue(column, i).Level(0, definitionLevel, col))
	}
	return row, nil
}

func parquetValue(column arrow.Array, i int) parquet.Value {
	switch c := column.(type) {
	case *array.Boolean:
		return parquet.BooleanValue(c.Value(i))
	case *array.Int32:
		return parquet.Int32Value(c.Value(i))
	case *array.Int64:
		return parquet.Int64Value(c.Value(i))
	case *array.Float32:
		return parquet.FloatValue(c.Value(i))
	case *array.Float64:
		return parquet.DoubleValue(c.Value(i))
	case *array.String:
		return parquet.ByteArrayValue([]byte(c.Value(i)))
	case *array.Binary:
		return parquet.ByteArrayValue(c.Value(i))
	default:
		panic("unexpected column type " + column.DataType().String())
	}
}

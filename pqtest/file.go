package pqtest

import (
	"bytes"

	"github.com/segmentio/parquet-go"
)

// Row is a flat row type written with segmentio/parquet-go, as opposed to the
// Arrow writer used by db.Writer.
type Row struct {
	ID     int64   `parquet:"id"`
	Name   string  `parquet:"name,dict"`
	Score  float64 `parquet:"score,optional"`
	Active bool    `parquet:"active"`
}

// CreateFile encodes every element of rowGroups as its own row group.
func CreateFile[T any](rowGroups [][]T) ([]byte, error) {
	var buffer bytes.Buffer
	writer := parquet.NewGenericWriter[T](&buffer,
		parquet.PageBufferSize(4*1024),
	)

	for _, rows := range rowGroups {
		if _, err := writer.Write(rows); err != nil {
			return nil, err
		}
		if err := writer.Flush(); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

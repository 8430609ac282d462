package compute

import (
	"io"

	"github.com/apache/arrow/go/v10/arrow"

	"Shopify/arrow-dataset-engine/table"
)

// BatchSource is a pull based producer of record batches.
//
// NextBatch returns the next batch, or io.EOF once the source is exhausted.
// After io.EOF every further call returns io.EOF again. The caller owns the
// returned record and must release it. Close releases every resource held by
// the source and may be called before exhaustion.
type BatchSource interface {
	io.Closer
	NextBatch() (arrow.Record, error)
}

type limit struct {
	source    BatchSource
	remaining int
}

// Limit returns a source that yields at most n batches from source. Once n
// batches were returned it reports io.EOF without pulling from source again.
func Limit(source BatchSource, n int) BatchSource {
	return &limit{source: source, remaining: n}
}

func (l *limit) NextBatch() (arrow.Record, error) {
	if l.remaining <= 0 {
		return nil, io.EOF
	}
	batch, err := l.source.NextBatch()
	if err != nil {
		return nil, err
	}
	l.remaining--
	return batch, nil
}

func (l *limit) Close() error {
	return l.source.Close()
}

// TableSource yields the batches of a table. Batches longer than
// maxBatchRows are split into zero-copy slices.
type TableSource struct {
	table        *table.Table
	maxBatchRows int64

	batch  int
	offset int64
}

// NewTableSource returns a source over t. A maxBatchRows of zero or less keeps
// the table batch boundaries. The table must outlive the source.
func NewTableSource(t *table.Table, maxBatchRows int64) *TableSource {
	return &TableSource{table: t, maxBatchRows: maxBatchRows}
}

func (s *TableSource) NextBatch() (arrow.Record, error) {
	for s.batch < s.table.NumBatches() {
		current := s.table.Batch(s.batch)
		if s.maxBatchRows <= 0 || current.NumRows() == 0 {
			s.batch++
			current.Retain()
			return current, nil
		}
		if s.offset >= current.NumRows() {
			s.batch++
			s.offset = 0
			continue
		}

		to := s.offset + s.maxBatchRows
		if to > current.NumRows() {
			to = current.NumRows()
		}
		slice := current.NewSlice(s.offset, to)
		s.offset = to
		return slice, nil
	}
	return nil, io.EOF
}

func (s *TableSource) Close() error { return nil }

// Collect drains source into a table with the given schema. The source is
// not closed.
func Collect(s *arrow.Schema, source BatchSource) (*table.Table, error) {
	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	for {
		batch, err := source.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	return table.FromBatches(s, batches...)
}

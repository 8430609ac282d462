package dataset

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/schema"
)

type scannerState int

const (
	scanning scannerState = iota
	exhausted
	poisoned
	closed
)

// Scanner pulls record batches from the fragments of a dataset in order. It
// holds at most one open fragment and decodes only when NextBatch is called.
// A Scanner is not safe for concurrent use.
type Scanner struct {
	ctx       context.Context
	dataset   *Dataset
	fragments []Fragment

	next     int
	fragment Fragment
	reader   FragmentReader

	schema     *arrow.Schema
	fileSchema *arrow.Schema
	schemaErr  error

	state scannerState
	err   error
}

func newScanner(ctx context.Context, d *Dataset, fragments []Fragment) *Scanner {
	s := &Scanner{
		ctx:        ctx,
		dataset:    d,
		fragments:  fragments,
		fileSchema: d.schema,
	}
	if d.schema != nil {
		s.schema, s.schemaErr = d.outputSchema(d.schema)
	}
	return s
}

// Schema returns the schema of the produced batches, or nil while it is not
// known yet.
func (s *Scanner) Schema() *arrow.Schema { return s.schema }

// NextBatch returns the next batch of the scan. It returns io.EOF after the
// last fragment was read, and the same error on every call after a failure.
func (s *Scanner) NextBatch() (arrow.Record, error) {
	switch s.state {
	case exhausted:
		return nil, io.EOF
	case poisoned:
		return nil, s.err
	case closed:
		return nil, ErrScannerClosed
	}

	for {
		if s.reader == nil {
			if s.next >= len(s.fragments) {
				s.state = exhausted
				return nil, io.EOF
			}
			if err := s.ctx.Err(); err != nil {
				return nil, s.poison(err)
			}
			if err := s.openNext(); err != nil {
				return nil, s.poison(err)
			}
		}

		s.dataset.metrics.decodeCalls.Inc()
		batch, err := s.reader.Next()
		if err == io.EOF {
			if err := s.closeReader(); err != nil {
				return nil, s.poison(newScanError(s.fragment, err))
			}
			continue
		}
		if err != nil {
			return nil, s.poison(newScanError(s.fragment, err))
		}

		out, err := s.withPartitionColumns(batch)
		batch.Release()
		if err != nil {
			return nil, s.poison(newScanError(s.fragment, err))
		}
		s.dataset.metrics.batches.Inc()
		s.dataset.metrics.rows.Add(float64(out.NumRows()))
		return out, nil
	}
}

func (s *Scanner) openNext() error {
	fragment := s.fragments[s.next]
	s.next++

	level.Debug(s.dataset.logger).Log("msg", "opening fragment", "fragment", fragment.Path, "partition", fragment.Partition)
	reader, err := s.dataset.open(s.ctx, fragment)
	if err != nil {
		return newScanError(fragment, err)
	}
	s.dataset.metrics.fragmentsOpened.Inc()

	if s.fileSchema == nil {
		s.fileSchema = reader.Schema()
		s.schema, s.schemaErr = s.dataset.outputSchema(s.fileSchema)
	}
	if s.schemaErr != nil {
		reader.Close()
		return newScanError(fragment, s.schemaErr)
	}
	if err := schema.Validate(s.fileSchema, reader.Schema()); err != nil {
		reader.Close()
		return newScanError(fragment, err)
	}

	s.fragment, s.reader = fragment, reader
	return nil
}

// withPartitionColumns rebuilds batch with the scanner schema and appends the
// partition columns of the current fragment.
func (s *Scanner) withPartitionColumns(batch arrow.Record) (arrow.Record, error) {
	if err := schema.Validate(s.fileSchema, batch.Schema()); err != nil {
		return nil, err
	}

	numRows := int(batch.NumRows())
	columns := make([]arrow.Array, 0, len(s.schema.Fields()))
	columns = append(columns, batch.Columns()...)
	for _, name := range s.dataset.partitionColumns {
		var column arrow.Array
		if value := s.fragment.Partition.Get(name); value != "" {
			b := array.NewStringBuilder(s.dataset.mem)
			b.Reserve(numRows)
			for i := 0; i < numRows; i++ {
				b.Append(value)
			}
			column = b.NewArray()
			b.Release()
		} else {
			column = schema.NewNullColumn(s.dataset.mem, schema.Utf8, numRows)
		}
		defer column.Release()
		columns = append(columns, column)
	}
	return array.NewRecord(s.schema, columns, batch.NumRows()), nil
}

func (s *Scanner) poison(err error) error {
	s.state = poisoned
	s.err = err

	var scanErr *ScanError
	kind := "unknown"
	if errors.As(err, &scanErr) {
		kind = scanErr.Kind.String()
	}
	s.dataset.metrics.errors.WithLabelValues(kind).Inc()
	level.Debug(s.dataset.logger).Log("msg", "scan failed", "err", err)

	if closeErr := s.closeReader(); closeErr != nil {
		level.Warn(s.dataset.logger).Log("msg", "failed to close fragment", "fragment", s.fragment.Path, "err", closeErr)
	}
	return err
}

func (s *Scanner) closeReader() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// Close releases the open fragment. It is safe to call Close more than once
// and at any point of the scan.
func (s *Scanner) Close() error {
	if s.state == closed {
		return nil
	}
	s.state = closed
	return s.closeReader()
}

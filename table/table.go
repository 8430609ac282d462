package table

import (

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/schema"
)

// Table is an immutable sequence of record batches sharing one schema.
// The table holds a reference on every batch until Release is called.
type Table struct {
	schema  *arrow.Schema
	batches []arrow.Record
	numRows int64
}

// Empty returns a table with no batches.
func Empty(s *arrow.Schema) *Table {
	return &Table{schema: s}
}

// FromBatches validates every batch against s and builds a table from them.
func FromBatches(s *arrow.Schema, batches ...arrow.Record) (*Table, error) {
	var numRows int64
	for i, batch := range batches {
		if err := validateBatch(s, batch); err != nil {
			return nil, errors.Wrapf(err, "batch %d", i)
		}
		numRows += batch.NumRows()
	}

	owned := make([]arrow.Record, len(batches))
	for i, batch := range batches {
		batch.Retain()
		owned[i] = batch
	}
	return &Table{
		schema:  s,
		batches: owned,
		numRows: numRows,
	}, nil
}

// Append returns a new table with batch added after the existing batches.
// The receiver is left untouched and both tables share the existing batches.
func (t *Table) Append(batch arrow.Record) (*Table, error) {
	if err := validateBatch(t.schema, batch); err != nil {
		return nil, errors.Wrapf(err, "batch %d", len(t.batches))
	}

	batches := make([]arrow.Record, 0, len(t.batches)+1)
	batches = append(batches, t.batches...)
	batches = append(batches, batch)
	for _, b := range batches {
		b.Retain()
	}
	return &Table{
		schema:  t.schema,
		batches: batches,
		numRows: t.numRows + batch.NumRows(),
	}, nil
}

func validateBatch(s *arrow.Schema, batch arrow.Record) error {
	return schema.Validate(s, batch.Schema())
}

func (t *Table) Schema() *arrow.Schema { return t.schema }

func (t *Table) NumRows() int64 { return t.numRows }

func (t *Table) NumBatches() int { return len(t.batches) }

func (t *Table) Batch(i int) arrow.Record { return t.batches[i] }

// Batches returns the table batches. The slice must not be modified.
func (t *Table) Batches() []arrow.Record { return t.batches }

// Column returns the chunks of the named column, one per batch.
func (t *Table) Column(name string) ([]arrow.Array, error) {
	idx, err := schema.FieldIndex(t.schema, name)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, errors.Errorf("column %q not found", name)
	}

	chunks := make([]arrow.Array, 0, len(t.batches))
	for _, batch := range t.batches {
		chunks = append(chunks, batch.Column(idx))
	}
	return chunks, nil
}

// ToArrow returns an arrow.Table view over the batches. The caller must
// release the returned table.
func (t *Table) ToArrow() arrow.Table {
	return array.NewTableFromRecords(t.schema, t.batches)
}

func (t *Table) Release() {
	for _, batch := range t.batches {
		batch.Release()
	}
	t.batches = nil
	t.numRows = 0
}

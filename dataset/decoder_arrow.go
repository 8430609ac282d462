package dataset

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/storage"
)

// ArrowDecoder decodes parquet fragments with the Arrow parquet reader. Row
// groups are read one at a time and returned in slices of BatchSize rows.
type ArrowDecoder struct {
	BatchSize int64
	Allocator memory.Allocator
}

func NewArrowDecoder(batchSize int64) *ArrowDecoder {
	return &ArrowDecoder{BatchSize: batchSize, Allocator: memory.DefaultAllocator}
}

func (d *ArrowDecoder) Open(ctx context.Context, r *storage.BucketReader) (_ FragmentReader, err error) {
	defer recoverDecodePanic(&err)

	batchSize := d.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	mem := d.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	pqreader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open parquet file")
	}
	freader, err := pqarrow.NewFileReader(pqreader, pqarrow.ArrowReadProperties{
		BatchSize: batchSize,
	}, mem)
	if err != nil {
		pqreader.Close()
		return nil, errors.Wrap(err, "create arrow reader")
	}
	s, err := freader.Schema()
	if err != nil {
		pqreader.Close()
		return nil, errors.Wrap(err, "read arrow schema")
	}

	columns := make([]int, pqreader.MetaData().Schema.NumColumns())
	for i := range columns {
		columns[i] = i
	}

	return &arrowFragmentReader{
		ctx:       ctx,
		pqreader:  pqreader,
		freader:   freader,
		schema:    s,
		columns:   columns,
		batchSize: batchSize,
	}, nil
}

type arrowFragmentReader struct {
	ctx       context.Context
	pqreader  *file.Reader
	freader   *pqarrow.FileReader
	schema    *arrow.Schema
	columns   []int
	batchSize int64

	rowGroup int
	current  *array.TableReader
}

func (r *arrowFragmentReader) Schema() *arrow.Schema { return r.schema }

func (r *arrowFragmentReader) Next() (_ arrow.Record, err error) {
	defer recoverDecodePanic(&err)

	for {
		if r.current != nil {
			if r.current.Next() {
				rec := r.current.Record()
				rec.Retain()
				return rec, nil
			}
			r.current.Release()
			r.current = nil
		}
		if r.rowGroup >= r.pqreader.NumRowGroups() {
			return nil, io.EOF
		}

		tbl, err := r.freader.ReadRowGroups(r.ctx, r.columns, []int{r.rowGroup})
		if err != nil {
			return nil, errors.Wrapf(err, "read row group %d", r.rowGroup)
		}
		r.rowGroup++
		r.current = array.NewTableReader(tbl, r.batchSize)
		tbl.Release()
	}
}

func (r *arrowFragmentReader) Close() error {
	if r.current != nil {
		r.current.Release()
		r.current = nil
	}
	return r.pqreader.Close()
}

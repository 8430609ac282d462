package db

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/compress"
	"github.com/thanos-io/objstore"

	"Shopify/arrow-dataset-engine/dataset"
	"Shopify/arrow-dataset-engine/schema"
)

const (
	DefaultRowGroupSize = 64 * 1024

	dataFileSuffix  = ".parquet"
	writeBufferSize = 256 * 1024
	rowsPerWrite    = 1024
)

var partRegex = regexp.MustCompile(`^part\.(\d+)\.parquet$`)

type WriterOption func(*Writer)

func WithRowGroupSize(rows int64) WriterOption {
	return func(w *Writer) {
		w.rowGroupSize = rows
	}
}

func WithPartitioning(p Partitioning) WriterOption {
	return func(w *Writer) {
		w.partitioning = p
	}
}

func WithCompression(codec compress.Codec) WriterOption {
	return func(w *Writer) {
		w.compression = codec
	}
}

func WithWriterLogger(logger log.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer stores record batches as parquet parts of a partitioned dataset.
// Every call to Write uploads one part named part.<n>.parquet into the
// directory of its partition.
type Writer struct {
	bucket objstore.Bucket
	dir    string
	schema *arrow.Schema

	partitioning Partitioning
	rowGroupSize int64
	compression  compress.Codec
	logger       log.Logger

	partIDs map[string]int
}

func NewWriter(bucket objstore.Bucket, dir string, s *arrow.Schema, option ...WriterOption) *Writer {
	writer := &Writer{
		bucket:       bucket,
		dir:          dir,
		schema:       s,
		partitioning: HivePartitioning{},
		rowGroupSize: DefaultRowGroupSize,
		compression:  &parquet.Snappy,
		logger:       log.NewNopLogger(),
		partIDs:      make(map[string]int),
	}
	for _, opt := range option {
		opt(writer)
	}
	return writer
}

// Write uploads batches as a new part of partition and returns the fragment
// that describes it.
func (w *Writer) Write(ctx context.Context, partition labels.Labels, batches ...arrow.Record) (dataset.Fragment, error) {
	for i, batch := range batches {
		if err := schema.Validate(w.schema, batch.Schema()); err != nil {
			return dataset.Fragment{}, errors.Wrapf(err, "batch %d", i)
		}
	}

	partitionDir, err := w.partitioning.Path(partition)
	if err != nil {
		return dataset.Fragment{}, err
	}
	partDir := path.Join(w.dir, partitionDir)
	partID := w.partIDs[partDir]
	partName := path.Join(partDir, fmt.Sprintf("part.%d%s", partID, dataFileSuffix))

	pqSchema, err := parquetSchema(w.schema)
	if err != nil {
		return dataset.Fragment{}, err
	}
	var buf bytes.Buffer
	if err := w.writeParquet(&buf, pqSchema, batches); err != nil {
		return dataset.Fragment{}, errors.Wrapf(err, "failed encoding %s", partName)
	}
	level.Debug(w.logger).Log("msg", "uploading part", "part", partName, "bytes", buf.Len())
	if err := w.bucket.Upload(ctx, partName, &buf); err != nil {
		return dataset.Fragment{}, errors.Wrapf(err, "failed uploading %s", partName)
	}
	w.partIDs[partDir] = partID + 1

	return dataset.Fragment{Path: partName, Partition: partition}, nil
}

func (w *Writer) writeParquet(buf *bytes.Buffer, pqSchema *parquet.Schema, batches []arrow.Record) error {
	pqWriter := parquet.NewWriter(buf,
		pqSchema,
		parquet.Compression(w.compression),
		parquet.MaxRowsPerRowGroup(w.rowGroupSize),
		parquet.WriteBufferSize(writeBufferSize),
		parquet.DataPageStatistics(true),
	)

	rows := make([]parquet.Row, 0, rowsPerWrite)
	for _, batch := range batches {
		for start := 0; start < int(batch.NumRows()); start += rowsPerWrite {
			end := start + rowsPerWrite
			if end > int(batch.NumRows()) {
				end = int(batch.NumRows())
			}
			rows = rows[:0]
			for i := start; i < end; i++ {
				row, err := parquetRow(w.schema, batch, i)
				if err != nil {
					pqWriter.Close()
					return err
				}
				rows = append(rows, row)
			}
			if _, err := pqWriter.WriteRows(rows); err != nil {
				pqWriter.Close()
				return err
			}
		}
	}
	return pqWriter.Close()
}

// partID returns the part number encoded in a part file name.
func partID(name string) (int, bool) {
	m := partRegex.FindStringSubmatch(path.Base(name))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

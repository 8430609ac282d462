package dataset

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/thanos-io/objstore"

	"Shopify/arrow-dataset-engine/compute"
	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/storage"
	"Shopify/arrow-dataset-engine/table"
)

type Option func(*Dataset)

func WithDecoder(decoder Decoder) Option {
	return func(d *Dataset) {
		d.decoder = decoder
	}
}

// WithSchema declares the schema every fragment must have. Without it the
// schema of the first fragment is used.
func WithSchema(s *arrow.Schema) Option {
	return func(d *Dataset) {
		d.schema = s
	}
}

// WithPartitionColumns appends one nullable string column per partition
// label to every batch. Rows of fragments without the label are null.
func WithPartitionColumns(names ...string) Option {
	return func(d *Dataset) {
		d.partitionColumns = names
	}
}

func WithLogger(logger log.Logger) Option {
	return func(d *Dataset) {
		d.logger = logger
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dataset) {
		d.reg = reg
	}
}

func WithAllocator(mem memory.Allocator) Option {
	return func(d *Dataset) {
		d.mem = mem
	}
}

func WithReaderOptions(opts ...storage.ReaderOption) Option {
	return func(d *Dataset) {
		d.readerOpts = opts
	}
}

// Dataset is a collection of fragments in an object store that share one
// schema. It is immutable and can be scanned any number of times.
type Dataset struct {
	bucket    objstore.BucketReader
	fragments []Fragment

	decoder          Decoder
	schema           *arrow.Schema
	partitionColumns []string
	readerOpts       []storage.ReaderOption

	logger  log.Logger
	reg     prometheus.Registerer
	metrics *scanMetrics
	mem     memory.Allocator
}

// New returns a dataset over fragments. Fragments are ordered by partition,
// fragments of the same partition keep the given order.
func New(bucket objstore.BucketReader, fragments []Fragment, opts ...Option) *Dataset {
	d := &Dataset{
		bucket:    bucket,
		fragments: sortFragments(fragments),
		logger:    log.NewNopLogger(),
		mem:       memory.DefaultAllocator,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.decoder == nil {
		d.decoder = &ArrowDecoder{BatchSize: defaultBatchSize, Allocator: d.mem}
	}
	d.metrics = newScanMetrics(d.reg)
	return d
}

func (d *Dataset) Fragments() []Fragment { return d.fragments }

// Schema returns the schema of the batches produced by a scan, including
// partition columns.
func (d *Dataset) Schema(ctx context.Context) (*arrow.Schema, error) {
	if d.schema != nil {
		return d.outputSchema(d.schema)
	}
	if len(d.fragments) == 0 {
		return nil, ErrUnknownSchema
	}

	fragment := d.fragments[0]
	reader, err := d.open(ctx, fragment)
	if err != nil {
		return nil, newScanError(fragment, err)
	}
	defer reader.Close()

	s, err := d.outputSchema(reader.Schema())
	if err != nil {
		return nil, newScanError(fragment, err)
	}
	return s, nil
}

func (d *Dataset) outputSchema(fileSchema *arrow.Schema) (*arrow.Schema, error) {
	if len(d.partitionColumns) == 0 {
		return fileSchema, nil
	}

	fields := make([]arrow.Field, 0, len(fileSchema.Fields())+len(d.partitionColumns))
	fields = append(fields, fileSchema.Fields()...)
	for _, name := range d.partitionColumns {
		if fileSchema.HasField(name) {
			return nil, &schema.SchemaMismatchError{Column: name, Reason: "partition column is also stored in the fragment"}
		}
		fields = append(fields, schema.Field(name, schema.Utf8))
	}
	return schema.New(fields...), nil
}

func (d *Dataset) open(ctx context.Context, fragment Fragment) (FragmentReader, error) {
	r, err := storage.OpenBucketReader(ctx, d.bucket, fragment.Path, d.readerOpts...)
	if err != nil {
		return nil, err
	}
	return d.decoder.Open(ctx, r)
}

// Scan returns a scanner over the fragments whose partition matches all
// matchers. Fragments are opened lazily while the scanner is consumed.
func (d *Dataset) Scan(ctx context.Context, matchers ...*labels.Matcher) *Scanner {
	fragments := make([]Fragment, 0, len(d.fragments))
	for _, f := range d.fragments {
		if f.Matches(matchers...) {
			fragments = append(fragments, f)
		}
	}
	return newScanner(ctx, d, fragments)
}

// ToTable scans the matching fragments into a table.
func (d *Dataset) ToTable(ctx context.Context, matchers ...*labels.Matcher) (*table.Table, error) {
	scanner := d.Scan(ctx, matchers...)
	defer scanner.Close()

	var batches []arrow.Record
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()
	for {
		batch, err := scanner.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	s := scanner.Schema()
	if s == nil {
		var err error
		if s, err = d.Schema(ctx); err != nil {
			return nil, err
		}
	}
	return table.FromBatches(s, batches...)
}

var _ compute.BatchSource = (*Scanner)(nil)

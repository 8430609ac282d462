package dataset_test

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"Shopify/arrow-dataset-engine/compute"
	"Shopify/arrow-dataset-engine/dataset"
	"Shopify/arrow-dataset-engine/db"
	"Shopify/arrow-dataset-engine/pqtest"
	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/storage"
)

func decoders(mem memory.Allocator) map[string]dataset.Decoder {
	return map[string]dataset.Decoder{
		"arrow":     &dataset.ArrowDecoder{BatchSize: 1024, Allocator: mem},
		"row group": &dataset.RowGroupDecoder{BatchSize: 1024, Allocator: mem},
	}
}

func TestScanAnimals(t *testing.T) {
	for name, decoder := range decoders(memory.DefaultAllocator) {
		t.Run(name, func(t *testing.T) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			bucket := objstore.NewInMemBucket()
			fragments := pqtest.AnimalsDataset(t, mem, bucket, "animals")

			ds := dataset.New(bucket, fragments,
				dataset.WithDecoder(decoder),
				dataset.WithPartitionColumns("year"),
				dataset.WithAllocator(mem),
			)
			tbl, err := ds.ToTable(context.Background())
			require.NoError(t, err)
			defer tbl.Release()

			require.Equal(t, []string{"n_legs", "animal", "year"}, fieldNames(tbl.Schema()))
			require.Equal(t, int64(6), tbl.NumRows())
			require.Equal(t, []int64{5, 2, 4, 100, 2, 4}, pqtest.Int64Values(tbl.Batches(), 0))
			require.Equal(t, []string{"Brittle stars", "Flamingo", "Horse", "Centipede", "Parrot", "Dog"}, pqtest.StringValues(tbl.Batches(), 1))
			require.Equal(t, []string{"2019", "2020", "2021", "2021", "2022", "2022"}, pqtest.StringValues(tbl.Batches(), 2))
		})
	}
}

func TestScanIsIdempotentAfterExhaustion(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")

	scanner := dataset.New(bucket, fragments).Scan(context.Background())
	defer scanner.Close()

	var numBatches int
	for {
		batch, err := scanner.NextBatch()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		batch.Release()
		numBatches++
	}
	require.Equal(t, len(fragments), numBatches)

	for i := 0; i < 3; i++ {
		_, err := scanner.NextBatch()
		require.Equal(t, io.EOF, err)
	}
}

func TestScanDecodesOnlyConsumedBatches(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	values := make([]int64, 10)
	for i := range values {
		values[i] = int64(i)
	}
	s := schema.New(schema.Field("id", schema.Int64))
	fragments := pqtest.WriteDataset(t, bucket, "", s, []pqtest.Part{
		{Batches: []arrow.Record{pqtest.Int64Record(t, memory.DefaultAllocator, "id", values...)}},
	}, db.WithRowGroupSize(1))

	for name, decoder := range map[string]dataset.Decoder{
		"arrow":     dataset.NewArrowDecoder(1),
		"row group": dataset.NewRowGroupDecoder(1),
	} {
		t.Run(name, func(t *testing.T) {
			counting := &countingDecoder{Decoder: decoder}
			reg := prometheus.NewRegistry()
			ds := dataset.New(bucket, fragments, dataset.WithDecoder(counting), dataset.WithRegisterer(reg))

			scanner := compute.Limit(ds.Scan(context.Background()), 3)
			var read []arrow.Record
			for {
				batch, err := scanner.NextBatch()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				read = append(read, batch)
			}
			require.Equal(t, []int64{0, 1, 2}, pqtest.Int64Values(read, 0))
			for _, b := range read {
				b.Release()
			}
			require.NoError(t, scanner.Close())

			require.Equal(t, 3, counting.decodeCalls)
			require.Equal(t, 1, counting.closed)
			require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`# HELP dataset_scan_decode_calls_total Number of decode calls issued against fragment readers.
# TYPE dataset_scan_decode_calls_total counter
dataset_scan_decode_calls_total 3
# HELP dataset_scan_rows_total Number of rows returned by dataset scanners.
# TYPE dataset_scan_rows_total counter
dataset_scan_rows_total 3
`), "dataset_scan_decode_calls_total", "dataset_scan_rows_total"))
		})
	}
}

func TestScanStopsAcrossFragments(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	s := schema.New(schema.Field("id", schema.Int64))

	// Ten batches of two rows spread over four fragments holding 2, 3, 3 and 2 batches.
	var (
		parts []pqtest.Part
		next  int64
	)
	for i, numBatches := range []int{2, 3, 3, 2} {
		values := make([]int64, 0, 2*numBatches)
		for j := 0; j < 2*numBatches; j++ {
			next++
			values = append(values, next)
		}
		parts = append(parts, pqtest.Part{
			Partition: labels.FromStrings("part", strconv.Itoa(i)),
			Batches:   []arrow.Record{pqtest.Int64Record(t, memory.DefaultAllocator, "id", values...)},
		})
	}
	fragments := pqtest.WriteDataset(t, bucket, "batches", s, parts, db.WithRowGroupSize(2))

	for name, decoder := range map[string]dataset.Decoder{
		"arrow":     dataset.NewArrowDecoder(1024),
		"row group": dataset.NewRowGroupDecoder(1024),
	} {
		t.Run(name, func(t *testing.T) {
			counting := &countingDecoder{Decoder: decoder}
			reg := prometheus.NewRegistry()
			ds := dataset.New(bucket, fragments, dataset.WithDecoder(counting), dataset.WithRegisterer(reg))

			full, err := ds.ToTable(context.Background())
			require.NoError(t, err)
			require.Equal(t, 10, full.NumBatches())
			require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, pqtest.Int64Values(full.Batches(), 0))
			full.Release()

			*counting = countingDecoder{Decoder: decoder}
			scanner := compute.Limit(ds.Scan(context.Background()), 3)
			var read []arrow.Record
			for {
				batch, err := scanner.NextBatch()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				read = append(read, batch)
			}
			require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, pqtest.Int64Values(read, 0))
			for _, b := range read {
				b.Release()
			}
			require.NoError(t, scanner.Close())

			require.Equal(t, 3, counting.decodeCalls)
			require.Equal(t, 2, counting.opened)
			require.Equal(t, 2, counting.closed)
		})
	}
}

func TestDatasetsShareRegisterer(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")
	reg := prometheus.NewRegistry()

	for i := 0; i < 2; i++ {
		tbl, err := dataset.New(bucket, fragments, dataset.WithRegisterer(reg)).ToTable(context.Background())
		require.NoError(t, err)
		tbl.Release()
	}

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`# HELP dataset_scan_rows_total Number of rows returned by dataset scanners.
# TYPE dataset_scan_rows_total counter
dataset_scan_rows_total 12
`), "dataset_scan_rows_total"))
}

func TestScanMissingPartitionLabelIsNull(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	bucket := objstore.NewInMemBucket()
	s := schema.New(schema.Field("id", schema.Int64))
	fragments := pqtest.WriteDataset(t, bucket, "", s, []pqtest.Part{
		{Partition: labels.FromStrings("year", "2020"), Batches: []arrow.Record{pqtest.Int64Record(t, mem, "id", 1)}},
		{Batches: []arrow.Record{pqtest.Int64Record(t, mem, "id", 2, 3)}},
	})

	tbl, err := dataset.New(bucket, fragments,
		dataset.WithPartitionColumns("year"),
		dataset.WithAllocator(mem),
	).ToTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()

	require.Equal(t, []int64{2, 3, 1}, pqtest.Int64Values(tbl.Batches(), 0))
	years, err := tbl.Column("year")
	require.NoError(t, err)
	require.Equal(t, 2, years[0].NullN())
	require.Equal(t, 0, years[1].NullN())
	require.Equal(t, "2020", years[1].(*array.String).Value(0))
}

func TestScanErrors(t *testing.T) {
	otherSchema := schema.New(
		schema.Field("n_legs", schema.Int64),
		schema.Field("animal", schema.Int64),
	)

	cases := []struct {
		name     string
		setup    func(t *testing.T, bucket objstore.Bucket) []dataset.Fragment
		opts     []dataset.Option
		kind     dataset.ErrorKind
		fragment string
		column   string
	}{
		{
			name: "missing object",
			setup: func(t *testing.T, bucket objstore.Bucket) []dataset.Fragment {
				fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")
				return append(fragments, dataset.Fragment{Path: "missing.parquet", Partition: labels.FromStrings("year", "2019")})
			},
			kind:     dataset.IOFailure,
			fragment: "missing.parquet",
		},
		{
			name: "corrupt object",
			setup: func(t *testing.T, bucket objstore.Bucket) []dataset.Fragment {
				fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")
				require.NoError(t, bucket.Upload(context.Background(), "corrupt.parquet", bytes.NewReader([]byte("not a parquet file"))))
				return append(fragments, dataset.Fragment{Path: "corrupt.parquet", Partition: labels.FromStrings("year", "2019")})
			},
			kind:     dataset.CorruptData,
			fragment: "corrupt.parquet",
		},
		{
			name: "schema differs between fragments",
			setup: func(t *testing.T, bucket objstore.Bucket) []dataset.Fragment {
				fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")
				other := pqtest.WriteDataset(t, bucket, "other", otherSchema, []pqtest.Part{{
					Partition: labels.FromStrings("year", "2030"),
					Batches: []arrow.Record{pqtest.Record(t, otherSchema,
						schema.NewInt64Column(memory.DefaultAllocator, []int64{1}, nil),
						schema.NewInt64Column(memory.DefaultAllocator, []int64{1}, nil),
					)},
				}})
				return append(fragments, other...)
			},
			kind:     dataset.SchemaMismatch,
			fragment: "other/year=2030/part.0.parquet",
			column:   "animal",
		},
		{
			name: "declared schema",
			setup: func(t *testing.T, bucket objstore.Bucket) []dataset.Fragment {
				return pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")
			},
			opts:     []dataset.Option{dataset.WithSchema(otherSchema)},
			kind:     dataset.SchemaMismatch,
			fragment: "2019/part.0.parquet",
			column:   "animal",
		},
		{
			name: "partition column stored in fragment",
			setup: func(t *testing.T, bucket objstore.Bucket) []dataset.Fragment {
				return pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")
			},
			opts:     []dataset.Option{dataset.WithPartitionColumns("animal")},
			kind:     dataset.SchemaMismatch,
			fragment: "2019/part.0.parquet",
			column:   "animal",
		},
	}
	for _, tcase := range cases {
		t.Run(tcase.name, func(t *testing.T) {
			bucket := objstore.NewInMemBucket()
			fragments := tcase.setup(t, bucket)

			reg := prometheus.NewRegistry()
			opts := append([]dataset.Option{dataset.WithRegisterer(reg)}, tcase.opts...)
			scanner := dataset.New(bucket, fragments, opts...).Scan(context.Background())

			var scanErr *dataset.ScanError
			for scanErr == nil {
				batch, err := scanner.NextBatch()
				require.NotEqual(t, io.EOF, err)
				if err != nil {
					require.ErrorAs(t, err, &scanErr)
					break
				}
				batch.Release()
			}
			require.Equal(t, tcase.kind, scanErr.Kind)
			require.Equal(t, tcase.fragment, scanErr.Fragment)
			require.Equal(t, tcase.column, scanErr.Column)

			for i := 0; i < 2; i++ {
				_, err := scanner.NextBatch()
				require.Equal(t, scanErr, err)
			}
			require.Equal(t, 1.0, errorCount(t, reg, tcase.kind))

			require.NoError(t, scanner.Close())
			_, err := scanner.NextBatch()
			require.ErrorIs(t, err, dataset.ErrScannerClosed)
		})
	}
}

func TestScanIOFailureUnwrapsToObjectError(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	fragments := []dataset.Fragment{{Path: "missing.parquet"}}

	_, err := dataset.New(bucket, fragments).ToTable(context.Background())
	var objErr *storage.ObjectError
	require.ErrorAs(t, err, &objErr)
	require.True(t, bucket.IsObjNotFoundErr(objErr.Err))
}

func TestScanPartitionPruning(t *testing.T) {
	bucket := &attributesInspector{Bucket: objstore.NewInMemBucket()}
	fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "animals")
	ds := dataset.New(bucket, fragments, dataset.WithPartitionColumns("year"))

	tbl, err := ds.ToTable(context.Background(), labels.MustNewMatcher(labels.MatchRegexp, "year", "202[01]"))
	require.NoError(t, err)
	defer tbl.Release()

	require.Equal(t, []string{"Flamingo", "Horse", "Centipede"}, pqtest.StringValues(tbl.Batches(), 1))
	require.Equal(t, []string{"2020", "2021", "2021"}, pqtest.StringValues(tbl.Batches(), 2))
	require.ElementsMatch(t, []string{
		"animals/2020/part.0.parquet",
		"animals/2021/part.0.parquet",
		"animals/2021/part.1.parquet",
	}, bucket.opened)
}

func TestScanEmpty(t *testing.T) {
	bucket := objstore.NewInMemBucket()

	scanner := dataset.New(bucket, nil).Scan(context.Background())
	_, err := scanner.NextBatch()
	require.Equal(t, io.EOF, err)
	require.NoError(t, scanner.Close())

	_, err = dataset.New(bucket, nil).ToTable(context.Background())
	require.ErrorIs(t, err, dataset.ErrUnknownSchema)

	tbl, err := dataset.New(bucket, nil, dataset.WithSchema(pqtest.AnimalsSchema)).ToTable(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), tbl.NumRows())
	require.Equal(t, []string{"n_legs", "animal"}, fieldNames(tbl.Schema()))
}

func TestDatasetSchema(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")

	s, err := dataset.New(bucket, fragments, dataset.WithPartitionColumns("year")).Schema(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"n_legs", "animal", "year"}, fieldNames(s))
	require.True(t, arrow.TypeEqual(schema.Utf8, s.Field(2).Type))
	require.True(t, s.Field(2).Nullable)
}

func TestScanWithReadAhead(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	fragments := pqtest.AnimalsDataset(t, memory.DefaultAllocator, bucket, "")

	counting := &countingDecoder{Decoder: dataset.NewArrowDecoder(1024)}
	scanner := compute.NewConcurrent(dataset.New(bucket, fragments, dataset.WithDecoder(counting)).Scan(context.Background()), 2)

	batch, err := scanner.NextBatch()
	require.NoError(t, err)
	batch.Release()

	require.NoError(t, scanner.Close())
	require.Equal(t, counting.opened, counting.closed)
}

func TestRowGroupDecoderReadsSegmentioFiles(t *testing.T) {
	content, err := pqtest.CreateFile([][]pqtest.Row{
		{
			{ID: 1, Name: "a", Score: 0.5, Active: true},
			{ID: 2, Name: "b", Score: 0, Active: false},
			{ID: 3, Name: "a", Score: 1.5, Active: true},
		},
		{
			{ID: 4, Name: "c", Score: 2.5, Active: false},
		},
	})
	require.NoError(t, err)

	bucket := objstore.NewInMemBucket()
	require.NoError(t, bucket.Upload(context.Background(), "rows.parquet", bytes.NewReader(content)))

	ds := dataset.New(bucket, []dataset.Fragment{{Path: "rows.parquet"}}, dataset.WithDecoder(dataset.NewRowGroupDecoder(2)))
	scanner := ds.Scan(context.Background())
	defer scanner.Close()

	var batches []arrow.Record
	for {
		batch, err := scanner.NextBatch()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	s := scanner.Schema()
	require.Equal(t, []string{"id", "name", "score", "active"}, fieldNames(s))
	require.True(t, arrow.TypeEqual(schema.Int64, s.Field(0).Type))
	require.True(t, arrow.TypeEqual(schema.Utf8, s.Field(1).Type))
	require.True(t, arrow.TypeEqual(schema.Float64, s.Field(2).Type))
	require.True(t, arrow.TypeEqual(schema.Bool, s.Field(3).Type))
	require.True(t, s.Field(2).Nullable)

	var sizes []int64
	for _, b := range batches {
		sizes = append(sizes, b.NumRows())
	}
	require.Equal(t, []int64{2, 1, 1}, sizes)
	require.Equal(t, []int64{1, 2, 3, 4}, pqtest.Int64Values(batches, 0))
	require.Equal(t, []string{"a", "b", "a", "c"}, pqtest.StringValues(batches, 1))
	require.True(t, batches[0].Column(2).IsNull(1))
}

func fieldNames(s *arrow.Schema) []string {
	names := make([]string, 0, len(s.Fields()))
	for _, f := range s.Fields() {
		names = append(names, f.Name)
	}
	return names
}

func errorCount(t *testing.T, reg *prometheus.Registry, kind dataset.ErrorKind) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "dataset_scan_errors_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "kind" && l.GetValue() == kind.String() {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("no error counter for kind %s", kind)
	return 0
}

type countingDecoder struct {
	dataset.Decoder

	opened      int
	closed      int
	decodeCalls int
}

func (d *countingDecoder) Open(ctx context.Context, r *storage.BucketReader) (dataset.FragmentReader, error) {
	reader, err := d.Decoder.Open(ctx, r)
	if err != nil {
		return nil, err
	}
	d.opened++
	return &countingReader{FragmentReader: reader, decoder: d}, nil
}

type countingReader struct {
	dataset.FragmentReader
	decoder *countingDecoder
}

func (r *countingReader) Next() (arrow.Record, error) {
	batch, err := r.FragmentReader.Next()
	if err == nil {
		r.decoder.decodeCalls++
	}
	return batch, err
}

func (r *countingReader) Close() error {
	r.decoder.closed++
	return r.FragmentReader.Close()
}

type attributesInspector struct {
	objstore.Bucket

	opened []string
}

func (b *attributesInspector) Attributes(ctx context.Context, name string) (objstore.ObjectAttributes, error) {
	b.opened = append(b.opened, name)
	return b.Bucket.Attributes(ctx, name)
}

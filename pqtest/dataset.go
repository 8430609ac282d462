package pqtest

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/prometheus/prometheus/model/labels"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"Shopify/arrow-dataset-engine/dataset"
	"Shopify/arrow-dataset-engine/db"
	"Shopify/arrow-dataset-engine/schema"
)

// Part is one file of a test dataset.
type Part struct {
	Partition labels.Labels
	Batches   []arrow.Record
}

// WriteDataset uploads parts below dir and releases their batches.
func WriteDataset(t testing.TB, bucket objstore.Bucket, dir string, s *arrow.Schema, parts []Part, opts ...db.WriterOption) []dataset.Fragment {
	t.Helper()
	writer := db.NewWriter(bucket, dir, s, opts...)

	fragments := make([]dataset.Fragment, 0, len(parts))
	for _, part := range parts {
		fragment, err := writer.Write(context.Background(), part.Partition, part.Batches...)
		for _, b := range part.Batches {
			b.Release()
		}
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	return fragments
}

// AnimalsSchema is the file schema of the animals dataset. The year is stored
// in the partition.
var AnimalsSchema = schema.New(
	schema.Field("n_legs", schema.Int64),
	schema.Field("animal", schema.Utf8),
)

// AnimalsDataset writes six animals partitioned by year in directory
// partitioning and returns the fragments in write order.
func AnimalsDataset(t testing.TB, mem memory.Allocator, bucket objstore.Bucket, dir string) []dataset.Fragment {
	animals := func(legs []int64, names []string) arrow.Record {
		return Record(t, AnimalsSchema,
			schema.NewInt64Column(mem, legs, nil),
			schema.NewStringColumn(mem, names, nil),
		)
	}
	parts := []Part{
		{Partition: labels.FromStrings("year", "2020"), Batches: []arrow.Record{animals([]int64{2}, []string{"Flamingo"})}},
		{Partition: labels.FromStrings("year", "2022"), Batches: []arrow.Record{animals([]int64{2, 4}, []string{"Parrot", "Dog"})}},
		{Partition: labels.FromStrings("year", "2021"), Batches: []arrow.Record{animals([]int64{4}, []string{"Horse"})}},
		{Partition: labels.FromStrings("year", "2019"), Batches: []arrow.Record{animals([]int64{5}, []string{"Brittle stars"})}},
		{Partition: labels.FromStrings("year", "2021"), Batches: []arrow.Record{animals([]int64{100}, []string{"Centipede"})}},
	}
	return WriteDataset(t, bucket, dir, AnimalsSchema, parts, db.WithPartitioning(db.DirectoryPartitioning{Fields: []string{"year"}}))
}

package dataset

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"

	"Shopify/arrow-dataset-engine/storage"
)

const defaultBatchSize = 64 * 1024

// Decoder opens fragments of a single file format.
type Decoder interface {
	Open(ctx context.Context, r *storage.BucketReader) (FragmentReader, error)
}

// FragmentReader decodes one fragment. Every call to Next is one decode call
// and returns at most one record, or io.EOF once the fragment is exhausted.
type FragmentReader interface {
	io.Closer
	Schema() *arrow.Schema
	Next() (arrow.Record, error)
}

// recoverDecodePanic turns a panic raised by a parquet library into an error
// of the deferring call.
func recoverDecodePanic(err *error) {
	if p := recover(); p != nil {
		*err = errors.Errorf("decoder panic: %v", p)
	}
}

package dataset

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/model/labels"

	"Shopify/arrow-dataset-engine/schema"
	"Shopify/arrow-dataset-engine/storage"
)

var (
	ErrScannerClosed = errors.New("scanner is closed")
	ErrUnknownSchema = errors.New("dataset has no declared schema and no fragments")
)

type ErrorKind int

const (
	// CorruptData is reported when a fragment cannot be decoded.
	CorruptData ErrorKind = iota
	// IOFailure is reported when the object store fails to serve a fragment.
	IOFailure
	// SchemaMismatch is reported when a fragment does not have the dataset schema.
	SchemaMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case CorruptData:
		return "corrupt_data"
	case IOFailure:
		return "io_failure"
	case SchemaMismatch:
		return "schema_mismatch"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ScanError describes a failure to read one fragment of a dataset.
type ScanError struct {
	Kind      ErrorKind
	Fragment  string
	Partition labels.Labels
	// Column is set when the failure is attributed to a single column.
	Column string
	Err    error
}

func (e *ScanError) Error() string {
	msg := fmt.Sprintf("%s in fragment %s", e.Kind, e.Fragment)
	if !e.Partition.IsEmpty() {
		msg += " " + e.Partition.String()
	}
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	return msg + ": " + e.Err.Error()
}

func (e *ScanError) Unwrap() error { return e.Err }

func newScanError(fragment Fragment, err error) *ScanError {
	scanErr := &ScanError{
		Kind:      CorruptData,
		Fragment:  fragment.Path,
		Partition: fragment.Partition,
		Err:       err,
	}

	var (
		objErr      *storage.ObjectError
		mismatchErr *schema.SchemaMismatchError
		columnErr   *columnError
	)
	switch {
	case errors.As(err, &objErr):
		scanErr.Kind = IOFailure
	case errors.As(err, &mismatchErr):
		scanErr.Kind = SchemaMismatch
		scanErr.Column = mismatchErr.Column
	case errors.As(err, &columnErr):
		scanErr.Column = columnErr.column
	}
	return scanErr
}

// columnError attributes a decoding failure to a column.
type columnError struct {
	column string
	err    error
}

func (e *columnError) Error() string {
	return fmt.Sprintf("column %q: %s", e.column, e.err)
}

func (e *columnError) Unwrap() error { return e.err }

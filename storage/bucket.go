package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
)

// ObjectError is returned for every failed object store operation.
type ObjectError struct {
	Op     string
	Object string
	Err    error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Object, e.Err)
}

func (e *ObjectError) Unwrap() error { return e.Err }

type ReaderOption func(*BucketReader)

// WithMaxReadSize splits range reads larger than size into parallel reads of
// at most size bytes.
func WithMaxReadSize(size int) ReaderOption {
	return func(r *BucketReader) {
		r.maxReadSize = size
	}
}

func WithReaderLogger(logger log.Logger) ReaderOption {
	return func(r *BucketReader) {
		r.logger = logger
	}
}

// BucketReader exposes one object as an io.ReaderAt and io.ReadSeeker. Every
// read is a range request against the bucket.
type BucketReader struct {
	ctx    context.Context
	name   string
	bucket objstore.BucketReader
	size   int64
	logger log.Logger

	maxReadSize      int
	concurrencyLimit int
	sections         *sections

	position int64
}

// OpenBucketReader stats the object and returns a reader over it.
func OpenBucketReader(ctx context.Context, bucket objstore.BucketReader, name string, opts ...ReaderOption) (*BucketReader, error) {
	attrs, err := bucket.Attributes(ctx, name)
	if err != nil {
		return nil, &ObjectError{Op: "stat", Object: name, Err: err}
	}

	r := &BucketReader{
		ctx:              ctx,
		name:             name,
		bucket:           bucket,
		size:             attrs.Size,
		logger:           log.NewNopLogger(),
		concurrencyLimit: 16,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *BucketReader) Name() string { return r.name }

func (r *BucketReader) Size() int64 { return r.size }

// ReadAt reads len(p) bytes at off. Reads past the end of the object are
// truncated and return io.EOF.
func (r *BucketReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &ObjectError{Op: "read", Object: r.name, Err: errors.Errorf("negative offset %d", off)}
	}
	if off >= r.size {
		return 0, io.EOF
	}

	want := p
	if remaining := r.size - off; int64(len(p)) > remaining {
		want = p[:remaining]
	}

	var (
		n   int
		err error
	)
	if r.sections != nil {
		var ok bool
		n, ok, err = r.readSection(want, off)
		if err != nil {
			return n, err
		}
		if ok {
			return r.eof(n, len(p))
		}
	}
	if r.maxReadSize > 0 && len(want) > r.maxReadSize {
		n, err = r.readChunked(want, off)
	} else {
		n, err = r.readRange(want, off)
	}
	if err != nil {
		return n, err
	}
	return r.eof(n, len(p))
}

func (r *BucketReader) eof(n, want int) (int, error) {
	if n < want {
		return n, io.EOF
	}
	return n, nil
}

func (r *BucketReader) readRange(p []byte, off int64) (int, error) {
	level.Debug(r.logger).Log("msg", "reading object range", "object", r.name, "offset", off, "length", len(p))
	rangeReader, err := r.bucket.GetRange(r.ctx, r.name, off, int64(len(p)))
	if err != nil {
		return 0, &ObjectError{Op: "read", Object: r.name, Err: err}
	}
	defer rangeReader.Close()

	n, err := io.ReadFull(rangeReader, p)
	if err != nil {
		return n, &ObjectError{Op: "read", Object: r.name, Err: err}
	}
	return n, nil
}

func (r *BucketReader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.position)
	r.position += int64(n)
	return n, err
}

func (r *BucketReader) Seek(offset int64, whence int) (int64, error) {
	newPosition := r.position
	switch whence {
	case io.SeekStart:
		newPosition = offset
	case io.SeekCurrent:
		newPosition += offset
	case io.SeekEnd:
		newPosition = r.size + offset
	default:
		return 0, errors.Errorf("seek: invalid whence %d", whence)
	}
	if newPosition < 0 {
		return 0, errors.New("seek: negative position")
	}

	r.position = newPosition
	return r.position, nil
}

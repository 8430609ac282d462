package compute

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"
)

var errConcurrentClosed = errors.New("read-ahead source is closed")

type maybeBatch struct {
	batch arrow.Record
	err   error
}

// Concurrent reads ahead of its consumer. A background goroutine pulls
// batches from the wrapped source into a buffer of bufferSize batches and
// stops at the first error, including io.EOF.
type Concurrent struct {
	source BatchSource
	buffer chan maybeBatch

	// err is the terminal result returned by every call after it was observed.
	err error

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func NewConcurrent(source BatchSource, bufferSize int) *Concurrent {
	c := &Concurrent{
		source: source,
		buffer: make(chan maybeBatch, bufferSize),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	go c.pullNextBatch()

	return c
}

func (c *Concurrent) NextBatch() (arrow.Record, error) {
	if c.err != nil {
		return nil, c.err
	}

	next, ok := <-c.buffer
	if !ok {
		c.err = errConcurrentClosed
		return nil, c.err
	}
	if next.err != nil {
		c.err = next.err
		return nil, c.err
	}
	return next.batch, nil
}

func (c *Concurrent) pullNextBatch() {
	defer close(c.buffer)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		batch, err := c.source.NextBatch()
		select {
		case c.buffer <- maybeBatch{batch: batch, err: err}:
		case <-c.ctx.Done():
			if batch != nil {
				batch.Release()
			}
			return
		}
		if err != nil {
			return
		}
	}
}

// Close stops the read-ahead goroutine, releases buffered batches and closes
// the wrapped source.
func (c *Concurrent) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		for next := range c.buffer {
			if next.batch != nil {
				next.batch.Release()
			}
		}
		if c.err == nil {
			c.err = errConcurrentClosed
		}
		c.closeErr = c.source.Close()
	})
	return c.closeErr
}

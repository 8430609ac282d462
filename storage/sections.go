package storage

import (
	"sync"
)

const maxLoadedSections = 16

// WithReadBufferSize makes reads shorter than size load a section of size
// bytes and serves later reads inside a loaded section from memory.
// Parquet readers issue many small reads around the footer and page headers.
func WithReadBufferSize(size int64) ReaderOption {
	return func(r *BucketReader) {
		r.sections = &sections{bufferSize: size}
	}
}

type section struct {
	from, to int64
	bytes    []byte
}

type sections struct {
	bufferSize int64

	mu     sync.RWMutex
	loaded []section
}

func (s *sections) readAt(p []byte, off int64) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.find(off, off+int64(len(p)))
	if !ok {
		return 0, false
	}
	return copy(p, sec.bytes[off-sec.from:]), true
}

func (s *sections) find(from, to int64) (section, bool) {
	for _, sec := range s.loaded {
		if sec.from <= from && to <= sec.to {
			return sec, true
		}
	}
	return section{}, false
}

func (s *sections) add(sec section) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.loaded) == maxLoadedSections {
		s.loaded = append(s.loaded[:0], s.loaded[1:]...)
	}
	s.loaded = append(s.loaded, sec)
}

// readSection serves p from a loaded section, or loads the section starting
// at off when p is shorter than the read buffer.
func (r *BucketReader) readSection(p []byte, off int64) (int, bool, error) {
	if n, ok := r.sections.readAt(p, off); ok {
		return n, true, nil
	}
	if int64(len(p)) >= r.sections.bufferSize {
		return 0, false, nil
	}

	to := off + r.sections.bufferSize
	if to > r.size {
		to = r.size
	}
	buf := make([]byte, to-off)
	if _, err := r.readRange(buf, off); err != nil {
		return 0, false, err
	}
	r.sections.add(section{from: off, to: to, bytes: buf})
	return copy(p, buf), true, nil
}

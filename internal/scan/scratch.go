package scan

import "github.com/valyala/bytebufferpool"

// scratch is the worker's coalescing buffer: a bounded, append-only text
// buffer flushed as one notification. It is owned by the worker goroutine;
// Take hands the consumer an immutable copy.
type scratch struct {
	buf   *bytebufferpool.ByteBuffer
	limit int
	items []*WorkItem
}

func newScratch(limit int) *scratch {
	s := &scratch{buf: bytebufferpool.Get(), limit: limit}
	if cap(s.buf.B) < limit {
		s.buf.B = make([]byte, 0, limit)
	}
	return s
}

// Fits reports whether n more bytes can be appended.
func (s *scratch) Fits(n int) bool { return s.buf.Len()+n <= s.limit }

func (s *scratch) Empty() bool { return len(s.items) == 0 && s.buf.Len() == 0 }

// Append adds one item's text. The caller checks Fits first; an item larger
// than the whole buffer is still accepted into an empty buffer.
func (s *scratch) Append(text string, it *WorkItem) {
	s.buf.WriteString(text)
	s.items = append(s.items, it)
}

// Take returns the buffered text and items and clears the buffer.
func (s *scratch) Take() (string, []*WorkItem) {
	text := s.buf.String()
	items := s.items
	s.buf.Reset()
	s.items = nil
	return text, items
}

// Release returns the backing storage to the pool. The scratch must not be
// used afterwards.
func (s *scratch) Release() {
	if s.buf != nil {
		bytebufferpool.Put(s.buf)
		s.buf = nil
	}
	s.items = nil
}

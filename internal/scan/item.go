package scan

import (
	"context"
	"time"

	"github.com/eargollo/hashcheck/internal/digest"
)

// WorkItem is one file to hash. It is created when its Source is prepared
// and mutated in place by the worker; between runs it keeps whatever
// digests are already valid so a restart only computes what is missing.
type WorkItem struct {
	FileInfo
	// Rel is the path shown to users, relative to the common parent of
	// the inputs.
	Rel     string
	Result  digest.Result
	Elapsed time.Duration
}

// Source supplies an ordered, resettable sequence of work items.
//
// Prepare is called by the worker at the start of every run before the
// first Next; implementations expand their inputs on the first call and
// only rewind on later ones. Reset rewinds to the first item.
type Source interface {
	Prepare(ctx context.Context) error
	Reset()
	Next() (*WorkItem, bool)
	Len() int
}

// ListSource is a Source over a fixed slice of items.
type ListSource struct {
	Items []*WorkItem
	pos   int
}

// NewListSource wraps items.
func NewListSource(items ...*WorkItem) *ListSource {
	return &ListSource{Items: items}
}

func (s *ListSource) Prepare(ctx context.Context) error {
	s.Reset()
	return ctx.Err()
}

func (s *ListSource) Reset() { s.pos = 0 }

func (s *ListSource) Next() (*WorkItem, bool) {
	if s.pos >= len(s.Items) {
		return nil, false
	}
	it := s.Items[s.pos]
	s.pos++
	return it, true
}

func (s *ListSource) Len() int { return len(s.Items) }

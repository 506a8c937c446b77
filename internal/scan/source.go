package scan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/eargollo/hashcheck/internal/digest"
)

// KnownDigests looks up digests computed by an earlier process for a file
// that has not changed since.
type KnownDigests interface {
	Lookup(ctx context.Context, fi FileInfo) (map[digest.Algorithm]string, error)
}

// PathSource expands files and directories into a sorted list of work
// items. Expansion happens lazily on the first Prepare.
type PathSource struct {
	paths    []string
	excludes map[string]struct{}
	walkers  int
	known    KnownDigests

	items    []*WorkItem
	pos      int
	prepared bool
	stale    atomic.Bool
}

// NewPathSource creates a PathSource. known may be nil.
func NewPathSource(paths, excludePaths []string, walkers int, known KnownDigests) *PathSource {
	excludes := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		excludes[filepath.Clean(p)] = struct{}{}
	}
	return &PathSource{paths: paths, excludes: excludes, walkers: walkers, known: known}
}

// Reload marks the expanded list stale; the next Prepare walks the inputs
// again. Digests of files whose size and mtime are unchanged are kept.
// Safe to call from any goroutine.
func (s *PathSource) Reload() { s.stale.Store(true) }

// Prepare expands the inputs on first use (or after Reload) and rewinds.
// A failed or cancelled expansion leaves the source unprepared so the
// next run starts over.
func (s *PathSource) Prepare(ctx context.Context) error {
	if s.prepared && !s.stale.Load() {
		s.Reset()
		return nil
	}
	s.stale.Store(false)
	items, err := s.expand(ctx)
	if err != nil {
		s.prepared = false
		return err
	}
	s.carryOver(items)
	s.items = items
	s.prepared = true
	s.Reset()
	return nil
}

func (s *PathSource) Reset() { s.pos = 0 }

func (s *PathSource) Next() (*WorkItem, bool) {
	if s.pos >= len(s.items) {
		return nil, false
	}
	it := s.items[s.pos]
	s.pos++
	return it, true
}

func (s *PathSource) Len() int { return len(s.items) }

func (s *PathSource) expand(ctx context.Context) ([]*WorkItem, error) {
	report := func(path, stage, errMsg string) {
		slog.Warn("expand paths", "path", path, "stage", stage, "error", errMsg)
	}

	var abs []string
	for _, p := range s.paths {
		a, err := filepath.Abs(p)
		if err != nil {
			report(p, "abs", err.Error())
			continue
		}
		abs = append(abs, a)
	}
	prefix := commonParent(abs)

	var items []*WorkItem
	for _, root := range abs {
		if _, excluded := s.excludes[root]; excluded {
			continue
		}
		info, err := os.Stat(root)
		if err != nil {
			report(root, "stat", err.Error())
			continue
		}
		if !info.IsDir() {
			items = append(items, s.newItem(ctx, prefix, FileInfo{Path: root, Size: info.Size(), MTime: info.ModTime()}))
			continue
		}

		out := make(chan FileInfo, 1000)
		go Walk(ctx, []string{root}, s.excludes, s.walkers, out, report)
		var found []FileInfo
		for fi := range out {
			found = append(found, fi)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("expand %q: %w", root, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
		for _, fi := range found {
			items = append(items, s.newItem(ctx, prefix, fi))
		}
	}
	return items, ctx.Err()
}

func (s *PathSource) newItem(ctx context.Context, prefix string, fi FileInfo) *WorkItem {
	it := &WorkItem{FileInfo: fi, Rel: relPath(prefix, fi.Path)}
	if s.known == nil {
		return it
	}
	known, err := s.known.Lookup(ctx, fi)
	if err != nil {
		slog.Warn("lookup known digests", "path", fi.Path, "error", err)
		return it
	}
	for alg, hex := range known {
		it.Result.Seed(alg, hex)
	}
	return it
}

// carryOver copies results from the previous expansion for files that are
// still the same size and modification time.
func (s *PathSource) carryOver(items []*WorkItem) {
	if len(s.items) == 0 {
		return
	}
	prev := make(map[string]*WorkItem, len(s.items))
	for _, it := range s.items {
		prev[it.Path] = it
	}
	for _, it := range items {
		old, ok := prev[it.Path]
		if !ok || old.Size != it.Size || !old.MTime.Equal(it.MTime) {
			continue
		}
		for _, a := range old.Result.Valid.Algorithms() {
			if hex, ok := old.Result.Hex(a); ok {
				it.Result.Seed(a, hex)
			}
		}
	}
}

// commonParent returns the deepest directory containing every path's
// parent directory.
func commonParent(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	prefix := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		dir := filepath.Dir(p)
		for !within(prefix, dir) {
			parent := filepath.Dir(prefix)
			if parent == prefix {
				break
			}
			prefix = parent
		}
	}
	return prefix
}

func within(prefix, dir string) bool {
	if prefix == dir {
		return true
	}
	sep := string(filepath.Separator)
	if strings.HasSuffix(prefix, sep) {
		return strings.HasPrefix(dir, prefix)
	}
	return strings.HasPrefix(dir, prefix+sep)
}

func relPath(prefix, path string) string {
	if prefix == "" {
		return path
	}
	rel, err := filepath.Rel(prefix, path)
	if err != nil {
		return path
	}
	return rel
}

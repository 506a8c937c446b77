package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eargollo/hashcheck/internal/digest"
)

func drain(src Source) []*WorkItem {
	var out []*WorkItem
	for it, ok := src.Next(); ok; it, ok = src.Next() {
		out = append(out, it)
	}
	return out
}

func TestPathSourceExpandsSortedWithRelativePaths(t *testing.T) {
	root := t.TempDir()
	mustWriteItem(t, root, filepath.Join("b", "two.txt"), []byte("2"))
	mustWriteItem(t, root, filepath.Join("a", "one.txt"), []byte("1"))
	single := mustWriteItem(t, root, "single.txt", []byte("s"))
	skip := mustWriteItem(t, root, filepath.Join("a", "skip.txt"), []byte("x"))

	src := NewPathSource(
		[]string{filepath.Join(root, "a"), filepath.Join(root, "b"), single.Path},
		[]string{skip.Path}, 2, nil)
	if err := src.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	got := drain(src)
	want := []string{
		filepath.Join("a", "one.txt"),
		filepath.Join("b", "two.txt"),
		"single.txt",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i, it := range got {
		if it.Rel != want[i] {
			t.Errorf("item %d: Rel got %q, want %q", i, it.Rel, want[i])
		}
	}
	if src.Len() != 3 {
		t.Errorf("Len: got %d, want 3", src.Len())
	}

	// A second Prepare only rewinds.
	if err := src.Prepare(context.Background()); err != nil {
		t.Fatal(err)
	}
	if again := drain(src); len(again) != 3 || again[0] != got[0] {
		t.Error("second Prepare should rewind over the same items")
	}
}

func TestPathSourceReloadKeepsUnchangedDigests(t *testing.T) {
	root := t.TempDir()
	keep := mustWriteItem(t, root, "keep.txt", []byte("keep"))
	change := mustWriteItem(t, root, "change.txt", []byte("old"))

	src := NewPathSource([]string{root}, nil, 1, nil)
	ctx := context.Background()
	if err := src.Prepare(ctx); err != nil {
		t.Fatal(err)
	}
	for _, it := range drain(src) {
		it.Result.Seed(digest.CRC32, crcHex([]byte(it.Rel)))
	}

	if err := os.WriteFile(change.Path, []byte("newer"), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(change.Path, future, future); err != nil {
		t.Fatal(err)
	}
	mustWriteItem(t, root, "added.txt", []byte("+"))

	src.Reload()
	if err := src.Prepare(ctx); err != nil {
		t.Fatal(err)
	}
	items := drain(src)
	if len(items) != 3 {
		t.Fatalf("got %d items after reload, want 3", len(items))
	}
	for _, it := range items {
		valid := it.Result.Valid.Has(digest.CRC32)
		switch it.Path {
		case keep.Path:
			if !valid {
				t.Errorf("%s: digest should carry over", it.Rel)
			}
		default:
			if valid {
				t.Errorf("%s: digest should not carry over", it.Rel)
			}
		}
	}
}

func TestPathSourceCancelledPrepare(t *testing.T) {
	root := t.TempDir()
	mustWriteItems(t, root, 5, 1)
	src := NewPathSource([]string{root}, nil, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := src.Prepare(ctx); err == nil {
		t.Fatal("Prepare with a cancelled context should fail")
	}
	if err := src.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare after cancel: %v", err)
	}
	if src.Len() != 5 {
		t.Errorf("Len: got %d, want 5", src.Len())
	}
}

func TestCommonParent(t *testing.T) {
	sep := string(filepath.Separator)
	cases := []struct {
		paths []string
		want  string
	}{
		{nil, ""},
		{[]string{sep + filepath.Join("a", "b", "c.txt")}, sep + filepath.Join("a", "b")},
		{[]string{sep + filepath.Join("a", "b", "x"), sep + filepath.Join("a", "c", "y")}, sep + "a"},
		{[]string{sep + filepath.Join("ab", "x"), sep + filepath.Join("a", "y")}, sep},
	}
	for _, tc := range cases {
		if got := commonParent(tc.paths); got != tc.want {
			t.Errorf("commonParent(%v): got %q, want %q", tc.paths, got, tc.want)
		}
	}
}

package scan

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	internaldb "github.com/eargollo/hashcheck/internal/db"
)

// mustOpenDB opens a temp file SQLite database with the full schema applied.
func mustOpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	dbPath := filepath.Join(tb.TempDir(), "test.db")
	db, err := internaldb.Open(dbPath)
	if err != nil {
		tb.Fatalf("open test DB: %v", err)
	}
	if err := internaldb.RunMigrations(db); err != nil {
		db.Close()
		tb.Fatalf("run migrations: %v", err)
	}
	tb.Cleanup(func() { db.Close() })
	return db
}

// noErrors is an ErrorReporter that fails the test if invoked.
func noErrors(tb testing.TB) ErrorReporter {
	return func(path, stage, errMsg string) {
		tb.Errorf("unexpected scan error: path=%q stage=%q err=%q", path, stage, errMsg)
	}
}

// mustWriteItem writes content to dir/name and returns a WorkItem for it.
func mustWriteItem(tb testing.TB, dir, name string, content []byte) *WorkItem {
	tb.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		tb.Fatalf("mkdir %q: %v", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, content, 0644); err != nil {
		tb.Fatalf("write %q: %v", p, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		tb.Fatal(err)
	}
	return &WorkItem{
		FileInfo: FileInfo{Path: p, Size: info.Size(), MTime: info.ModTime()},
		Rel:      name,
	}
}

// mustWriteItems creates n files of size bytes each.
func mustWriteItems(tb testing.TB, dir string, n, size int) []*WorkItem {
	tb.Helper()
	items := make([]*WorkItem, n)
	for i := range items {
		content := []byte(fmt.Sprintf("%-*d", size, i))[:size]
		items[i] = mustWriteItem(tb, dir, fmt.Sprintf("file%04d.bin", i), content)
	}
	return items
}

func crcHex(b []byte) string    { return fmt.Sprintf("%08x", crc32.ChecksumIEEE(b)) }
func sha256Hex(b []byte) string { return fmt.Sprintf("%x", sha256.Sum256(b)) }

// collector is a Sink that records everything it is shown. delay slows
// ItemsUpdated down to simulate a consumer that falls behind.
type collector struct {
	mu        sync.Mutex
	delay     time.Duration
	text      strings.Builder
	batches   int
	items     int
	preparing []bool
	progress  []Event
	finished  []*Summary

	finishedCh chan *Summary
}

func newCollector() *collector {
	return &collector{finishedCh: make(chan *Summary, 16)}
}

func (c *collector) Preparing(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preparing = append(c.preparing, ev.Preparing)
}

func (c *collector) ItemsUpdated(ev *Event) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text.WriteString(ev.Text)
	c.batches++
	c.items += len(ev.Items)
}

func (c *collector) FileProgress(ev *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = append(c.progress, *ev)
}

func (c *collector) RunFinished(ev *Event) {
	c.mu.Lock()
	c.finished = append(c.finished, ev.Summary)
	c.mu.Unlock()
	c.finishedCh <- ev.Summary
}

func (c *collector) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

func (c *collector) counts() (batches, items int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches, c.items
}

// waitFinished returns the next RunFinished summary shown to the sink.
func (c *collector) waitFinished(tb testing.TB) *Summary {
	tb.Helper()
	select {
	case sum := <-c.finishedCh:
		return sum
	case <-time.After(20 * time.Second):
		tb.Fatal("timed out waiting for RunFinished")
		return nil
	}
}

// startConsumer runs a Consumer for c until the test ends.
func startConsumer(tb testing.TB, c *Controller, sink Sink) *Consumer {
	tb.Helper()
	k := NewConsumer(c, sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()
	tb.Cleanup(func() {
		cancel()
		<-done
	})
	return k
}

package scan

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/hashcheck/internal/digest"
)

func newTestGovernor(watermark int64, scratchSize int) (*governor, chan struct{}) {
	wake := make(chan struct{}, 1)
	g := &governor{
		run:       uuid.New(),
		progress:  &Progress{},
		events:    newFIFO[Event](),
		wake:      wake,
		watermark: watermark,
		scratch:   newScratch(scratchSize),
		maxItem:   100,
	}
	return g, wake
}

// ack simulates the consumer handling every queued batch.
func ack(g *governor, wake chan struct{}) int {
	n := 0
	for {
		ev, ok := g.events.TryPop()
		if !ok {
			return n
		}
		g.progress.Handled.Add(int64(len(ev.Items)))
		select {
		case wake <- struct{}{}:
		default:
		}
		n++
	}
}

func TestGovernorFlushesImmediatelyWhenConsumerIdle(t *testing.T) {
	g, wake := newTestGovernor(50, 4096)
	defer g.scratch.Release()

	g.commit("one\n", &WorkItem{})
	if g.events.Len() != 1 {
		t.Fatalf("queued events: got %d, want 1", g.events.Len())
	}
	ack(g, wake)
	g.commit("two\n", &WorkItem{})
	if g.events.Len() != 1 {
		t.Errorf("queued events after ack: got %d, want 1", g.events.Len())
	}
}

func TestGovernorCoalescesWhileConsumerBehind(t *testing.T) {
	g, _ := newTestGovernor(50, 4096)
	defer g.scratch.Release()

	g.commit("first\n", &WorkItem{}) // delivered at once, not yet handled
	for i := 0; i < 5; i++ {
		g.commit("next\n", &WorkItem{})
	}
	if g.events.Len() != 1 {
		t.Fatalf("queued events: got %d, want 1 while consumer is behind", g.events.Len())
	}
	if g.progress.Sent.Load() != 6 || g.progress.Delivered.Load() != 1 {
		t.Errorf("sent=%d delivered=%d, want 6/1", g.progress.Sent.Load(), g.progress.Delivered.Load())
	}

	g.flushIfIdle()
	if g.events.Len() != 1 {
		t.Error("flushIfIdle must not flush while the consumer is behind")
	}

	g.events.TryPop()
	g.progress.Handled.Add(1)
	g.flushIfIdle()
	ev, ok := g.events.TryPop()
	if !ok {
		t.Fatal("flushIfIdle should deliver once the consumer caught up")
	}
	if len(ev.Items) != 5 || strings.Count(ev.Text, "next\n") != 5 {
		t.Errorf("coalesced batch: %d items, text %q", len(ev.Items), ev.Text)
	}
	if ev.Kind != EventItemsUpdated || ev.Run != g.run {
		t.Errorf("event: kind=%v run=%v", ev.Kind, ev.Run)
	}
}

func TestGovernorFlushesWhenScratchFull(t *testing.T) {
	g, _ := newTestGovernor(50, 250)
	defer g.scratch.Release()
	g.maxItem = 60

	g.commit("x\n", &WorkItem{}) // delivered, consumer now behind
	text := strings.Repeat("y", 49) + "\n"
	for i := 0; i < 4; i++ {
		g.commit(text, &WorkItem{})
	}
	// 4*50 = 200 bytes buffered; another 60-byte item would not fit.
	if g.events.Len() != 2 {
		t.Errorf("queued events: got %d, want 2", g.events.Len())
	}
	if !g.scratch.Empty() {
		t.Error("scratch should be empty after a capacity flush")
	}
}

func TestGovernorThrottleWaitsForConsumer(t *testing.T) {
	g, wake := newTestGovernor(2, 4096)
	defer g.scratch.Release()

	for i := 0; i < 3; i++ {
		g.commit("z\n", &WorkItem{})
	}
	released := make(chan bool, 1)
	go func() { released <- g.throttle(make(chan struct{})) }()

	select {
	case <-released:
		t.Fatal("throttle returned with backlog above the watermark")
	case <-time.After(20 * time.Millisecond):
	}
	if g.progress.Delivered.Load() != 3 {
		t.Errorf("throttle should flush before waiting: delivered=%d", g.progress.Delivered.Load())
	}

	ack(g, wake)
	select {
	case ok := <-released:
		if !ok {
			t.Error("throttle reported stop")
		}
	case <-time.After(time.Second):
		t.Fatal("throttle did not release after the consumer caught up")
	}
}

func TestGovernorThrottleStops(t *testing.T) {
	g, _ := newTestGovernor(0, 4096)
	defer g.scratch.Release()
	g.commit("z\n", &WorkItem{})

	stop := make(chan struct{})
	close(stop)
	if g.throttle(stop) {
		t.Error("throttle should report false once stop is closed")
	}
}

func TestFormatItem(t *testing.T) {
	it := &WorkItem{Rel: "dir/a.txt", Elapsed: 1500 * time.Millisecond}
	it.Result.Seed(digest.CRC32, "cbf43926")
	set := digest.SetOf(digest.CRC32, digest.SHA1)
	it.Result.ClearInvalid(set)

	got := formatItem(it, set, true)
	want := "File: dir/a.txt\n" +
		"  CRC-32: cbf43926\n" +
		"   SHA-1: " + strings.Repeat("X", 40) + "\n" +
		"Elapsed: 1500 ms\n" +
		"\n"
	if got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
	if n := maxItemText(set, true); len(got) > n {
		t.Errorf("maxItemText %d smaller than rendered %d", n, len(got))
	}
}

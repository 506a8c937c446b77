package scan

import (
	"time"

	"github.com/google/uuid"
)

// governor keeps the worker from running unboundedly ahead of the consumer
// and coalesces item notifications while the consumer is behind.
//
// The consumer signals wake (non-blocking, capacity 1) every time it
// acknowledges a batch; the worker only ever waits on wake inside throttle
// and never on the consumer directly.
type governor struct {
	run       uuid.UUID
	progress  *Progress
	events    *fifo[Event]
	wake      <-chan struct{}
	watermark int64
	scratch   *scratch
	maxItem   int
}

// commit records a completed item and decides whether to notify now.
func (g *governor) commit(text string, it *WorkItem) {
	if !g.scratch.Empty() && !g.scratch.Fits(len(text)) {
		g.flush()
	}
	g.scratch.Append(text, it)
	g.progress.Sent.Add(1)

	// Notify right away when the consumer has nothing left to process, or
	// when another item might not fit.
	if g.progress.Pending() == 0 || !g.scratch.Fits(g.maxItem) {
		g.flush()
	}
}

// flushIfIdle delivers buffered text once the consumer has drained; the
// worker calls it while streaming a long file.
func (g *governor) flushIfIdle() {
	if !g.scratch.Empty() && g.progress.Pending() == 0 {
		g.flush()
	}
}

// flush delivers the scratch buffer as one ItemsUpdated event.
func (g *governor) flush() {
	if g.scratch.Empty() {
		return
	}
	text, items := g.scratch.Take()
	// Delivered is bumped before the push so the consumer can never
	// acknowledge more than has been delivered.
	g.progress.Delivered.Add(int64(len(items)))
	g.events.Push(Event{
		Kind:  EventItemsUpdated,
		Run:   g.run,
		At:    time.Now(),
		Text:  text,
		Items: items,
	})
}

// throttle blocks while the backlog exceeds the watermark. Anything still
// buffered is flushed first, otherwise the consumer could never catch up.
// It returns false if stop was closed while waiting.
func (g *governor) throttle(stop <-chan struct{}) bool {
	if g.progress.Backlog() <= g.watermark {
		return true
	}
	g.flush()
	for g.progress.Backlog() > g.watermark {
		select {
		case <-g.wake:
		case <-stop:
			return false
		}
	}
	return true
}

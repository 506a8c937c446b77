package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/hashcheck/internal/digest"
)

// worker runs one pass over the source. It owns its read buffer, hash
// engine and scratch buffer; nothing in it is touched by another goroutine
// except the atomic counters and the event queue.
type worker struct {
	c         *Controller
	run       uuid.UUID
	startedAt time.Time
	cfg       Config
	src       Source
	progress  *Progress
	events    *fifo[Event]
	stop      <-chan struct{}

	engine digest.Engine
	buf    []byte
	gov    *governor
	ticker progressTicker
}

func newWorker(c *Controller, run uuid.UUID, startedAt time.Time, cfg Config) *worker {
	return &worker{
		c:         c,
		run:       run,
		startedAt: startedAt,
		cfg:       cfg,
		src:       c.src,
		progress:  &c.progress,
		events:    c.events,
		stop:      c.stop,
	}
}

func (w *worker) loop(ctx context.Context) {
	slog.Info("run started", "run", w.run, "algorithms", w.cfg.Algorithms)

	sum := w.execute(ctx)

	slog.Info("run finished", "run", w.run, "status", sum.Status(),
		"success", sum.Success, "total", sum.Total, "failed", sum.Failed,
		"duration", time.Since(w.startedAt).Round(time.Millisecond))
	if sum.Err != nil {
		slog.Error("run error", "run", w.run, "error", sum.Err)
	}
	w.c.finish(sum)
}

// execute processes items until the source is exhausted, the run is
// cancelled or a fatal error occurs. Every buffered result is delivered and
// every resource released before it returns.
func (w *worker) execute(ctx context.Context) *Summary {
	sum := &Summary{Run: w.run, StartedAt: w.startedAt}

	w.push(Event{Kind: EventPreparing, Preparing: true, Algorithms: w.cfg.Algorithms})
	err := w.src.Prepare(ctx)
	w.push(Event{Kind: EventPreparing, Preparing: false, Algorithms: w.cfg.Algorithms})
	sum.Total = w.src.Len()
	if err != nil {
		if ctx.Err() != nil {
			sum.Cancelled = true
		} else {
			sum.Err = fmt.Errorf("prepare source: %w", err)
		}
		return sum
	}
	w.progress.Total.Store(int64(sum.Total))

	w.buf = make([]byte, w.cfg.ReadBufferSize)
	w.gov = &governor{
		run:       w.run,
		progress:  w.progress,
		events:    w.events,
		wake:      w.c.wake,
		watermark: int64(w.cfg.Watermark),
		scratch:   newScratch(w.cfg.ScratchSize),
		maxItem:   maxItemText(w.cfg.Algorithms, w.cfg.Timed),
	}
	defer w.release()

	for {
		// A pause or stop requested while throttled applies to this
		// boundary, so the state is sampled after the wait.
		if !w.gov.throttle(w.stop) {
			sum.Cancelled = true
			break
		}
		if !w.c.boundary(w.gov.flush) {
			sum.Cancelled = true
			break
		}
		it, ok := w.src.Next()
		if !ok {
			break
		}
		if err := w.hashFile(it); err != nil {
			sum.Err = err
			break
		}
		if it.Result.ClearInvalid(w.cfg.Algorithms) {
			w.progress.Success.Add(1)
		}
		w.gov.commit(formatItem(it, w.cfg.Algorithms, w.cfg.Timed), it)
	}

	if sum.Err == nil {
		sum.Success = int(w.progress.Success.Load())
	}
	sum.Failed = int(w.progress.Failed.Load())
	sum.BytesRead = w.progress.BytesRead.Load()
	return sum
}

// release flushes what is still buffered so the consumer sees every
// processed item, then drops the run's resources.
func (w *worker) release() {
	w.gov.flush()
	w.gov.scratch.Release()
	w.engine.Discard()
	w.buf = nil
}

func (w *worker) push(ev Event) {
	ev.Run = w.run
	ev.At = time.Now()
	w.events.Push(ev)
}

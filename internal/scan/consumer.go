package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eargollo/hashcheck/internal/checksumfile"
	"github.com/eargollo/hashcheck/internal/digest"
)

// ErrNothingToSave is returned by Save when no item has a valid digest.
var ErrNothingToSave = errors.New("no digests to save")

// Sink receives the events of the current run, in order, on the consumer
// goroutine. Implementations must not retain ev.Items beyond the call
// unless they only read them; the items are rewritten by the next run.
type Sink interface {
	Preparing(ev *Event)
	ItemsUpdated(ev *Event)
	FileProgress(ev *Event)
	RunFinished(ev *Event)
}

// SupersededSink is implemented by sinks that also receive the RunFinished
// of a run replaced by a restart. None of that run's other events are shown.
type SupersededSink interface {
	RunSuperseded(ev *Event)
}

// MultiSink fans every event out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Preparing(ev *Event) {
	for _, s := range m {
		s.Preparing(ev)
	}
}

func (m MultiSink) ItemsUpdated(ev *Event) {
	for _, s := range m {
		s.ItemsUpdated(ev)
	}
}

func (m MultiSink) FileProgress(ev *Event) {
	for _, s := range m {
		s.FileProgress(ev)
	}
}

func (m MultiSink) RunFinished(ev *Event) {
	for _, s := range m {
		s.RunFinished(ev)
	}
}

func (m MultiSink) RunSuperseded(ev *Event) {
	for _, s := range m {
		if ss, ok := s.(SupersededSink); ok {
			ss.RunSuperseded(ev)
		}
	}
}

// Consumer drains a Controller's events into a Sink. Exactly one Consumer
// should run per Controller.
type Consumer struct {
	c    *Controller
	sink Sink

	mu      sync.Mutex
	pending *saveRequest
}

type saveRequest struct {
	alg  digest.Algorithm
	path string
	done chan error
}

// NewConsumer creates a Consumer.
func NewConsumer(c *Controller, sink Sink) *Consumer {
	return &Consumer{c: c, sink: sink}
}

// Run processes events until the controller is closed. Cancelling ctx
// closes the controller, which stops any live run; events already queued
// are still processed before Run returns.
func (k *Consumer) Run(ctx context.Context) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			k.c.Close()
		case <-stop:
		}
	}()

	for {
		ev, ok := k.c.Next()
		if !ok {
			k.abandonSave(errors.New("controller closed"))
			return
		}
		k.handle(&ev)
	}
}

// Drain processes queued events without blocking and returns how many it
// handled.
func (k *Consumer) Drain() int {
	n := 0
	for {
		ev, ok := k.c.TryNext()
		if !ok {
			return n
		}
		k.handle(&ev)
		n++
	}
}

func (k *Consumer) handle(ev *Event) {
	if k.c.Current(ev) {
		switch ev.Kind {
		case EventPreparing:
			k.sink.Preparing(ev)
		case EventItemsUpdated:
			ev.Handled = k.c.progress.Handled.Load() + int64(len(ev.Items))
			k.sink.ItemsUpdated(ev)
		case EventFileProgress:
			k.sink.FileProgress(ev)
		case EventRunFinished:
			k.sink.RunFinished(ev)
		}
	} else if ev.Kind == EventRunFinished {
		if ss, ok := k.sink.(SupersededSink); ok {
			ss.RunSuperseded(ev)
		}
	}
	k.c.Ack(ev)

	if ev.Kind == EventRunFinished && k.c.Current(ev) {
		k.completeSave(ev.Summary)
	}
}

// Save writes the digests of alg for every item to path. If alg has not
// been computed yet it is added to the algorithm set and a restart is
// requested; the file is written when that run completes. Save blocks
// until the file is written, the run is interrupted or ctx is done.
func (k *Consumer) Save(ctx context.Context, alg digest.Algorithm, path string) error {
	if !alg.Valid() {
		return fmt.Errorf("save: unknown algorithm %d", int(alg))
	}

	var computed bool
	err := k.c.Inspect(func(src Source) error {
		computed = hasDigest(src, alg)
		if computed {
			return writeChecksums(src, alg, path)
		}
		return nil
	})
	if err != nil || computed {
		return err
	}

	req := &saveRequest{alg: alg, path: path, done: make(chan error, 1)}
	k.mu.Lock()
	if k.pending != nil {
		k.mu.Unlock()
		return ErrBusy
	}
	k.pending = req
	k.mu.Unlock()

	// The run outlives this call; keep ctx values but not its deadline.
	if err := k.c.Restart(context.WithoutCancel(ctx), k.c.Algorithms()|alg.Bit()); err != nil {
		k.abandonSave(err)
	}
	slog.Info("save waiting for digests", "algorithm", alg, "path", path)

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		// Withdraw the request so the restarted run does not write a file
		// the caller no longer expects.
		k.mu.Lock()
		if k.pending == req {
			k.pending = nil
		}
		k.mu.Unlock()
		return ctx.Err()
	}
}

func (k *Consumer) completeSave(sum *Summary) {
	k.mu.Lock()
	req := k.pending
	k.pending = nil
	k.mu.Unlock()
	if req == nil {
		return
	}

	if sum.Cancelled || sum.Err != nil {
		slog.Warn("save abandoned, run interrupted", "path", req.path)
		req.done <- fmt.Errorf("save %q: run interrupted", req.path)
		return
	}
	err := k.c.Inspect(func(src Source) error {
		return writeChecksums(src, req.alg, req.path)
	})
	if err == nil {
		slog.Info("checksums saved", "algorithm", req.alg, "path", req.path)
	}
	req.done <- err
}

func (k *Consumer) abandonSave(cause error) {
	k.mu.Lock()
	req := k.pending
	k.pending = nil
	k.mu.Unlock()
	if req != nil {
		req.done <- fmt.Errorf("save %q: %w", req.path, cause)
	}
}

// hasDigest reports whether the last item carries a valid digest for alg.
// Items are computed in order, so that means the whole list has it.
func hasDigest(src Source, alg digest.Algorithm) bool {
	src.Reset()
	defer src.Reset()
	var last *WorkItem
	for it, ok := src.Next(); ok; it, ok = src.Next() {
		last = it
	}
	return last != nil && last.Result.Valid.Has(alg)
}

func writeChecksums(src Source, alg digest.Algorithm, path string) error {
	src.Reset()
	defer src.Reset()
	var entries []checksumfile.Entry
	for it, ok := src.Next(); ok; it, ok = src.Next() {
		hex, valid := it.Result.Hex(alg)
		if !valid {
			continue
		}
		entries = append(entries, checksumfile.Entry{Path: it.Rel, Hex: hex})
	}
	if len(entries) == 0 {
		return ErrNothingToSave
	}
	if err := checksumfile.WriteFile(path, alg, entries); err != nil {
		return fmt.Errorf("save %q: %w", path, err)
	}
	return nil
}

package scan

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

const (
	progressIdleInterval = 50 * time.Millisecond
	progressBusyInterval = 500 * time.Millisecond
)

// progressTicker rate-limits FileProgress events. While the consumer is
// keeping up it reports often; when it is behind the interval widens so
// progress does not add to the backlog.
type progressTicker struct {
	last time.Time
}

func (t *progressTicker) due(now time.Time, backlogged bool) bool {
	interval := progressIdleInterval
	if backlogged {
		interval = progressBusyInterval
	}
	if now.Sub(t.last) < interval {
		return false
	}
	t.last = now
	return true
}

// hashFile computes the digests of it that are requested but not yet
// valid. I/O errors are recorded on the item (every digest invalidated)
// and are not returned; only a failure to initialise the engine is, and
// that ends the run.
func (w *worker) hashFile(it *WorkItem) error {
	start := time.Now()
	defer func() { it.Elapsed = time.Since(start) }()

	missing := it.Result.Missing(w.cfg.Algorithms)
	if missing == 0 {
		return nil
	}
	if err := w.engine.Init(missing); err != nil {
		return fmt.Errorf("init engine for %s: %w", it.Path, err)
	}

	f, err := os.Open(it.Path)
	if err != nil {
		w.fail(it, "open", err)
		return nil
	}
	defer f.Close()

	var done int64
	w.ticker = progressTicker{}
	w.reportProgress(it, done, true)
	for {
		n, err := f.Read(w.buf)
		if n > 0 {
			if uerr := w.engine.Update(w.buf[:n]); uerr != nil {
				w.fail(it, "hash", uerr)
				return nil
			}
			done += int64(n)
			w.progress.BytesRead.Add(int64(n))
			w.reportProgress(it, done, false)
			w.gov.flushIfIdle()
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.fail(it, "read", err)
			return nil
		}
	}
	if done != it.Size {
		// The file changed size since it was listed; report where it ended.
		w.reportProgress(it, done, true)
	}

	if err := w.engine.Finish(&it.Result, w.cfg.Uppercase); err != nil {
		return fmt.Errorf("finish digests for %s: %w", it.Path, err)
	}
	return nil
}

func (w *worker) reportProgress(it *WorkItem, done int64, force bool) {
	now := time.Now()
	if !force && done < it.Size && !w.ticker.due(now, w.progress.Pending() > 0) {
		return
	}
	if force {
		w.ticker.last = now
	}
	w.push(Event{
		Kind: EventFileProgress,
		Path: it.Rel,
		Done: done,
		Size: it.Size,
	})
}

// fail marks every digest of it invalid after an I/O error.
func (w *worker) fail(it *WorkItem, stage string, err error) {
	slog.Warn("hash file", "path", it.Path, "stage", stage, "error", err)
	w.engine.Discard()
	it.Result.Invalidate()
	w.progress.Failed.Add(1)
}

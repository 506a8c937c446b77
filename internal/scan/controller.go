package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/hashcheck/internal/digest"
)

// ErrAlreadyRunning is returned when a run is started while one is in progress.
var ErrAlreadyRunning = errors.New("a run is already in progress")

// ErrNoActiveRun is returned when pause or stop is called with no run active.
var ErrNoActiveRun = errors.New("no run is currently active")

// ErrNotReset is returned by Start when the previous run has completed but
// the controller has not been reset.
var ErrNotReset = errors.New("previous run has not been reset")

// ErrBusy is returned when an operation needs the worker to be idle.
var ErrBusy = errors.New("controller is busy")

// State is the worker state machine:
//
//	Inactive -> Active <-> Paused
//	Active, Paused -> CancelRequested
//	Active, CancelRequested -> CleanupCompleted -> Inactive
type State int

const (
	Inactive State = iota
	Active
	Paused
	CancelRequested
	CleanupCompleted
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Paused:
		return "paused"
	case CancelRequested:
		return "cancel_requested"
	case CleanupCompleted:
		return "cleanup_completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the run parameters.
type Config struct {
	Algorithms     digest.Set
	Uppercase      bool
	Watermark      int // backlog depth that throttles the worker
	ReadBufferSize int
	ScratchSize    int
	Timed          bool // append per-file elapsed time to the text
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Algorithms:     digest.DefaultSet,
		Watermark:      50,
		ReadBufferSize: 256 * 1024,
		ScratchSize:    64 * 1024,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Watermark <= 0 {
		c.Watermark = d.Watermark
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.ScratchSize <= 0 {
		c.ScratchSize = d.ScratchSize
	}
}

// Status is a snapshot of the controller.
type Status struct {
	State       State
	Run         uuid.UUID
	StartedAt   time.Time
	Algorithms  digest.Set
	Restarting  bool
	Interrupted bool
	Idle        bool // a new run can be started after Reset
	Progress    Snapshot
}

// Controller owns the worker goroutine and its state machine. It runs at
// most one worker at a time and is safe for concurrent use.
//
// The worker reports through a FIFO of Events which one consumer drains
// with Next and acknowledges with Ack.
type Controller struct {
	mu       sync.Mutex
	cfg      Config
	src      Source
	progress Progress
	events   *fifo[Event]
	wake     chan struct{}

	state       State
	parent      context.Context
	run         uuid.UUID
	startedAt   time.Time
	resume      chan struct{} // closed to leave Paused; nil unless Paused
	stop        chan struct{} // closed by Stop
	cancel      context.CancelFunc
	done        chan struct{} // closed when the run reaches CleanupCompleted
	restarting  bool
	interrupted bool
	settled     bool // the consumer has acknowledged RunFinished of run

	// spawn starts fn on a new goroutine. Tests replace it to simulate a
	// failure to start the worker.
	spawn func(fn func()) error
}

// NewController creates an Inactive controller over src.
func NewController(src Source, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:    cfg,
		src:    src,
		events: newFIFO[Event](),
		wake:   make(chan struct{}, 1),
		parent: context.Background(),
		spawn: func(fn func()) error {
			go fn()
			return nil
		},
	}
}

// Start launches a run. The controller must be Inactive.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Inactive:
	case CleanupCompleted:
		return c.statusLocked(), ErrNotReset
	default:
		return c.statusLocked(), ErrAlreadyRunning
	}
	if ctx != nil {
		c.parent = ctx
	}
	c.restarting = false
	err := c.launchLocked()
	return c.statusLocked(), err
}

// TogglePause moves Active to Paused and back. The pause takes effect at
// the next item boundary. Returns the new state.
func (c *Controller) TogglePause() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Active:
		c.state = Paused
		c.resume = make(chan struct{})
		slog.Info("run pause requested", "run", c.run)
	case Paused:
		c.state = Active
		close(c.resume)
		c.resume = nil
		slog.Info("run resumed", "run", c.run)
	default:
		return c.state, ErrNoActiveRun
	}
	return c.state, nil
}

// Stop requests cancellation. The file being hashed is finished first.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Active, Paused:
		c.stopLocked()
		return nil
	case CancelRequested:
		return nil
	default:
		return ErrNoActiveRun
	}
}

func (c *Controller) stopLocked() {
	if c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
	c.state = CancelRequested
	close(c.stop)
	c.cancel()
	slog.Info("run cancel requested", "run", c.run)
}

// Reset returns a completed controller to Inactive so it can Start again.
// It fails with ErrBusy until the consumer has handled every item and the
// summary of the finished run, since the next run rewrites those items in
// place.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Inactive:
		return nil
	case CleanupCompleted:
		if !c.idleLocked() {
			return ErrBusy
		}
		c.state = Inactive
		return nil
	default:
		return ErrAlreadyRunning
	}
}

// Restart replaces the algorithm set and runs again, computing per item
// only the digests that are not already valid. A live run is stopped
// first. The new run is launched once the old one has cleaned up and the
// consumer has handled every notification already sent, so stale and
// fresh results for an item never interleave.
func (c *Controller) Restart(ctx context.Context, set digest.Set) error {
	if unk := set.Unknown(); unk != 0 {
		return fmt.Errorf("restart: unknown algorithm bits %#x", uint32(unk))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.Algorithms = set
	if ctx != nil {
		c.parent = ctx
	}
	c.restarting = true
	if c.state == Active || c.state == Paused {
		c.stopLocked()
	}
	slog.Info("run restart requested", "algorithms", set)
	c.tryRelaunchLocked()
	return nil
}

func (c *Controller) tryRelaunchLocked() {
	if !c.restarting {
		return
	}
	if c.state != CleanupCompleted && c.state != Inactive {
		return
	}
	if c.progress.Handled.Load() < c.progress.Sent.Load() {
		return
	}
	c.restarting = false
	c.state = Inactive
	if err := c.launchLocked(); err != nil {
		slog.Error("restart run", "error", err)
	}
}

// launchLocked starts a new run. On failure to start the worker, it
// cleans up synchronously and the run ends in CleanupCompleted without
// having been Active.
func (c *Controller) launchLocked() error {
	runCtx, cancel := context.WithCancel(c.parent)
	c.run = uuid.New()
	c.startedAt = time.Now()
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.resume = nil
	c.cancel = cancel
	c.interrupted = false
	c.settled = false
	c.progress.resetRun()

	w := newWorker(c, c.run, c.startedAt, c.cfg)
	if err := c.spawn(func() { w.loop(runCtx) }); err != nil {
		err = fmt.Errorf("start worker: %w", err)
		slog.Error("run failed to start", "run", c.run, "error", err)
		c.finishLocked(&Summary{
			Run:       c.run,
			StartedAt: c.startedAt,
			Total:     c.src.Len(),
			Err:       err,
		})
		return err
	}
	c.state = Active
	return nil
}

// finish is called by the worker once it has left its loop and released
// its resources.
func (c *Controller) finish(sum *Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked(sum)
	c.tryRelaunchLocked()
}

func (c *Controller) finishLocked(sum *Summary) {
	c.state = CleanupCompleted
	c.interrupted = sum.Cancelled || sum.Err != nil
	c.resume = nil
	c.cancel()
	c.events.Push(Event{
		Kind:    EventRunFinished,
		Run:     sum.Run,
		At:      time.Now(),
		Summary: sum,
	})
	close(c.done)
}

// boundary is called by the worker between items. It blocks while the run
// is Paused (after flush has delivered anything buffered) and reports
// whether the worker may continue.
func (c *Controller) boundary(flush func()) bool {
	c.mu.Lock()
	st, resume, stop := c.state, c.resume, c.stop
	c.mu.Unlock()

	if st == Paused {
		flush()
	}
	for st == Paused {
		select {
		case <-resume:
		case <-stop:
		}
		c.mu.Lock()
		st, resume = c.state, c.resume
		c.mu.Unlock()
	}
	return st != CancelRequested
}

// Next blocks until the next event is available. It returns false once the
// controller is closed and every event has been drained.
func (c *Controller) Next() (Event, bool) { return c.events.Pop() }

// TryNext returns the next event without blocking.
func (c *Controller) TryNext() (Event, bool) { return c.events.TryPop() }

// Current reports whether ev belongs to the current run and should be
// shown. Events of a run being replaced are acknowledged but not shown.
func (c *Controller) Current(ev *Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ev.Run == c.run && !c.restarting
}

// Ack marks an event as processed by the consumer. For ItemsUpdated it
// advances Handled and wakes a throttled worker; it also launches a
// pending restart once the consumer has caught up.
func (c *Controller) Ack(ev *Event) {
	if ev.Kind == EventItemsUpdated && len(ev.Items) > 0 {
		c.progress.Handled.Add(int64(len(ev.Items)))
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Kind == EventRunFinished && ev.Run == c.run {
		c.settled = true
	}
	c.tryRelaunchLocked()
}

// idleLocked reports whether nothing of the last run is still in flight:
// the worker is gone and the consumer has processed all of its events.
func (c *Controller) idleLocked() bool {
	switch c.state {
	case Inactive:
		return !c.restarting
	case CleanupCompleted:
		return !c.restarting && c.settled && c.progress.Backlog() == 0
	default:
		return false
	}
}

// Wait blocks until the current run reaches CleanupCompleted.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inspect runs fn with the source while no run is live, so fn can read
// the items without racing the worker.
func (c *Controller) Inspect(fn func(Source) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restarting || c.state == Active || c.state == Paused || c.state == CancelRequested {
		return ErrBusy
	}
	return fn(c.src)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run returns the ID of the current (or last) run.
func (c *Controller) Run() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run
}

// Algorithms returns the set used by the current or next run.
func (c *Controller) Algorithms() digest.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Algorithms
}

// Progress exposes the live counters.
func (c *Controller) Progress() *Progress { return &c.progress }

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:       c.state,
		Run:         c.run,
		StartedAt:   c.startedAt,
		Algorithms:  c.cfg.Algorithms,
		Restarting:  c.restarting,
		Interrupted: c.interrupted,
		Idle:        c.idleLocked(),
		Progress:    c.progress.Snapshot(),
	}
}

// Close stops any live run, waits for it to clean up and closes the event
// queue. Events already queued can still be drained with Next.
func (c *Controller) Close() {
	c.mu.Lock()
	c.restarting = false
	if c.state == Active || c.state == Paused {
		c.stopLocked()
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.events.Close()
}

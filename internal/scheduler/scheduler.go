package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job describes one registered job.
type Job struct {
	Name string     `json:"name"`
	Cron string     `json:"cron"`
	Next *time.Time `json:"next,omitempty"`
}

// Scheduler wraps robfig/cron with named jobs that can be replaced or
// removed while it is running.
type Scheduler struct {
	mu   sync.RWMutex
	c    *cron.Cron
	jobs map[string]entry
}

type entry struct {
	id   cron.EntryID
	expr string
}

// New creates a stopped Scheduler. Call Start to activate it.
func New() *Scheduler {
	return &Scheduler{
		c:    cron.New(),
		jobs: make(map[string]entry),
	}
}

// Set registers fn under name, replacing any job of the same name. An
// empty expression removes the job.
func (s *Scheduler) Set(name, expr string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.c.Remove(old.id)
		delete(s.jobs, name)
	}
	if expr == "" {
		slog.Info("scheduler: job removed", "job", name)
		return nil
	}

	id, err := s.c.AddFunc(expr, func() {
		slog.Info("scheduler: job triggered", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.jobs[name] = entry{id: id, expr: expr}
	slog.Info("scheduler: job set", "job", name, "cron", expr)
	return nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop halts the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}

// NextRunAt returns the next scheduled time of name, or nil if no such
// job is set or the scheduler is not running.
func (s *Scheduler) NextRunAt(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[name]
	if !ok {
		return nil
	}
	ce := s.c.Entry(e.id)
	if ce.ID == 0 || ce.Next.IsZero() {
		return nil
	}
	t := ce.Next
	return &t
}

// Jobs lists the registered jobs sorted by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.RLock()
	names := make([]string, 0, len(s.jobs))
	exprs := make(map[string]string, len(s.jobs))
	for name, e := range s.jobs {
		names = append(names, name)
		exprs[name] = e.expr
	}
	s.mu.RUnlock()

	sort.Strings(names)
	out := make([]Job, len(names))
	for i, name := range names {
		out[i] = Job{Name: name, Cron: exprs[name], Next: s.NextRunAt(name)}
	}
	return out
}

package scan

import (
	"time"

	"github.com/google/uuid"

	"github.com/eargollo/hashcheck/internal/digest"
)

// EventKind distinguishes the notifications a run delivers.
type EventKind int

const (
	// EventPreparing brackets source expansion (Preparing true, then false).
	EventPreparing EventKind = iota
	// EventItemsUpdated carries the coalesced text of completed items.
	EventItemsUpdated
	// EventFileProgress reports bytes read in the current file.
	EventFileProgress
	// EventRunFinished is the last event of a run.
	EventRunFinished
)

func (k EventKind) String() string {
	switch k {
	case EventPreparing:
		return "preparing"
	case EventItemsUpdated:
		return "items_updated"
	case EventFileProgress:
		return "file_progress"
	case EventRunFinished:
		return "run_finished"
	default:
		return "unknown"
	}
}

// Event is one notification from the worker to the consumer. Only the
// fields of its Kind are set.
type Event struct {
	Kind EventKind
	Run  uuid.UUID
	At   time.Time

	// Preparing.
	Preparing  bool
	Algorithms digest.Set

	// ItemsUpdated. Handled is zero as queued; the consumer sets it to the
	// handled count including this batch before showing it.
	Text    string
	Items   []*WorkItem
	Handled int64

	// FileProgress.
	Path string
	Done int64
	Size int64

	// RunFinished.
	Summary *Summary
}

// Summary describes a finished run.
type Summary struct {
	Run       uuid.UUID
	StartedAt time.Time
	Success   int
	Total     int
	Failed    int
	BytesRead int64
	Cancelled bool
	// Err is set when the run ended on a fatal error.
	Err error
}

// Status renders the outcome as stored in run history.
func (s *Summary) Status() string {
	switch {
	case s.Err != nil:
		return "failed"
	case s.Cancelled:
		return "cancelled"
	default:
		return "completed"
	}
}

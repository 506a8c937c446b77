// Package report keeps the human-readable view of a run: the accumulated
// per-file text, progress of the file being hashed and the final status
// line.
package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/eargollo/hashcheck/internal/digest"
	"github.com/eargollo/hashcheck/internal/scan"
)

// ErrEmptyQuery is returned by Find for a blank search string.
var ErrEmptyQuery = errors.New("empty search query")

// FileProgress is the last progress reported for the file being hashed.
type FileProgress struct {
	Path string `json:"path"`
	Done int64  `json:"done"`
	Size int64  `json:"size"`
}

// View is a snapshot of a Transcript.
type View struct {
	Run        uuid.UUID     `json:"run"`
	Algorithms []string      `json:"algorithms"`
	Preparing  bool          `json:"preparing"`
	Handled    int64         `json:"handled"`
	Current    *FileProgress `json:"current,omitempty"`
	Status     string        `json:"status,omitempty"`
	Finished   bool          `json:"finished"`
	TextBytes  int           `json:"text_bytes"`
}

// Transcript is a scan.Sink that accumulates what a results window would
// show. It is safe to read from other goroutines while the consumer
// writes to it. If Out is set, item text and the final status are also
// written there as they arrive.
type Transcript struct {
	Out   io.Writer
	Timed bool // append the run duration to the status line

	mu         sync.RWMutex
	text       strings.Builder
	run        uuid.UUID
	algorithms digest.Set
	preparing  bool
	handled    int64
	current    *FileProgress
	status     string
	finished   bool
}

// NewTranscript creates a Transcript mirroring to out (may be nil).
func NewTranscript(out io.Writer) *Transcript {
	return &Transcript{Out: out}
}

func (t *Transcript) Preparing(ev *scan.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Preparing {
		// A new run re-renders every item, so start from a clean slate.
		t.text.Reset()
		t.run = ev.Run
		t.algorithms = ev.Algorithms
		t.handled = 0
		t.current = nil
		t.status = ""
		t.finished = false
	}
	t.preparing = ev.Preparing
}

func (t *Transcript) ItemsUpdated(ev *scan.Event) {
	t.mu.Lock()
	t.text.WriteString(ev.Text)
	t.handled = ev.Handled
	t.mu.Unlock()
	t.mirror(ev.Text)
}

func (t *Transcript) FileProgress(ev *scan.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = &FileProgress{Path: ev.Path, Done: ev.Done, Size: ev.Size}
}

func (t *Transcript) RunFinished(ev *scan.Event) {
	status := FinalStatus(ev.Summary)
	if t.Timed {
		status += fmt.Sprintf(" in %d ms", ev.At.Sub(ev.Summary.StartedAt).Milliseconds())
	}
	t.mu.Lock()
	t.status = status
	t.current = nil
	t.finished = true
	t.mu.Unlock()
	t.mirror(status + "\n")
}

func (t *Transcript) mirror(s string) {
	if t.Out == nil || s == "" {
		return
	}
	if _, err := io.WriteString(t.Out, s); err != nil {
		slog.Warn("write transcript", "error", err)
	}
}

// Text returns the accumulated result text.
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.text.String()
}

// View returns a snapshot for status reporting.
func (t *Transcript) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v := View{
		Run:        t.run,
		Algorithms: t.algorithms.Names(),
		Preparing:  t.preparing,
		Handled:    t.handled,
		Status:     t.status,
		Finished:   t.finished,
		TextBytes:  t.text.Len(),
	}
	if t.current != nil {
		cur := *t.current
		v.Current = &cur
	}
	return v
}

// Find searches the text for q, ignoring case and surrounding whitespace,
// starting at byte offset from and wrapping around to the beginning. It
// returns the offset of the match and its length, or -1 when q does not
// occur.
func (t *Transcript) Find(q string, from int) (int, int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return -1, 0, ErrEmptyQuery
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	hay := t.text.String()
	if from < 0 || from > len(hay) {
		from = 0
	}
	if i := indexFold(hay[from:], q); i >= 0 {
		return from + i, len(q), nil
	}
	if i := indexFold(hay, q); i >= 0 {
		return i, len(q), nil
	}
	return -1, 0, nil
}

func indexFold(s, substr string) int {
	n := len(substr)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], substr) {
			return i
		}
	}
	return -1
}

// FinalStatus renders the status line for a finished run, e.g.
// "3 of 3 files hashed successfully, 10 MB read".
func FinalStatus(sum *scan.Summary) string {
	noun := "files"
	if sum.Total == 1 {
		noun = "file"
	}
	s := fmt.Sprintf("%s of %s %s hashed successfully",
		humanize.Comma(int64(sum.Success)), humanize.Comma(int64(sum.Total)), noun)
	if sum.BytesRead > 0 {
		s += ", " + humanize.Bytes(uint64(sum.BytesRead)) + " read"
	}
	switch {
	case sum.Err != nil:
		s += " (failed: " + sum.Err.Error() + ")"
	case sum.Cancelled:
		s += " (stopped)"
	}
	return s
}

// Elapsed formats how long ago t was, for log and status output.
func Elapsed(t time.Time) string {
	return humanize.Time(t)
}

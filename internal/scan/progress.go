package scan

import "sync/atomic"

// Progress holds the live counters shared by the worker and the consumer.
// All fields are atomic so they can be written from the worker goroutine and
// read from the consumer or the HTTP handlers without locks.
//
// Sent and Delivered are written only by the worker, Handled only by the
// consumer (through Controller.Ack). Sent >= Delivered >= Handled holds at
// every point: an item is counted as sent before its text can be delivered,
// and delivered before the consumer can acknowledge it.
type Progress struct {
	Sent      atomic.Int64 // items completed and committed for delivery
	Delivered atomic.Int64 // items carried by queued ItemsUpdated events
	Handled   atomic.Int64 // items the consumer has finished processing

	// Per run; reset when a run starts.
	Success   atomic.Int64 // items with every requested digest valid
	Failed    atomic.Int64 // items whose file could not be read
	Total     atomic.Int64 // items in the source
	BytesRead atomic.Int64
}

// Backlog is the number of items produced but not yet handled.
func (p *Progress) Backlog() int64 {
	// Load Handled first: it can only grow, so the difference never goes
	// negative even if Sent moves in between.
	h := p.Handled.Load()
	return p.Sent.Load() - h
}

// Pending is the number of delivered items the consumer has not handled.
func (p *Progress) Pending() int64 {
	h := p.Handled.Load()
	return p.Delivered.Load() - h
}

// Snapshot is a plain copy of Progress.
type Snapshot struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Handled   int64 `json:"handled"`
	Success   int64 `json:"success"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
	BytesRead int64 `json:"bytes_read"`
}

// Snapshot copies the counters. Handled is read first so Sent >= Handled
// also holds within the copy.
func (p *Progress) Snapshot() Snapshot {
	h := p.Handled.Load()
	d := p.Delivered.Load()
	return Snapshot{
		Handled:   h,
		Delivered: d,
		Sent:      p.Sent.Load(),
		Success:   p.Success.Load(),
		Failed:    p.Failed.Load(),
		Total:     p.Total.Load(),
		BytesRead: p.BytesRead.Load(),
	}
}

func (p *Progress) resetRun() {
	p.Success.Store(0)
	p.Failed.Store(0)
	p.Total.Store(0)
	p.BytesRead.Store(0)
}

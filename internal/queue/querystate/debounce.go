// internal/queue/querystate/debounce.go
package querystate

import (
	"sync"
	"time"
)

// Debouncer delays committing a search term until the keystrokes go quiet.
// A new Schedule inside the window cancels the pending commit and restarts
// the timer. Pending is exposed so the caller can render an in-progress
// indicator between typing and commit.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	commit  func(term string)
	timer   *time.Timer
	pending string
	armed   bool
}

// NewDebouncer creates a debouncer that calls commit once per quiet period.
// commit runs on the timer goroutine; callers that mutate shared state from
// it must synchronize on their side.
func NewDebouncer(quiet time.Duration, commit func(term string)) *Debouncer {
	return &Debouncer{
		quiet:  quiet,
		commit: commit,
	}
}

// Schedule records term as the pending search and restarts the quiet-period
// timer.
func (d *Debouncer) Schedule(term string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = term
	d.armed = true
	d.timer = time.AfterFunc(d.quiet, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	term := d.pending
	d.armed = false
	d.pending = ""
	d.mu.Unlock()

	d.commit(term)
}

// Cancel drops the pending term without committing it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.armed = false
	d.pending = ""
}

// Flush commits the pending term immediately, if any.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	term := d.pending
	d.armed = false
	d.pending = ""
	d.mu.Unlock()

	d.commit(term)
}

// Pending returns the uncommitted term and whether one is waiting.
func (d *Debouncer) Pending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.armed
}

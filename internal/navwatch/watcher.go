package navwatch

import (
	"log/slog"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/eventloop"
)

// DefaultSettleDelay lets a single-page app populate its new view before
// detection reads the title and heading.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher infers in-page route changes from mutation batches. All methods
// must be called on the scheduler.
type Watcher struct {
	sched   eventloop.Scheduler
	settle  time.Duration
	onRoute func()

	last string
}

// New creates a Watcher that calls onRoute once a changed address has
// settled. initial is the address at injection time.
func New(sched eventloop.Scheduler, settle time.Duration, initial string, onRoute func()) *Watcher {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Watcher{sched: sched, settle: settle, onRoute: onRoute, last: initial}
}

// Observe records the address seen with a mutation batch or in-document
// navigation event.
func (w *Watcher) Observe(address string) {
	if address == "" || address == w.last {
		return
	}
	slog.Debug("navwatch route change", "from", w.last, "to", address)
	w.last = address
	captured := address
	w.sched.After(w.settle, func() {
		// A newer navigation superseded this one; its own timer will fire.
		if w.last != captured {
			slog.Debug("navwatch settle timer superseded", "captured", captured, "current", w.last)
			return
		}
		w.onRoute()
	})
}

// Current returns the last observed address.
func (w *Watcher) Current() string {
	return w.last
}

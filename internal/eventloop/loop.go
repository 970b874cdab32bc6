// Package eventloop provides the single-threaded scheduler each tab controller
// runs on. Every callback (bridge events, timers, fetch outcomes, API
// commands) is executed on the loop goroutine, one at a time, so controller
// state needs no locks.
package eventloop

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs callbacks serially.
type Scheduler interface {
	// Post queues f to run on the loop. It returns false when the loop has stopped.
	Post(f func()) bool
	// After queues f to run on the loop once d has elapsed.
	After(d time.Duration, f func()) Timer
	Now() time.Time
}

// Timer is a pending After callback.
type Timer interface {
	Stop() bool
}

// Loop is the production Scheduler backed by a goroutine. Its queue is
// unbounded so Post never blocks, including from the loop itself.
type Loop struct {
	name string
	wake chan struct{}
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	queue []func()
}

// New creates a Loop; call Run to start processing.
func New(name string) *Loop {
	return &Loop{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			f, ok := l.next()
			if !ok {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			default:
			}
			l.runTask(f)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	f := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return f, true
}

func (l *Loop) runTask(f func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("eventloop task panicked", "loop", l.name, "panic", r)
		}
	}()
	f()
}

// Stop ends the loop. Pending tasks are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.done)
		l.mu.Lock()
		l.queue = nil
		l.mu.Unlock()
	})
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) Post(f func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	l.mu.Lock()
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) After(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		if !l.Post(f) {
			slog.Debug("eventloop timer dropped after stop", "loop", l.name)
		}
	})
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// Call runs f on the loop and waits for it to finish, or for ctx.
func Call(ctx context.Context, s Scheduler, f func()) error {
	done := make(chan struct{})
	if !s.Post(func() {
		defer close(done)
		f()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

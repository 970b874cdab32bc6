package eventloop

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStopped is returned by Call when the scheduler no longer accepts work.
var ErrStopped = errors.New("eventloop: stopped")

// Manual is a deterministic Scheduler with virtual time. Nothing runs until
// the test calls RunPending or Advance. Post is safe from any goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	queue   []func()
	timers  []*manualTimer
	seq     int
	stopped bool
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	seq     int
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a Manual scheduler starting at a fixed instant.
func NewManual() *Manual {
	return &Manual{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (m *Manual) Post(f func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return false
	}
	m.queue = append(m.queue, f)
	return true
}

func (m *Manual) After(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), seq: m.seq, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Stop makes further Post calls fail.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
}

// RunPending runs queued tasks, including tasks they queue, until the queue
// is empty. It returns the number of tasks run.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		f := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		f()
		n++
	}
}

// Advance moves virtual time forward by d, firing due timers in order and
// draining the queue after each one.
func (m *Manual) Advance(d time.Duration) {
	m.RunPending()
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].at.Equal(m.timers[j].at) {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].at.Before(m.timers[j].at)
		})
		var next *manualTimer
		for len(m.timers) > 0 {
			t := m.timers[0]
			if t.stopped {
				m.timers = m.timers[1:]
				continue
			}
			if t.at.After(target) {
				break
			}
			next = t
			m.timers = m.timers[1:]
			break
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			m.RunPending()
			return
		}
		next.stopped = true
		m.now = next.at
		m.mu.Unlock()

		next.f()
		m.RunPending()
	}
}

// PendingTimers reports how many timers have not fired or been stopped.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	if err := Call(ctx, l, func() {}); err != nil {
		t.Fatalf("Call() = %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v; want ascending", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks; want 5", len(got))
	}
}

func TestLoopSurvivesPanickingTask(t *testing.T) {
	l := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })
	var ran atomic.Bool
	if err := Call(ctx, l, func() { ran.Store(true) }); err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if !ran.Load() {
		t.Fatalf("task after panic did not run")
	}
}

func TestLoopPostFromLoopNeverBlocks(t *testing.T) {
	l := New("test")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go l.Run(ctx)

	const n = 4 * 256
	var ran atomic.Int32
	err := Call(ctx, l, func() {
		for i := 0; i < n; i++ {
			if !l.Post(func() { ran.Add(1) }) {
				t.Errorf("Post() from loop = false; want true")
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("Call() = %v; want posting from the loop to return", err)
	}
	if err := Call(ctx, l, func() {}); err != nil {
		t.Fatalf("Call() = %v", err)
	}
	if got := ran.Load(); got != n {
		t.Fatalf("ran %d tasks; want %d", got, n)
	}
}

func TestLoopPostAfterStop(t *testing.T) {
	l := New("test")
	l.Stop()
	if l.Post(func() {}) {
		t.Fatalf("Post() after Stop = true; want false")
	}
	if err := Call(context.Background(), l, func() {}); err != ErrStopped {
		t.Fatalf("Call() after Stop = %v; want ErrStopped", err)
	}
}

func TestLoopAfterPostsToLoop(t *testing.T) {
	l := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.After(10*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("After callback did not fire")
	}
}

func TestManualAdvanceFiresTimersInOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.After(300*time.Millisecond, func() { got = append(got, "b") })
	m.After(100*time.Millisecond, func() {
		got = append(got, "a")
		m.Post(func() { got = append(got, "a-post") })
	})
	stopped := m.After(200*time.Millisecond, func() { got = append(got, "never") })
	stopped.Stop()

	m.Advance(250 * time.Millisecond)
	if want := "a,a-post"; join(got) != want {
		t.Fatalf("after 250ms got %q; want %q", join(got), want)
	}
	if m.PendingTimers() != 1 {
		t.Fatalf("PendingTimers() = %d; want 1", m.PendingTimers())
	}
	m.Advance(time.Second)
	if want := "a,a-post,b"; join(got) != want {
		t.Fatalf("after 1.25s got %q; want %q", join(got), want)
	}
}

func join(s []string) string {
	out := ""
	for i, v := range s {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

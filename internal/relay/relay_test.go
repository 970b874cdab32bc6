package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func waitClients(t *testing.T, b *Broker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ClientCount() = %d; want %d", b.ClientCount(), n)
}

func TestBrokerDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Event{Feed: "panel", Payload: "{}"})
	}
	if len(ch) != subscriberBufSize {
		t.Fatalf("queued = %d; want %d", len(ch), subscriberBufSize)
	}
	b.Unsubscribe(id)
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d; want 0", b.ClientCount())
	}
}

func TestBrokerReplaysRetainedEvents(t *testing.T) {
	b := NewBroker("panel", "tabs")
	b.Publish(Event{Feed: "tabs", Key: "T2", Payload: `{"action":"attached"}`})
	b.Publish(Event{Feed: "panel", Key: "T1", Payload: `{"n":1}`})
	b.Publish(Event{Feed: "panel", Key: "T1", Payload: `{"n":2}`})
	b.Publish(Event{Feed: "panel", Payload: `{"unkeyed":true}`})
	b.Publish(Event{Feed: "debug", Key: "T1", Payload: `{}`})

	_, ch := b.Subscribe()
	want := []Event{
		{Feed: "panel", Key: "T1", Payload: `{"n":2}`},
		{Feed: "tabs", Key: "T2", Payload: `{"action":"attached"}`},
	}
	if len(ch) != len(want) {
		t.Fatalf("replayed = %d events; want %d", len(ch), len(want))
	}
	for i, w := range want {
		if got := <-ch; got != w {
			t.Fatalf("replay[%d] = %+v; want %+v", i, got, w)
		}
	}
}

func TestBrokerFinalEventDropsRetainedState(t *testing.T) {
	b := NewBroker("panel", "tabs")
	b.Publish(Event{Feed: "panel", Key: "T1", Payload: `{}`})
	b.Publish(Event{Feed: "tabs", Key: "T1", Payload: `{"action":"attached"}`})
	b.Publish(Event{Feed: "tabs", Key: "T2", Payload: `{"action":"attached"}`})

	_, live := b.Subscribe()
	for n := len(live); n > 0; n-- {
		<-live
	}
	b.Publish(Event{Feed: "tabs", Key: "T1", Payload: `{"action":"detached"}`, Final: true})

	if got := <-live; !got.Final || got.Key != "T1" {
		t.Fatalf("live event = %+v; want final T1", got)
	}
	got := b.Retained()
	if len(got) != 1 || got[0].Key != "T2" {
		t.Fatalf("Retained() = %+v; want only T2", got)
	}
}

type recWriter struct {
	mu      sync.Mutex
	records []any
}

func (r *recWriter) Write(record any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func TestFanoutAndJournal(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()
	w := &recWriter{}
	j := NewJournal(w)
	j.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	Fanout{b, nil, j}.Publish(Event{Feed: "tabs", Payload: `{"action":"attached"}`})
	Fanout{j}.Publish(Event{Feed: "tabs", Payload: "not json"})

	if got := <-ch; got.Feed != "tabs" {
		t.Fatalf("broker got %+v; want tabs event", got)
	}
	if len(w.records) != 2 {
		t.Fatalf("journal records = %d; want 2", len(w.records))
	}
	rec := w.records[0].(JournalRecord)
	if string(rec.Payload) != `{"action":"attached"}` || rec.Time.Year() != 2026 {
		t.Fatalf("record = %+v; want raw payload and fixed time", rec)
	}
	if got := string(w.records[1].(JournalRecord).Payload); got != `"not json"` {
		t.Fatalf("non-JSON payload = %s; want quoted string", got)
	}
}

func TestSSEHandlerFiltersFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=panel", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q; want text/event-stream", ct)
	}
	waitClients(t, b, 1)

	b.Publish(Event{Feed: "tabs", Payload: `{"skip":true}`})
	b.Publish(Event{Feed: "panel", Payload: `{"type":"item_detected"}`})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	want := []string{"event: panel", `data: {"type":"item_detected"}`}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("SSE lines = %q; want %q", lines, want)
	}
}

func TestSSEHandlerReplaysTabStateAndKeepsAlive(t *testing.T) {
	prev := keepAliveInterval
	keepAliveInterval = 20 * time.Millisecond
	defer func() { keepAliveInterval = prev }()

	b := NewBroker("panel")
	b.Publish(Event{Feed: "panel", Key: "T1", Payload: `{"tab":"T1"}`})
	b.Publish(Event{Feed: "panel", Key: "T2", Payload: `{"tab":"T2"}`})
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?tab=T2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() && len(lines) < 3 {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	want := []string{"event: panel", `data: {"tab":"T2"}`, ": keep-alive"}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("SSE lines = %q; want %q", lines, want)
	}
}

func TestWSHandlerStreamsFrames(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(WSHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?feeds=tabs")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	waitClients(t, b, 1)

	b.Publish(Event{Feed: "panel", Payload: `{}`})
	b.Publish(Event{Feed: "tabs", Key: "T1", Final: true, Payload: `{"action":"detached"}`})

	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("ReadServerText() error = %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame %s: %v", data, err)
	}
	if frame.Feed != "tabs" || frame.Key != "T1" || !frame.Final || string(frame.Payload) != `{"action":"detached"}` {
		t.Fatalf("frame = %s; want tabs detached", data)
	}

	conn.Close()
	waitClients(t, b, 0)
}

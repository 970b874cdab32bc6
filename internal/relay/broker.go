package relay

import (
	"sort"
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Event is one message on a named feed. Key names the tab the event is
// about; keyed events on a retained feed are replayed to late subscribers.
// Final marks the last event for Key and drops everything retained for it.
type Event struct {
	Feed    string
	Key     string
	Payload string
	Final   bool
}

type retainedKey struct {
	feed string
	key  string
}

// Broker fans out events to stream subscribers and remembers the latest
// keyed event per retained feed.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	retainFeeds map[string]bool
	retained    map[retainedKey]Event
}

// NewBroker creates a broker that retains the latest keyed event of each
// feed named in retain.
func NewBroker(retain ...string) *Broker {
	b := &Broker{
		subscribers: make(map[int64]chan Event),
		retainFeeds: make(map[string]bool, len(retain)),
		retained:    make(map[retainedKey]Event),
	}
	for _, f := range retain {
		b.retainFeeds[f] = true
	}
	return b
}

// Subscribe registers a client. The returned channel first carries the
// retained events ordered by feed then key; slow consumers have later
// events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	for _, evt := range b.snapshotLocked() {
		select {
		case ch <- evt:
		default:
		}
	}
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retainLocked(evt)
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Broker) retainLocked(evt Event) {
	if evt.Key == "" {
		return
	}
	if evt.Final {
		for k := range b.retained {
			if k.key == evt.Key {
				delete(b.retained, k)
			}
		}
		return
	}
	if b.retainFeeds[evt.Feed] {
		b.retained[retainedKey{feed: evt.Feed, key: evt.Key}] = evt
	}
}

func (b *Broker) snapshotLocked() []Event {
	out := make([]Event, 0, len(b.retained))
	for _, evt := range b.retained {
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Feed != out[j].Feed {
			return out[i].Feed < out[j].Feed
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Retained returns the events a new subscriber would be replayed.
func (b *Broker) Retained() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

package relay

import (
	"encoding/json"
	"time"
)

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(evt Event)
}

// Fanout publishes every event to each of its targets in order.
type Fanout []Publisher

func (f Fanout) Publish(evt Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(evt)
		}
	}
}

// RecordWriter queues a record for persistence.
type RecordWriter interface {
	Write(record any) error
}

// JournalRecord is one persisted event line.
type JournalRecord struct {
	Time    time.Time       `json:"time"`
	Feed    string          `json:"feed"`
	Payload json.RawMessage `json:"payload"`
}

// Journal appends published events to a RecordWriter.
type Journal struct {
	w   RecordWriter
	now func() time.Time
}

func NewJournal(w RecordWriter) *Journal {
	return &Journal{w: w, now: time.Now}
}

func (j *Journal) Publish(evt Event) {
	payload := json.RawMessage(evt.Payload)
	if !json.Valid(payload) {
		raw, _ := json.Marshal(evt.Payload)
		payload = raw
	}
	// Write only fails when the writer is closed or full; both are logged there.
	_ = j.w.Write(JournalRecord{Time: j.now().UTC(), Feed: evt.Feed, Payload: payload})
}

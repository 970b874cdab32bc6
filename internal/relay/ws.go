package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type wsFrame struct {
	Feed    string          `json:"feed"`
	Key     string          `json:"key,omitempty"`
	Final   bool            `json:"final,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// newStreamFilter builds the event predicate for the ?feeds and ?tab query
// parameters shared by both stream handlers.
func newStreamFilter(r *http.Request) func(Event) bool {
	q := r.URL.Query()
	var feeds map[string]bool
	if raw := q.Get("feeds"); raw != "" {
		feeds = make(map[string]bool)
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				feeds[f] = true
			}
		}
	}
	tab := strings.TrimSpace(q.Get("tab"))
	return func(evt Event) bool {
		if feeds != nil && !feeds[evt.Feed] {
			return false
		}
		return tab == "" || evt.Key == tab
	}
}

// WSHandler streams events over a WebSocket as JSON text frames. It replays
// retained state first and accepts the same filters as SSEHandler.
func WSHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match := newStreamFilter(r)

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("relay websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		// The reader only watches for the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !match(evt) {
					continue
				}
				payload := json.RawMessage(evt.Payload)
				if !json.Valid(payload) {
					payload, _ = json.Marshal(evt.Payload)
				}
				data, err := json.Marshal(wsFrame{Feed: evt.Feed, Key: evt.Key, Final: evt.Final, Payload: payload})
				if err != nil {
					continue
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					slog.Debug("relay websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

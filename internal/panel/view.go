package panel

import (
	"encoding/json"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/fetch"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
)

// State is the machine's authoritative visual state. Visibility and
// collapse are tracked separately.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateDetecting     State = "detecting"
	StateAwaitingMatch State = "awaiting_match"
	StateMatched       State = "matched"
	StateUnmatched     State = "unmatched"
	StateErrored       State = "errored"
	StateHidden        State = "hidden"
	StateUserDismissed State = "user_dismissed"
)

// Mode selects what the panel body shows.
type Mode string

const (
	ModeEmpty   Mode = "empty"
	ModeLoading Mode = "loading"
	ModeItem    Mode = "item"
	ModeMessage Mode = "message"
)

const (
	MessageNoItem    = "No trackable item was found on this page."
	MessageNotFound  = "No market data is available for this item yet."
	MessageTimedOut  = "The request timed out. Please try again."
	MessageTransport = "Could not reach the market data service. Check your connection and retry."
)

// View is the full render instruction for the page. The page applies it
// as-is; it never reads panel state back from the DOM.
type View struct {
	Visible   bool             `json:"visible"`
	Collapsed bool             `json:"collapsed"`
	Mode      Mode             `json:"mode"`
	Code      string           `json:"code,omitempty"`
	Item      json.RawMessage  `json:"item,omitempty"`
	Metrics   json.RawMessage  `json:"metrics,omitempty"`
	Message   string           `json:"message,omitempty"`
	CanRetry  bool             `json:"can_retry"`
	BaseURL   string           `json:"base_url"`
	Geometry  persist.Geometry `json:"geometry"`
	Compare   *CompareView     `json:"compare,omitempty"`
}

// CompareView is the side-by-side section of the panel.
type CompareView struct {
	Candidate string          `json:"candidate"`
	Pending   bool            `json:"pending"`
	Item      json.RawMessage `json:"item,omitempty"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Event types published for telemetry.
const (
	EventItemDetected   = "item_detected"
	EventNoItemDetected = "no_item_detected"
	EventViewStarted    = "view_started"
	EventViewEnded      = "view_ended"
)

// Event is a telemetry boundary crossed by the machine.
type Event struct {
	Type       string         `json:"type"`
	Code       string         `json:"code,omitempty"`
	Source     extract.Source `json:"source,omitempty"`
	ViewID     string         `json:"view_id,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	At         time.Time      `json:"at"`
}

// Fetcher is the subset of fetch.Coordinator the machine drives.
type Fetcher interface {
	Fetch(code string, done func(fetch.Outcome))
	Notify(action fetch.Action)
	LoadConfig(done func(baseURL string))
}

// Page reads detection inputs from the hosting page.
type Page interface {
	Sources() extract.Sources
	Address() string
}

// Renderer applies a View to the page.
type Renderer interface {
	Render(View)
}

// Publisher receives telemetry events.
type Publisher interface {
	Publish(Event)
}

// Snapshot is a read-only copy of machine state for the control API.
type Snapshot struct {
	State     State            `json:"state"`
	Visible   bool             `json:"visible"`
	Collapsed bool             `json:"collapsed"`
	Dismissed bool             `json:"dismissed"`
	Code      string           `json:"code,omitempty"`
	Seen      []string         `json:"seen"`
	Geometry  persist.Geometry `json:"geometry"`
	BaseURL   string           `json:"base_url"`
	ViewID    string           `json:"view_id,omitempty"`
	Compare   CompareState     `json:"compare"`
	View      View             `json:"view"`
}

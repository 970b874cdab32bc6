package fetch

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Action is the closed set of messages the controller sends to its
// privileged collaborator.
type Action string

const (
	ActionFetchItemData  Action = "fetchItemData"
	ActionGetConfig      Action = "getConfig"
	ActionItemDetected   Action = "itemDetected"
	ActionNoItemDetected Action = "noItemDetected"
)

// Request is a message to the collaborator.
type Request struct {
	Action Action `json:"action" validate:"required,oneof=fetchItemData getConfig itemDetected noItemDetected"`
	Code   string `json:"code,omitempty" validate:"required_if=Action fetchItemData"`
}

// Response is the collaborator's reply to fetchItemData or getConfig. Only
// Matched and the presence of Error drive branching; Item and Metrics are
// opaque and passed through to the panel.
type Response struct {
	Matched bool            `json:"matched"`
	Item    json.RawMessage `json:"item,omitempty"`
	Metrics json.RawMessage `json:"metrics,omitempty"`
	Error   string          `json:"error,omitempty"`
	BaseURL string          `json:"base_url,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate narrows a request to the supported shapes.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("fetch: invalid request: %w", err)
	}
	return nil
}

// Kind tags an Outcome.
type Kind string

const (
	KindMatched        Kind = "matched"
	KindNotMatched     Kind = "not_matched"
	KindTimedOut       Kind = "timed_out"
	KindTransportError Kind = "transport_error"
)

// Outcome is the classified result of one fetch. Exactly one is produced per
// Fetch call.
type Outcome struct {
	Kind    Kind            `json:"kind"`
	Code    string          `json:"code"`
	Item    json.RawMessage `json:"item,omitempty"`
	Metrics json.RawMessage `json:"metrics,omitempty"`
	Message string          `json:"message,omitempty"`
}

func Matched(code string, item, metrics json.RawMessage) Outcome {
	return Outcome{Kind: KindMatched, Code: code, Item: item, Metrics: metrics}
}

func NotMatched(code string) Outcome {
	return Outcome{Kind: KindNotMatched, Code: code}
}

func TimedOut(code string) Outcome {
	return Outcome{Kind: KindTimedOut, Code: code}
}

func TransportError(code, message string) Outcome {
	return Outcome{Kind: KindTransportError, Code: code, Message: message}
}

func (o Outcome) IsMatched() bool { return o.Kind == KindMatched }

// Classify turns a collaborator reply into an Outcome. A reply carrying an
// error is a failure of the collaborator's own upstream call.
func Classify(code string, resp Response, err error) Outcome {
	if err != nil {
		return TransportError(code, err.Error())
	}
	if resp.Error != "" {
		return TransportError(code, resp.Error)
	}
	if resp.Matched {
		return Matched(code, resp.Item, resp.Metrics)
	}
	return NotMatched(code)
}

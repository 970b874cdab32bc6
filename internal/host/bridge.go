package host

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Bridge message types posted by the overlay script.
const (
	MsgReady        = "ready"
	MsgMutation     = "mutation"
	MsgCollapse     = "collapse"
	MsgExpand       = "expand"
	MsgClose        = "close"
	MsgRetry        = "retry"
	MsgDragEnd      = "drag_end"
	MsgResizeEnd    = "resize_end"
	MsgCompare      = "compare"
	MsgCompareClear = "compare_clear"
)

// BridgeMessage is the narrowed form of a binding payload.
type BridgeMessage struct {
	Type   string   `json:"type" validate:"required,oneof=ready mutation collapse expand close retry drag_end resize_end compare compare_clear"`
	Href   string   `json:"href,omitempty" validate:"required_if=Type mutation,omitempty,url,max=4096"`
	Code   string   `json:"code,omitempty" validate:"max=32"`
	Top    *float64 `json:"top,omitempty" validate:"required_if=Type drag_end,omitempty,gte=-10000,lte=100000"`
	Left   *float64 `json:"left,omitempty" validate:"required_if=Type drag_end,omitempty,gte=-10000,lte=100000"`
	Height *float64 `json:"height,omitempty" validate:"required_if=Type resize_end,omitempty,gt=0,lte=100000"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseBridgeMessage decodes and validates a binding payload. Anything the
// page sends that does not fit a known shape is rejected here, before it
// reaches a controller loop.
func ParseBridgeMessage(payload string) (BridgeMessage, error) {
	var msg BridgeMessage
	if len(payload) > 64<<10 {
		return BridgeMessage{}, fmt.Errorf("bridge: payload too large (%d bytes)", len(payload))
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return BridgeMessage{}, fmt.Errorf("bridge: decode: %w", err)
	}
	if err := validate.Struct(msg); err != nil {
		return BridgeMessage{}, fmt.Errorf("bridge: invalid %q message: %w", msg.Type, err)
	}
	return msg, nil
}

package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	// GeometryKey holds the single, item-independent panel geometry.
	GeometryKey = "mp_overlay_geometry"
	// CollapsedKey holds the code the panel was last collapsed on.
	CollapsedKey = "mp_overlay_collapsed_code"

	defaultOpTimeout = 2 * time.Second
)

// Geometry is the panel placement. Nil fields fall back to default placement.
type Geometry struct {
	Top    *float64 `json:"top,omitempty"`
	Left   *float64 `json:"left,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// IsZero reports whether no field is set.
func (g Geometry) IsZero() bool {
	return g.Top == nil && g.Left == nil && g.Height == nil
}

// Merge returns g with every non-nil field of o applied on top.
func (g Geometry) Merge(o Geometry) Geometry {
	if o.Top != nil {
		g.Top = o.Top
	}
	if o.Left != nil {
		g.Left = o.Left
	}
	if o.Height != nil {
		g.Height = o.Height
	}
	return g
}

// Adapter exposes the two best-effort stores. No method returns an error:
// reads fall back to "no stored value" and failed writes are skipped.
type Adapter struct {
	durable KV
	session KV
	timeout time.Duration
}

// NewAdapter wires the durable geometry store and the session collapse store.
// Either may be nil, in which case reads return defaults and writes are skipped.
func NewAdapter(durable, session KV) *Adapter {
	return &Adapter{durable: durable, session: session, timeout: defaultOpTimeout}
}

func (a *Adapter) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

// LoadGeometry returns the stored geometry or a zero Geometry.
func (a *Adapter) LoadGeometry() Geometry {
	if a == nil || a.durable == nil {
		return Geometry{}
	}
	ctx, cancel := a.opCtx()
	defer cancel()

	raw, ok, err := a.durable.Get(ctx, GeometryKey)
	if err != nil {
		slog.Warn("persist geometry read failed", "error", err)
		return Geometry{}
	}
	if !ok {
		return Geometry{}
	}
	var g Geometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		slog.Warn("persist geometry decode failed", "error", err)
		return Geometry{}
	}
	return g
}

// SaveGeometry writes the geometry; failures are logged and skipped.
func (a *Adapter) SaveGeometry(g Geometry) {
	if a == nil || a.durable == nil {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		slog.Debug("persist geometry encode failed", "error", err)
		return
	}
	ctx, cancel := a.opCtx()
	defer cancel()
	if err := a.durable.Set(ctx, GeometryKey, string(data)); err != nil {
		slog.Warn("persist geometry write skipped", "error", err)
	}
}

// CollapsedCode returns the code of the session collapse marker, or "".
func (a *Adapter) CollapsedCode() string {
	if a == nil || a.session == nil {
		return ""
	}
	ctx, cancel := a.opCtx()
	defer cancel()
	code, ok, err := a.session.Get(ctx, CollapsedKey)
	if err != nil {
		slog.Warn("persist collapse marker read failed", "error", err)
		return ""
	}
	if !ok {
		return ""
	}
	return code
}

// SetCollapsed records that the panel was collapsed on code.
func (a *Adapter) SetCollapsed(code string) {
	if a == nil || a.session == nil || code == "" {
		return
	}
	ctx, cancel := a.opCtx()
	defer cancel()
	if err := a.session.Set(ctx, CollapsedKey, code); err != nil {
		slog.Warn("persist collapse marker write skipped", "code", code, "error", err)
	}
}

// ClearCollapsed removes the session collapse marker.
func (a *Adapter) ClearCollapsed() {
	if a == nil || a.session == nil {
		return
	}
	ctx, cancel := a.opCtx()
	defer cancel()
	if err := a.session.Delete(ctx, CollapsedKey); err != nil {
		slog.Warn("persist collapse marker clear skipped", "error", err)
	}
}

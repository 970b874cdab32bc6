package fetch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/eventloop"
)

const (
	// DefaultTimeout bounds how long the panel waits for item data.
	DefaultTimeout = 12 * time.Second
	// DefaultBaseURL qualifies relative links when getConfig fails.
	DefaultBaseURL = "https://app.marketlens.io"

	notifyTimeout = 5 * time.Second
	configTimeout = 5 * time.Second
)

// Collaborator performs the privileged request on the controller's behalf.
type Collaborator interface {
	Request(ctx context.Context, req Request) (Response, error)
}

// Coordinator issues collaborator requests and delivers classified outcomes
// back onto the controller's event loop.
type Coordinator struct {
	collab  Collaborator
	sched   eventloop.Scheduler
	timeout time.Duration
	baseCtx context.Context
}

// NewCoordinator creates a Coordinator. baseCtx bounds the lifetime of
// in-flight requests (the tab controller's lifetime); timeout <= 0 uses
// DefaultTimeout.
func NewCoordinator(baseCtx context.Context, collab Collaborator, sched eventloop.Scheduler, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Coordinator{collab: collab, sched: sched, timeout: timeout, baseCtx: baseCtx}
}

// Fetch requests item data for code. done is invoked exactly once, on the
// scheduler. The timeout stops the wait, not the request: a late reply is
// dropped here and never reaches done.
func (c *Coordinator) Fetch(code string, done func(Outcome)) {
	settled := false
	deliver := func(o Outcome) {
		if settled {
			slog.Debug("fetch late outcome dropped", "code", code, "kind", o.Kind)
			return
		}
		settled = true
		slog.Debug("fetch outcome", "code", code, "kind", o.Kind)
		done(o)
	}

	timer := c.sched.After(c.timeout, func() {
		if !settled {
			slog.Warn("fetch timed out", "code", code, "timeout", c.timeout)
		}
		deliver(TimedOut(code))
	})

	req := Request{Action: ActionFetchItemData, Code: code}
	if err := req.Validate(); err != nil {
		timer.Stop()
		c.sched.Post(func() { deliver(TransportError(code, err.Error())) })
		return
	}

	go func() {
		resp, err := c.collab.Request(c.baseCtx, req)
		o := Classify(code, resp, err)
		if err != nil {
			slog.Warn("fetch collaborator request failed", "code", code, "error", err)
		}
		if !c.sched.Post(func() {
			timer.Stop()
			deliver(o)
		}) {
			slog.Debug("fetch outcome dropped after loop stop", "code", code)
		}
	}()
}

// Notify sends a fire-and-forget bookkeeping message.
func (c *Coordinator) Notify(action Action) {
	req := Request{Action: action}
	if err := req.Validate(); err != nil {
		slog.Debug("fetch notify rejected", "action", action, "error", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.baseCtx, notifyTimeout)
		defer cancel()
		if _, err := c.collab.Request(ctx, req); err != nil {
			slog.Debug("fetch notify failed", "action", action, "error", err)
		}
	}()
}

// LoadConfig pulls the collaborator config and delivers the base URL on the
// scheduler, falling back to DefaultBaseURL on any failure.
func (c *Coordinator) LoadConfig(done func(baseURL string)) {
	go func() {
		ctx, cancel := context.WithTimeout(c.baseCtx, configTimeout)
		defer cancel()
		baseURL := DefaultBaseURL
		resp, err := c.collab.Request(ctx, Request{Action: ActionGetConfig})
		switch {
		case err != nil:
			slog.Warn("fetch config pull failed, using default", "default", DefaultBaseURL, "error", err)
		case strings.TrimSpace(resp.BaseURL) == "":
			slog.Debug("fetch config has no base url, using default", "default", DefaultBaseURL)
		default:
			baseURL = strings.TrimRight(strings.TrimSpace(resp.BaseURL), "/")
		}
		c.sched.Post(func() { done(baseURL) })
	}()
}

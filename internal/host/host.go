package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/eventloop"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/fetch"
	"github.com/dgnsrekt/overlay_agent/internal/navwatch"
	"github.com/dgnsrekt/overlay_agent/internal/panel"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
)

const (
	FeedPanel = "panel"
	FeedTabs  = "tabs"
)

// Commands accepted by Host.Command.
const (
	CmdShow         = "show"
	CmdToggle       = "toggle"
	CmdCollapse     = "collapse"
	CmdExpand       = "expand"
	CmdClose        = "close"
	CmdRetry        = "retry"
	CmdCompareClear = "compare_clear"
)

const (
	DefaultSyncInterval = 2 * time.Second
	attachConcurrency   = 4
	commandTimeout      = 5 * time.Second
)

// Options tune the per-tab controllers.
type Options struct {
	FetchTimeout time.Duration
	SettleDelay  time.Duration
	RetryDelay   time.Duration
	MaxRetries   int
	SyncInterval time.Duration
	Selectors    extract.Selectors
}

func (o Options) withDefaults() Options {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = fetch.DefaultTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = navwatch.DefaultSettleDelay
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if len(o.Selectors.Search) == 0 && len(o.Selectors.SiteTitles) == 0 {
		o.Selectors = extract.DefaultSelectors()
	}
	return o
}

// TabStatus describes one controlled tab.
type TabStatus struct {
	TargetID     string    `json:"target_id"`
	ControllerID string    `json:"controller_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	AttachedAt   time.Time `json:"attached_at"`
}

// Host attaches one panel controller to every marketplace tab.
type Host struct {
	browser Browser
	ext     *extract.Extractor
	collab  fetch.Collaborator
	durable persist.KV
	sink    relay.Publisher
	opts    Options

	mu     sync.Mutex
	ctx    context.Context
	tabs   map[string]*controller
	closed bool
}

// New builds a Host. durable and sink may be nil.
func New(browser Browser, ext *extract.Extractor, collab fetch.Collaborator, durable persist.KV, sink relay.Publisher, opts Options) *Host {
	return &Host{
		browser: browser,
		ext:     ext,
		collab:  collab,
		durable: durable,
		sink:    sink,
		opts:    opts.withDefaults(),
		ctx:     context.Background(),
		tabs:    make(map[string]*controller),
	}
}

// Extractor returns the shared pattern extractor.
func (h *Host) Extractor() *extract.Extractor { return h.ext }

func (h *Host) baseContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctx
}

// Run keeps the controlled tabs in sync with the browser until ctx ends.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
	defer h.Close()

	if err := h.Sync(ctx); err != nil {
		slog.Warn("host initial sync failed", "error", err)
	}
	ticker := time.NewTicker(h.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Sync(ctx); err != nil {
				slog.Debug("host sync failed", "error", err)
			}
		}
	}
}

// Sync attaches new marketplace tabs and drops the ones that went away.
func (h *Host) Sync(ctx context.Context) error {
	tabs, err := h.browser.ListTabs(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]bool, len(tabs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attachConcurrency)
	for _, info := range tabs {
		live[info.TargetID] = true
		if h.lookup(info.TargetID) != nil {
			continue
		}
		g.Go(func() error {
			if err := h.attach(gctx, info); err != nil {
				slog.Warn("host attach failed", "target_id", info.TargetID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	h.mu.Lock()
	var gone []*controller
	for id, c := range h.tabs {
		if !live[id] {
			gone = append(gone, c)
		}
	}
	h.mu.Unlock()
	for _, c := range gone {
		h.remove(c, "tab gone")
	}
	return nil
}

func (h *Host) attach(ctx context.Context, info cdpcontrol.TabInfo) error {
	c := newController(h, info)
	tab, err := h.browser.Attach(ctx, info, c.handlers())
	if err != nil {
		c.cancel()
		return err
	}
	c.tab = tab

	h.mu.Lock()
	if h.closed || h.tabs[info.TargetID] != nil {
		h.mu.Unlock()
		c.cancel()
		tab.Close()
		return nil
	}
	h.tabs[info.TargetID] = c
	h.mu.Unlock()

	go c.loop.Run(c.ctx)
	c.loop.Post(func() { c.mount(info.URL) })
	slog.Info("host tab attached", "target_id", info.TargetID, "controller_id", c.id, "url", info.URL)
	h.publishTab(c, "attached")
	return nil
}

func (h *Host) lookup(targetID string) *controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tabs[targetID]
}

func (h *Host) remove(c *controller, reason string) {
	h.mu.Lock()
	if h.tabs[c.info.TargetID] == c {
		delete(h.tabs, c.info.TargetID)
	}
	h.mu.Unlock()
	c.close(reason)
	h.publishTab(c, "detached")
}

// Close detaches every controller.
func (h *Host) Close() {
	h.mu.Lock()
	h.closed = true
	all := make([]*controller, 0, len(h.tabs))
	for _, c := range h.tabs {
		all = append(all, c)
	}
	h.tabs = make(map[string]*controller)
	h.mu.Unlock()
	for _, c := range all {
		c.close("shutdown")
	}
}

// Tabs lists the controlled tabs ordered by target id.
func (h *Host) Tabs() []TabStatus {
	h.mu.Lock()
	out := make([]TabStatus, 0, len(h.tabs))
	for _, c := range h.tabs {
		out = append(out, c.status())
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

func (c *controller) status() TabStatus {
	return TabStatus{
		TargetID:     c.info.TargetID,
		ControllerID: c.id,
		URL:          c.info.URL,
		Title:        c.info.Title,
		AttachedAt:   c.attachedAt,
	}
}

// onPage runs f on the tab's loop against the mounted machine.
func (h *Host) onPage(ctx context.Context, targetID string, f func(b *pageBinding) error) error {
	c := h.lookup(targetID)
	if c == nil {
		return cdpcontrol.NewError(cdpcontrol.CodeTabNotFound, fmt.Sprintf("tab %s is not controlled", targetID), nil)
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	var ferr error
	err := eventloop.Call(ctx, c.loop, func() {
		if c.page == nil {
			ferr = cdpcontrol.NewError(cdpcontrol.CodeNotInjected, "page not mounted yet", nil)
			return
		}
		ferr = f(c.page)
	})
	if errors.Is(err, eventloop.ErrStopped) {
		return cdpcontrol.NewError(cdpcontrol.CodeTabNotFound, fmt.Sprintf("tab %s is closing", targetID), err)
	}
	if err != nil {
		return cdpcontrol.NewError(cdpcontrol.CodeEvalTimeout, "controller did not respond", err)
	}
	return ferr
}

// Command applies a user gesture to a tab's panel and returns the new state.
func (h *Host) Command(ctx context.Context, targetID, cmd string) (panel.Snapshot, error) {
	var snap panel.Snapshot
	err := h.onPage(ctx, targetID, func(b *pageBinding) error {
		m := b.machine
		switch cmd {
		case CmdShow:
			m.Show()
		case CmdToggle:
			m.Toggle()
		case CmdCollapse:
			m.Collapse()
		case CmdExpand:
			m.Expand()
		case CmdClose:
			m.Close()
		case CmdRetry:
			m.Retry()
		case CmdCompareClear:
			m.ClearCompare()
		default:
			return cdpcontrol.NewError(cdpcontrol.CodeValidation, fmt.Sprintf("unknown command %q", cmd), nil)
		}
		snap = m.Snapshot()
		return nil
	})
	return snap, err
}

// SetGeometry merges and persists a new panel geometry.
func (h *Host) SetGeometry(ctx context.Context, targetID string, g persist.Geometry) (panel.Snapshot, error) {
	var snap panel.Snapshot
	err := h.onPage(ctx, targetID, func(b *pageBinding) error {
		b.machine.DragEnd(g)
		snap = b.machine.Snapshot()
		return nil
	})
	return snap, err
}

// Compare selects a comparison candidate for the tab's current item.
func (h *Host) Compare(ctx context.Context, targetID, code string) (panel.Snapshot, error) {
	var snap panel.Snapshot
	err := h.onPage(ctx, targetID, func(b *pageBinding) error {
		if err := b.machine.Compare(code); err != nil {
			return cdpcontrol.NewError(cdpcontrol.CodeValidation, err.Error(), err)
		}
		snap = b.machine.Snapshot()
		return nil
	})
	return snap, err
}

// Panel returns the tab's current panel state.
func (h *Host) Panel(ctx context.Context, targetID string) (panel.Snapshot, error) {
	var snap panel.Snapshot
	err := h.onPage(ctx, targetID, func(b *pageBinding) error {
		snap = b.machine.Snapshot()
		return nil
	})
	return snap, err
}

// Ping checks the tab's page.
func (h *Host) Ping(ctx context.Context, targetID string) (cdpcontrol.PingResult, error) {
	c := h.lookup(targetID)
	if c == nil {
		return cdpcontrol.PingResult{}, cdpcontrol.NewError(cdpcontrol.CodeTabNotFound, fmt.Sprintf("tab %s is not controlled", targetID), nil)
	}
	return c.tab.Ping(ctx)
}

type panelPayload struct {
	TargetID     string      `json:"target_id"`
	ControllerID string      `json:"controller_id"`
	Event        panel.Event `json:"event"`
}

type tabPayload struct {
	Action string `json:"action"`
	TabStatus
}

func (h *Host) publishPanel(c *controller, e panel.Event) {
	h.publish(FeedPanel, c.info.TargetID, false, panelPayload{TargetID: c.info.TargetID, ControllerID: c.id, Event: e})
}

// publishTab keys tab events by target id; a detach is the final event for
// that tab.
func (h *Host) publishTab(c *controller, action string) {
	h.publish(FeedTabs, c.info.TargetID, action == "detached", tabPayload{Action: action, TabStatus: c.status()})
}

func (h *Host) publish(feed, key string, final bool, v any) {
	if h.sink == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("host event encode failed", "feed", feed, "error", err)
		return
	}
	h.sink.Publish(relay.Event{Feed: feed, Key: key, Payload: string(raw), Final: final})
}

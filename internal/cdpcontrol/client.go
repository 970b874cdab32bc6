package cdpcontrol

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Client owns the browser connection and hands out attached Tabs.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      strings.TrimSpace(cdpURL),
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}
	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), c.cdpURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run dials the browser; bound it by the caller's ctx.
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(browserCtx) }()
	select {
	case err := <-errCh:
		if err != nil {
			browserCancel()
			allocCancel()
			return newError(CodeCDPUnavailable, "connect to CDP failed", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return newError(CodeCDPUnavailable, "connect to CDP failed", ctx.Err())
	}

	c.allocCancel = allocCancel
	c.browserCtx = browserCtx
	c.browserCancel = browserCancel
	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Cancelling a remote allocator detaches without closing the browser.
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browserCtx = nil
	c.browserCancel = nil
	c.allocCancel = nil
}

func (c *Client) ensureConnected(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c.browserCtx, nil
}

// ListTabs returns page targets matching the tab URL filter.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	browserCtx, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		c.mu.Lock()
		c.cleanupLocked()
		c.mu.Unlock()
		return nil, newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	tabs := filterTabs(targets, c.tabFilter)
	slog.Debug("cdpcontrol list tabs", "targets", len(targets), "tabs", len(tabs))
	return tabs, nil
}

func filterTabs(targets []*target.Info, filter string) []TabInfo {
	out := make([]TabInfo, 0, len(targets))
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.URL), filter) {
			continue
		}
		out = append(out, TabInfo{TargetID: string(t.TargetID), URL: t.URL, Title: t.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// Attach opens a session on the target, exposes the bridge binding and
// starts delivering events to h.
func (c *Client) Attach(ctx context.Context, info TabInfo, h Handlers) (*Tab, error) {
	if strings.TrimSpace(info.TargetID) == "" {
		return nil, newError(CodeValidation, "target id is required", nil)
	}
	browserCtx, err := c.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(target.ID(info.TargetID)))
	tab := &Tab{info: info, ctx: tabCtx, cancel: cancel, evalTimeout: c.evalTimeout}

	if err := tab.enable(ctx, h); err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(CodeEvalTimeout, "attach timed out", err)
		}
		return nil, newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	slog.Info("cdpcontrol tab attached", "target_id", info.TargetID, "url", truncateURL(info.URL))
	return tab, nil
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}

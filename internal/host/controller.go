package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/eventloop"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/fetch"
	"github.com/dgnsrekt/overlay_agent/internal/navwatch"
	"github.com/dgnsrekt/overlay_agent/internal/panel"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
)

// controller drives the panel of one attached tab. Everything below tab is
// confined to loop.
type controller struct {
	id         string
	info       cdpcontrol.TabInfo
	host       *Host
	tab        TabSession
	loop       *eventloop.Loop
	ctx        context.Context
	cancel     context.CancelFunc
	attachedAt time.Time
	closeOnce  sync.Once

	page *pageBinding
}

func newController(h *Host, info cdpcontrol.TabInfo) *controller {
	ctx, cancel := context.WithCancel(h.baseContext())
	return &controller{
		id:         uuid.NewString(),
		info:       info,
		host:       h,
		loop:       eventloop.New("tab-" + info.TargetID),
		ctx:        ctx,
		cancel:     cancel,
		attachedAt: time.Now(),
	}
}

func (c *controller) handlers() cdpcontrol.Handlers {
	return cdpcontrol.Handlers{
		Binding: func(payload string) {
			msg, err := ParseBridgeMessage(payload)
			if err != nil {
				slog.Warn("host bridge message rejected", "target_id", c.info.TargetID, "error", err)
				return
			}
			c.loop.Post(func() { c.dispatch(msg) })
		},
		FullNavigation: func(url string) {
			c.loop.Post(func() { c.mount(url) })
		},
		SameDocument: func(url string) {
			c.loop.Post(func() {
				if c.page != nil {
					c.page.watcher.Observe(url)
				}
			})
		},
		Detached: func() {
			c.host.remove(c, "detached")
		},
	}
}

// mount builds a fresh page controller. A full page load gets a new
// machine, so the seen set starts empty again.
func (c *controller) mount(address string) {
	gen := 1
	if old := c.page; old != nil {
		gen = old.gen + 1
		old.machine.Stop()
		old.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	b := &pageBinding{c: c, gen: gen, ctx: ctx, cancel: cancel}
	c.page = b

	if res, err := c.tab.Inject(ctx); err != nil {
		slog.Warn("host overlay inject failed", "target_id", c.info.TargetID, "error", err)
	} else if !res.Installed {
		slog.Info("host overlay already present", "target_id", c.info.TargetID)
	}

	opts := c.host.opts
	coord := fetch.NewCoordinator(ctx, c.host.collab, c.loop, opts.FetchTimeout)
	store := persist.NewAdapter(c.host.durable, cdpcontrol.NewSessionKV(c.tab))
	m := panel.New(panel.Deps{
		Scheduler: c.loop,
		Extractor: c.host.ext,
		Fetcher:   coord,
		Page:      b,
		Store:     store,
		Renderer:  b,
		Publisher: b,
	}, panel.Options{RetryDelay: opts.RetryDelay, MaxRetries: opts.MaxRetries})
	b.machine = m
	b.watcher = navwatch.New(c.loop, opts.SettleDelay, address, func() {
		if c.page == b {
			m.Detect(0, false)
		}
	})

	slog.Info("host page mounted", "target_id", c.info.TargetID, "generation", gen, "url", address)
	m.Start()
}

func (c *controller) dispatch(msg BridgeMessage) {
	b := c.page
	if b == nil {
		return
	}
	m := b.machine
	switch msg.Type {
	case MsgReady:
		b.watcher.Observe(msg.Href)
		m.Rerender()
	case MsgMutation:
		b.watcher.Observe(msg.Href)
	case MsgCollapse:
		m.Collapse()
	case MsgExpand:
		m.Expand()
	case MsgClose:
		m.Close()
	case MsgRetry:
		m.Retry()
	case MsgDragEnd:
		m.DragEnd(persist.Geometry{Top: msg.Top, Left: msg.Left})
	case MsgResizeEnd:
		m.ResizeEnd(persist.Geometry{Height: msg.Height})
	case MsgCompare:
		if err := m.Compare(msg.Code); err != nil {
			slog.Info("host compare rejected", "target_id", c.info.TargetID, "code", msg.Code, "error", err)
		}
	case MsgCompareClear:
		m.ClearCompare()
	}
}

// close stops the page machine, the loop and the CDP session.
func (c *controller) close(reason string) {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := eventloop.Call(ctx, c.loop, func() {
			if c.page != nil {
				c.page.machine.Stop()
				c.page.cancel()
			}
		})
		cancel()
		if err != nil && !errors.Is(err, eventloop.ErrStopped) {
			slog.Debug("host controller stop timed out", "target_id", c.info.TargetID, "error", err)
		}
		c.cancel()
		c.loop.Stop()
		if c.tab != nil {
			c.tab.Close()
		}
		slog.Info("host controller closed", "target_id", c.info.TargetID, "reason", reason)
	})
}

// pageBinding connects one mounted machine to the tab. Calls made through a
// superseded binding are dropped.
type pageBinding struct {
	c       *controller
	gen     int
	ctx     context.Context
	cancel  context.CancelFunc
	machine *panel.Machine
	watcher *navwatch.Watcher
}

func (b *pageBinding) current() bool {
	return b.c.page == b && b.ctx.Err() == nil
}

func (b *pageBinding) Sources() extract.Sources {
	if !b.current() {
		return extract.Sources{}
	}
	sel := b.c.host.opts.Selectors
	snap, err := b.c.tab.Snapshot(b.ctx, sel.Search)
	if err != nil {
		slog.Warn("host page snapshot failed", "target_id", b.c.info.TargetID, "error", err)
		return extract.Sources{}
	}
	src, err := extract.SourcesFromHTML(snap, sel)
	if err != nil {
		slog.Warn("host page parse failed", "target_id", b.c.info.TargetID, "error", err)
		return extract.Sources{Address: snap.Address, Title: snap.Title, SearchValue: snap.SearchValue}
	}
	return src
}

func (b *pageBinding) Address() string {
	if b.watcher == nil {
		return ""
	}
	return b.watcher.Current()
}

func (b *pageBinding) Render(v panel.View) {
	if !b.current() {
		return
	}
	err := b.c.tab.Render(b.ctx, v)
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) && coded.Code == cdpcontrol.CodeNotInjected {
		slog.Info("host overlay missing, reinjecting", "target_id", b.c.info.TargetID)
		if _, err = b.c.tab.Inject(b.ctx); err == nil {
			err = b.c.tab.Render(b.ctx, v)
		}
	}
	if err != nil {
		slog.Warn("host render failed", "target_id", b.c.info.TargetID, "error", err)
	}
}

func (b *pageBinding) Publish(e panel.Event) {
	b.c.host.publishPanel(b.c, e)
}

// Package panel holds the per-page controller that decides when the market
// panel appears, what it shows and how it restores collapse and placement.
// A Machine is confined to one eventloop.Scheduler: every exported method
// and every callback it registers runs on that loop.
package panel

import (
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/overlay_agent/internal/eventloop"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/fetch"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
)

const (
	DefaultRetryDelay = time.Second
	DefaultMaxRetries = 3
)

// Options tune detection retries. Zero values use the defaults; a negative
// MaxRetries disables retrying.
type Options struct {
	RetryDelay time.Duration
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

// Deps are the collaborators a Machine drives. Store and Publisher may be nil.
type Deps struct {
	Scheduler eventloop.Scheduler
	Extractor *extract.Extractor
	Fetcher   Fetcher
	Page      Page
	Store     *persist.Adapter
	Renderer  Renderer
	Publisher Publisher
}

// Machine is the single authority over panel visibility and content.
type Machine struct {
	sched    eventloop.Scheduler
	ext      *extract.Extractor
	fetcher  Fetcher
	page     Page
	store    *persist.Adapter
	renderer Renderer
	pub      Publisher
	opts     Options
	compare  *Comparer

	started   bool
	stopped   bool
	state     State
	visible   bool
	collapsed bool
	dismissed bool

	// code is the code of the current detection cycle; lastCode survives
	// cycles that found nothing. seen holds every detected code, shown the
	// codes whose result has been applied during this injection.
	code     string
	lastCode string
	seen     map[string]struct{}
	shown    map[string]struct{}
	cycle    int

	mode     Mode
	outcome  fetch.Outcome
	message  string
	canRetry bool
	geometry persist.Geometry
	baseURL  string

	viewID    string
	viewCode  string
	viewStart time.Time

	lastView *View
}

// New creates a Machine in the Uninitialized state. Call Start on the loop.
func New(d Deps, opts Options) *Machine {
	m := &Machine{
		sched:    d.Scheduler,
		ext:      d.Extractor,
		fetcher:  d.Fetcher,
		page:     d.Page,
		store:    d.Store,
		renderer: d.Renderer,
		pub:      d.Publisher,
		opts:     opts.withDefaults(),
		state:    StateUninitialized,
		seen:     make(map[string]struct{}),
		shown:    make(map[string]struct{}),
		mode:     ModeEmpty,
		baseURL:  fetch.DefaultBaseURL,
	}
	m.compare = NewComparer(d.Extractor, d.Fetcher, m.render)
	return m
}

// Start reads the stored geometry, pulls the collaborator config and runs
// the first automatic detection. Later calls are no-ops.
func (m *Machine) Start() {
	if m.started {
		return
	}
	m.started = true
	m.geometry = m.store.LoadGeometry()
	m.fetcher.LoadConfig(func(baseURL string) {
		m.baseURL = baseURL
		m.render()
	})
	m.Detect(0, false)
}

// Stop closes any open viewing measurement and turns every later call and
// pending callback into a no-op.
func (m *Machine) Stop() {
	if m.stopped {
		return
	}
	m.endView()
	m.stopped = true
}

// Detect runs one detection attempt. force marks a user-initiated open.
func (m *Machine) Detect(retry int, force bool) {
	if m.stopped {
		return
	}
	if m.dismissed && !force {
		slog.Debug("panel detect suppressed after dismiss", "retry", retry)
		return
	}
	if retry == 0 {
		m.cycle++
	}

	match, ok := m.ext.ExtractMatch(m.page.Sources())
	if !ok {
		m.detectMiss(retry, force)
		return
	}
	m.detectHit(match, force)
}

func (m *Machine) detectMiss(retry int, force bool) {
	m.state = StateDetecting
	if retry == 0 {
		// Results still in flight for the previous code are now stale.
		m.code = ""
		if force || m.visible {
			m.showLoading()
		}
	}

	if retry < m.opts.MaxRetries {
		cycle := m.cycle
		address := m.page.Address()
		slog.Debug("panel detect retry scheduled", "retry", retry+1, "address", address, "force", force)
		m.sched.After(m.opts.RetryDelay, func() {
			if cycle != m.cycle {
				slog.Debug("panel detect retry superseded", "retry", retry+1)
				return
			}
			if current := m.page.Address(); current != address {
				slog.Debug("panel detect retry skipped after navigation", "captured", address, "current", current)
				return
			}
			m.Detect(retry+1, force)
		})
		return
	}

	slog.Info("panel no item detected", "retries", retry, "force", force)
	m.code = ""
	m.fetcher.Notify(fetch.ActionNoItemDetected)
	m.publish(Event{Type: EventNoItemDetected})
	if force {
		m.state = StateUnmatched
		m.showMessage(MessageNoItem)
	} else {
		m.state = StateHidden
		m.hide()
	}
	m.render()
}

func (m *Machine) detectHit(match extract.Match, force bool) {
	code := match.Code
	prev := m.lastCode
	silent := m.state == StateMatched && m.visible && code == m.code

	if code != prev {
		m.compare.Reset()
	}
	m.seen[code] = struct{}{}
	m.code = code
	m.lastCode = code

	slog.Info("panel item detected", "code", code, "source", match.Source, "force", force, "silent", silent)
	m.fetcher.Notify(fetch.ActionItemDetected)
	m.publish(Event{Type: EventItemDetected, Code: code, Source: match.Source})

	if !silent {
		m.state = StateAwaitingMatch
		if force || m.visible {
			m.showLoading()
		}
	}

	m.fetcher.Fetch(code, func(o fetch.Outcome) {
		m.applyOutcome(o, prev, force)
	})
}

func (m *Machine) applyOutcome(o fetch.Outcome, prev string, force bool) {
	if m.stopped {
		return
	}
	if o.Code != m.code {
		slog.Debug("panel outcome stale", "code", o.Code, "current", m.code, "kind", o.Kind)
		return
	}
	if o.IsMatched() {
		m.compare.SetBaseline(o)
	}
	if m.dismissed {
		slog.Debug("panel outcome after dismiss ignored", "code", o.Code, "kind", o.Kind)
		return
	}

	m.outcome = o
	if o.IsMatched() {
		m.applyMatched(o, prev)
	} else {
		m.applyMiss(o, force)
	}
	m.render()
}

func (m *Machine) applyMatched(o fetch.Outcome, prev string) {
	m.state = StateMatched
	_, shownBefore := m.shown[o.Code]
	m.shown[o.Code] = struct{}{}
	switch {
	case prev != "" && prev != o.Code:
		m.collapsed = false
		m.store.ClearCollapsed()
	case !m.visible && !shownBefore:
		if m.store.CollapsedCode() == o.Code {
			m.collapsed = true
		} else {
			m.collapsed = false
			m.store.ClearCollapsed()
		}
	default:
		if marker := m.store.CollapsedCode(); marker != "" && marker != o.Code {
			m.store.ClearCollapsed()
		}
	}

	m.visible = true
	m.mode = ModeItem
	m.message = ""
	m.canRetry = false
	if m.viewCode != o.Code {
		m.endView()
	}
	m.startView()
}

func (m *Machine) applyMiss(o fetch.Outcome, force bool) {
	if !force {
		m.state = StateHidden
		m.hide()
		return
	}
	switch o.Kind {
	case fetch.KindNotMatched:
		m.state = StateUnmatched
		m.showMessage(MessageNotFound)
	case fetch.KindTimedOut:
		m.state = StateErrored
		m.showMessage(MessageTimedOut)
	default:
		slog.Warn("panel fetch failed", "code", o.Code, "error", o.Message)
		m.state = StateErrored
		m.showMessage(MessageTransport)
	}
}

// Collapse shrinks the panel and remembers the choice for this code.
func (m *Machine) Collapse() {
	if !m.visible || m.collapsed {
		return
	}
	m.collapsed = true
	m.store.SetCollapsed(m.code)
	m.endView()
	m.render()
}

// Expand restores a collapsed panel and forgets the collapse marker.
func (m *Machine) Expand() {
	if !m.collapsed {
		return
	}
	m.collapsed = false
	m.store.ClearCollapsed()
	if m.visible && m.state == StateMatched {
		m.startView()
	}
	m.render()
}

// Close hides the panel and suppresses automatic appearances until Show.
func (m *Machine) Close() {
	m.dismissed = true
	m.state = StateUserDismissed
	m.hide()
	m.render()
}

// Show is the explicit reopen command.
func (m *Machine) Show() {
	m.dismissed = false
	m.Detect(0, true)
}

// Toggle closes a visible panel and reopens a hidden one.
func (m *Machine) Toggle() {
	if m.visible {
		m.Close()
		return
	}
	m.Show()
}

// Retry restarts detection from a clean cycle.
func (m *Machine) Retry() {
	m.Detect(0, m.visible)
}

// DragEnd stores the position reached on drag release.
func (m *Machine) DragEnd(g persist.Geometry) {
	m.updateGeometry(g)
}

// ResizeEnd stores the height reached on resize release.
func (m *Machine) ResizeEnd(g persist.Geometry) {
	m.updateGeometry(g)
}

func (m *Machine) updateGeometry(g persist.Geometry) {
	if g.IsZero() {
		return
	}
	m.geometry = m.geometry.Merge(g)
	m.store.SaveGeometry(m.geometry)
	m.render()
}

// Compare starts a side-by-side comparison against the current item.
func (m *Machine) Compare(code string) error {
	return m.compare.Select(code)
}

// ClearCompare removes the comparison section.
func (m *Machine) ClearCompare() {
	m.compare.Clear()
	m.render()
}

// Snapshot returns a copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	seen := make([]string, 0, len(m.seen))
	for code := range m.seen {
		seen = append(seen, code)
	}
	sort.Strings(seen)
	return Snapshot{
		State:     m.state,
		Visible:   m.visible,
		Collapsed: m.collapsed,
		Dismissed: m.dismissed,
		Code:      m.code,
		Seen:      seen,
		Geometry:  m.geometry,
		BaseURL:   m.baseURL,
		ViewID:    m.viewID,
		Compare:   m.compare.State(),
		View:      m.view(),
	}
}

// Rerender pushes the current view again, e.g. after the page lost its DOM.
func (m *Machine) Rerender() {
	m.lastView = nil
	m.render()
}

func (m *Machine) showLoading() {
	m.visible = true
	m.mode = ModeLoading
	m.message = ""
	m.canRetry = false
	m.endView()
	m.render()
}

func (m *Machine) showMessage(msg string) {
	m.visible = true
	m.mode = ModeMessage
	m.message = msg
	m.canRetry = true
	m.endView()
}

func (m *Machine) hide() {
	m.visible = false
	m.mode = ModeEmpty
	m.message = ""
	m.canRetry = false
	m.endView()
}

func (m *Machine) startView() {
	if !m.visible || m.collapsed || m.viewID != "" {
		return
	}
	m.viewID = uuid.NewString()
	m.viewCode = m.code
	m.viewStart = m.sched.Now()
	m.publish(Event{Type: EventViewStarted, Code: m.code, ViewID: m.viewID})
}

func (m *Machine) endView() {
	if m.viewID == "" {
		return
	}
	d := m.sched.Now().Sub(m.viewStart)
	m.publish(Event{Type: EventViewEnded, Code: m.viewCode, ViewID: m.viewID, DurationMS: d.Milliseconds()})
	m.viewID = ""
	m.viewCode = ""
}

func (m *Machine) publish(e Event) {
	if m.pub == nil {
		return
	}
	e.At = m.sched.Now()
	m.pub.Publish(e)
}

func (m *Machine) view() View {
	v := View{
		Visible:   m.visible,
		Collapsed: m.collapsed,
		Mode:      m.mode,
		BaseURL:   m.baseURL,
		Geometry:  m.geometry,
	}
	if !m.visible {
		v.Mode = ModeEmpty
		return v
	}
	v.Code = m.code
	v.Message = m.message
	v.CanRetry = m.canRetry
	if m.mode == ModeItem {
		v.Item = m.outcome.Item
		v.Metrics = m.outcome.Metrics
		v.Compare = m.compare.view()
	}
	return v
}

func (m *Machine) render() {
	if m.stopped {
		return
	}
	v := m.view()
	if m.lastView != nil && reflect.DeepEqual(*m.lastView, v) {
		return
	}
	m.lastView = &v
	if m.renderer != nil {
		m.renderer.Render(v)
	}
}

package cdpcontrol

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/overlay_agent/internal/extract"
)

// Handlers receive tab events. They are called from the CDP event goroutine
// and must not block.
type Handlers struct {
	Binding        func(payload string)
	FullNavigation func(url string)
	SameDocument   func(url string)
	Detached       func()
}

// Evaluator runs an enveloped script and decodes its data into out.
type Evaluator interface {
	Eval(ctx context.Context, js string, out any) error
}

// Tab is an attached marketplace page.
type Tab struct {
	info        TabInfo
	ctx         context.Context
	cancel      context.CancelFunc
	evalTimeout time.Duration
}

func (t *Tab) enable(ctx context.Context, h Handlers) error {
	// The first Run attaches the session and must use the tab context itself.
	errCh := make(chan error, 1)
	go func() {
		errCh <- chromedp.Run(t.ctx,
			page.Enable(),
			runtime.Enable(),
			runtime.AddBinding(BindingName),
		)
	}()
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	chromedp.ListenTarget(t.ctx, t.eventHandler(h))
	go func() {
		<-t.ctx.Done()
		slog.Info("cdpcontrol tab detached", "target_id", t.info.TargetID)
		if h.Detached != nil {
			h.Detached()
		}
	}()
	return nil
}

func (t *Tab) eventHandler(h Handlers) func(ev any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name == BindingName && h.Binding != nil {
				h.Binding(e.Payload)
			}
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" && h.FullNavigation != nil {
				slog.Debug("cdpcontrol tab navigated (full)", "target_id", t.info.TargetID, "url", truncateURL(e.Frame.URL))
				h.FullNavigation(e.Frame.URL)
			}
		case *page.EventNavigatedWithinDocument:
			if h.SameDocument != nil {
				slog.Debug("cdpcontrol tab navigated (same document)", "target_id", t.info.TargetID, "url", truncateURL(e.URL))
				h.SameDocument(e.URL)
			}
		case *inspector.EventDetached:
			slog.Warn("cdpcontrol inspector detached", "target_id", t.info.TargetID, "reason", e.Reason)
			go t.cancel()
		}
	}
}

// Info returns the target this tab was attached to.
func (t *Tab) Info() TabInfo { return t.info }

// Done is closed once the tab session ends.
func (t *Tab) Done() <-chan struct{} { return t.ctx.Done() }

// Close detaches from the target without closing the page.
func (t *Tab) Close() {
	t.cancel()
}

// Eval evaluates an enveloped script, bounded by ctx and the eval timeout.
func (t *Tab) Eval(ctx context.Context, js string, out any) error {
	if t.ctx.Err() != nil {
		return newError(CodeCDPUnavailable, "tab detached", t.ctx.Err())
	}
	evalCtx, cancel := context.WithTimeout(t.ctx, t.evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var raw string
	err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "target_id", t.info.TargetID, "error", err)
		switch {
		case t.ctx.Err() != nil:
			return newError(CodeCDPUnavailable, "tab detached", err)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded):
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

// Inject installs the overlay unless the page-level guard is already set.
func (t *Tab) Inject(ctx context.Context) (InjectResult, error) {
	var out InjectResult
	if err := t.Eval(ctx, jsInstallOverlay(extract.OverlayRootID), &out); err != nil {
		return InjectResult{}, err
	}
	slog.Debug("cdpcontrol overlay inject", "target_id", t.info.TargetID, "installed", out.Installed)
	return out, nil
}

// Ping answers the liveness check.
func (t *Tab) Ping(ctx context.Context) (PingResult, error) {
	var out PingResult
	err := t.Eval(ctx, jsPing(), &out)
	return out, err
}

// Render applies a view through the installed overlay.
func (t *Tab) Render(ctx context.Context, view any) error {
	return t.Eval(ctx, jsRender(view), nil)
}

// Snapshot captures the page's address, title, search value and DOM.
func (t *Tab) Snapshot(ctx context.Context, searchSelectors []string) (extract.PageSnapshot, error) {
	var out extract.PageSnapshot
	sel := strings.Join(searchSelectors, ",")
	if sel == "" {
		sel = `input[type="search"]`
	}
	if err := t.Eval(ctx, jsSnapshot(sel), &out); err != nil {
		return extract.PageSnapshot{}, err
	}
	return out, nil
}

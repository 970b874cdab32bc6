package host

import (
	"context"

	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
)

// TabSession is an attached page.
type TabSession interface {
	cdpcontrol.Evaluator
	Info() cdpcontrol.TabInfo
	Inject(ctx context.Context) (cdpcontrol.InjectResult, error)
	Ping(ctx context.Context) (cdpcontrol.PingResult, error)
	Render(ctx context.Context, view any) error
	Snapshot(ctx context.Context, searchSelectors []string) (extract.PageSnapshot, error)
	Done() <-chan struct{}
	Close()
}

// Browser lists and attaches marketplace tabs.
type Browser interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	Attach(ctx context.Context, info cdpcontrol.TabInfo, h cdpcontrol.Handlers) (TabSession, error)
}

type cdpBrowser struct {
	client *cdpcontrol.Client
}

// NewCDPBrowser adapts a cdpcontrol.Client to Browser.
func NewCDPBrowser(client *cdpcontrol.Client) Browser {
	return cdpBrowser{client: client}
}

func (b cdpBrowser) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	return b.client.ListTabs(ctx)
}

func (b cdpBrowser) Attach(ctx context.Context, info cdpcontrol.TabInfo, h cdpcontrol.Handlers) (TabSession, error) {
	tab, err := b.client.Attach(ctx, info, h)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/panel"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
)

// Service is the control surface over the attached panels.
type Service interface {
	Tabs() []host.TabStatus
	Ping(ctx context.Context, targetID string) (cdpcontrol.PingResult, error)
	Panel(ctx context.Context, targetID string) (panel.Snapshot, error)
	Command(ctx context.Context, targetID, cmd string) (panel.Snapshot, error)
	SetGeometry(ctx context.Context, targetID string, g persist.Geometry) (panel.Snapshot, error)
	Compare(ctx context.Context, targetID, code string) (panel.Snapshot, error)
	Extractor() *extract.Extractor
}

type tabIDInput struct {
	TabID string `path:"tab_id" doc:"CDP target id of the tab"`
}

type panelOutput struct {
	Body panel.Snapshot
}

// NewServer builds the HTTP handler. broker may be nil, in which case the
// event stream routes are not mounted.
func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Overlay Agent API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get(eventsPathPrefix, relay.SSEHandler(broker))
		router.Get(eventsPathPrefix+"/ws", relay.WSHandler(broker))
	}

	registerMiscHandlers(api, svc)
	registerPanelHandlers(api, svc)
	registerExtractHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeCDPUnavailable, cdpcontrol.CodeNotInjected, cdpcontrol.CodeEvalFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}

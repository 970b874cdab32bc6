package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			Tabs   int    `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = len(svc.Tabs())
			return out, nil
		})

	type tabsOutput struct {
		Body struct {
			Tabs []host.TabStatus `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List controlled tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*tabsOutput, error) {
			out := &tabsOutput{}
			out.Body.Tabs = svc.Tabs()
			return out, nil
		})

	type pingOutput struct {
		Body cdpcontrol.PingResult
	}
	huma.Register(api, huma.Operation{OperationID: "ping-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/ping", Summary: "Check the tab's overlay script", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*pingOutput, error) {
			res, err := svc.Ping(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &pingOutput{Body: res}, nil
		})
}

func registerPanelHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-panel", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/panel", Summary: "Get panel state", Tags: []string{"Panel"}},
		func(ctx context.Context, input *tabIDInput) (*panelOutput, error) {
			snap, err := svc.Panel(ctx, input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &panelOutput{Body: snap}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "show-panel", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/panel/show", Summary: "Show the panel and force detection", Tags: []string{"Panel"}},
		func(ctx context.Context, input *tabIDInput) (*panelOutput, error) {
			return command(ctx, svc, input.TabID, host.CmdShow)
		})

	huma.Register(api, huma.Operation{OperationID: "toggle-panel", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/panel/toggle", Summary: "Toggle panel visibility", Tags: []string{"Panel"}},
		func(ctx context.Context, input *tabIDInput) (*panelOutput, error) {
			return command(ctx, svc, input.TabID, host.CmdToggle)
		})

	type gestureInput struct {
		TabID   string `path:"tab_id"`
		Gesture string `path:"gesture" enum:"collapse,expand,close,retry,compare_clear" doc:"Panel gesture"`
	}
	huma.Register(api, huma.Operation{OperationID: "panel-gesture", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/panel/{gesture}", Summary: "Apply a panel gesture", Tags: []string{"Panel"}},
		func(ctx context.Context, input *gestureInput) (*panelOutput, error) {
			return command(ctx, svc, input.TabID, input.Gesture)
		})

	type geometryInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Top    *float64 `json:"top,omitempty" minimum:"-10000" maximum:"100000"`
			Left   *float64 `json:"left,omitempty" minimum:"-10000" maximum:"100000"`
			Height *float64 `json:"height,omitempty" exclusiveMinimum:"0" maximum:"100000"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-panel-geometry", Method: http.MethodPut, Path: "/api/v1/tabs/{tab_id}/panel/geometry", Summary: "Update and persist panel geometry", Tags: []string{"Panel"}},
		func(ctx context.Context, input *geometryInput) (*panelOutput, error) {
			g := persist.Geometry{Top: input.Body.Top, Left: input.Body.Left, Height: input.Body.Height}
			if g.IsZero() {
				return nil, huma.Error400BadRequest("at least one of top, left or height is required")
			}
			snap, err := svc.SetGeometry(ctx, input.TabID, g)
			if err != nil {
				return nil, mapErr(err)
			}
			return &panelOutput{Body: snap}, nil
		})

	type compareInput struct {
		TabID string `path:"tab_id"`
		Body  struct {
			Code string `json:"code" minLength:"1" maxLength:"32" doc:"Candidate item code, e.g. OP-05"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "compare-item", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/compare", Summary: "Compare the current item with another code", Tags: []string{"Panel"}},
		func(ctx context.Context, input *compareInput) (*panelOutput, error) {
			snap, err := svc.Compare(ctx, input.TabID, input.Body.Code)
			if err != nil {
				return nil, mapErr(err)
			}
			return &panelOutput{Body: snap}, nil
		})
}

func command(ctx context.Context, svc Service, tabID, cmd string) (*panelOutput, error) {
	snap, err := svc.Command(ctx, tabID, cmd)
	if err != nil {
		return nil, mapErr(err)
	}
	return &panelOutput{Body: snap}, nil
}

func registerExtractHandlers(api huma.API, svc Service) {
	type extractInput struct {
		Body struct {
			Address     string   `json:"address,omitempty"`
			Title       string   `json:"title,omitempty"`
			Heading     string   `json:"heading,omitempty"`
			SiteTitles  []string `json:"site_titles,omitempty"`
			Breadcrumbs []string `json:"breadcrumbs,omitempty"`
			SearchValue string   `json:"search_value,omitempty"`
			BodyText    string   `json:"body_text,omitempty" maxLength:"200000"`
		}
	}
	type extractOutput struct {
		Body struct {
			Found  bool           `json:"found"`
			Code   string         `json:"code,omitempty"`
			Source extract.Source `json:"source,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "extract-code", Method: http.MethodPost, Path: "/api/v1/extract", Summary: "Run the pattern extractor over page sources", Tags: []string{"Extract"}},
		func(ctx context.Context, input *extractInput) (*extractOutput, error) {
			b := input.Body
			m, ok := svc.Extractor().ExtractMatch(extract.Sources{
				Address:     b.Address,
				Title:       b.Title,
				Heading:     b.Heading,
				SiteTitles:  b.SiteTitles,
				Breadcrumbs: b.Breadcrumbs,
				SearchValue: b.SearchValue,
				BodyText:    b.BodyText,
			})
			out := &extractOutput{}
			if ok {
				out.Body.Found = true
				out.Body.Code = m.Code
				out.Body.Source = m.Source
			}
			return out, nil
		})
}

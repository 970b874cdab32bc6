package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/overlay_agent/internal/catalog"
	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/extract"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/panel"
	"github.com/dgnsrekt/overlay_agent/internal/persist"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
)

type stubService struct {
	ext      *extract.Extractor
	commands []string
	geometry persist.Geometry
	err      error
}

func (s *stubService) Tabs() []host.TabStatus {
	return []host.TabStatus{{TargetID: "T1", ControllerID: "c1", URL: "https://shop.test/p/1"}}
}

func (s *stubService) Ping(ctx context.Context, targetID string) (cdpcontrol.PingResult, error) {
	return cdpcontrol.PingResult{Pong: true}, s.err
}

func (s *stubService) Panel(ctx context.Context, targetID string) (panel.Snapshot, error) {
	if targetID != "T1" {
		return panel.Snapshot{}, cdpcontrol.NewError(cdpcontrol.CodeTabNotFound, "tab not controlled", nil)
	}
	return panel.Snapshot{State: panel.StateMatched, Code: "OP-01", Visible: true}, s.err
}

func (s *stubService) Command(ctx context.Context, targetID, cmd string) (panel.Snapshot, error) {
	s.commands = append(s.commands, cmd)
	return panel.Snapshot{State: panel.StateMatched}, s.err
}

func (s *stubService) SetGeometry(ctx context.Context, targetID string, g persist.Geometry) (panel.Snapshot, error) {
	s.geometry = g
	return panel.Snapshot{Geometry: g}, s.err
}

func (s *stubService) Compare(ctx context.Context, targetID, code string) (panel.Snapshot, error) {
	if _, ok := s.ext.Normalize(code); !ok {
		return panel.Snapshot{}, cdpcontrol.NewError(cdpcontrol.CodeValidation, "invalid item code", nil)
	}
	return panel.Snapshot{}, s.err
}

func (s *stubService) Extractor() *extract.Extractor { return s.ext }

func newStub() *stubService {
	return &stubService{ext: extract.New(catalog.Default())}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := do(t, NewServer(newStub(), nil), http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
	for _, want := range []string{`href="/api/v1/events?feeds=panel"`, `href="/api/v1/events?feeds=tabs"`, `new EventSource("/api/v1/events")`} {
		if !strings.Contains(body, want) {
			t.Fatalf("docs missing %s", want)
		}
	}
	if strings.Contains(body, "{{") {
		t.Fatalf("docs has unreplaced placeholders")
	}
}

func TestRequestLoggerRecordsRouteAndTab(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	h := NewServer(newStub(), nil)
	do(t, h, http.MethodGet, "/api/v1/tabs/nope/panel", "")

	var rec map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		if json.Unmarshal([]byte(line), &m) == nil && m["msg"] == "http request" {
			rec = m
		}
	}
	if rec == nil {
		t.Fatalf("no request log line in %s", buf.String())
	}
	if rec["route"] != "/api/v1/tabs/{tab_id}/panel" || rec["tab_id"] != "nope" {
		t.Fatalf("log = %v; want route pattern and tab_id", rec)
	}
	if rec["level"] != "WARN" || rec["status"] != float64(http.StatusNotFound) {
		t.Fatalf("log = %v; want WARN with status 404", rec)
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/health", http.StatusOK, slog.LevelDebug},
		{"/api/v1/tabs", http.StatusOK, slog.LevelInfo},
		{"/api/v1/tabs/T1/panel", http.StatusNotFound, slog.LevelWarn},
		{"/api/v1/tabs/T1/ping", http.StatusBadGateway, slog.LevelError},
		{"/health", http.StatusInternalServerError, slog.LevelError},
	}
	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Fatalf("requestLevel(%q, %d) = %v; want %v", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestPanelRoutes(t *testing.T) {
	svc := newStub()
	h := NewServer(svc, relay.NewBroker())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"tabs", http.MethodGet, "/api/v1/tabs", "", http.StatusOK},
		{"ping", http.MethodGet, "/api/v1/tabs/T1/ping", "", http.StatusOK},
		{"panel", http.MethodGet, "/api/v1/tabs/T1/panel", "", http.StatusOK},
		{"panel unknown tab", http.MethodGet, "/api/v1/tabs/nope/panel", "", http.StatusNotFound},
		{"show", http.MethodPost, "/api/v1/tabs/T1/panel/show", "", http.StatusOK},
		{"toggle", http.MethodPost, "/api/v1/tabs/T1/panel/toggle", "", http.StatusOK},
		{"collapse", http.MethodPost, "/api/v1/tabs/T1/panel/collapse", "", http.StatusOK},
		{"bad gesture", http.MethodPost, "/api/v1/tabs/T1/panel/explode", "", http.StatusUnprocessableEntity},
		{"geometry", http.MethodPut, "/api/v1/tabs/T1/panel/geometry", `{"top":10,"height":320}`, http.StatusOK},
		{"empty geometry", http.MethodPut, "/api/v1/tabs/T1/panel/geometry", `{}`, http.StatusBadRequest},
		{"compare", http.MethodPost, "/api/v1/tabs/T1/compare", `{"code":"op5"}`, http.StatusOK},
		{"compare invalid", http.MethodPost, "/api/v1/tabs/T1/compare", `{"code":"zz-99"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("%s %s = %d; want %d (body %s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}

	want := []string{host.CmdShow, host.CmdToggle, host.CmdCollapse}
	if strings.Join(svc.commands, ",") != strings.Join(want, ",") {
		t.Fatalf("commands = %v; want %v", svc.commands, want)
	}
	if svc.geometry.Top == nil || *svc.geometry.Top != 10 || svc.geometry.Left != nil {
		t.Fatalf("geometry = %+v; want top=10 only with height", svc.geometry)
	}
}

func TestExtractRoute(t *testing.T) {
	h := NewServer(newStub(), nil)
	w := do(t, h, http.MethodPost, "/api/v1/extract", `{"title":"Booster Box OP-07 | Shop"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	var out struct {
		Found  bool   `json:"found"`
		Code   string `json:"code"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Found || out.Code != "OP-07" || out.Source != string(extract.SourceTitle) {
		t.Fatalf("extract = %+v; want OP-07 from title", out)
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{cdpcontrol.CodeValidation, http.StatusBadRequest},
		{cdpcontrol.CodeTabNotFound, http.StatusNotFound},
		{cdpcontrol.CodeEvalTimeout, http.StatusGatewayTimeout},
		{cdpcontrol.CodeCDPUnavailable, http.StatusBadGateway},
		{cdpcontrol.CodeNotInjected, http.StatusBadGateway},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapErr(cdpcontrol.NewError(tt.code, "boom", nil))
			var se interface{ GetStatus() int }
			if !asStatus(err, &se) || se.GetStatus() != tt.want {
				t.Fatalf("mapErr(%s) = %v; want status %d", tt.code, err, tt.want)
			}
		})
	}
	if mapErr(nil) != nil {
		t.Fatalf("mapErr(nil) != nil")
	}
}

func asStatus(err error, out *interface{ GetStatus() int }) bool {
	se, ok := err.(interface{ GetStatus() int })
	if ok {
		*out = se
	}
	return ok
}

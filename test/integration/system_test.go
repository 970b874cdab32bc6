//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/health")
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Status string `json:"status"`
		Tabs   int    `json:"tabs"`
	}](t, resp)
	requireField(t, result.Status, "ok", "status")
	if result.Tabs == 0 {
		t.Fatalf("tabs = 0; want at least one attached tab")
	}
}

func TestPing(t *testing.T) {
	resp := env.GET(t, env.tabPath("ping"))
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Pong bool `json:"pong"`
	}](t, resp)
	requireField(t, result.Pong, true, "pong")
}

func TestUnknownTab(t *testing.T) {
	resp := env.GET(t, "/api/v1/tabs/does-not-exist/panel")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestExtract(t *testing.T) {
	resp := env.POST(t, "/api/v1/extract", map[string]any{
		"title": "Romance Dawn Booster Box | Shop",
	})
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Found bool   `json:"found"`
		Code  string `json:"code"`
	}](t, resp)
	requireField(t, result.Code, "OP-01", "code")
}

//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var env *Env

// Env holds shared state for all integration tests.
type Env struct {
	BaseURL string
	Client  *http.Client
	TabID   string // discovered from /api/v1/tabs
}

// discoverTab waits for the agent to attach a marketplace tab and records
// the first one.
func (e *Env) discoverTab(wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		resp, err := e.Client.Get(e.BaseURL + "/api/v1/tabs")
		if err != nil {
			return fmt.Errorf("agent not reachable at %s: %w", e.BaseURL, err)
		}
		var listing struct {
			Tabs []struct {
				TargetID string `json:"target_id"`
			} `json:"tabs"`
		}
		err = json.NewDecoder(resp.Body).Decode(&listing)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode tabs: %w", err)
		}
		if len(listing.Tabs) > 0 {
			e.TabID = listing.Tabs[0].TargetID
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no marketplace tabs attached at %s", e.BaseURL)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestMain(m *testing.M) {
	baseURL := os.Getenv("OVERLAY_AGENT_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8190"
	}

	env = &Env{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
	if err := env.discoverTab(10 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "integration: using tab %s at %s\n", env.TabID, env.BaseURL)
	os.Exit(m.Run())
}

// --- HTTP helpers ---

func (e *Env) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.Client.Get(e.BaseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (e *Env) PUT(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPut, path, body)
}

func (e *Env) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, path, body)
}

func (e *Env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("%s %s: marshal body: %v", method, path, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.BaseURL+path, r)
	if err != nil {
		t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// --- Assertion helpers ---

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, want, body)
	}
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func requireField[T comparable](t *testing.T, got, want T, name string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func (e *Env) tabPath(suffix string) string {
	return fmt.Sprintf("/api/v1/tabs/%s/%s", e.TabID, suffix)
}

type panelState struct {
	State     string `json:"state"`
	Visible   bool   `json:"visible"`
	Collapsed bool   `json:"collapsed"`
	Dismissed bool   `json:"dismissed"`
	Code      string `json:"code"`
	Geometry  struct {
		Top    *float64 `json:"top"`
		Left   *float64 `json:"left"`
		Height *float64 `json:"height"`
	} `json:"geometry"`
}

// waitPanel polls the panel until cond holds.
func (e *Env) waitPanel(t *testing.T, what string, cond func(panelState) bool) panelState {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	var last panelState
	for time.Now().Before(deadline) {
		resp := e.GET(t, e.tabPath("panel"))
		if resp.StatusCode == http.StatusOK {
			last = decodeJSON[panelState](t, resp)
			if cond(last) {
				return last
			}
		} else {
			resp.Body.Close()
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last state %+v", what, last)
	return last
}

package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestHTTPCollaboratorPostsRequest(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotContentType string
	var gotReq Request
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"matched":true,"item":{"name":"Romance Dawn"},"metrics":{"floor":120.5}}`), nil
	})}

	h := NewHTTPCollaborator(client, "http://example.com/api/extension", "secret")
	resp, err := h.Request(context.Background(), Request{Action: ActionFetchItemData, Code: "OP-01"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/api/extension" {
		t.Fatalf("request = %s %s; want POST /api/extension", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q; want bearer token", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content-type = %q; want application/json", gotContentType)
	}
	if gotReq.Action != ActionFetchItemData || gotReq.Code != "OP-01" {
		t.Fatalf("body = %+v; want fetchItemData OP-01", gotReq)
	}
	if !resp.Matched || !strings.Contains(string(resp.Metrics), "120.5") {
		t.Fatalf("response = %+v; want matched with metrics", resp)
	}
}

func TestHTTPCollaboratorErrors(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		status   int
		body     string
		want     string
	}{
		{name: "no endpoint", endpoint: "", want: "endpoint not configured"},
		{name: "bad status", endpoint: "http://example.com/x", status: http.StatusBadGateway, body: "oops", want: "status=502"},
		{name: "bad json", endpoint: "http://example.com/x", status: http.StatusOK, body: "{", want: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return jsonResponse(tt.status, tt.body), nil
			})}
			_, err := NewHTTPCollaborator(client, tt.endpoint, "").Request(context.Background(), Request{Action: ActionGetConfig})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Request() error = %v; want containing %q", err, tt.want)
			}
		})
	}
}

func TestHTTPCollaboratorEmptyBodyIsNotMatched(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNoContent, ""), nil
	})}
	resp, err := NewHTTPCollaborator(client, "http://example.com/x", "").Request(context.Background(), Request{Action: ActionItemDetected})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp.Matched {
		t.Fatalf("Matched = true; want false for empty body")
	}
}

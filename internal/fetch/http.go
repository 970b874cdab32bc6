package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const maxResponseBytes = 4 << 20

// HTTPCollaborator relays controller messages to the analytics backend. It
// holds the credentials the page itself must never see.
type HTTPCollaborator struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

// NewHTTPCollaborator creates a collaborator posting to endpoint. A nil
// client uses http.DefaultClient.
func NewHTTPCollaborator(client *http.Client, endpoint, apiKey string) *HTTPCollaborator {
	return &HTTPCollaborator{client: client, endpoint: strings.TrimSpace(endpoint), apiKey: apiKey}
}

// Request posts req as JSON and decodes the reply.
func (h *HTTPCollaborator) Request(ctx context.Context, req Request) (Response, error) {
	if h.endpoint == "" {
		return Response{}, fmt.Errorf("collaborator: endpoint not configured")
	}
	c := h.client
	if c == nil {
		c = http.DefaultClient
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("collaborator: marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("collaborator: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := c.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("collaborator: %s: %w", req.Action, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("collaborator: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("collaborator: %s failed: status=%d", req.Action, resp.StatusCode)
	}

	var out Response
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("collaborator: decode %s reply: %w", req.Action, err)
	}
	return out, nil
}

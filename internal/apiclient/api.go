// ABOUTME: Typed wrappers over the Agent API endpoints.
// ABOUTME: Each wrapper maps one HTTP operation to Go types via Client.Do.

package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// Status fetches the agent's readiness from GET /status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.Do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Ping probes the server with a single non-retried status request.
// It reports reachability, not agent readiness.
func (c *Client) Ping(ctx context.Context) error {
	var out StatusResponse
	return c.Do(ctx, http.MethodGet, "/status", nil, &out, WithSingleAttempt())
}

// Messages returns the conversation history from GET /messages.
func (c *Client) Messages(ctx context.Context) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	err := c.Do(ctx, http.MethodGet, "/messages", nil, &out)
	return out.Messages, err
}

// SendMessage posts content to the agent. Raw messages bypass the
// conversation layer and go straight to the terminal.
func (c *Client) SendMessage(ctx context.Context, content string, typ MessageType) (SendMessageResponse, error) {
	var out SendMessageResponse
	req := SendMessageRequest{Content: content, Type: typ}
	err := c.Do(ctx, http.MethodPost, "/message", req, &out)
	return out, err
}

// Screen returns the agent's current terminal contents from
// GET /internal/screen.
func (c *Client) Screen(ctx context.Context) (string, error) {
	var out ScreenResponse
	err := c.Do(ctx, http.MethodGet, "/internal/screen", nil, &out)
	return out.Screen, err
}

// OpenAPISchema fetches the server's schema document as raw JSON.
func (c *Client) OpenAPISchema(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.Do(ctx, http.MethodGet, "/openapi.json", nil, &out)
	return out, err
}

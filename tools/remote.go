package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vercel/ai-chatbot-sub000/iox"
	"github.com/vercel/ai-chatbot-sub000/provider"
)

// MaxResponseBytes caps the body read from a remote tool.
const MaxResponseBytes = 1 << 20

// RemoteConfig configures a remote HTTP tool.
type RemoteConfig struct {
	Name        string
	Description string
	// Parameters is the JSON Schema of the arguments object.
	Parameters map[string]any
	// URL receives a POST with the arguments as JSON body (required).
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
}

// Remote calls a tool hosted behind an HTTP endpoint. A 2xx JSON body is
// the output; any other status is a tool failure. Calls are not retried.
type Remote struct {
	config RemoteConfig
	client *http.Client
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// NewRemote creates a remote tool. Returns an error if name or URL is empty.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.Name == "" {
		return nil, errors.New("remote tool requires a name")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote tool %s requires a URL", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Parameters == nil {
		cfg.Parameters = map[string]any{"type": "object"}
	}
	return &Remote{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Definition implements Tool.
func (t *Remote) Definition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        t.config.Name,
		Description: t.config.Description,
		Parameters:  t.config.Parameters,
	}
}

// Call implements Tool.
func (t *Remote) Call(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(args))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	body, err := iox.ReadCapped(resp.Body, MaxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("tool %s returned invalid JSON", t.config.Name)
	}
	return body, nil
}

// Close releases idle connections.
func (t *Remote) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

var (
	_ Tool      = (*Remote)(nil)
	_ io.Closer = (*Remote)(nil)
)

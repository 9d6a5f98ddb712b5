package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPConfig holds HTTP client settings.
type HTTPConfig struct {
	// BaseURL is the host platform's session API endpoint.
	BaseURL string

	// RequestTimeout bounds individual calls. Zero means 30s.
	RequestTimeout time.Duration
}

// HTTPClient talks to the host platform's session API.
type HTTPClient struct {
	config HTTPConfig
	http   *http.Client
	logger *zap.Logger
}

// NewHTTPClient creates a platform client against cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("platform: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("platform: invalid base URL: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		config: cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type createSessionRequest struct {
	Parent Handle `json:"parent,omitempty"`
	Title  string `json:"title,omitempty"`
}

type createSessionResponse struct {
	Handle Handle `json:"handle"`
}

func (c *HTTPClient) CreateSession(ctx context.Context, parent Handle, title string) (Handle, error) {
	var resp createSessionResponse
	if err := c.post(ctx, "/sessions", createSessionRequest{Parent: parent, Title: title}, &resp); err != nil {
		return "", err
	}
	if resp.Handle == "" {
		return "", errors.New("platform returned an empty session handle")
	}
	return resp.Handle, nil
}

type dispatchRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

func (c *HTTPClient) DispatchPrompt(ctx context.Context, handle Handle, role, content, model string) error {
	path := fmt.Sprintf("/sessions/%s/prompt", url.PathEscape(string(handle)))
	return c.post(ctx, path, dispatchRequest{Role: role, Content: content, Model: model}, nil)
}

func (c *HTTPClient) FetchTranscript(ctx context.Context, handle Handle) (*Transcript, error) {
	path := fmt.Sprintf("/sessions/%s/transcript", url.PathEscape(string(handle)))
	var t Transcript
	if err := c.get(ctx, path, &t); err != nil {
		return nil, err
	}
	if t.Handle == "" {
		t.Handle = handle
	}
	return &t, nil
}

type livenessRequest struct {
	Handles []Handle `json:"handles"`
}

type livenessResponse struct {
	Liveness map[Handle]Liveness `json:"liveness"`
}

func (c *HTTPClient) PollLiveness(ctx context.Context, handles []Handle) (map[Handle]Liveness, error) {
	var resp livenessResponse
	if err := c.post(ctx, "/sessions/liveness", livenessRequest{Handles: handles}, &resp); err != nil {
		return nil, err
	}
	out := make(map[Handle]Liveness, len(handles))
	for _, h := range handles {
		state, ok := resp.Liveness[h]
		if !ok {
			state = LivenessUnknown
		}
		out[h] = state
	}
	return out, nil
}

func (c *HTTPClient) Abort(ctx context.Context, handle Handle) error {
	path := fmt.Sprintf("/sessions/%s/abort", url.PathEscape(string(handle)))
	return c.post(ctx, path, nil, nil)
}

var _ Client = (*HTTPClient)(nil)

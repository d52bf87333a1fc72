// Package backend is the agent's HTTP client for the broker and the
// session persistence endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/okian/zapgaze/internal/domain/calibration"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/internal/domain/model"
	"github.com/okian/zapgaze/pkg/logger"
)

// APIKeyHeader carries the agent's shared secret.
const APIKeyHeader = "X-API-Key"

const (
	defaultTimeout      = 5 * time.Second
	reportTimeout       = 2 * time.Second
	unregisterTimeout   = 2 * time.Second
	forwardPointTimeout = 1 * time.Second
	maxErrorBody        = 512
)

// Identity is the alias pair presented to the broker.
type Identity struct {
	AgentID    string `json:"agent_id,omitempty"`
	SessionUID string `json:"session_uid,omitempty"`
}

// HeartbeatResponse is the broker's answer to a heartbeat. Commands are left
// undecoded so the caller can report per-command decode failures.
type HeartbeatResponse struct {
	Status   string            `json:"status"`
	Commands []json.RawMessage `json:"commands"`
	Message  string            `json:"message,omitempty"`
}

// Stopped reports whether the broker told the agent to stop polling.
func (r HeartbeatResponse) Stopped() bool { return r.Status == "stopped" }

// Client talks to the backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
	gzip    bool
	logger  logger.Logger
}

// New creates a client for baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
		timeout: defaultTimeout,
		logger:  logger.Get().Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// Register announces the agent.
func (c *Client) Register(ctx context.Context, id Identity) error {
	return c.do(ctx, c.timeout, http.MethodPost, c.baseURL+"/agent/register", id, nil)
}

// Heartbeat reports liveness and optionally a command result.
func (c *Client) Heartbeat(ctx context.Context, id Identity, result *command.Result) (HeartbeatResponse, error) {
	body := struct {
		Identity
		CommandResult *command.Result `json:"command_result,omitempty"`
	}{Identity: id, CommandResult: result}

	timeout := c.timeout
	if result != nil {
		timeout = reportTimeout
	}
	var resp HeartbeatResponse
	if err := c.do(ctx, timeout, http.MethodPost, c.baseURL+"/agent/heartbeat", body, &resp); err != nil {
		return HeartbeatResponse{}, err
	}
	return resp, nil
}

// Unregister removes the agent's alias from the broker.
func (c *Client) Unregister(ctx context.Context, id Identity) error {
	q := url.Values{}
	if id.AgentID != "" {
		q.Set("agent_id", id.AgentID)
	}
	if id.SessionUID != "" {
		q.Set("session_uid", id.SessionUID)
	}
	return c.do(ctx, unregisterTimeout, http.MethodDelete, c.baseURL+"/agent/unregister?"+q.Encode(), nil, nil)
}

// ForwardPoint stores a captured calibration point with the session.
func (c *Client) ForwardPoint(ctx context.Context, sessionUID string, p calibration.Point) error {
	u := c.baseURL + "/session/" + url.PathEscape(sessionUID) + "/calibration/point"
	return c.do(ctx, forwardPointTimeout, http.MethodPost, u, p, nil)
}

// PostBatch sends samples to batchURL, gzip-compressed when enabled.
func (c *Client) PostBatch(ctx context.Context, batchURL string, samples []model.Sample) error {
	return c.send(ctx, c.timeout, http.MethodPost, batchURL, samples, c.gzip, nil)
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, u string, in, out any) error {
	return c.send(ctx, timeout, method, u, in, false, out)
}

func (c *Client) send(ctx context.Context, timeout time.Duration, method, u string, in any, compress bool, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := encode(in, compress)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, u, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequest, method, u, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		if compress {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequest, method, u, err)
	}
	defer resp.Body.Close()
	c.logger.Debug(ctx, "backend call",
		logger.String("method", method),
		logger.String("url", u),
		logger.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: %d %s", ErrStatus, method, u, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, u, err)
	}
	return nil
}

func encode(in any, compress bool) ([]byte, error) {
	if !compress {
		return json.Marshal(in)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

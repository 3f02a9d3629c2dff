package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamingpro/internal/observability/metrics"
)

// Client performs authenticated calls against the media engine REST API. A
// call that comes back 401 forces one token refresh through the Broker and is
// retried exactly once with the fresh token; every other failure surfaces
// immediately.
type Client struct {
	baseURL string
	broker  *Broker
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// ClientConfig wires a Client to the engine and its token broker.
type ClientConfig struct {
	BaseURL string
	Broker  *Broker
	Client  *http.Client
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// NewClient constructs an authenticated engine client.
func NewClient(cfg ClientConfig) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		broker:  cfg.Broker,
		client:  client,
		logger:  logger,
		metrics: recorder,
	}
}

// record accounts one engine call by operation name, flagging failures.
func (c *Client) record(operation string, err error) {
	c.metrics.ObserveEngineCall(operation)
	if err != nil {
		c.metrics.ObserveEngineFailure(operation)
	}
}

// Do issues one engine call. A non-nil body is sent as JSON; a non-nil dest
// receives the decoded response. Empty success bodies are tolerated, as some
// engine DELETE endpoints legitimately return no content.
func (c *Client) Do(ctx context.Context, method, path string, body, dest interface{}) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = data
	}
	data, err := c.execute(ctx, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	if dest == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}

// Raw issues one engine call with an opaque payload, for endpoints such as
// the engine filesystem that do not speak JSON. It returns the raw response
// body.
func (c *Client) Raw(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, error) {
	return c.execute(ctx, method, path, payload, contentType)
}

// execute runs the token-ensure, call, refresh-and-retry-once sequence shared
// by Do and Raw. The retry always uses the freshly refreshed token.
func (c *Client) execute(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, error) {
	token, err := c.broker.Token(ctx)
	if err != nil {
		return nil, err
	}

	status, data, err := c.attempt(ctx, method, path, payload, contentType, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.metrics.ObserveEngineRetry()
		token, err = c.broker.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		status, data, err = c.attempt(ctx, method, path, payload, contentType, token)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &APIError{Status: status, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, contentType, token string) (int, []byte, error) {
	reqBody := io.Reader(nil)
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read engine response: %w", err)
	}
	return resp.StatusCode, data, nil
}

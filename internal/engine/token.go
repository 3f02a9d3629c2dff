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
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"streamingpro/internal/observability/metrics"
)

// Broker holds the engine access/refresh token pair and serializes login and
// refresh traffic. Concurrent callers that find the pair absent or stale
// share a single in-flight network operation instead of issuing duplicates.
type Broker struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	logger   *slog.Logger
	timeout  time.Duration
	metrics  *metrics.Recorder

	mu           sync.Mutex
	accessToken  string
	refreshToken string

	flight singleflight.Group
}

// BrokerConfig wires a Broker to the engine login endpoints.
type BrokerConfig struct {
	BaseURL  string
	Username string
	Password string
	Client   *http.Client
	Logger   *slog.Logger
	Timeout  time.Duration
	Metrics  *metrics.Recorder
}

// NewBroker constructs a Broker for the given engine credentials.
func NewBroker(cfg BrokerConfig) *Broker {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Broker{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		logger:   logger,
		timeout:  timeout,
		metrics:  recorder,
	}
}

// Token returns the current access token, logging in first when none is held.
func (b *Broker) Token(ctx context.Context) (string, error) {
	b.mu.Lock()
	token := b.accessToken
	b.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return b.Login(ctx)
}

// Login authenticates with the configured operator credentials. Concurrent
// callers await the same network call and observe its outcome.
func (b *Broker) Login(ctx context.Context) (string, error) {
	token, err, _ := b.flight.Do("login", func() (interface{}, error) {
		return b.login()
	})
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return token.(string), nil
}

// Refresh exchanges the held refresh token for a new pair. When no refresh
// token is held, or the refresh is rejected, it falls back to a full login
// once. Failure leaves the broker unauthenticated and is returned to every
// waiter.
func (b *Broker) Refresh(ctx context.Context) (string, error) {
	token, err, _ := b.flight.Do("refresh", func() (interface{}, error) {
		return b.refresh()
	})
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return token.(string), nil
}

// SetToken installs an access token obtained out-of-band.
func (b *Broker) SetToken(token string) {
	b.mu.Lock()
	b.accessToken = strings.TrimSpace(token)
	b.mu.Unlock()
}

// Clear drops both tokens, forcing the next caller through a full login.
func (b *Broker) Clear() {
	b.mu.Lock()
	b.accessToken = ""
	b.refreshToken = ""
	b.mu.Unlock()
}

func (b *Broker) login() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	pair, err := b.exchange(ctx, "/api/login", map[string]string{
		"username": b.username,
		"password": b.password,
	})
	if err != nil {
		b.Clear()
		b.logger.Warn("engine login failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	b.store(pair)
	b.metrics.TokenLogin()
	return pair.AccessToken, nil
}

func (b *Broker) refresh() (string, error) {
	b.mu.Lock()
	refreshToken := b.refreshToken
	b.mu.Unlock()

	if refreshToken == "" {
		return b.login()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	pair, err := b.exchange(ctx, "/api/refresh", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		b.Clear()
		b.logger.Warn("engine token refresh failed, retrying with full login", "error", err)
		return b.login()
	}
	b.store(pair)
	b.metrics.TokenRefresh()
	return pair.AccessToken, nil
}

func (b *Broker) store(pair tokenPair) {
	b.mu.Lock()
	b.accessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		b.refreshToken = pair.RefreshToken
	}
	b.mu.Unlock()
}

func (b *Broker) exchange(ctx context.Context, path string, payload map[string]string) (tokenPair, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return tokenPair{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return tokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return tokenPair{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return tokenPair{}, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var pair tokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return tokenPair{}, fmt.Errorf("decode token response: %w", err)
	}
	if pair.AccessToken == "" {
		return tokenPair{}, fmt.Errorf("engine returned an empty access token")
	}
	return pair, nil
}

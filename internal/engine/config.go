package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"streamingpro/internal/observability/metrics"
)

// Config stores connectivity information for the media engine.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		BaseURL:  strings.TrimSpace(os.Getenv("STREAMINGPRO_ENGINE_URL")),
		Username: strings.TrimSpace(os.Getenv("STREAMINGPRO_ENGINE_USERNAME")),
		Password: strings.TrimSpace(os.Getenv("STREAMINGPRO_ENGINE_PASSWORD")),
		Timeout:  10 * time.Second,
	}

	if timeout := strings.TrimSpace(os.Getenv("STREAMINGPRO_ENGINE_TIMEOUT")); timeout != "" {
		parsed, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse STREAMINGPRO_ENGINE_TIMEOUT: %w", err)
		}
		if parsed > 0 {
			cfg.Timeout = parsed
		}
	}

	return cfg, nil
}

// Validate reports whether the configuration is complete enough to reach the
// engine.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("engine base URL is required")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("engine credentials are required")
	}
	return nil
}

// NewClient builds the token broker and authenticated client pair described
// by the configuration.
func (c Config) NewClient() (*Client, *Broker) {
	httpClient := c.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	broker := NewBroker(BrokerConfig{
		BaseURL:  c.BaseURL,
		Username: c.Username,
		Password: c.Password,
		Client:   httpClient,
		Logger:   c.Logger,
		Timeout:  c.Timeout,
		Metrics:  c.Metrics,
	})
	client := NewClient(ClientConfig{
		BaseURL: c.BaseURL,
		Broker:  broker,
		Client:  httpClient,
		Logger:  c.Logger,
		Metrics: c.Metrics,
	})
	return client, broker
}

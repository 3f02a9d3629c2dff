package main

import (
	"net/url"

	"streamingpro/internal/server"
)

// startupSummaryInput collects the resolved configuration logged once at boot.
type startupSummaryInput struct {
	Mode          string
	Addr          string
	EngineURL     string
	StorageDriver string
	StorageDSN    string
	SessionConfig sessionStoreConfig
	RateLimit     server.RateLimitConfig
}

type startupSummary struct {
	input startupSummaryInput
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	return startupSummary{input: input}
}

// LogArgs renders the summary as slog key/value pairs. Connection strings are
// redacted so credentials never reach the log stream.
func (s startupSummary) LogArgs() []any {
	datastore := map[string]any{"driver": s.input.StorageDriver}
	if s.input.StorageDSN != "" {
		datastore["dsn"] = redactDSN(s.input.StorageDSN)
	}

	sessionStore := map[string]any{"driver": s.input.SessionConfig.Driver}
	if s.input.SessionConfig.DSN != "" {
		sessionStore["dsn"] = redactDSN(s.input.SessionConfig.DSN)
	}

	loginThrottle := map[string]any{"driver": "memory"}
	if s.input.RateLimit.RedisAddr != "" {
		loginThrottle["driver"] = "redis"
		loginThrottle["addr"] = s.input.RateLimit.RedisAddr
	}

	return []any{
		"mode", s.input.Mode,
		"addr", s.input.Addr,
		"engine_url", s.input.EngineURL,
		"datastore", datastore,
		"session_store", sessionStore,
		"login_throttle", loginThrottle,
	}
}

// redactDSN masks the password component of a URL-style connection string.
// Strings that do not parse as URLs are returned unchanged.
func redactDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.User == nil {
		return dsn
	}
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		return dsn
	}
	parsed.User = url.UserPassword(parsed.User.Username(), "*****")
	return parsed.String()
}

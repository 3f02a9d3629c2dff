// Command server starts the StreamingPro dashboard HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"streamingpro/internal/api"
	"streamingpro/internal/auth"
	"streamingpro/internal/engine"
	"streamingpro/internal/observability/logging"
	"streamingpro/internal/observability/metrics"
	"streamingpro/internal/restreamer"
	"streamingpro/internal/server"
	"streamingpro/internal/store"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log output format (json or text)")
	engineURL := flag.String("engine-url", "", "base URL of the media engine API")
	engineUsername := flag.String("engine-username", "", "username for the media engine API")
	enginePassword := flag.String("engine-password", "", "password for the media engine API")
	engineTimeout := flag.Duration("engine-timeout", 0, "timeout for media engine requests")
	storeDriver := flag.String("store-driver", "", "dashboard state store driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for dashboard state")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	sessionTTL := flag.Duration("session-ttl", 0, "absolute lifetime of operator sessions")
	sessionIdle := flag.Duration("session-idle-timeout", 0, "idle timeout for operator sessions")
	sessionPurgeInterval := flag.Duration("session-purge-interval", 0, "interval between expired session sweeps")
	operatorUsername := flag.String("operator-username", "", "dashboard operator username")
	operatorPassword := flag.String("operator-password", "", "dashboard operator password (hashed at startup)")
	operatorPasswordHash := flag.String("operator-password-hash", "", "PBKDF2 hash of the dashboard operator password")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	corsOrigins := flag.String("cors-allowed-origins", "", "comma separated origins allowed to call the API")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	trustForwarded := flag.Bool("rate-trust-forwarded-headers", false, "trust proxy-provided client IP headers")
	trustedProxies := flag.String("rate-trusted-proxies", "", "comma separated CIDR blocks or IPs of trusted proxies")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMINGPRO_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMINGPRO_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("STREAMINGPRO_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("STREAMINGPRO_ADDR"))

	engineCfg := engine.Config{
		BaseURL:  firstNonEmpty(*engineURL, os.Getenv("STREAMINGPRO_ENGINE_URL")),
		Username: firstNonEmpty(*engineUsername, os.Getenv("STREAMINGPRO_ENGINE_USERNAME")),
		Password: firstNonEmpty(*enginePassword, os.Getenv("STREAMINGPRO_ENGINE_PASSWORD")),
		Timeout:  resolveDuration(*engineTimeout, "STREAMINGPRO_ENGINE_TIMEOUT", 10*time.Second),
		Logger:   logging.WithComponent(logger, "engine"),
		Metrics:  recorder,
	}
	if err := engineCfg.Validate(); err != nil {
		logger.Error("invalid engine configuration", "error", err)
		os.Exit(1)
	}
	client, _ := engineCfg.NewClient()

	operator, err := resolveOperatorCredentials(
		firstNonEmpty(*operatorUsername, os.Getenv("STREAMINGPRO_OPERATOR_USERNAME")),
		firstNonEmpty(*operatorPassword, os.Getenv("STREAMINGPRO_OPERATOR_PASSWORD")),
		firstNonEmpty(*operatorPasswordHash, os.Getenv("STREAMINGPRO_OPERATOR_PASSWORD_HASH")),
	)
	if err != nil {
		logger.Error("failed to resolve operator credentials", "error", err)
		os.Exit(1)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	resolvedDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStoreDriver(*storeDriver, os.Getenv("STREAMINGPRO_STORE_DRIVER"), resolvedDSN)
	if err != nil {
		logger.Error("failed to resolve store driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionStore(driver, resolvedDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var st store.Store
	switch driver {
	case "memory":
		st = store.NewMemoryStore()
	case "postgres":
		pgStore, err := store.NewPostgresStore(bootCtx, resolvedDSN)
		if err != nil {
			logger.Error("failed to open datastore", "error", err)
			os.Exit(1)
		}
		st = pgStore
	default:
		logger.Error("unsupported store driver", "driver", driver)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("STREAMINGPRO_SESSION_STORE"),
		driver,
		resolvedDSN,
		*sessionPostgresDSN,
		os.Getenv("STREAMINGPRO_SESSION_POSTGRES_DSN"),
		serverMode == "production",
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgSessions, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgSessions
		sessionCloser = pgSessions.Close
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	ttl := resolveDuration(*sessionTTL, "STREAMINGPRO_SESSION_TTL", 0)
	sessionOptions := []auth.SessionOption{auth.WithStore(sessionStore)}
	if idle := resolveDuration(*sessionIdle, "STREAMINGPRO_SESSION_IDLE_TIMEOUT", 0); idle > 0 {
		sessionOptions = append(sessionOptions, auth.WithIdleTimeout(idle))
	}
	sessions := auth.NewSessionManager(ttl, sessionOptions...)

	handler := api.NewHandler(
		restreamer.NewComposer(client, logging.WithComponent(logger, "composer")),
		restreamer.NewOrchestrator(client, st, logging.WithComponent(logger, "cascade")),
		restreamer.NewRecordingController(client, st, logging.WithComponent(logger, "recording")),
		client,
		st,
		sessions,
	)
	handler.Operator = operator
	handler.Logger = logging.WithComponent(logger, "api")
	handler.SessionCookiePolicy = api.SessionCookiePolicy{
		SecureMode: resolveSessionCookieSecureMode(serverMode),
	}

	rateCfg := server.RateLimitConfig{
		GlobalRPS:             resolveFloat(*globalRPS, "STREAMINGPRO_RATE_GLOBAL_RPS"),
		GlobalBurst:           resolveInt(*globalBurst, "STREAMINGPRO_RATE_GLOBAL_BURST"),
		LoginLimit:            resolveInt(*loginLimit, "STREAMINGPRO_RATE_LOGIN_LIMIT"),
		LoginWindow:           resolveDuration(*loginWindow, "STREAMINGPRO_RATE_LOGIN_WINDOW", time.Minute),
		TrustForwardedHeaders: resolveBool(*trustForwarded, "STREAMINGPRO_RATE_TRUST_FORWARDED_HEADERS"),
		TrustedProxies:        splitAndTrim(firstNonEmpty(*trustedProxies, os.Getenv("STREAMINGPRO_RATE_TRUSTED_PROXIES"))),
		RedisAddr:             firstNonEmpty(*redisAddr, os.Getenv("STREAMINGPRO_RATE_REDIS_ADDR")),
		RedisPassword:         firstNonEmpty(*redisPassword, os.Getenv("STREAMINGPRO_RATE_REDIS_PASSWORD")),
		RedisTimeout:          resolveDuration(*redisTimeout, "STREAMINGPRO_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       server.TLSConfig{CertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMINGPRO_TLS_CERT")), KeyFile: firstNonEmpty(*tlsKey, os.Getenv("STREAMINGPRO_TLS_KEY"))},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("STREAMINGPRO_CORS_ALLOWED_ORIGINS"))),
		},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purgeInterval := resolveDuration(*sessionPurgeInterval, "STREAMINGPRO_SESSION_PURGE_INTERVAL", 15*time.Minute)
	purgeStop := startSessionPurgeWorker(ctx, logging.WithComponent(logger, "session-purger"), sessions, purgeInterval)
	defer purgeStop()

	summary := newStartupSummary(startupSummaryInput{
		Mode:          serverMode,
		Addr:          listenAddr,
		EngineURL:     engineCfg.BaseURL,
		StorageDriver: driver,
		StorageDSN:    resolvedDSN,
		SessionConfig: sessionConfig,
		RateLimit:     rateCfg,
	})
	logger.Info("dashboard API listening", summary.LogArgs()...)

	runErr := srv.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if closer, ok := st.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(shutdownCtx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}
	if sessionCloser != nil {
		if err := sessionCloser(shutdownCtx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storeDriver, storeDSN, flagDSN, envDSN string, requirePostgres bool) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN := strings.TrimSpace(firstNonEmpty(flagDSN, envDSN))
	if driver == "" {
		switch {
		case sessionDSN != "":
			driver = "postgres"
		case storeDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "", "memory":
		if requirePostgres {
			return sessionStoreConfig{}, fmt.Errorf("production mode requires the postgres session store")
		}
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(storeDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func resolveOperatorCredentials(username, password, passwordHash string) (auth.OperatorCredentials, error) {
	if username == "" {
		username = "admin"
	}
	switch {
	case passwordHash != "":
		return auth.OperatorCredentials{Username: username, PasswordHash: passwordHash}, nil
	case password != "":
		hash, err := auth.HashPassword(password)
		if err != nil {
			return auth.OperatorCredentials{}, fmt.Errorf("hash operator password: %w", err)
		}
		return auth.OperatorCredentials{Username: username, PasswordHash: hash}, nil
	default:
		return auth.OperatorCredentials{}, fmt.Errorf("operator credentials are required: set STREAMINGPRO_OPERATOR_PASSWORD or STREAMINGPRO_OPERATOR_PASSWORD_HASH")
	}
}

func resolveSessionCookieSecureMode(mode string) api.SessionCookieSecureMode {
	if strings.ToLower(strings.TrimSpace(mode)) == "production" {
		return api.SessionCookieSecureAlways
	}
	return api.SessionCookieSecureAuto
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStoreDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "memory", nil
}

func validateProductionStore(driver, resolvedDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres store driver, got %q", driver)
	}
	if strings.TrimSpace(resolvedDSN) == "" {
		return fmt.Errorf("postgres store selected without DSN")
	}
	return nil
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("STREAMINGPRO_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}

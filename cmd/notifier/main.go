package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/alternativc/chatbot/pkg/hardening"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/opsgenie"
	"github.com/alternativc/chatbot/pkg/pushover"
	"github.com/alternativc/chatbot/pkg/store"
	"github.com/alternativc/chatbot/pkg/telemetry"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openCacheFn     func(context.Context) (store.Cache, func(), error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runNotifier(initTelemetryFn, openCacheFn, listenFn); err != nil {
		logFatalf("notifier: %v", err)
	}
}

func runNotifier(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openCache func(context.Context) (store.Cache, func(), error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openCache == nil {
		openCache = defaultCache
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "notifier")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	authHeader := env("NOTIFY_AUTH_HEADER", "")
	opsgenieToken := env("OPSGENIE_TOKEN", "")
	pushoverToken := env("PUSHOVER_TOKEN", "")
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "notifier",
		Environment:           env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		RequiredSecrets: []hardening.EnvRequirement{
			{Name: "NOTIFY_AUTH_HEADER", Value: authHeader},
			{Name: "OPSGENIE_TOKEN", Value: opsgenieToken},
			{Name: "PUSHOVER_TOKEN", Value: pushoverToken},
		},
	}); err != nil {
		return err
	}
	if authHeader == "" {
		return errors.New("NOTIFY_AUTH_HEADER is required")
	}
	routes, err := pushover.ParseRoutes(env("NOTIFY_ROUTES", ""))
	if err != nil {
		return fmt.Errorf("NOTIFY_ROUTES: %w", err)
	}
	if len(routes) == 0 {
		log.Printf("notifier: NOTIFY_ROUTES is empty, alerts will not be pushed")
	}

	cache, closeCache, err := openCache(ctx)
	if err != nil {
		return err
	}
	if closeCache != nil {
		defer closeCache()
	}

	timeout := envDurationSec("UPSTREAM_TIMEOUT_SEC", 10)
	genie, err := opsgenie.NewClient(env("OPSGENIE_URL", opsgenie.DefaultBaseURL), opsgenieToken,
		telemetry.InstrumentClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return err
	}
	push := pushover.NewClient(env("PUSHOVER_URL", pushover.DefaultURL), pushoverToken)

	s := &Server{
		Alerts:              genie,
		Push:                push,
		Groups:              routes,
		AuthHeader:          authHeader,
		Cache:               cache,
		DedupeTTL:           envDurationSec("NOTIFY_DEDUPE_TTL_SEC", 3600),
		Metrics:             metrics.NewRegistry("notifier"),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}

	addr := env("ADDR", ":8082")
	log.Printf("notifier listening on %s (%d routes)", addr, len(routes))
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func defaultCache(ctx context.Context) (store.Cache, func(), error) {
	client, err := store.NewRedis(ctx, store.RedisConfigFromEnv())
	if errors.Is(err, store.ErrRedisDisabled) {
		return store.NewMemoryCache(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return store.NewRedisCache(client, "notifier:"), func() { _ = client.Close() }, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

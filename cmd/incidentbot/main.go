package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alternativc/chatbot/pkg/bus"
	"github.com/alternativc/chatbot/pkg/gate"
	"github.com/alternativc/chatbot/pkg/hardening"
	"github.com/alternativc/chatbot/pkg/httpx"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/opsgenie"
	"github.com/alternativc/chatbot/pkg/slack"
	"github.com/alternativc/chatbot/pkg/store"
	"github.com/alternativc/chatbot/pkg/telemetry"

	"github.com/go-chi/chi/v5"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openConsumerFn  func(context.Context) (bus.Consumer, error)
	openCacheFn     func(context.Context) (store.Cache, func(), error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runIncidentBot(initTelemetryFn, openConsumerFn, openCacheFn, listenFn); err != nil {
		logFatalf("incidentbot: %v", err)
	}
}

func runIncidentBot(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openConsumer func(context.Context) (bus.Consumer, error),
	openCache func(context.Context) (store.Cache, func(), error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openConsumer == nil {
		openConsumer = func(context.Context) (bus.Consumer, error) {
			c, err := bus.NewKafkaConsumer(bus.KafkaConfigFromEnv("incidentbot"))
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if openCache == nil {
		openCache = defaultCache
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "incidentbot")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	slackToken := env("SLACK_BOT_TOKEN", "")
	opsgenieToken := env("OPSGENIE_TOKEN", "")
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "incidentbot",
		Environment:           env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		KafkaEnabled:          true,
		KafkaTLS:              env("KAFKA_TLS", ""),
		RequiredSecrets: []hardening.EnvRequirement{
			{Name: "SLACK_BOT_TOKEN", Value: slackToken},
			{Name: "OPSGENIE_TOKEN", Value: opsgenieToken},
		},
	}); err != nil {
		return err
	}
	if slackToken == "" || opsgenieToken == "" {
		return errors.New("SLACK_BOT_TOKEN and OPSGENIE_TOKEN are required")
	}

	policy := gate.DefaultPolicy()
	if path := env("GATE_POLICY_FILE", ""); path != "" {
		if policy, err = gate.LoadPolicyFile(path); err != nil {
			return err
		}
	}

	timeout := envDurationSec("UPSTREAM_TIMEOUT_SEC", 10)
	slackClient := slack.NewClient(env("SLACK_API_URL", slack.DefaultBaseURL), slackToken, timeout)
	telemetry.InstrumentClient(slackClient.HTTPClient)
	genie, err := opsgenie.NewClient(env("OPSGENIE_URL", opsgenie.DefaultBaseURL), opsgenieToken,
		telemetry.InstrumentClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return err
	}

	s := &Server{
		Slack:    slackClient,
		Opsgenie: genie,
		Policy:   policy,
		Metrics:  metrics.NewRegistry("incidentbot"),
	}

	consumer, err := openConsumer(ctx)
	if err != nil {
		return fmt.Errorf("bus consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()
	cache, closeCache, err := openCache(ctx)
	if err != nil {
		return err
	}
	if closeCache != nil {
		defer closeCache()
	}

	dispatcher := &bus.Dispatcher{
		Service:   "incidentbot",
		Consumer:  consumer,
		Routes:    splitList(env("INCIDENT_ROUTES", "/sre,/ops-bot")),
		Handler:   s.HandleEvent,
		Cache:     cache,
		DedupeTTL: envDurationSec("BUS_DEDUPE_TTL_SEC", 600),
		Timeout:   envDurationSec("HANDLER_TIMEOUT_SEC", 30),
		Metrics:   s.Metrics,
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go dispatcher.Run(runCtx)

	r := chi.NewRouter()
	r.Use(httpx.RecoverMiddleware("incidentbot"))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("incidentbot"))
	r.Use(s.Metrics.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{"status": "ok", "service": "incidentbot", "routes": dispatcher.Routes})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	addr := env("ADDR", ":8081")
	log.Printf("incidentbot listening on %s, consuming %s", addr, strings.Join(dispatcher.Routes, ","))
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
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
	return store.NewRedisCache(client, "incidentbot:"), func() { _ = client.Close() }, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

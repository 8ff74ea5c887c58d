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
	"github.com/alternativc/chatbot/pkg/hardening"
	"github.com/alternativc/chatbot/pkg/httpx"
	"github.com/alternativc/chatbot/pkg/kube"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/slack"
	"github.com/alternativc/chatbot/pkg/store"
	"github.com/alternativc/chatbot/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openConsumerFn  func(context.Context) (bus.Consumer, error)
	openClusterFn   func() (scaler, error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runKillswitch(initTelemetryFn, openConsumerFn, openClusterFn, listenFn); err != nil {
		logFatalf("killswitch: %v", err)
	}
}

func runKillswitch(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openConsumer func(context.Context) (bus.Consumer, error),
	openCluster func() (scaler, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openConsumer == nil {
		openConsumer = func(context.Context) (bus.Consumer, error) {
			c, err := bus.NewKafkaConsumer(bus.KafkaConfigFromEnv("killswitch"))
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if openCluster == nil {
		openCluster = defaultCluster
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "killswitch")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	slackToken := env("SLACK_BOT_TOKEN", "")
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "killswitch",
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
		},
	}); err != nil {
		return err
	}
	if slackToken == "" {
		return errors.New("SLACK_BOT_TOKEN is required")
	}
	deployments := splitList(env("KILLSWITCH_DEPLOYMENTS", ""))
	if len(deployments) == 0 {
		return errors.New("KILLSWITCH_DEPLOYMENTS is required")
	}
	if envBool("KUBE_INSECURE", false) && hardening.IsProductionLikeEnv(env("ENVIRONMENT", "")) {
		return errors.New("KUBE_INSECURE is forbidden in production-like environments")
	}

	cluster, err := openCluster()
	if err != nil {
		return fmt.Errorf("cluster client: %w", err)
	}
	slackClient := slack.NewClient(env("SLACK_API_URL", slack.DefaultBaseURL), slackToken, envDurationSec("UPSTREAM_TIMEOUT_SEC", 10))
	telemetry.InstrumentClient(slackClient.HTTPClient)

	s := &Server{
		Slack:       slackClient,
		Cluster:     cluster,
		Namespace:   env("KILLSWITCH_NAMESPACE", "default"),
		Deployments: deployments,
		Metrics:     metrics.NewRegistry("killswitch"),
	}
	s.Metrics.SetGauge("killswitch_deployments", float64(len(deployments)))

	consumer, err := openConsumer(ctx)
	if err != nil {
		return fmt.Errorf("bus consumer: %w", err)
	}
	defer func() { _ = consumer.Close() }()
	rc := redisClient(ctx)
	if rc != nil {
		defer func() { _ = rc.Close() }()
	}
	cache := store.NewCache(ctx, rc, "killswitch:")

	dispatcher := &bus.Dispatcher{
		Service:   "killswitch",
		Consumer:  consumer,
		Routes:    splitList(env("KILLSWITCH_ROUTES", "/qchain")),
		Handler:   s.HandleEvent,
		Cache:     cache,
		DedupeTTL: envDurationSec("BUS_DEDUPE_TTL_SEC", 600),
		Timeout:   envDurationSec("HANDLER_TIMEOUT_SEC", 60),
		Metrics:   s.Metrics,
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go dispatcher.Run(runCtx)

	r := chi.NewRouter()
	r.Use(httpx.RecoverMiddleware("killswitch"))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("killswitch"))
	r.Use(s.Metrics.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{
			"status":      "ok",
			"service":     "killswitch",
			"namespace":   s.Namespace,
			"deployments": s.Deployments,
		})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	addr := env("ADDR", ":8083")
	log.Printf("killswitch listening on %s, %d deployments in %s", addr, len(deployments), s.Namespace)
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

// defaultCluster talks to KUBE_API_SERVER when set, otherwise to the
// cluster the pod runs in.
func defaultCluster() (scaler, error) {
	return kube.NewClient(kube.Config{
		Server:        env("KUBE_API_SERVER", ""),
		Token:         env("KUBE_TOKEN", ""),
		TokenFile:     env("KUBE_TOKEN_FILE", ""),
		CAFile:        env("KUBE_CA_FILE", ""),
		Insecure:      envBool("KUBE_INSECURE", false),
		Timeout:       envDurationSec("KUBE_TIMEOUT_SEC", 10),
		WrapTransport: telemetry.WrapTransport,
	})
}

func redisClient(ctx context.Context) *redis.Client {
	client, err := store.NewRedis(ctx, store.RedisConfigFromEnv())
	if err != nil {
		if !errors.Is(err, store.ErrRedisDisabled) {
			log.Printf("killswitch: redis unavailable, bus dedupe is process-local: %v", err)
		}
		return nil
	}
	return client
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

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true")
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}

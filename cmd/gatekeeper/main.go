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
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/store"
	"github.com/alternativc/chatbot/pkg/telemetry"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openPublisherFn func(context.Context) (bus.Publisher, error)
	openCacheFn     func(context.Context) (store.Cache, func(), error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := runGatekeeper(initTelemetryFn, openPublisherFn, openCacheFn, listenFn); err != nil {
		logFatalf("gatekeeper: %v", err)
	}
}

func runGatekeeper(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openPublisher func(context.Context) (bus.Publisher, error),
	openCache func(context.Context) (store.Cache, func(), error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openPublisher == nil {
		openPublisher = defaultPublisher
	}
	if openCache == nil {
		openCache = defaultCache
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gatekeeper")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	secret := env("SLACK_SIGNING_SECRET", "")
	maxSkew := envDurationSec("SIGNATURE_MAX_SKEW_SEC", int(gate.DefaultMaxSkew/time.Second))
	kafkaEnabled := envBool("KAFKA_ENABLED", false)
	if err := hardening.ValidateProduction(hardening.Options{
		Service:               "gatekeeper",
		Environment:           env("ENVIRONMENT", env("APP_ENV", "")),
		StrictProdSecurity:    env("STRICT_PROD_SECURITY", "true"),
		RedisAddr:             env("REDIS_ADDR", ""),
		RedisRequireTLS:       env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:      env("REDIS_TLS_INSECURE", ""),
		RedisAllowInsecureTLS: env("REDIS_ALLOW_INSECURE_TLS", ""),
		KafkaEnabled:          kafkaEnabled,
		KafkaTLS:              env("KAFKA_TLS", ""),
		SignatureMaxSkew:      &maxSkew,
		RequiredSecrets: []hardening.EnvRequirement{
			{Name: "SLACK_SIGNING_SECRET", Value: secret},
		},
	}); err != nil {
		return err
	}
	if secret == "" {
		return errors.New("SLACK_SIGNING_SECRET is required")
	}

	policy, err := loadPolicy()
	if err != nil {
		return err
	}
	opts := []gate.Option{gate.WithMaxSkew(maxSkew)}
	replayGuard := envBool("REPLAY_GUARD_ENABLED", true)
	if replayGuard {
		cache, closeCache, err := openCache(ctx)
		if err != nil {
			return err
		}
		if closeCache != nil {
			defer closeCache()
		}
		opts = append(opts, gate.WithReplayGuard(gate.NewReplayGuard(cache, maxSkew)))
	}

	var publisher bus.Publisher
	if kafkaEnabled {
		publisher, err = openPublisher(ctx)
		if err != nil {
			return err
		}
	} else {
		log.Printf("gatekeeper: KAFKA_ENABLED=false, accepted commands are not forwarded")
	}
	defer func() {
		if publisher != nil {
			_ = publisher.Close()
		}
	}()

	s := &Server{
		Gate:                gate.New(policy, secret, opts...),
		Publisher:           publisher,
		Metrics:             metrics.NewRegistry("gatekeeper"),
		PublishTimeout:      time.Millisecond * time.Duration(envInt("PUBLISH_TIMEOUT_MS", 3000)),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if s.MaxRequestBodyBytes <= 0 {
		s.MaxRequestBodyBytes = 1 << 20
	}
	defer s.Wait()
	s.Metrics.SetGauge("policy_commands", float64(len(policy.Commands())))
	s.Metrics.SetGauge("replay_guard_enabled", boolGauge(replayGuard))

	warmCtx, stopWarm := context.WithCancel(ctx)
	defer stopWarm()
	if interval := envDurationSec("KEEPWARM_INTERVAL_SEC", 0); interval > 0 && publisher != nil {
		go s.KeepWarm(warmCtx, interval)
	}

	addr := env("ADDR", ":8080")
	log.Printf("gatekeeper listening on %s (%d commands, restriction mode %s)", addr, len(policy.Commands()), policy.RestrictionMode)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 10),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 10),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

// loadPolicy reads GATE_POLICY_FILE when set, otherwise the built-in
// tables. GATE_RESTRICTION_MODE overrides the file's mode.
func loadPolicy() (gate.Policy, error) {
	policy := gate.DefaultPolicy()
	if path := env("GATE_POLICY_FILE", ""); path != "" {
		loaded, err := gate.LoadPolicyFile(path)
		if err != nil {
			return gate.Policy{}, err
		}
		policy = loaded
	}
	if mode := env("GATE_RESTRICTION_MODE", ""); mode != "" {
		policy.RestrictionMode = gate.RestrictionMode(mode)
	}
	if err := policy.Validate(); err != nil {
		return gate.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}

func defaultPublisher(context.Context) (bus.Publisher, error) {
	p, err := bus.NewKafkaPublisher(bus.KafkaConfigFromEnv(""))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// defaultCache uses Redis when REDIS_ADDR is set. A single replica can run
// on the in-memory cache; several replicas need the shared one.
func defaultCache(ctx context.Context) (store.Cache, func(), error) {
	client, err := store.NewRedis(ctx, store.RedisConfigFromEnv())
	if errors.Is(err, store.ErrRedisDisabled) {
		log.Printf("gatekeeper: REDIS_ADDR not set, replay guard is process-local")
		return store.NewMemoryCache(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return store.NewRedisCache(client, "gatekeeper:"), func() { _ = client.Close() }, nil
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

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

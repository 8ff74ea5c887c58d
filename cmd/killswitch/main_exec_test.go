package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alternativc/chatbot/pkg/bus"
)

type idleConsumer struct{}

func (idleConsumer) ReadMessage(ctx context.Context) (bus.Message, error) {
	<-ctx.Done()
	return bus.Message{}, ctx.Err()
}

func (idleConsumer) Close() error { return nil }

func noopTelemetry(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

func idle(context.Context) (bus.Consumer, error) { return idleConsumer{}, nil }

func fakeClusterFn() (scaler, error) {
	return &fakeCluster{replicas: map[string]int32{}}, nil
}

func TestMainDirectKillswitch(t *testing.T) {
	origLogFatalf := logFatalf
	origInitTelemetry := initTelemetryFn
	origConsumer := openConsumerFn
	origCluster := openClusterFn
	origListen := listenFn
	defer func() {
		logFatalf = origLogFatalf
		initTelemetryFn = origInitTelemetry
		openConsumerFn = origConsumer
		openClusterFn = origCluster
		listenFn = origListen
	}()

	t.Run("main success path", func(t *testing.T) {
		t.Setenv("SLACK_BOT_TOKEN", "xoxb")
		t.Setenv("KILLSWITCH_DEPLOYMENTS", "a,b")
		t.Setenv("REDIS_ADDR", "")
		fatalCalled := false
		logFatalf = func(string, ...any) { fatalCalled = true }
		initTelemetryFn = noopTelemetry
		openConsumerFn = idle
		openClusterFn = fakeClusterFn
		listenFn = func(*http.Server) error { return nil }

		main()

		if fatalCalled {
			t.Fatal("logFatalf should not be called on success")
		}
	})

	t.Run("main error path calls logFatalf", func(t *testing.T) {
		t.Setenv("SLACK_BOT_TOKEN", "xoxb")
		t.Setenv("KILLSWITCH_DEPLOYMENTS", "")
		fatalCalled := false
		logFatalf = func(string, ...any) { fatalCalled = true }

		main()

		if !fatalCalled {
			t.Fatal("logFatalf should be called without deployments")
		}
	})
}

func TestRunKillswitchEdges(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "xoxb")
	t.Setenv("KILLSWITCH_DEPLOYMENTS", "chain-node")
	t.Setenv("REDIS_ADDR", "")
	listen := func(*http.Server) error { return nil }

	t.Run("cluster error", func(t *testing.T) {
		err := runKillswitch(noopTelemetry, idle, func() (scaler, error) {
			return nil, errors.New("no credentials")
		}, listen)
		if err == nil {
			t.Fatal("expected cluster error")
		}
	})

	t.Run("insecure cluster forbidden in production", func(t *testing.T) {
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("STRICT_PROD_SECURITY", "false")
		t.Setenv("KUBE_INSECURE", "true")
		if err := runKillswitch(noopTelemetry, idle, fakeClusterFn, listen); err == nil {
			t.Fatal("expected insecure cluster error")
		}
	})

	t.Run("consumer error", func(t *testing.T) {
		err := runKillswitch(noopTelemetry, func(context.Context) (bus.Consumer, error) {
			return nil, errors.New("no brokers")
		}, fakeClusterFn, listen)
		if err == nil {
			t.Fatal("expected consumer error")
		}
	})

	t.Run("default cluster needs credentials", func(t *testing.T) {
		t.Setenv("KUBE_API_SERVER", "https://127.0.0.1:6443")
		t.Setenv("KUBE_TOKEN", "")
		t.Setenv("KUBE_TOKEN_FILE", "")
		if _, err := defaultCluster(); err == nil {
			t.Fatal("expected error without token")
		}
		t.Setenv("KUBE_TOKEN", "t")
		if _, err := defaultCluster(); err != nil {
			t.Fatalf("expected client, got %v", err)
		}
		t.Setenv("KUBE_API_SERVER", "")
		t.Setenv("KUBERNETES_SERVICE_HOST", "")
		if _, err := defaultCluster(); err == nil {
			t.Fatal("expected in-cluster config to fail outside a pod")
		}
	})

	t.Run("full server lifecycle", func(t *testing.T) {
		t.Setenv("KILLSWITCH_NAMESPACE", "qchain")
		err := runKillswitch(noopTelemetry, idle, fakeClusterFn, func(server *http.Server) error {
			rr := httptest.NewRecorder()
			server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"namespace":"qchain"`) {
				return errors.New("healthz failed")
			}
			return errors.New("test-stop")
		})
		if err == nil || err.Error() != "test-stop" {
			t.Fatalf("expected test-stop, got %v", err)
		}
	})
}

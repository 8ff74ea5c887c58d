package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryObserveAndSnapshot(t *testing.T) {
	r := NewRegistry("gatekeeper")
	r.Observe("POST /slack/commands", 200, 15*time.Millisecond)
	r.Observe("POST /slack/commands", 503, 35*time.Millisecond)
	r.IncOutcome("/sre", "AUTHORIZED")
	r.IncOutcome("/sre", "AUTHORIZED")
	r.IncOutcome("", "INVALID_SIGNATURE")
	r.IncOutcome("/sre", " ")
	r.IncBusEvent("/qchain", "handled")
	r.IncBusEvent("/qchain", "")
	r.IncUpstream("slack", "ok")
	r.SetGauge("policy_commands", 4)
	r.SetGauge("", 1)

	snap := r.Snapshot()
	if snap.Service != "gatekeeper" {
		t.Fatalf("unexpected service %q", snap.Service)
	}
	ep, ok := snap.Endpoints["POST /slack/commands"]
	if !ok {
		t.Fatal("missing endpoint metric")
	}
	if ep.Count != 2 || ep.ErrorCount != 1 || ep.MaxMillis != 35 {
		t.Fatalf("unexpected endpoint stat %+v", ep)
	}
	if snap.Outcomes["/sre|AUTHORIZED"] != 2 {
		t.Fatalf("expected 2 authorized, got %v", snap.Outcomes)
	}
	if snap.Outcomes["none|INVALID_SIGNATURE"] != 1 {
		t.Fatalf("expected blank command to be recorded as none, got %v", snap.Outcomes)
	}
	if len(snap.Outcomes) != 2 || len(snap.BusEvents) != 1 || len(snap.Gauges) != 1 {
		t.Fatalf("blank labels must be ignored: %+v", snap)
	}
	if snap.Upstream["slack|ok"] != 1 {
		t.Fatalf("unexpected upstream %v", snap.Upstream)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	r := NewRegistry("svc")
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/alerts", nil))

	snap := r.Snapshot()
	if snap.Endpoints["POST /v1/alerts"].LastStatusCode != 401 {
		t.Fatalf("unexpected snapshot %+v", snap.Endpoints)
	}
	if len(snap.Histograms) != 1 || snap.Histograms[0].Count != 1 {
		t.Fatalf("expected one histogram observation, got %+v", snap.Histograms)
	}
}

func TestHistogramQuantile(t *testing.T) {
	h := NewHistogram("x")
	if h.Snapshot().Quantile(0.5) != 0 {
		t.Fatal("empty histogram quantile should be 0")
	}
	for i := 0; i < 9; i++ {
		h.Observe(20 * time.Millisecond)
	}
	h.Observe(4 * time.Second)
	snap := h.Snapshot()
	if got := snap.Quantile(0.5); got != 0.05 {
		t.Fatalf("p50: got %v", got)
	}
	if got := snap.Quantile(0.99); got != 5.0 {
		t.Fatalf("p99: got %v", got)
	}
	h.Observe(time.Minute)
	if got := h.Snapshot().Quantile(1); got != 10.0 {
		t.Fatalf("overflow should report the last bound, got %v", got)
	}
}

func TestHistogramSnapshotsSorted(t *testing.T) {
	r := NewHistogramRegistry()
	r.ObserveDuration("b", time.Millisecond)
	r.ObserveDuration("a", time.Millisecond)
	if r.Get("a") != r.Get("a") {
		t.Fatal("expected the same histogram instance")
	}
	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].Name != "a" || snaps[1].Name != "b" {
		t.Fatalf("unexpected order %+v", snaps)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	if strings.Join(keys, ",") != "a,b,c" {
		t.Fatalf("unexpected order: %#v", keys)
	}
}

func TestHandlers(t *testing.T) {
	r := NewRegistry("incidentbot")
	r.Observe("POST /x", 200, time.Millisecond)
	r.IncOutcome("/ops-bot", "INVALID_ACTION")
	r.IncBusEvent("/sre", "handled")
	r.IncUpstream("opsgenie", "error")
	r.SetGauge("routes", 2)
	r.Histograms.ObserveDuration("bus /sre", 30*time.Millisecond)

	rec := httptest.NewRecorder()
	r.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`chatbot_endpoint_count{service="incidentbot",endpoint="POST /x"} 1`,
		`chatbot_gate_decisions_total{command="/ops-bot",outcome="INVALID_ACTION"} 1`,
		`chatbot_bus_events_total{service="incidentbot",route="/sre",result="handled"} 1`,
		`chatbot_upstream_calls_total{service="incidentbot",target="opsgenie",result="error"} 1`,
		`chatbot_gauge{service="incidentbot",name="routes"} 2.000`,
		`chatbot_latency_seconds_count{series="bus /sre"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}

	rec = httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `"gate_outcomes"`) {
		t.Fatalf("unexpected json body %s", rec.Body.String())
	}
}

func TestSplitKey(t *testing.T) {
	if a, b := splitKey("x"); a != "x" || b != "UNKNOWN" {
		t.Fatalf("got %q %q", a, b)
	}
}

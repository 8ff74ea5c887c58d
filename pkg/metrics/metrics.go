package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry keeps in-process counters for one service. Snapshots are served
// as JSON and Prometheus text; nothing is pushed.
type Registry struct {
	mu         sync.RWMutex
	service    string
	endpoint   map[string]*EndpointStat
	outcome    map[string]int64
	busEvents  map[string]int64
	upstream   map[string]int64
	gauges     map[string]float64
	Histograms *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	Service     string                  `json:"service"`
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Outcomes    map[string]int64        `json:"gate_outcomes"`
	BusEvents   map[string]int64        `json:"bus_events"`
	Upstream    map[string]int64        `json:"upstream_calls"`
	Gauges      map[string]float64      `json:"gauges"`
	Histograms  []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry(service string) *Registry {
	return &Registry{
		service:    service,
		endpoint:   map[string]*EndpointStat{},
		outcome:    map[string]int64{},
		busEvents:  map[string]int64{},
		upstream:   map[string]int64{},
		gauges:     map[string]float64{},
		Histograms: NewHistogramRegistry(),
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncOutcome counts a gate decision for a command.
func (r *Registry) IncOutcome(command, outcome string) {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return
	}
	r.inc(r.outcome, joinKey(command, outcome))
}

// IncBusEvent counts a consumed or published event by route and result
// (published, handled, failed, duplicate, skipped, keep_warm).
func (r *Registry) IncBusEvent(route, result string) {
	if strings.TrimSpace(result) == "" {
		return
	}
	r.inc(r.busEvents, joinKey(route, result))
}

// IncUpstream counts calls to an external API by target and result.
func (r *Registry) IncUpstream(target, result string) {
	if strings.TrimSpace(target) == "" {
		return
	}
	r.inc(r.upstream, joinKey(target, result))
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) inc(m map[string]int64, key string) {
	r.mu.Lock()
	m[key]++
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		Service:     r.service,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   make(map[string]EndpointStat, len(r.endpoint)),
		Outcomes:    copyCounts(r.outcome),
		BusEvents:   copyCounts(r.busEvents),
		Upstream:    copyCounts(r.upstream),
		Gauges:      make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

// Middleware records status and latency per "METHOD path".
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, req)
		elapsed := time.Since(start)
		path := req.Method + " " + req.URL.Path
		r.Observe(path, rec.code, elapsed)
		r.Histograms.ObserveDuration(path, elapsed)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		svc := snap.Service

		b.WriteString("# HELP chatbot_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE chatbot_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "chatbot_endpoint_count{service=%q,endpoint=%q} %d\n", svc, ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP chatbot_endpoint_error_count total endpoint responses with status >= 400\n")
		b.WriteString("# TYPE chatbot_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "chatbot_endpoint_error_count{service=%q,endpoint=%q} %d\n", svc, ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP chatbot_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE chatbot_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "chatbot_endpoint_max_millis{service=%q,endpoint=%q} %d\n", svc, ep, snap.Endpoints[ep].MaxMillis)
		}

		b.WriteString("# HELP chatbot_gate_decisions_total gate decisions by command and outcome\n")
		b.WriteString("# TYPE chatbot_gate_decisions_total counter\n")
		for _, key := range SortedKeys(snap.Outcomes) {
			command, outcome := splitKey(key)
			fmt.Fprintf(b, "chatbot_gate_decisions_total{command=%q,outcome=%q} %d\n", command, outcome, snap.Outcomes[key])
		}

		b.WriteString("# HELP chatbot_bus_events_total bus events by route and result\n")
		b.WriteString("# TYPE chatbot_bus_events_total counter\n")
		for _, key := range SortedKeys(snap.BusEvents) {
			route, result := splitKey(key)
			fmt.Fprintf(b, "chatbot_bus_events_total{service=%q,route=%q,result=%q} %d\n", svc, route, result, snap.BusEvents[key])
		}

		b.WriteString("# HELP chatbot_upstream_calls_total external API calls by target and result\n")
		b.WriteString("# TYPE chatbot_upstream_calls_total counter\n")
		for _, key := range SortedKeys(snap.Upstream) {
			target, result := splitKey(key)
			fmt.Fprintf(b, "chatbot_upstream_calls_total{service=%q,target=%q,result=%q} %d\n", svc, target, result, snap.Upstream[key])
		}

		b.WriteString("# HELP chatbot_gauge operational gauges\n")
		b.WriteString("# TYPE chatbot_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "chatbot_gauge{service=%q,name=%q} %.3f\n", svc, name, snap.Gauges[name])
		}

		for _, h := range snap.Histograms {
			b.WriteString("# HELP chatbot_latency_seconds latency histogram\n")
			b.WriteString("# TYPE chatbot_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "chatbot_latency_seconds_bucket{series=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "chatbot_latency_seconds_bucket{series=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "chatbot_latency_seconds_sum{series=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "chatbot_latency_seconds_count{series=%q} %d\n", h.Name, h.Count)
		}
		_, _ = w.Write([]byte(b.String()))
	}
}

func joinKey(a, b string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		a = "none"
	}
	return a + "|" + strings.TrimSpace(b)
}

func splitKey(key string) (string, string) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], "UNKNOWN"
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package metrics

import (
	"math"
	"sync"
	"time"
)

// HistogramBucket is one cumulative bucket of a Histogram.
type HistogramBucket struct {
	Le    float64 // upper bound in seconds
	Count int64
}

// Histogram is a cumulative latency histogram. Bucket counts include every
// observation at or below Le.
type Histogram struct {
	mu      sync.Mutex
	name    string
	buckets []HistogramBucket
	sum     float64
	count   int64
}

// Slack expects a slash-command answer within three seconds, so the bounds
// are dense below that.
var defaultBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0,
}

// NewHistogram returns an empty histogram over the default bounds.
func NewHistogram(name string) *Histogram {
	buckets := make([]HistogramBucket, len(defaultBuckets))
	for i, le := range defaultBuckets {
		buckets[i] = HistogramBucket{Le: le}
	}
	return &Histogram{name: name, buckets: buckets}
}

func (h *Histogram) Observe(d time.Duration) {
	sec := d.Seconds()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += sec
	h.count++
	for i := range h.buckets {
		if sec <= h.buckets[i].Le {
			h.buckets[i].Count++
		}
	}
}

type HistogramSnapshot struct {
	Name    string            `json:"name"`
	Buckets []HistogramBucket `json:"buckets"`
	Sum     float64           `json:"sum"`
	Count   int64             `json:"count"`
}

// Quantile returns the upper bound of the first bucket holding at least
// q of the observations, or the last bound when none does.
func (s HistogramSnapshot) Quantile(q float64) float64 {
	if s.Count == 0 || len(s.Buckets) == 0 {
		return 0
	}
	target := int64(math.Ceil(q * float64(s.Count)))
	for _, b := range s.Buckets {
		if b.Count >= target {
			return b.Le
		}
	}
	return s.Buckets[len(s.Buckets)-1].Le
}

func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make([]HistogramBucket, len(h.buckets))
	copy(buckets, h.buckets)
	return HistogramSnapshot{Name: h.name, Buckets: buckets, Sum: h.sum, Count: h.count}
}

type HistogramRegistry struct {
	mu         sync.Mutex
	histograms map[string]*Histogram
}

func NewHistogramRegistry() *HistogramRegistry {
	return &HistogramRegistry{histograms: map[string]*Histogram{}}
}

func (r *HistogramRegistry) Get(name string) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histograms[name]
	if !ok {
		h = NewHistogram(name)
		r.histograms[name] = h
	}
	return h
}

func (r *HistogramRegistry) ObserveDuration(name string, d time.Duration) {
	r.Get(name).Observe(d)
}

// Snapshots returns every histogram ordered by name.
func (r *HistogramRegistry) Snapshots() []HistogramSnapshot {
	r.mu.Lock()
	names := SortedKeys(r.histograms)
	hs := make([]*Histogram, 0, len(names))
	for _, n := range names {
		hs = append(hs, r.histograms[n])
	}
	r.mu.Unlock()
	out := make([]HistogramSnapshot, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Snapshot())
	}
	return out
}

package prometheus

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-fulfillment/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultLatencyBuckets are milliseconds.
var DefaultLatencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type Option func(*Recorder)

func WithRegistry(registry *prometheus.Registry) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder implements core.MetricsRecorder on client_golang vectors. Each
// metric keeps the label names seen on its first observation; later tags
// outside that set are dropped and missing ones are recorded empty.
type Recorder struct {
	registry *prometheus.Registry
	buckets  []float64

	mu         sync.Mutex
	counters   map[string]*vec[*prometheus.CounterVec]
	histograms map[string]*vec[*prometheus.HistogramVec]
}

type vec[T any] struct {
	labels    []string
	collector T
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		buckets:    DefaultLatencyBuckets,
		counters:   map[string]*vec[*prometheus.CounterVec]{},
		histograms: map[string]*vec[*prometheus.HistogramVec]{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value <= 0 {
		return
	}
	metric := counterName(name)
	if metric == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.counters[metric]
	if !ok {
		labels := labelNames(tags)
		collector := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metric,
			Help: "Count of " + strings.TrimSpace(name) + ".",
		}, labels)
		if err := r.registry.Register(collector); err != nil {
			r.mu.Unlock()
			return
		}
		entry = &vec[*prometheus.CounterVec]{labels: labels, collector: collector}
		r.counters[metric] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	metric := sanitizeName(name)
	if metric == "" {
		return
	}
	r.mu.Lock()
	entry, ok := r.histograms[metric]
	if !ok {
		labels := labelNames(tags)
		collector := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metric,
			Help:    "Distribution of " + strings.TrimSpace(name) + ".",
			Buckets: r.buckets,
		}, labels)
		if err := r.registry.Register(collector); err != nil {
			r.mu.Unlock()
			return
		}
		entry = &vec[*prometheus.HistogramVec]{labels: labels, collector: collector}
		r.histograms[metric] = entry
	}
	r.mu.Unlock()
	entry.collector.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

func counterName(name string) string {
	metric := sanitizeName(name)
	if metric == "" || strings.HasSuffix(metric, "_total") {
		return metric
	}
	return metric + "_total"
}

// sanitizeName maps dotted metric names onto the Prometheus charset.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		label := sanitizeName(key)
		if label == "" || strings.HasPrefix(label, "__") {
			continue
		}
		names = append(names, label)
	}
	sort.Strings(names)
	return dedupe(names)
}

func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for key, value := range tags {
		normalized[sanitizeName(key)] = value
	}
	values := make([]string, len(labels))
	for i, label := range labels {
		values[i] = normalized[label]
	}
	return values
}

func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for _, value := range sorted {
		if len(out) > 0 && out[len(out)-1] == value {
			continue
		}
		out = append(out, value)
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)

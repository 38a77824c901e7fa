// Package metrics provides a lightweight, Prometheus-compatible metrics
// registry for cmdgate. It renders text/plain in Prometheus exposition
// format without pulling in the heavy prometheus/client_golang
// dependency.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry.
var Default = NewRegistry()

// Registry aggregates counters, gauges, and histograms.
type Registry struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{startTime: time.Now()}
}

// Uptime returns how long the registry has been running.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name and label set.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := r.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := r.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name and label set.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := r.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := r.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name and buckets.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := r.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders the registry in
// Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		fmt.Fprintf(&sb, "# HELP cmdgate_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE cmdgate_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "cmdgate_uptime_seconds %d\n\n", int64(r.Uptime().Seconds()))

		helpWritten := make(map[string]bool)
		r.counters.Range(func(key, value any) bool {
			ctr := value.(*Counter)
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
				fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
				helpWritten[ctr.name] = true
			}
			if ctr.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			}
			return true
		})

		helpWritten = make(map[string]bool)
		r.gauges.Range(func(key, value any) bool {
			g := value.(*Gauge)
			if !helpWritten[g.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
				fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
				helpWritten[g.name] = true
			}
			if g.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", g.name, g.labels, g.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", g.name, g.Value())
			}
			return true
		})

		r.histograms.Range(func(key, value any) bool {
			h := value.(*Histogram)
			h.mu.Lock()
			defer h.mu.Unlock()

			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			bucketPrefix := h.name + "_bucket{"
			if h.labels != "" {
				bucketPrefix += h.labels + ","
			}
			for _, b := range h.buckets {
				le := fmt.Sprintf("%g", b.le)
				if math.IsInf(b.le, 1) {
					le = "+Inf"
				}
				fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", bucketPrefix, le, b.count)
			}
			// The +Inf bucket equals the total count; emit it unless the
			// histogram was registered with an explicit one.
			if n := len(h.buckets); n == 0 || !math.IsInf(h.buckets[n-1].le, 1) {
				fmt.Fprintf(&sb, "%sle=\"+Inf\"} %d\n", bucketPrefix, h.count)
			}
			if h.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", h.name+"_count", h.labels, h.count)
				fmt.Fprintf(&sb, "%s{%s} %f\n", h.name+"_sum", h.labels, h.sum)
			} else {
				fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
				fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			}
			return true
		})

		fmt.Fprint(w, sb.String())
	}
}

// --- Pre-defined metrics used across the application ---

var (
	DecisionsApproved  = Default.Counter("cmdgate_decisions_total", "Decisions by outcome", `decision="auto_approve"`)
	DecisionsDenied    = Default.Counter("cmdgate_decisions_total", "Decisions by outcome", `decision="auto_deny"`)
	DecisionsEscalated = Default.Counter("cmdgate_decisions_total", "Decisions by outcome", `decision="ask_user"`)

	ConfirmTimeouts      = Default.Counter("cmdgate_confirm_timeouts_total", "Confirmations that timed out", "")
	PendingConfirmations = Default.Gauge("cmdgate_pending_confirmations", "Confirmations awaiting a user response", "")

	ConfirmLatency = Default.Histogram("cmdgate_confirm_latency_seconds", "Time from escalation to user response in seconds", "",
		[]float64{1, 5, 15, 30, 60, 120, 300})
	DecisionLatency = Default.Histogram("cmdgate_decision_latency_seconds", "Time to evaluate a command in seconds", "",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1})
)

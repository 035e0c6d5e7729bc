package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Options configures the collectors.
type Options struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// Metrics holds every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	SnapshotsApplied prometheus.Counter
	SnapshotsStale   prometheus.Counter
	PreloadDuration  prometheus.Histogram
	PreloadFailures  prometheus.Counter
	LikeToggles      *prometheus.CounterVec
	ViewIncrements   prometheus.Counter
	LiveSessions     prometheus.Gauge
	Requests         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

func New(opts Options) (*Metrics, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = "portfolio"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.SnapshotsApplied, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "feed", Name: "snapshots_applied_total",
		Help: "Feed snapshots that replaced a working set.",
	})); err != nil {
		return nil, err
	}
	if m.SnapshotsStale, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "feed", Name: "snapshots_stale_total",
		Help: "Feed snapshots dropped because a newer subscription replaced theirs.",
	})); err != nil {
		return nil, err
	}
	if m.PreloadDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "feed", Name: "preload_duration_seconds",
		Help:    "Time spent waiting for a snapshot's images to settle.",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if m.PreloadFailures, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "feed", Name: "preload_failures_total",
		Help: "Images that failed to preload.",
	})); err != nil {
		return nil, err
	}
	if m.LikeToggles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "interaction", Name: "like_toggles_total",
		Help: "Like toggles partitioned by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.ViewIncrements, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "interaction", Name: "view_increments_total",
		Help: "View counter increments written.",
	})); err != nil {
		return nil, err
	}
	if m.LiveSessions, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "live", Name: "sessions",
		Help: "Open live websocket sessions.",
	})); err != nil {
		return nil, err
	}
	if m.Requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "http", Name: "requests_total",
		Help: "Total number of HTTP requests partitioned by method, route, and status code.",
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latencies in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}

	return m, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing, nil
		}
		return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
	}
	return c, fmt.Errorf("register collector: %w", err)
}

func (m *Metrics) SnapshotApplied() {
	if m != nil {
		m.SnapshotsApplied.Inc()
	}
}

func (m *Metrics) SnapshotStale() {
	if m != nil {
		m.SnapshotsStale.Inc()
	}
}

// Preloaded matches preload.Observer.
func (m *Metrics) Preloaded(_ int, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.PreloadDuration.Observe(d.Seconds())
	m.PreloadFailures.Add(float64(failed))
}

func (m *Metrics) LikeToggled(outcome string) {
	if m != nil {
		m.LikeToggles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ViewIncremented() {
	if m != nil {
		m.ViewIncrements.Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.LiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.LiveSessions.Dec()
	}
}

// Middleware records request counts and latencies by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{"method": r.Method, "route": route, "status": strconv.Itoa(status)}
		m.Requests.With(labels).Inc()
		m.RequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

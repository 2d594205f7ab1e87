package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Dataset and refresh metrics
var (
	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hemicycle_ready",
		Help: "1 when a dataset generation is published.",
	})

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hemicycle_refresh_total",
			Help: "Refresh attempts by result.",
		},
		[]string{"result"},
	)

	refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hemicycle_refresh_duration_seconds",
		Help:    "Duration of refresh attempts.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	})

	datasetEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hemicycle_dataset_entities",
			Help: "Entities in the published generation by kind.",
		},
		[]string{"kind"},
	)

	datasetTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hemicycle_dataset_generation_timestamp_seconds",
		Help: "Build time of the published generation.",
	})

	archiveBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hemicycle_archive_bytes_total",
			Help: "Bytes downloaded per archive host.",
		},
		[]string{"host"},
	)

	enrichmentRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hemicycle_enrichment_requests_total",
			Help: "Outbound enrichment requests by result.",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ready, refreshTotal, refreshDuration, datasetEntities, datasetTimestamp,
			archiveBytes, enrichmentRequests,
		)
	})
}

// Handler serves the prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveRefresh records one refresh attempt.
func ObserveRefresh(result string, d time.Duration) {
	refreshTotal.WithLabelValues(result).Inc()
	refreshDuration.Observe(d.Seconds())
}

// SetDatasetCounts publishes per-kind entity counts of the current generation.
func SetDatasetCounts(builtAt time.Time, counts map[string]int) {
	for kind, n := range counts {
		datasetEntities.WithLabelValues(kind).Set(float64(n))
	}
	datasetTimestamp.Set(float64(builtAt.Unix()))
}

// AddArchiveBytes counts downloaded archive bytes.
func AddArchiveBytes(host string, n int64) {
	archiveBytes.WithLabelValues(host).Add(float64(n))
}

// CountEnrichment counts one outbound enrichment call.
func CountEnrichment(result string) {
	enrichmentRequests.WithLabelValues(result).Inc()
}

// Instrument measures in-flight requests, totals and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in resource paths so metric label
// cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/members/", "/v1/bodies/", "/v1/ballots/"} {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		parts := strings.Split(rest, "/")
		switch len(parts) {
		case 1:
			return prefix + ":id"
		case 2:
			if isSubresource(parts[1]) {
				return prefix + ":id/" + parts[1]
			}
		}
	}
	return p
}

func isSubresource(s string) bool {
	switch s {
	case "ballots", "recusals", "coherence", "enrichment", "members":
		return true
	}
	return false
}

// statusWriter keeps the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package output

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

// PrometheusMetrics implements ports.RecordObserver on top of a dedicated
// registry.
type PrometheusMetrics struct {
	registry  *prometheus.Registry
	factory   promauto.Factory
	namespace string

	records      *prometheus.CounterVec
	results      *prometheus.CounterVec
	classifyTime prometheus.Histogram
	sinkErrors   prometheus.Counter
	seenEntries  prometheus.Gauge
	activeFlows  prometheus.Gauge
	uptime       prometheus.GaugeFunc
	memoryUsage  prometheus.GaugeFunc
}

type MetricsConfig struct {
	Port       string
	Path       string
	HealthPath string
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Port:       ":9090",
		Path:       "/metrics",
		HealthPath: "/ready",
	}
}

func NewPrometheusMetrics(namespace string, counters *domain.Counters) *PrometheusMetrics {
	if namespace == "" {
		namespace = "evewatch"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &PrometheusMetrics{registry: reg, factory: factory, namespace: namespace}

	m.records = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_total",
		Help:      "EVE lines handled, by outcome",
	}, []string{"result"})

	m.results = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "results_total",
		Help:      "Result rows written, by label and deciding source",
	}, []string{"label", "source"})

	m.classifyTime = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "classify_duration_seconds",
		Help:      "Time spent vectorizing and scoring one URL",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	m.sinkErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sink_errors_total",
		Help:      "Result rows dropped because the sink write failed",
	})

	m.seenEntries = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "seen_entries",
		Help:      "Transaction URLs in the dedup seen-set",
	})

	m.activeFlows = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_alert_flows",
		Help:      "Flows with a signature alert inside the suppression window",
	})

	m.uptime = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the pipeline counters were created",
	}, func() float64 {
		if counters != nil {
			return counters.Snapshot().Uptime.Seconds()
		}
		return 0
	})

	m.memoryUsage = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_bytes",
		Help:      "Current heap allocation in bytes",
	}, func() float64 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		return float64(ms.Alloc)
	})

	return m
}

func (m *PrometheusMetrics) ObserveRecord(outcome string) {
	m.records.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) ObserveResult(row domain.ResultRow) {
	m.results.WithLabelValues(string(row.Label), string(row.Source)).Inc()
}

func (m *PrometheusMetrics) ObserveSinkError() {
	m.sinkErrors.Inc()
}

func (m *PrometheusMetrics) ObserveClassifyDuration(seconds float64) {
	m.classifyTime.Observe(seconds)
}

func (m *PrometheusMetrics) ObserveState(seen, activeFlows int) {
	m.seenEntries.Set(float64(seen))
	m.activeFlows.Set(float64(activeFlows))
}

// TrackQuarantined exports the number of lines written to the quarantine
// file. count is read at scrape time and must be safe for concurrent use.
func (m *PrometheusMetrics) TrackQuarantined(count func() int64) {
	m.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "quarantined_lines_total",
		Help:      "Malformed EVE lines written to the quarantine file",
	}, func() float64 {
		return float64(count())
	})
}

// TrackBloomFillRatio exports the fill ratio of the persistent seen-set's
// bloom filter. ratio is read at scrape time and must be safe for concurrent
// use.
func (m *PrometheusMetrics) TrackBloomFillRatio(ratio func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "seen_bloom_fill_ratio",
		Help:      "Fraction of bits set in the persistent seen-set bloom filter",
	}, ratio)
}

// Handler returns the mux serving metrics and, when health is non-nil, the
// readiness endpoint.
func (m *PrometheusMetrics) Handler(config MetricsConfig, health http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(config.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	if health != nil && config.HealthPath != "" {
		mux.Handle(config.HealthPath, health)
	}
	return mux
}

// Serve runs the metrics server until ctx is cancelled. A listen failure is
// returned; a clean shutdown returns nil.
func (m *PrometheusMetrics) Serve(ctx context.Context, config MetricsConfig, health http.Handler) error {
	server := &http.Server{
		Addr:              config.Port,
		Handler:           m.Handler(config, health),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", config.Port).Str("path", config.Path).Msg("Starting Prometheus metrics server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics server shutdown")
		}
		return nil
	}
}

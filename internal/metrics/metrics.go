// Package metrics agrupa las métricas Prometheus del workflow.
// Todos los métodos aceptan un *Registry nil (métricas desactivadas).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry contiene los instrumentos y su propio prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	Settlements        *prometheus.CounterVec
	WorkflowErrors     *prometheus.CounterVec
	PoolFetches        *prometheus.CounterVec
	ClassifierDuration *prometheus.HistogramVec
	BreakerState       prometheus.Gauge
	LastRun            prometheus.Gauge
}

// New crea y registra todas las métricas.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "destaker_settlements_total",
				Help: "Settlement results produced, by source (model or fallback)",
			},
			[]string{"source"},
		),

		WorkflowErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "destaker_workflow_errors_total",
				Help: "Soft errors recorded during batch runs, by kind",
			},
			[]string{"kind"},
		),

		PoolFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "destaker_pool_fetch_total",
				Help: "Yield pool fetches, by result (ok, error, cached)",
			},
			[]string{"result"},
		),

		ClassifierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "destaker_classifier_duration_seconds",
				Help:    "Latency of external classifier calls",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"tool", "result"},
		),

		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "destaker_classifier_breaker_state",
				Help: "Classifier circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
		),

		LastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "destaker_last_run_timestamp_seconds",
				Help: "Unix time of the last completed batch run",
			},
		),
	}

	r.reg.MustRegister(
		r.Settlements, r.WorkflowErrors, r.PoolFetches,
		r.ClassifierDuration, r.BreakerState, r.LastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler devuelve el handler HTTP de /metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveSettlement(source string) {
	if r == nil {
		return
	}
	r.Settlements.WithLabelValues(source).Inc()
}

func (r *Registry) ObserveError(kind string) {
	if r == nil {
		return
	}
	r.WorkflowErrors.WithLabelValues(kind).Inc()
}

func (r *Registry) ObservePoolFetch(result string) {
	if r == nil {
		return
	}
	r.PoolFetches.WithLabelValues(result).Inc()
}

func (r *Registry) ObserveClassifier(tool, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.ClassifierDuration.WithLabelValues(tool, result).Observe(d.Seconds())
}

func (r *Registry) SetBreakerState(state int) {
	if r == nil {
		return
	}
	r.BreakerState.Set(float64(state))
}

func (r *Registry) MarkRun(t time.Time) {
	if r == nil {
		return
	}
	r.LastRun.Set(float64(t.Unix()))
}

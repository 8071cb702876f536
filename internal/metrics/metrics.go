package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rate-limit-engine/internal/domain"
)

const namespace = "admission"

var _ domain.MetricsRecorder = (*PrometheusRecorder)(nil)

// PrometheusRecorder registra as decisões de admissão num registry próprio
type PrometheusRecorder struct {
	registry      *prometheus.Registry
	decisions     *prometheus.CounterVec
	backendErrors *prometheus.CounterVec
	consume       prometheus.Histogram
}

// NewPrometheusRecorder cria o recorder com os coletores do processo e do Go
func NewPrometheusRecorder() (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome and rule period",
		}, []string{"outcome", "period"}),
		backendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Counter and policy backend failures by operation",
		}, []string{"operation"}),
		consume: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consume_duration_seconds",
			Help:      "Counter store consume latency in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	collectorsToRegister := []prometheus.Collector{
		r.decisions,
		r.backendErrors,
		r.consume,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range collectorsToRegister {
		if err := r.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// RecordDecision conta uma decisão. Isentas não têm regra e usam período "none".
func (r *PrometheusRecorder) RecordDecision(rule *domain.Rule, allowed, exempt bool) {
	outcome := "blocked"
	switch {
	case exempt:
		outcome = "exempt"
	case allowed:
		outcome = "admitted"
	}

	period := "none"
	if rule != nil {
		period = rule.Period
	}

	r.decisions.WithLabelValues(outcome, period).Inc()
}

func (r *PrometheusRecorder) RecordBackendError(operation string) {
	r.backendErrors.WithLabelValues(operation).Inc()
}

func (r *PrometheusRecorder) ObserveConsume(duration time.Duration) {
	r.consume.Observe(duration.Seconds())
}

// Registry expõe o registry para testes
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler retorna o handler HTTP do /metrics
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// NopRecorder descarta tudo
type NopRecorder struct{}

func NewNopRecorder() NopRecorder { return NopRecorder{} }

func (NopRecorder) RecordDecision(*domain.Rule, bool, bool) {}
func (NopRecorder) RecordBackendError(string)               {}
func (NopRecorder) ObserveConsume(time.Duration)            {}

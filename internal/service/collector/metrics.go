package collector

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/apitrail/internal/metrics"
)

type pipelineMetrics struct {
	eventsIngested      *prometheus.CounterVec
	evaluationsDropped  prometheus.Counter
	evaluationFailures  prometheus.Counter
	evaluationDuration  prometheus.Histogram
	alertsRaised        *prometheus.CounterVec
	incidentsOpened     *prometheus.CounterVec
	evaluationQueueSize prometheus.GaugeFunc
}

func newPipelineMetrics(reg prometheus.Registerer, queueLen func() float64) *pipelineMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &pipelineMetrics{
		eventsIngested: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "events_ingested_total",
			Help:      "Events durably persisted by the collector",
		}, []string{"event_type"})),
		evaluationsDropped: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "evaluations_dropped_total",
			Help:      "Persisted events whose alert evaluation was skipped because the queue was full",
		})),
		evaluationFailures: metrics.Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "evaluation_failures_total",
			Help:      "Evaluations that failed to persist an alert or correlate an incident",
		})),
		evaluationDuration: metrics.Register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "evaluation_duration_seconds",
			Help:      "Time spent evaluating one event",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		})),
		alertsRaised: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "alerts_raised_total",
			Help:      "Alerts persisted by type",
		}, []string{"alert_type"})),
		incidentsOpened: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened by type",
		}, []string{"incident_type"})),
		evaluationQueueSize: metrics.Register(reg, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collector",
			Name:      "evaluation_queue_length",
			Help:      "Events waiting for evaluation",
		}, queueLen)),
	}
}

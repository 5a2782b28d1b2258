package metrics

import (
	"github.com/berfenger/setpoint2mqtt/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ZoneEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setpoint_zone_evaluations_total",
			Help: "Zone evaluations by outcome",
		},
		[]string{"outcome"},
	)

	DirectivesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setpoint_directives_total",
			Help: "Directives issued by primary reason",
		},
		[]string{"reason"},
	)

	DirectivesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "setpoint_directives_suppressed_total",
			Help: "Directives suppressed because the thermostat data was offline",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "setpoint_batch_duration_seconds",
			Help:    "Duration of a full evaluation batch",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	ActiveAnomalies = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "setpoint_active_anomalies",
			Help: "Active anomaly flags per equipment",
		},
		[]string{"equipment"},
	)

	RampCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "setpoint_ramp_cache_hits_total",
			Help: "Ramp rate cache hits",
		},
	)

	RampCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "setpoint_ramp_cache_misses_total",
			Help: "Ramp rate cache misses",
		},
	)

	TelemetryMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setpoint_telemetry_messages_total",
			Help: "Telemetry messages received by kind and result",
		},
		[]string{"kind", "result"},
	)
)

func ObserveBatch(result domain.BatchResult) {
	BatchDuration.Observe(result.Duration.Seconds())
	ZoneEvaluations.WithLabelValues("failed").Add(float64(len(result.Failures)))
	for _, ev := range result.Evaluations {
		ObserveEvaluation(ev)
	}
}

func ObserveEvaluation(ev domain.ZoneEvaluation) {
	ZoneEvaluations.WithLabelValues("ok").Inc()
	if ev.Directive != nil {
		if ev.Suppressed {
			DirectivesSuppressed.Inc()
		} else {
			DirectivesIssued.WithLabelValues(string(ev.Directive.Reason)).Inc()
		}
	}
}

func ObserveAnomalies(equipmentId string, flags []domain.AnomalyFlag) {
	ActiveAnomalies.WithLabelValues(equipmentId).Set(float64(len(flags)))
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookEventsTotal,
		webhookDuration,
	)
}

var (
	// outcome: applied|noop|duplicate|conflict|ignored|invalid_signature|error
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Gateway webhook events by type and processing outcome.",
		},
		[]string{"type", "outcome"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Webhook handling latency in seconds, by outcome.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"outcome"},
	)
)

func IncWebhook(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	webhookEventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}

func ObserveWebhook(outcome string, seconds float64) {
	webhookDuration.WithLabelValues(norm(outcome)).Observe(seconds)
}

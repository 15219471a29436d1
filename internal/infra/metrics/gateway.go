package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayCallDuration,
		refundsTotal,
	)
}

var (
	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Payment gateway round trips in seconds, by operation and result.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op", "result"},
	)

	// result: succeeded|failed|rejected
	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund attempts by result.",
		},
		[]string{"result"},
	)
)

// ObserveGatewayCall records the latency of one gateway call started at start.
func ObserveGatewayCall(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayCallDuration.WithLabelValues(norm(op), result).Observe(time.Since(start).Seconds())
}

func IncRefund(result string) {
	refundsTotal.WithLabelValues(norm(result)).Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		receiptsTotal,
		reconcilerRunsTotal,
		reconcilerPaymentsTotal,
	)
}

var (
	// status: sent|failed|skipped
	receiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_total",
			Help:      "Payment receipt notifications by delivery status.",
		},
		[]string{"status"},
	)

	reconcilerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_runs_total",
			Help:      "Stale payment reconciler sweeps by result.",
		},
		[]string{"result"},
	)

	reconcilerPaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_payments_total",
			Help:      "Payments visited by the reconciler, by resulting status.",
		},
		[]string{"status"},
	)
)

func IncReceipt(status string) {
	receiptsTotal.WithLabelValues(norm(status)).Inc()
}

func IncReconcilerRun(result string) {
	reconcilerRunsTotal.WithLabelValues(norm(result)).Inc()
}

func IncReconciledPayment(status string) {
	reconcilerPaymentsTotal.WithLabelValues(norm(status)).Inc()
}

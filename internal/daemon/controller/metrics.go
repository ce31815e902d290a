// internal/daemon/controller/metrics.go
package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "dispatch"

// Metrics are the dispatcher's prometheus collectors.
type Metrics struct {
	Submissions         *prometheus.CounterVec
	SubmissionFailures  *prometheus.CounterVec
	Resolved            *prometheus.CounterVec
	ReconcilePasses     prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	EstimateFailures    prometheus.Counter
}

// NewMetrics registers the dispatcher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Actions submitted, by submission mode.",
		}, []string{"mode"}),
		SubmissionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submission_failures_total",
			Help:      "Failed submissions, by reason.",
		}, []string{"reason"}),
		Resolved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_resolved_total",
			Help:      "Transactions that reached a terminal status, by status.",
		}, []string{"status"}),
		ReconcilePasses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_passes_total",
			Help:      "Recovery passes run.",
		}),
		ActiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_subscriptions",
			Help:      "Open batch-update subscriptions.",
		}),
		EstimateFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "estimate_failures_total",
			Help:      "Estimates that failed or found insufficient funds.",
		}),
	}
}

const (
	modeExternalSigner = "external_signer"
	modeManagedWallet  = "managed_wallet"
)

func submissionMode(external bool) string {
	if external {
		return modeExternalSigner
	}
	return modeManagedWallet
}

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus collectors. Per-token gauges
// are labelled with the token address in hex.
type Metrics struct {
	BidsAccepted   prometheus.Counter
	BidsRejected   *prometheus.CounterVec
	StageChanges   *prometheus.CounterVec
	BatchSize      prometheus.Histogram
	RequestLatency *prometheus.HistogramVec

	TotalCommitted *prometheus.GaugeVec
	TotalAccepted  *prometheus.GaugeVec
	TotalRefunded  *prometheus.GaugeVec
	TotalWithdrawn *prometheus.GaugeVec
}

// NewMetrics creates and registers the engine collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sale",
			Name:      "bids_accepted_total",
			Help:      "Bids accepted into the commitment ledger.",
		}),
		BidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sale",
			Name:      "bids_rejected_total",
			Help:      "Bids rejected, by reason.",
		}, []string{"reason"}),
		StageChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sale",
			Name:      "stage_changes_total",
			Help:      "Stage transitions, by target stage and whether forced.",
		}, []string{"stage", "forced"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sale",
			Name:      "batch_size",
			Help:      "Entry counts of allocation and refund batches.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sale",
			Name:      "request_duration_seconds",
			Help:      "Socket request handling latency, by request type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		TotalCommitted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sale",
			Name:      "total_committed",
			Help:      "Committed amount per payment token.",
		}, []string{"token"}),
		TotalAccepted: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sale",
			Name:      "total_accepted",
			Help:      "Accepted amount per payment token.",
		}, []string{"token"}),
		TotalRefunded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sale",
			Name:      "total_refunded",
			Help:      "Refunded amount per payment token.",
		}, []string{"token"}),
		TotalWithdrawn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sale",
			Name:      "total_withdrawn",
			Help:      "Withdrawn proceeds per payment token.",
		}, []string{"token"}),
	}
	reg.MustRegister(
		m.BidsAccepted, m.BidsRejected, m.StageChanges, m.BatchSize, m.RequestLatency,
		m.TotalCommitted, m.TotalAccepted, m.TotalRefunded, m.TotalWithdrawn,
	)
	return m
}

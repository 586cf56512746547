// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package reconcile

import (
	"time"

	"github.com/btcsuite/btcdeposit/deposit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "btcdeposit"

// Metrics are the prometheus collectors of the reconciliation loop. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	transitions   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	notifyFailed  prometheus.Counter
	credited      prometheus.Counter
	requests      *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweeps_total",
			Help:      "Number of completed reconciliation sweeps.",
		}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of reconciliation sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transitions_total",
			Help:      "Request status transitions by target status.",
		}, []string{"status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failures_total",
			Help:      "Failed request evaluations by phase.",
		}, []string{"phase"}),
		notifyFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notification_failures_total",
			Help:      "Deposit notifications that could not be delivered.",
		}),
		credited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "credited_btc_total",
			Help:      "Total amount credited to the ledger, in BTC.",
		}),
		requests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "requests",
			Help:      "Number of deposit requests by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) transition(to deposit.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) failure(phase string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(phase).Inc()
}

func (m *Metrics) notificationFailure() {
	if m == nil {
		return
	}
	m.notifyFailed.Inc()
}

func (m *Metrics) credit(entry *deposit.LedgerEntry) {
	if m == nil {
		return
	}
	m.credited.Add(entry.Amount.InexactFloat64())
}

func (m *Metrics) setCounts(counts map[deposit.Status]int64) {
	if m == nil {
		return
	}
	for _, status := range deposit.Statuses() {
		m.requests.WithLabelValues(status.String()).Set(
			float64(counts[status]),
		)
	}
}

package depositcore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	records        *prometheus.CounterVec
	sendAttempts   *prometheus.CounterVec
	maxFeeGwei     prometheus.Gauge
	capacity       prometheus.Gauge
	processed      prometheus.Gauge
	confirmWaitSec prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "batch",
			Name:      "records_total",
			Help:      "Records by final state and reason",
		}, []string{"state", "reason"}),
		sendAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "submitter",
			Name:      "send_attempts_total",
			Help:      "eth_sendRawTransaction calls by result",
		}, []string{"result"}),
		maxFeeGwei: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "deposit",
			Subsystem: "submitter",
			Name:      "max_fee_gwei",
			Help:      "Max fee per gas of the last signed transaction",
		}),
		capacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "deposit",
			Subsystem: "batch",
			Name:      "capacity_records",
			Help:      "Records affordable at batch start",
		}),
		processed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "deposit",
			Subsystem: "batch",
			Name:      "processed_records",
			Help:      "Records confirmed in this run",
		}),
		confirmWaitSec: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deposit",
			Subsystem: "waiter",
			Name:      "confirmation_seconds",
			Help:      "Time from send to terminal receipt state",
			Buckets:   []float64{6, 12, 24, 48, 96, 192, 384},
		}),
	}
}

func (m *Metrics) recordOutcome(state, reason string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(state, reason).Inc()
}

func (m *Metrics) sendAttempt(result string) {
	if m == nil {
		return
	}
	m.sendAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) setMaxFee(gwei float64) {
	if m == nil {
		return
	}
	m.maxFeeGwei.Set(gwei)
}

func (m *Metrics) setCapacity(n uint64) {
	if m == nil {
		return
	}
	m.capacity.Set(float64(n))
}

func (m *Metrics) setProcessed(n uint64) {
	if m == nil {
		return
	}
	m.processed.Set(float64(n))
}

func (m *Metrics) observeConfirmWait(sec float64) {
	if m == nil {
		return
	}
	m.confirmWaitSec.Observe(sec)
}

package serial

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "serial_echo"

// Metrics exposes the echo pipeline counters to Prometheus.
type Metrics struct {
	LinesTotal        *prometheus.CounterVec
	DroppedBytesTotal *prometheus.CounterVec
	BytesWrittenTotal prometheus.Counter
	WriteFailures     prometheus.Counter
	MirrorFailures    prometheus.Counter
	BufferedBytes     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lines_total",
				Help:      "Lines detected on the transport, by outcome",
			},
			[]string{"result"},
		),
		DroppedBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dropped_bytes_total",
				Help:      "Received bytes that never reached a line",
			},
			[]string{"reason"},
		),
		BytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_written_total",
			Help:      "Bytes echoed back to the transport",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_failures_total",
			Help:      "Echo writes that failed",
		}),
		MirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mirror_failures_total",
			Help:      "Lines that could not be published to the mirror",
		}),
		BufferedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffered_bytes",
			Help:      "Bytes of the current unterminated line",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LinesTotal,
			m.DroppedBytesTotal,
			m.BytesWrittenTotal,
			m.WriteFailures,
			m.MirrorFailures,
			m.BufferedBytes,
		)
	}
	return m
}

// observe folds the difference between two accumulator snapshots into the counters.
func (m *Metrics) observe(before, after AccumulatorStats, buffered int) {
	if m == nil {
		return
	}
	if d := after.Filtered - before.Filtered; d > 0 {
		m.DroppedBytesTotal.WithLabelValues("filtered").Add(float64(d))
	}
	if d := after.Overflowed - before.Overflowed; d > 0 {
		m.DroppedBytesTotal.WithLabelValues("overflow").Add(float64(d))
	}
	m.BufferedBytes.Set(float64(buffered))
}

func (m *Metrics) line(result string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) written(n int) {
	if m == nil {
		return
	}
	m.BytesWrittenTotal.Add(float64(n))
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

func (m *Metrics) mirrorFailed() {
	if m == nil {
		return
	}
	m.MirrorFailures.Inc()
}

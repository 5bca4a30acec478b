package airqual

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK          = "ok"
	resultReadError   = "read_error"
	resultExportError = "export_error"
)

// Metrics describes the poller itself, next to the sensor values it exports.
// A nil *Metrics records nothing.
type Metrics struct {
	cycles              *prometheus.CounterVec
	consecutiveFailures prometheus.Gauge
	lastSuccess         prometheus.Gauge
	readDuration        *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "airqual_poll_cycles_total",
				Help: "Poll cycles by result",
			},
			[]string{"result"},
		),
		consecutiveFailures: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "airqual_poll_consecutive_failures",
				Help: "Poll cycles failed in a row since the last success",
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "airqual_poll_last_success_timestamp_seconds",
				Help: "Unix time of the last cycle that exported a measurement",
			},
		),
		readDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "airqual_sensor_read_duration_seconds",
				Help:    "Sensor read latency in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"sensor"},
		),
	}
}

func (m *Metrics) observeRead(sensor string, d time.Duration) {
	if m == nil {
		return
	}
	m.readDuration.WithLabelValues(sensor).Observe(d.Seconds())
}

func (m *Metrics) cycle(result string, failures int, at time.Time) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.consecutiveFailures.Set(float64(failures))
	if result == resultOK {
		m.lastSuccess.Set(float64(at.UnixNano()) / 1e9)
	}
}

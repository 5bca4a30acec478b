// Package promexport exposes the latest measurement in the Prometheus text
// format. Every sample carries the time the measurement was taken, so the
// collector stores one point per poll cycle no matter how often it scrapes.
package promexport

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alepar/airqual/airqual"
)

const namespace = "airqual"

type Exporter struct {
	// MaxAge hides a measurement once it is this old, leaving a gap instead of a repeated stale value. 0 never hides.
	MaxAge time.Duration
	Now    func() time.Time

	descs map[string]*prometheus.Desc

	mu     sync.RWMutex
	latest *airqual.Measurement
}

func NewExporter(maxAge time.Duration) *Exporter {
	descs := make(map[string]*prometheus.Desc, len(airqual.Fields))
	for _, f := range airqual.Fields {
		descs[f.Name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", f.Name),
			f.Help,
			[]string{"sensor"},
			nil,
		)
	}
	return &Exporter{
		MaxAge: maxAge,
		Now:    time.Now,
		descs:  descs,
	}
}

func (e *Exporter) Name() string {
	return "prometheus"
}

// Export replaces the measurement served to scrapes.
func (e *Exporter) Export(_ context.Context, m airqual.Measurement) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latest = &m
	return nil
}

// Latest returns the last exported measurement that is not older than MaxAge.
func (e *Exporter) Latest() (airqual.Measurement, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.latest == nil {
		return airqual.Measurement{}, false
	}
	if e.MaxAge > 0 && e.Now().Sub(e.latest.Time) > e.MaxAge {
		return airqual.Measurement{}, false
	}
	return *e.latest, true
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, f := range airqual.Fields {
		ch <- e.descs[f.Name]
	}
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	m, ok := e.Latest()
	if !ok {
		return
	}
	for _, r := range m.Readings() {
		metric := prometheus.MustNewConstMetric(e.descs[r.Name], prometheus.GaugeValue, r.Value, r.Sensor)
		ch <- prometheus.NewMetricWithTimestamp(m.Time, metric)
	}
}

// NewRegistry returns a registry serving e next to the build, Go runtime and process collectors.
func NewRegistry(e *Exporter) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)

	// Add Go module build info.
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

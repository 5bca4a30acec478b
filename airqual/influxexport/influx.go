// Package influxexport pushes measurements to an InfluxDB v2 bucket, for setups
// where the collector receives writes instead of scraping.
package influxexport

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/airqual/airqual"
)

const measurementName = "air_quality"

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Exporter writes one point per sensor and measurement.
type Exporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func New(cfg Config) *Exporter {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Exporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}
}

func (e *Exporter) Name() string {
	return "influxdb"
}

// Ping checks the server is up before the first write.
func (e *Exporter) Ping(ctx context.Context) error {
	ok, err := e.client.Ping(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reach influxdb")
	}
	if !ok {
		return errors.New("influxdb is not ready")
	}
	return nil
}

func (e *Exporter) Export(ctx context.Context, m airqual.Measurement) error {
	points := Points(m)
	if err := e.writeAPI.WritePoint(ctx, points...); err != nil {
		return &airqual.ExportError{Exporter: e.Name(), Err: errors.Wrap(err, "failed to write points")}
	}
	log.Debugf("wrote %d points to influxdb", len(points))
	return nil
}

func (e *Exporter) Close() {
	e.client.Close()
}

// Points groups the readings of m by sensor, in airqual.Fields order of first appearance.
func Points(m airqual.Measurement) []*write.Point {
	var points []*write.Point
	bySensor := map[string]*write.Point{}
	for _, r := range m.Readings() {
		p, ok := bySensor[r.Sensor]
		if !ok {
			p = influxdb2.NewPointWithMeasurement(measurementName).
				AddTag("sensor", r.Sensor).
				SetTime(m.Time)
			bySensor[r.Sensor] = p
			points = append(points, p)
		}
		p.AddField(r.Name, r.Value)
	}
	return points
}

package influxexport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alepar/airqual/airqual"
)

var at = time.Date(2026, 10, 17, 12, 0, 5, 0, time.UTC)

func measurement() airqual.Measurement {
	return airqual.Measurement{
		Time:        at,
		Particulate: airqual.ParticulateValues{PM25Standard: 5, Particles03um: 612},
		Climate:     airqual.ClimateValues{CO2: 415, Temperature: 21.5, Humidity: 40},
	}
}

type fakeInflux struct {
	mu     sync.Mutex
	status int
	query  string
	lines  []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v2/write" {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = r.URL.RawQuery
	f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"code":"internal error","message":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func TestPoints(t *testing.T) {
	points := Points(measurement())
	require.Len(t, points, 2)

	assert.Equal(t, measurementName, points[0].Name())
	assert.Equal(t, at, points[0].Time())
	require.Len(t, points[0].TagList(), 1)
	assert.Equal(t, airqual.SensorPM25, points[0].TagList()[0].Value)
	assert.Equal(t, airqual.SensorSCD30, points[1].TagList()[0].Value)

	fields := map[string]interface{}{}
	for _, f := range points[1].FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 415.0, fields["co2_ppm"])
	assert.Equal(t, 40.0, fields["humidity_pct"])
	assert.Len(t, fields, 4)
}

func TestExport(t *testing.T) {
	influx := &fakeInflux{}
	ts := httptest.NewServer(influx)
	defer ts.Close()

	e := New(Config{URL: ts.URL, Token: "token", Org: "home", Bucket: "air"})
	defer e.Close()

	require.NoError(t, e.Export(context.Background(), measurement()))

	influx.mu.Lock()
	defer influx.mu.Unlock()
	assert.Contains(t, influx.query, "org=home")
	assert.Contains(t, influx.query, "bucket=air")
	require.Len(t, influx.lines, 2)
	assert.True(t, strings.HasPrefix(influx.lines[1], "air_quality,sensor=scd30 "), influx.lines[1])
	assert.Contains(t, influx.lines[1], "co2_ppm=415")
	assert.True(t, strings.HasSuffix(influx.lines[1], " 1792238405000000000"), influx.lines[1])
}

func TestExportFailure(t *testing.T) {
	influx := &fakeInflux{status: http.StatusServiceUnavailable}
	ts := httptest.NewServer(influx)
	defer ts.Close()

	e := New(Config{URL: ts.URL, Token: "token", Org: "home", Bucket: "air"})
	defer e.Close()

	err := e.Export(context.Background(), measurement())
	var exportErr *airqual.ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.Equal(t, "influxdb", exportErr.Exporter)
	assert.False(t, exportErr.Persistent)
}

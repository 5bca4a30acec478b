package airqual

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
)

type Sensor interface {
	Name() string

	// Read fills the part of m this sensor measures. Other parts are left untouched.
	Read(ctx context.Context, m *Measurement) error

	Close() error
}

type Measurement struct {
	Time time.Time

	Particulate ParticulateValues
	Climate     ClimateValues
}

type ParticulateValues struct {
	// units: ug/m3, standard particle (CF=1)
	PM10Standard  uint16
	PM25Standard  uint16
	PM100Standard uint16

	// units: ug/m3, atmospheric environment
	PM10Env  uint16
	PM25Env  uint16
	PM100Env uint16

	// units: number of particles beyond the given diameter in 0.1 L of air
	Particles03um  uint16
	Particles05um  uint16
	Particles10um  uint16
	Particles25um  uint16
	Particles50um  uint16
	Particles100um uint16
}

type ClimateValues struct {
	// units: ppm
	CO2 float32

	// units: degrees Celsius
	Temperature float32

	// units: % of relative humidity
	Humidity float32
}

const (
	SensorPM25  = "pmsa003i"
	SensorSCD30 = "scd30"
)

// Field describes one named value of a Measurement and its valid range.
type Field struct {
	Name   string
	Help   string
	Sensor string
	Min    float64
	Max    float64

	// MinExclusive rejects a value equal to Min.
	MinExclusive bool
}

type Reading struct {
	Field
	Value float64
}

// Fields is the fixed, ordered set of values every Measurement carries.
var Fields = []Field{
	{Name: "pm1_0", Help: "PM1.0 concentration, standard particle (units: ug/m3)", Sensor: SensorPM25, Max: 1000},
	{Name: "pm2_5", Help: "PM2.5 concentration, standard particle (units: ug/m3)", Sensor: SensorPM25, Max: 1000},
	{Name: "pm10", Help: "PM10 concentration, standard particle (units: ug/m3)", Sensor: SensorPM25, Max: 1000},
	{Name: "pm1_0_env", Help: "PM1.0 concentration, atmospheric environment (units: ug/m3)", Sensor: SensorPM25, Max: 1000},
	{Name: "pm2_5_env", Help: "PM2.5 concentration, atmospheric environment (units: ug/m3)", Sensor: SensorPM25, Max: 1000},
	{Name: "pm10_env", Help: "PM10 concentration, atmospheric environment (units: ug/m3)", Sensor: SensorPM25, Max: 1000},
	{Name: "particles_03um", Help: "Particles beyond 0.3 um in 0.1 L of air", Sensor: SensorPM25, Max: math.MaxUint16},
	{Name: "particles_05um", Help: "Particles beyond 0.5 um in 0.1 L of air", Sensor: SensorPM25, Max: math.MaxUint16},
	{Name: "particles_10um", Help: "Particles beyond 1.0 um in 0.1 L of air", Sensor: SensorPM25, Max: math.MaxUint16},
	{Name: "particles_25um", Help: "Particles beyond 2.5 um in 0.1 L of air", Sensor: SensorPM25, Max: math.MaxUint16},
	{Name: "particles_50um", Help: "Particles beyond 5.0 um in 0.1 L of air", Sensor: SensorPM25, Max: math.MaxUint16},
	{Name: "particles_100um", Help: "Particles beyond 10 um in 0.1 L of air", Sensor: SensorPM25, Max: math.MaxUint16},
	{Name: "co2_ppm", Help: "Carbon dioxide level (units: ppm)", Sensor: SensorSCD30, Min: 0, Max: 40000, MinExclusive: true},
	{Name: "temperature_c", Help: "Air temperature (units: degrees Celsius)", Sensor: SensorSCD30, Min: -40, Max: 70},
	{Name: "temperature_f", Help: "Air temperature (units: degrees Fahrenheit)", Sensor: SensorSCD30, Min: -40, Max: 158},
	{Name: "humidity_pct", Help: "Relative humidity (units: %)", Sensor: SensorSCD30, Min: 0, Max: 100},
}

// Readings flattens m into Fields order.
func (m Measurement) Readings() []Reading {
	p, c := m.Particulate, m.Climate
	values := []float64{
		float64(p.PM10Standard),
		float64(p.PM25Standard),
		float64(p.PM100Standard),
		float64(p.PM10Env),
		float64(p.PM25Env),
		float64(p.PM100Env),
		float64(p.Particles03um),
		float64(p.Particles05um),
		float64(p.Particles10um),
		float64(p.Particles25um),
		float64(p.Particles50um),
		float64(p.Particles100um),
		float64(c.CO2),
		float64(c.Temperature),
		CelsiusToFahrenheit(float64(c.Temperature)),
		float64(c.Humidity),
	}

	readings := make([]Reading, len(Fields))
	for i, f := range Fields {
		readings[i] = Reading{Field: f, Value: values[i]}
	}
	return readings
}

// Validate reports the first reading that is not finite or falls outside its field's range.
func (m Measurement) Validate() error {
	return m.ValidateSensor("")
}

// ValidateSensor is Validate restricted to the fields of one sensor. An empty name checks all fields.
func (m Measurement) ValidateSensor(sensor string) error {
	for _, r := range m.Readings() {
		if sensor != "" && r.Sensor != sensor {
			continue
		}
		if err := r.check(); err != nil {
			return err
		}
	}
	return nil
}

func (r Reading) check() error {
	v := r.Value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Errorf("%s: value %v is not finite", r.Name, v)
	}
	if v < r.Min || (r.MinExclusive && v == r.Min) || v > r.Max {
		return errors.Errorf("%s: value %v outside valid range [%v, %v]", r.Name, v, r.Min, r.Max)
	}
	return nil
}

func CelsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

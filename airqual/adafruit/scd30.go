package adafruit

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sigurn/crc8"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"

	"github.com/alepar/airqual/airqual"
)

// SCD30Addr is the fixed I2C address of the Sensirion SCD-30.
const SCD30Addr = 0x61

const (
	scd30StartContinuous  = 0x0010
	scd30Stop             = 0x0104
	scd30SetInterval      = 0x4600
	scd30DataReady        = 0x0202
	scd30ReadMeasurement  = 0x0300
	scd30SelfCalibration  = 0x5306
	scd30TemperatureShift = 0x5403
	scd30Altitude         = 0x5102
	scd30Firmware         = 0xd100
)

const (
	scd30MinInterval = 2 * time.Second
	scd30MaxInterval = 1800 * time.Second
)

// Sensirion's word checksum.
var wordCRCTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xff,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xf7,
	Name:   "CRC-8/NRSC-5",
})

// SCD30Opts configures the sensor at startup.
type SCD30Opts struct {
	// units: degrees Celsius, subtracted from the measured temperature; cannot be negative
	TemperatureOffset float64

	// units: mbar, 0 turns pressure compensation off, otherwise 700..1400
	AmbientPressure uint16

	// units: meters above sea level
	Altitude uint16

	// 2s..1800s
	MeasurementInterval time.Duration

	// nil leaves the sensor's automatic self calibration setting as it is
	SelfCalibration *bool
}

// DefaultSCD30Opts matches a sensor sitting indoors near sea level.
var DefaultSCD30Opts = SCD30Opts{
	TemperatureOffset:   3,
	AmbientPressure:     1012,
	Altitude:            32,
	MeasurementInterval: 2 * time.Second,
}

// SCD30 reads CO2, temperature and humidity from the Adafruit SCD-30 breakout.
// The sensor stretches the clock heavily, keep the bus slow (a few kHz on an FT232H).
type SCD30 struct {
	dev    *i2c.Dev
	closed bool

	// time between a command and reading its answer
	readDelay time.Duration
	// time between two data ready checks
	pollDelay time.Duration
	sleep     func(time.Duration)
}

// NewSCD30 configures the sensor on b and starts continuous measurement. opts may be nil for DefaultSCD30Opts.
func NewSCD30(b i2c.Bus, opts *SCD30Opts) (*SCD30, error) {
	if opts == nil {
		opts = &DefaultSCD30Opts
	}
	sensor := &SCD30{
		dev:       &i2c.Dev{Bus: b, Addr: SCD30Addr},
		readDelay: 5 * time.Millisecond,
		pollDelay: 100 * time.Millisecond,
		sleep:     time.Sleep,
	}
	if err := sensor.init(opts); err != nil {
		return nil, err
	}
	return sensor, nil
}

func (sensor *SCD30) init(opts *SCD30Opts) error {
	firmware, err := sensor.readWords(scd30Firmware, 1)
	if err != nil {
		return errors.Wrap(err, "scd30 did not answer")
	}
	log.Debugf("scd30 firmware %d.%d", firmware[0]>>8, firmware[0]&0xff)

	if opts.TemperatureOffset < 0 {
		return errors.Errorf("scd30 temperature offset %v cannot be negative", opts.TemperatureOffset)
	}
	if opts.MeasurementInterval < scd30MinInterval || opts.MeasurementInterval > scd30MaxInterval {
		return errors.Errorf("scd30 measurement interval %s outside %s..%s", opts.MeasurementInterval, scd30MinInterval, scd30MaxInterval)
	}
	interval := uint16(opts.MeasurementInterval / time.Second)
	if p := opts.AmbientPressure; p != 0 && (p < 700 || p > 1400) {
		return errors.Errorf("scd30 ambient pressure %d outside 700..1400 mbar", p)
	}

	if err := sensor.command(scd30SetInterval, interval); err != nil {
		return errors.Wrap(err, "failed to set measurement interval")
	}
	if err := sensor.command(scd30TemperatureShift, uint16(math.Round(opts.TemperatureOffset*100))); err != nil {
		return errors.Wrap(err, "failed to set temperature offset")
	}
	if err := sensor.command(scd30Altitude, opts.Altitude); err != nil {
		return errors.Wrap(err, "failed to set altitude")
	}
	if opts.SelfCalibration != nil {
		var enabled uint16
		if *opts.SelfCalibration {
			enabled = 1
		}
		if err := sensor.command(scd30SelfCalibration, enabled); err != nil {
			return errors.Wrap(err, "failed to set self calibration")
		}
	}
	if err := sensor.command(scd30StartContinuous, opts.AmbientPressure); err != nil {
		return errors.Wrap(err, "failed to start continuous measurement")
	}

	log.Debugf("scd30 measuring every %ds, offset %.2f°C, pressure %d mbar, altitude %d m",
		interval, opts.TemperatureOffset, opts.AmbientPressure, opts.Altitude)
	return nil
}

func (sensor *SCD30) Name() string {
	return airqual.SensorSCD30
}

// Read waits for the next measurement to become available, bounded by ctx, and reads it.
func (sensor *SCD30) Read(ctx context.Context, m *airqual.Measurement) error {
	if sensor.closed {
		return errors.New("sensor closed")
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "waiting for measurement")
		}
		ready, err := sensor.readWords(scd30DataReady, 1)
		if err != nil {
			return errors.Wrap(err, "failed to check data ready")
		}
		if ready[0] == 1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for measurement")
		case <-time.After(sensor.pollDelay):
		}
	}

	words, err := sensor.readWords(scd30ReadMeasurement, 6)
	if err != nil {
		return errors.Wrap(err, "failed to read measurement")
	}
	m.Climate = airqual.ClimateValues{
		CO2:         wordsToFloat(words[0], words[1]),
		Temperature: wordsToFloat(words[2], words[3]),
		Humidity:    wordsToFloat(words[4], words[5]),
	}
	return nil
}

// Close stops continuous measurement.
func (sensor *SCD30) Close() error {
	if sensor.closed {
		return nil
	}
	sensor.closed = true
	return errors.Wrap(sensor.command(scd30Stop), "failed to stop measurement")
}

func (sensor *SCD30) command(cmd uint16, args ...uint16) error {
	w := []byte{byte(cmd >> 8), byte(cmd)}
	for _, arg := range args {
		word := []byte{byte(arg >> 8), byte(arg)}
		w = append(w, word[0], word[1], wordCRC(word))
	}
	return sensor.dev.Tx(w, nil)
}

// readWords sends cmd and reads n CRC protected words back.
func (sensor *SCD30) readWords(cmd uint16, n int) ([]uint16, error) {
	if err := sensor.command(cmd); err != nil {
		return nil, err
	}
	sensor.sleep(sensor.readDelay)

	buf := make([]byte, 3*n)
	if err := sensor.dev.Tx(nil, buf); err != nil {
		return nil, err
	}
	words := make([]uint16, n)
	for i := range words {
		chunk := buf[3*i : 3*i+3]
		if wordCRC(chunk[:2]) != chunk[2] {
			return nil, errors.Errorf("crc mismatch in word %d of %#04x", i, cmd)
		}
		words[i] = uint16(chunk[0])<<8 | uint16(chunk[1])
	}
	return words, nil
}

func wordsToFloat(hi, lo uint16) float32 {
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}

func wordCRC(word []byte) byte {
	return crc8.Checksum(word, wordCRCTable)
}

package adafruit

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"

	"github.com/alepar/airqual/airqual"
)

// PM25Addr is the fixed I2C address of the PMSA003I.
const PM25Addr = 0x12

const (
	pm25FrameSize   = 32
	pm25FrameLength = 28
)

// PM25 reads the Plantower PMSA003I particulate sensor on the Adafruit PM2.5 breakout.
type PM25 struct {
	dev    *i2c.Dev
	closed bool
}

// NewPM25 binds the sensor on b and checks that it answers with a valid frame.
func NewPM25(b i2c.Bus) (*PM25, error) {
	sensor := &PM25{dev: &i2c.Dev{Bus: b, Addr: PM25Addr}}
	if _, err := sensor.readFrame(); err != nil {
		return nil, errors.Wrap(err, "pm25 did not answer")
	}
	return sensor, nil
}

func (sensor *PM25) Name() string {
	return airqual.SensorPM25
}

func (sensor *PM25) Read(ctx context.Context, m *airqual.Measurement) error {
	if sensor.closed {
		return errors.New("sensor closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	values, err := sensor.readFrame()
	if err != nil {
		return err
	}
	m.Particulate = values
	return nil
}

func (sensor *PM25) Close() error {
	sensor.closed = true
	return nil
}

func (sensor *PM25) readFrame() (airqual.ParticulateValues, error) {
	frame := make([]byte, pm25FrameSize)
	if err := sensor.dev.Tx(nil, frame); err != nil {
		return airqual.ParticulateValues{}, errors.Wrap(err, "failed to read frame")
	}
	log.Debugf("pm25 frame % x", frame)
	return parsePM25Frame(frame)
}

// parsePM25Frame decodes "BM", a 16-bit frame length, thirteen big-endian
// words and a checksum equal to the sum of the first 30 bytes.
func parsePM25Frame(frame []byte) (airqual.ParticulateValues, error) {
	if len(frame) != pm25FrameSize {
		return airqual.ParticulateValues{}, errors.Errorf("frame is %d bytes, want %d", len(frame), pm25FrameSize)
	}
	if frame[0] != 0x42 || frame[1] != 0x4d {
		return airqual.ParticulateValues{}, errors.Errorf("bad frame header % x", frame[:2])
	}
	if length := binary.BigEndian.Uint16(frame[2:]); length != pm25FrameLength {
		return airqual.ParticulateValues{}, errors.Errorf("bad frame length %d", length)
	}

	var sum uint16
	for _, b := range frame[:pm25FrameSize-2] {
		sum += uint16(b)
	}
	if want := binary.BigEndian.Uint16(frame[pm25FrameSize-2:]); sum != want {
		return airqual.ParticulateValues{}, errors.Errorf("checksum mismatch: got %#04x, frame says %#04x", sum, want)
	}

	word := func(i int) uint16 {
		return binary.BigEndian.Uint16(frame[4+2*i:])
	}
	return airqual.ParticulateValues{
		PM10Standard:   word(0),
		PM25Standard:   word(1),
		PM100Standard:  word(2),
		PM10Env:        word(3),
		PM25Env:        word(4),
		PM100Env:       word(5),
		Particles03um:  word(6),
		Particles05um:  word(7),
		Particles10um:  word(8),
		Particles25um:  word(9),
		Particles50um:  word(10),
		Particles100um: word(11),
	}, nil
}

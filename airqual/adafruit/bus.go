package adafruit

import (
	"os"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/alepar/airqual/airqual"
)

const ftdiPrefix = "ftdi"

// Bus is the I2C bus the breakouts hang off, either an FT232H bridge ("ftdi",
// "ftdi:<serial>") or any bus i2creg knows by name ("/dev/i2c-1", "1", "" for the first one).
type Bus struct {
	Device string
	i2c.BusCloser
}

// OpenBus initializes the periph host drivers and opens device. A speed of 0 keeps the bus default.
func OpenBus(device string, speed physic.Frequency) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize host drivers")
	}

	var b i2c.BusCloser
	var err error
	bus := &Bus{Device: device}
	if bus.isFTDI() {
		b, err = openFT232H(strings.TrimPrefix(strings.TrimPrefix(device, ftdiPrefix), ":"))
	} else {
		b, err = i2creg.Open(device)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", device)
	}

	if speed > 0 {
		// not every bus can change its clock, the default still works for the PM sensor
		if err := b.SetSpeed(speed); err != nil {
			log.Warnf("could not set i2c bus %s to %s: %s", b, speed, err)
		}
	}

	log.Debugf("opened i2c bus %s", b)
	bus.BusCloser = b
	return bus, nil
}

func openFT232H(serial string) (i2c.BusCloser, error) {
	for _, d := range ftdi.All() {
		ft, ok := d.(*ftdi.FT232H)
		if !ok {
			continue
		}
		if serial != "" {
			var ee ftdi.EEPROM
			if err := ft.EEPROM(&ee); err != nil || ee.Serial != serial {
				continue
			}
		}
		// the breakouts carry their own pull-ups
		return ft.I2C(gpio.Float)
	}
	if serial != "" {
		return nil, errors.Errorf("no FT232H with serial %s attached", serial)
	}
	return nil, errors.New("no FT232H attached")
}

// Endings of the errors periph's ftdi driver returns once the FT232H is gone
// ("ftdi: <op>: " followed by the d2xx status text).
var ftdiGoneMarkers = []string{
	"invalid handle",
	"device not found",
	"I/O error",
}

// Check implements airqual.Bus. A NACK or a corrupted frame is a read error;
// only an adapter that is no longer there is a disconnect.
func (b *Bus) Check(readErr error) error {
	if readErr == nil {
		return nil
	}
	if b.gone(readErr) {
		return &airqual.BusDisconnectedError{Device: b.Device, Err: readErr}
	}
	return nil
}

func (b *Bus) gone(readErr error) bool {
	if strings.HasPrefix(b.Device, "/") {
		if _, err := os.Stat(b.Device); os.IsNotExist(err) {
			return true
		}
	}
	if errors.Is(readErr, syscall.ENODEV) {
		return true
	}

	msg := readErr.Error()
	if b.isFTDI() {
		if !strings.Contains(msg, "ftdi: ") {
			return false
		}
		for _, marker := range ftdiGoneMarkers {
			if strings.Contains(msg, marker) {
				return true
			}
		}
		return false
	}

	// sysfs-i2c formats the errno with %v, so only the text is left. ENXIO
	// ("no such device or address") is a NACK and must not match.
	return strings.HasSuffix(msg, syscall.ENODEV.Error())
}

func (b *Bus) isFTDI() bool {
	return b.Device == ftdiPrefix || strings.HasPrefix(b.Device, ftdiPrefix+":")
}

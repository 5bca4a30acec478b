package adafruit

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"

	"github.com/alepar/airqual/airqual"
)

// BusScanner brings up both breakouts on a shared bus.
type BusScanner struct {
	Bus        i2c.Bus
	SCD30      *SCD30Opts
	Retries    int
	RetryDelay time.Duration
}

func (scanner *BusScanner) Scan() (map[string]airqual.Sensor, error) {
	retries := scanner.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	var sensors map[string]airqual.Sensor
	for i := 0; i < retries; i++ {
		sensors, lastErr = scanner.scan()
		if lastErr == nil {
			return sensors, nil
		}
		if i < retries-1 {
			log.Errorf("retrying error in scan: %s", lastErr)
			time.Sleep(scanner.RetryDelay)
		}
	}

	return map[string]airqual.Sensor{}, errors.Wrap(lastErr, "all retries to scan failed")
}

func (scanner *BusScanner) scan() (map[string]airqual.Sensor, error) {
	pm25, err := NewPM25(scanner.Bus)
	if err != nil {
		return nil, err
	}

	scd30, err := NewSCD30(scanner.Bus, scanner.SCD30)
	if err != nil {
		_ = pm25.Close()
		return nil, err
	}

	log.Infof("found %s at %#x and %s at %#x on %s", pm25.Name(), PM25Addr, scd30.Name(), SCD30Addr, scanner.Bus)
	return map[string]airqual.Sensor{
		pm25.Name():  pm25,
		scd30.Name(): scd30,
	}, nil
}

package airqual

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type State int32

const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxPollFailures   = 5
	DefaultMaxExportFailures = 5
)

// Poller reads every sensor on a fixed interval and hands the combined
// measurement to the exporters. Sensors are read one after another from the
// goroutine calling Run; nothing else may touch them or the bus.
type Poller struct {
	Interval    time.Duration
	ReadTimeout time.Duration

	// Consecutive failed cycles tolerated before Run gives up.
	MaxPollFailures   int
	MaxExportFailures int

	Sensors   []Sensor
	Exporters []Exporter

	// Bus is optional; when set it decides whether a failed read means the adapter is gone, and Close releases it.
	Bus Bus

	Metrics *Metrics

	// Now and Ticks replace the wall clock and the interval ticker when set.
	Now   func() time.Time
	Ticks <-chan time.Time

	state     int32
	closeOnce sync.Once
	closeErr  error
}

func (p *Poller) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Poller) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// PollOnce reads all sensors and returns the combined measurement. A single
// failing sensor fails the whole cycle: no partial measurement is returned.
func (p *Poller) PollOnce(ctx context.Context) (Measurement, error) {
	var m Measurement
	for _, sensor := range p.Sensors {
		if err := p.read(ctx, sensor, &m); err != nil {
			return Measurement{}, err
		}
	}
	m.Time = p.now()
	return m, nil
}

func (p *Poller) read(ctx context.Context, sensor Sensor, m *Measurement) error {
	readCtx := ctx
	cancel := func() {}
	if p.ReadTimeout > 0 {
		readCtx, cancel = context.WithTimeout(ctx, p.ReadTimeout)
	}
	defer cancel()

	start := time.Now()
	err := sensor.Read(readCtx, m)
	p.Metrics.observeRead(sensor.Name(), time.Since(start))

	timedOut := readCtx.Err() == context.DeadlineExceeded
	if err == nil && timedOut {
		// the read came back, but too late to trust it belongs to this cycle
		err = context.DeadlineExceeded
	}
	if err != nil {
		if p.Bus != nil {
			if busErr := p.Bus.Check(err); busErr != nil {
				return busErr
			}
		}
		return &SensorReadError{
			Sensor:  sensor.Name(),
			Timeout: timedOut || errors.Is(err, context.DeadlineExceeded),
			Err:     err,
		}
	}

	if err := m.ValidateSensor(sensor.Name()); err != nil {
		return &SensorReadError{Sensor: sensor.Name(), Err: errors.Wrap(err, "malformed reading")}
	}
	return nil
}

// Export hands m to every exporter, even when an earlier one fails, and returns the first failure.
func (p *Poller) Export(ctx context.Context, m Measurement) error {
	var first error
	for _, exporter := range p.Exporters {
		err := exporter.Export(ctx, m)
		if err == nil {
			continue
		}
		var exportErr *ExportError
		if !errors.As(err, &exportErr) {
			exportErr = &ExportError{Exporter: exporter.Name(), Err: err}
		}
		log.Errorf("failed to export measurement: %s", exportErr)
		if first == nil {
			first = exportErr
		}
	}
	return first
}

// Run polls and exports until ctx is done, which is a clean shutdown and returns nil.
// It returns an error when the bus disconnects, an exporter fails persistently,
// or the consecutive failure thresholds are reached.
func (p *Poller) Run(ctx context.Context) error {
	ticks := p.Ticks
	if ticks == nil {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	maxPoll := p.MaxPollFailures
	if maxPoll <= 0 {
		maxPoll = DefaultMaxPollFailures
	}
	maxExport := p.MaxExportFailures
	if maxExport <= 0 {
		maxExport = DefaultMaxExportFailures
	}

	log.Infof("polling %d sensors every %s", len(p.Sensors), p.Interval)

	var pollFailures, exportFailures int
	for {
		if ctx.Err() != nil {
			return nil
		}

		p.setState(Polling)
		m, err := p.PollOnce(ctx)
		switch {
		case ctx.Err() != nil:
			p.setState(Idle)
			return nil
		case err != nil:
			var busErr *BusDisconnectedError
			if errors.As(err, &busErr) {
				log.Errorf("fatal: %s", busErr)
				p.setState(Idle)
				return busErr
			}
			pollFailures++
			p.Metrics.cycle(resultReadError, pollFailures, m.Time)
			log.Errorf("skipping cycle (%d/%d consecutive failures): %s", pollFailures, maxPoll, err)
			if pollFailures >= maxPoll {
				p.setState(Idle)
				return errors.Wrapf(err, "%d consecutive poll cycles failed", pollFailures)
			}
		default:
			pollFailures = 0
			log.Debugf("measured %+v", m)
			if err := p.Export(ctx, m); err != nil {
				var exportErr *ExportError
				if errors.As(err, &exportErr) && exportErr.Persistent {
					p.setState(Idle)
					return exportErr
				}
				exportFailures++
				p.Metrics.cycle(resultExportError, exportFailures, m.Time)
				if exportFailures >= maxExport {
					p.setState(Idle)
					return errors.Wrapf(err, "%d consecutive exports failed", exportFailures)
				}
			} else {
				exportFailures = 0
				p.Metrics.cycle(resultOK, 0, m.Time)
			}
		}

		p.setState(Idle)
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
		}
	}
}

// Close releases the sensors in reverse order, then the bus. Only the first call does anything.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() {
		for i := len(p.Sensors) - 1; i >= 0; i-- {
			if err := p.Sensors[i].Close(); err != nil {
				log.Errorf("failed to close sensor %s: %s", p.Sensors[i].Name(), err)
				if p.closeErr == nil {
					p.closeErr = errors.Wrapf(err, "close sensor %s", p.Sensors[i].Name())
				}
			}
		}
		if p.Bus != nil {
			if err := p.Bus.Close(); err != nil {
				log.Errorf("failed to close bus: %s", err)
				if p.closeErr == nil {
					p.closeErr = errors.Wrap(err, "close bus")
				}
			}
		}
	})
	return p.closeErr
}

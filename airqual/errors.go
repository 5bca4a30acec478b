package airqual

import (
	"fmt"
)

// SensorReadError is a failed, malformed or timed out read of a single sensor.
// The poller skips the cycle it happened in.
type SensorReadError struct {
	Sensor  string
	Timeout bool
	Err     error
}

func (e *SensorReadError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("read from sensor %s timed out: %s", e.Sensor, e.Err)
	}
	return fmt.Sprintf("read from sensor %s failed: %s", e.Sensor, e.Err)
}

func (e *SensorReadError) Unwrap() error { return e.Err }
func (e *SensorReadError) Cause() error  { return e.Err }

// BusDisconnectedError means the bus adapter itself is gone. It is always fatal.
type BusDisconnectedError struct {
	Device string
	Err    error
}

func (e *BusDisconnectedError) Error() string {
	return fmt.Sprintf("bus %s disconnected: %s", e.Device, e.Err)
}

func (e *BusDisconnectedError) Unwrap() error { return e.Err }
func (e *BusDisconnectedError) Cause() error  { return e.Err }

// ExportError is a failure to hand a measurement to the metrics collector.
// Persistent errors (a port that cannot be bound) are fatal, the rest are retried next cycle.
type ExportError struct {
	Exporter   string
	Persistent bool
	Err        error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export to %s failed: %s", e.Exporter, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }
func (e *ExportError) Cause() error  { return e.Err }

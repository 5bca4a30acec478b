package airqual

import "context"

type Scanner interface {

	// returns map from sensor name to sensor struct
	Scan() (map[string]Sensor, error)
}

// Bus is the adapter all sensors share.
type Bus interface {
	// Check inspects a failed read and returns a *BusDisconnectedError when the adapter itself is gone, nil otherwise.
	Check(readErr error) error

	Close() error
}

type Exporter interface {
	Name() string
	Export(ctx context.Context, m Measurement) error
}

package engine

import (
	"context"
	"time"
)

// Measurement is the latest raw value recorded for one (device, field) pair.
type Measurement struct {
	Value      float64
	RecordedAt time.Time
}

// DeviceStore is the read interface to the externally-owned device store.
type DeviceStore interface {
	// ListDevices returns every device in a workspace with its current
	// attributes. Unknown workspace ids yield a not-found error.
	ListDevices(ctx context.Context, workspaceID string) ([]Device, error)

	// GetDevice returns one device by id. Unknown ids yield a not-found
	// error.
	GetDevice(ctx context.Context, deviceID string) (Device, error)
}

// MeasurementStore is the read interface to the externally-owned measurement
// store. Values are always read fresh per query; staleness here directly
// affects reported KPIs.
type MeasurementStore interface {
	// CurrentValues returns the latest value for each of the named fields
	// of a device. Fields with no recorded value are absent from the map;
	// absence is not an error.
	CurrentValues(ctx context.Context, deviceID string, fieldNames []string) (map[string]Measurement, error)
}

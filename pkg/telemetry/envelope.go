// Package telemetry defines the wire format for device telemetry envelopes
// published to RabbitMQ and consumed by the ingestion service.
package telemetry

import (
	"encoding/json"
	"errors"
	"time"
)

// Envelope carries one batch of raw field values reported by a device.
// Field names are the product's declared measurement field names.
type Envelope struct {
	DeviceID   string             `json:"deviceId"`
	RecordedAt time.Time          `json:"recordedAt"`
	Fields     map[string]float64 `json:"fields"`
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes and validates an envelope from JSON.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.DeviceID == "" {
		return nil, errors.New("envelope missing deviceId")
	}
	if len(e.Fields) == 0 {
		return nil, errors.New("envelope has no fields")
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	return &e, nil
}

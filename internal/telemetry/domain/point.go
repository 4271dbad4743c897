package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// DeviceType classifies the hardware family a message came from.
type DeviceType string

const (
	DeviceTypeAirQuality    DeviceType = "air_quality"
	DeviceTypeEnergyMonitor DeviceType = "energy_monitor"
	DeviceTypeWaterMeter    DeviceType = "water_meter"
)

// TelemetryPoint is one normalized reading bound for durable storage.
// Metric is always a canonical catalog name; only values that passed the
// validity filter become points.
type TelemetryPoint struct {
	DeviceID string
	SiteID   string
	TS       time.Time
	Metric   string
	Value    float64
	Unit     string
	Labels   map[string]string
}

// RawMessage is the append-only audit record of one inbound broker message.
type RawMessage struct {
	ReceivedAt       time.Time
	Broker           string
	Topic            string
	Payload          json.RawMessage
	DeviceExternalID string
	SourceType       DeviceType
}

// DeviceDescriptor is the transient identity a parser extracts from one
// message before registry resolution.
type DeviceDescriptor struct {
	ExternalID string
	Broker     string
	Model      string
	DeviceType DeviceType
	MAC        string
	RSSI       *int
}

// PointRepository persists normalized telemetry points in bulk.
type PointRepository interface {
	InsertPoints(ctx context.Context, points []TelemetryPoint) error
}

// RawMessageRepository persists raw-audit records in bulk.
type RawMessageRepository interface {
	InsertRawMessages(ctx context.Context, messages []RawMessage) error
}

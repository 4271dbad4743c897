package masterdata

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Device represents a registered telemetry source bound to a site.
type Device struct {
	ID         string
	SiteID     string
	ExternalID string
	Broker     string
	Model      string
	DeviceType string
	Name       string
	Status     string
	SignalRSSI *int
	LastSeenAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.SiteID == "" {
		return errors.New("device: empty site id")
	}
	if d.ExternalID == "" {
		return errors.New("device: empty external id")
	}
	if d.Broker == "" {
		return errors.New("device: empty broker")
	}
	return nil
}

// Identity is the resolved internal identity for an external device id.
// Once handed out it stays valid for the process lifetime unless explicitly
// invalidated.
type Identity struct {
	DeviceID string
	SiteID   string
}

// Heartbeat carries the best-effort liveness update written after a registry
// lookup.
type Heartbeat struct {
	Status string
	RSSI   *int
	Model  string
	SeenAt time.Time
}

// DeviceStatusOnline is the status written by heartbeats.
const DeviceStatusOnline = "online"

// DeviceRepository manages device registry persistence. FindByExternal
// returns (nil, nil) when no device matches.
type DeviceRepository interface {
	FindByExternal(ctx context.Context, externalID, broker string) (*Device, error)
	Insert(ctx context.Context, device *Device) error
	UpdateHeartbeat(ctx context.Context, id string, hb Heartbeat) error
}

// NewDeviceID generates a random device identifier.
func NewDeviceID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return hex.EncodeToString(buf[:])
	}
	// UUIDv4 formatting (without external dependency).
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return hex.EncodeToString(buf[:])
}

// DisplayName derives the generated name for auto-registered devices:
// the model followed by the last four characters of the external id.
func DisplayName(model, externalID string) string {
	if model == "" {
		model = "device"
	}
	suffix := externalID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return model + "-" + suffix
}

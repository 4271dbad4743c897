package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "sitesense-collector/internal/masterdata/domain"
)

// DBTX is the subset of database/sql used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const defaultDevicesTable = "devices"

// DeviceRepository is a Postgres implementation of the device registry.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// FindByExternal loads a device by its external id and broker.
// Returns (nil, nil) when no device matches.
func (r *DeviceRepository) FindByExternal(ctx context.Context, externalID, broker string) (*masterdata.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if externalID == "" {
		return nil, errors.New("device repo: empty external id")
	}

	query := fmt.Sprintf(`
SELECT id, site_id, external_id, broker, model, device_type, name, status, signal_rssi, last_seen_at, created_at, updated_at
FROM %s
WHERE external_id = $1 AND broker = $2
LIMIT 1`, r.table)

	var (
		device   masterdata.Device
		rssi     sql.NullInt64
		lastSeen sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, externalID, broker).Scan(
		&device.ID,
		&device.SiteID,
		&device.ExternalID,
		&device.Broker,
		&device.Model,
		&device.DeviceType,
		&device.Name,
		&device.Status,
		&rssi,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if rssi.Valid {
		value := int(rssi.Int64)
		device.SignalRSSI = &value
	}
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// Insert stores a newly registered device.
func (r *DeviceRepository) Insert(ctx context.Context, device *masterdata.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site_id,
	external_id,
	broker,
	model,
	device_type,
	name,
	status,
	signal_rssi,
	last_seen_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)`, r.table)

	rssi := sql.NullInt64{}
	if device.SignalRSSI != nil {
		rssi = sql.NullInt64{Int64: int64(*device.SignalRSSI), Valid: true}
	}
	lastSeen := sql.NullTime{}
	if !device.LastSeenAt.IsZero() {
		lastSeen = sql.NullTime{Time: device.LastSeenAt, Valid: true}
	}

	_, err := r.db.ExecContext(
		ctx,
		query,
		device.ID,
		device.SiteID,
		device.ExternalID,
		device.Broker,
		device.Model,
		device.DeviceType,
		device.Name,
		device.Status,
		rssi,
		lastSeen,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	return nil
}

// UpdateHeartbeat refreshes last-seen, status, signal strength and model.
func (r *DeviceRepository) UpdateHeartbeat(ctx context.Context, id string, hb masterdata.Heartbeat) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return errors.New("device repo: empty id")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $2,
	signal_rssi = COALESCE($3, signal_rssi),
	model = CASE WHEN $4 <> '' THEN $4 ELSE model END,
	last_seen_at = $5,
	updated_at = NOW()
WHERE id = $1`, r.table)

	rssi := sql.NullInt64{}
	if hb.RSSI != nil {
		rssi = sql.NullInt64{Int64: int64(*hb.RSSI), Valid: true}
	}
	seenAt := hb.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query, id, hb.Status, rssi, hb.Model, seenAt)
	return err
}

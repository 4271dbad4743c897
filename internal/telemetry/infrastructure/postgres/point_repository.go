package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

// DBTX is the subset of database/sql used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

const defaultPointsTable = "telemetry_points"

// PointRepository is a Postgres implementation for normalized telemetry.
type PointRepository struct {
	db    DBTX
	table string
}

// NewPointRepository constructs a repository with the default table name.
func NewPointRepository(db DBTX, opts ...PointOption) *PointRepository {
	repo := &PointRepository{db: db, table: defaultPointsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// PointOption configures the repository.
type PointOption func(*PointRepository)

// WithPointsTable overrides the default table name.
func WithPointsTable(table string) PointOption {
	return func(repo *PointRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertPoints upserts a batch of telemetry points. The upsert key absorbs
// the duplicates that at-least-once flushing can produce.
func (r *PointRepository) InsertPoints(ctx context.Context, points []telemetry.TelemetryPoint) error {
	if r == nil || r.db == nil {
		return errors.New("point repo: nil db")
	}
	if len(points) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	site_id,
	ts,
	metric,
	value,
	unit,
	labels
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (device_id, metric, ts)
DO UPDATE SET
	site_id = EXCLUDED.site_id,
	value = EXCLUDED.value,
	unit = EXCLUDED.unit,
	labels = EXCLUDED.labels`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if p.DeviceID == "" || p.Metric == "" || p.TS.IsZero() {
			_ = tx.Rollback()
			return errors.New("point repo: invalid point")
		}

		labels := sql.NullString{}
		if len(p.Labels) > 0 {
			encoded, err := json.Marshal(p.Labels)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			labels = sql.NullString{String: string(encoded), Valid: true}
		}

		if _, err := stmt.ExecContext(
			ctx,
			p.DeviceID,
			p.SiteID,
			p.TS,
			p.Metric,
			p.Value,
			p.Unit,
			labels,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

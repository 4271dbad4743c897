package postgres

import (
	"context"
	"errors"
	"fmt"

	telemetry "sitesense-collector/internal/telemetry/domain"
)

const defaultRawMessagesTable = "raw_messages"

// RawMessageRepository is a Postgres implementation for the raw-audit log.
// Records are append-only; retention is handled externally.
type RawMessageRepository struct {
	db    DBTX
	table string
}

// NewRawMessageRepository constructs a repository with the default table name.
func NewRawMessageRepository(db DBTX, opts ...RawOption) *RawMessageRepository {
	repo := &RawMessageRepository{db: db, table: defaultRawMessagesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RawOption configures the repository.
type RawOption func(*RawMessageRepository)

// WithRawTable overrides the default table name.
func WithRawTable(table string) RawOption {
	return func(repo *RawMessageRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertRawMessages appends a batch of raw-audit records.
func (r *RawMessageRepository) InsertRawMessages(ctx context.Context, messages []telemetry.RawMessage) error {
	if r == nil || r.db == nil {
		return errors.New("raw repo: nil db")
	}
	if len(messages) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	received_at,
	broker,
	topic,
	payload,
	device_external_id,
	source_type
) VALUES (
	$1, $2, $3, $4, $5, $6
)`, r.table)

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

	for _, m := range messages {
		if m.Topic == "" || m.ReceivedAt.IsZero() {
			_ = tx.Rollback()
			return errors.New("raw repo: invalid message")
		}
		if _, err := stmt.ExecContext(
			ctx,
			m.ReceivedAt,
			m.Broker,
			m.Topic,
			[]byte(m.Payload),
			m.DeviceExternalID,
			string(m.SourceType),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

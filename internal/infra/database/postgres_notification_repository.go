// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// Append inserts one history entry. The table is append-only: rows are
// never updated or deleted by the application.
func (r *PostgresNotificationRepository) Append(ctx context.Context, rec *notification.Record) error {
	query := `INSERT INTO notification_records (id, appointment_id, channel, recipient, message, outcome, provider_error_code, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var appointmentID sql.NullInt64
	if rec.AppointmentID != 0 {
		appointmentID = sql.NullInt64{Int64: rec.AppointmentID, Valid: true}
	}
	var providerCode sql.NullString
	if rec.ProviderErrorCode != "" {
		providerCode = sql.NullString{String: rec.ProviderErrorCode, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, appointmentID, rec.Channel, rec.Recipient, rec.Message, rec.Outcome, providerCode, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending notification record: %w", err)
	}
	return nil
}

func (r *PostgresNotificationRepository) ListByAppointment(ctx context.Context, appointmentID int64) ([]*notification.Record, error) {
	query := `SELECT id, appointment_id, channel, recipient, message, outcome, provider_error_code, created_at
               FROM notification_records
               WHERE appointment_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("error listing notification records: %w", err)
	}
	defer rows.Close()

	records := make([]*notification.Record, 0)
	for rows.Next() {
		rec := &notification.Record{}
		var apptID sql.NullInt64
		var providerCode sql.NullString
		if err := rows.Scan(&rec.ID, &apptID, &rec.Channel, &rec.Recipient, &rec.Message, &rec.Outcome, &providerCode, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification record: %w", err)
		}
		rec.AppointmentID = apptID.Int64
		rec.ProviderErrorCode = providerCode.String
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification records: %w", err)
	}
	return records, nil
}

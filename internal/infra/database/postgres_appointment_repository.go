package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq" // For pq.Array and driver registration

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/appointment"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

// Custom errors
var ErrAppointmentNotFound = fmt.Errorf("appointment not found")
var ErrStatusRegression = fmt.Errorf("notification status update would regress the stored status")

// statusRankSQL mirrors notification.StatusRank so the monotonicity guard
// runs inside the UPDATE itself, not as a racy read-then-write.
const statusRankSQL = `CASE %s
        WHEN 'pending' THEN 0
        WHEN 'generated' THEN 1
        WHEN 'queued' THEN 1
        WHEN 'sent' THEN 2
        WHEN 'failed' THEN 2
        WHEN 'delivered' THEN 3
        ELSE 0 END`

type PostgresAppointmentRepository struct {
	db *sql.DB
}

func NewPostgresAppointmentRepository(db *sql.DB) *PostgresAppointmentRepository {
	return &PostgresAppointmentRepository{db: db}
}

const appointmentColumns = `id, client_name, phone, service, starts_at, notification_status, preferred_channel, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (*appointment.Appointment, error) {
	a := &appointment.Appointment{}
	err := row.Scan(&a.ID, &a.ClientName, &a.Phone, &a.Service, &a.StartsAt,
		&a.NotificationStatus, &a.PreferredChannel, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresAppointmentRepository) GetByID(ctx context.Context, id int64) (*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	a, err := scanAppointment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("error getting appointment by ID: %w", err)
	}
	return a, nil
}

func (r *PostgresAppointmentRepository) ListByIDs(ctx context.Context, ids []int64) ([]*appointment.Appointment, error) {
	if len(ids) == 0 {
		return []*appointment.Appointment{}, nil
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ANY($1::bigint[]) ORDER BY starts_at, id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error listing appointments by ids: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *PostgresAppointmentRepository) ListPendingBetween(ctx context.Context, from, to time.Time) ([]*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
               WHERE starts_at >= $1 AND starts_at < $2 AND notification_status = $3
               ORDER BY starts_at, id`

	rows, err := r.db.QueryContext(ctx, query, from, to, notification.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("error listing pending appointments: %w", err)
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// UpdateNotificationStatus writes the per-appointment notification flag.
// The rank comparison inside the WHERE clause enforces monotonicity: an
// update that would regress the stored status matches no row.
func (r *PostgresAppointmentRepository) UpdateNotificationStatus(ctx context.Context, id int64, status notification.Status) error {
	query := fmt.Sprintf(`UPDATE appointments
               SET notification_status = $1, updated_at = NOW()
               WHERE id = $2 AND `+statusRankSQL+` <= `+statusRankSQL,
		"notification_status", "$1")

	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("error updating appointment notification status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if affected == 0 {
		// Either the row is missing or the guard rejected a regression.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStatusRegression
	}
	return nil
}

func collectAppointments(rows *sql.Rows) ([]*appointment.Appointment, error) {
	appointments := make([]*appointment.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating appointments: %w", err)
	}
	return appointments, nil
}

package appointment

import (
	"context"
	"time"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

// Repository defines the operations for retrieving appointments and writing
// back their notification status flag.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*Appointment, error)
	// ListPendingBetween returns appointments starting in [from, to) whose
	// notification status is still pending. Used by the scheduled run.
	ListPendingBetween(ctx context.Context, from, to time.Time) ([]*Appointment, error)
	// UpdateNotificationStatus writes the status flag. It must refuse
	// regressions: a write ranking below the stored status is rejected
	// with ErrStatusRegression by the implementation.
	UpdateNotificationStatus(ctx context.Context, id int64, status notification.Status) error
}

package notification

import (
	"context"
	"time"
)

// Record is one immutable history entry per attempted send. It is created
// by the message dispatcher when an attempt completes (success or failure)
// and never mutated afterwards.
type Record struct {
	ID            string
	AppointmentID int64 // 0 when the send is not tied to an appointment (test sends)
	Channel       Channel
	Recipient     string
	Message       string
	Outcome       Status
	// ProviderErrorCode holds the provider-specific sub-code of a failed
	// attempt, e.g. a Twilio restriction code.
	ProviderErrorCode string
	CreatedAt         time.Time
}

// RecordRepository is the append-only store for dispatch history.
type RecordRepository interface {
	Append(ctx context.Context, rec *Record) error
	ListByAppointment(ctx context.Context, appointmentID int64) ([]*Record, error)
}

package appointment

import (
	"database/sql"
	"time"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

// Appointment is the slice of the scheduling data the reminder subsystem
// needs. The rest of the appointment record (pricing, invoicing, branding)
// belongs to the CRUD side of the application and is not modelled here.
type Appointment struct {
	ID                 int64
	ClientName         string
	Phone              sql.NullString
	Service            string
	StartsAt           time.Time
	NotificationStatus notification.Status
	PreferredChannel   notification.Channel
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DisplayName returns the name shown in manual-mode prompts.
func (a *Appointment) DisplayName() string {
	if a.ClientName != "" {
		return a.ClientName
	}
	if a.Phone.Valid {
		return a.Phone.String
	}
	return "cliente"
}

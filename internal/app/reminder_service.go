package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/appointment"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
	idb "github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/database"
)

// Custom application-level errors for the reminder coordinator.
var ErrNoManualBatch = fmt.Errorf("no manual batch is in progress")

// dispatchEngine is the slice of the dispatcher the coordinator drives.
type dispatchEngine interface {
	Send(ctx context.Context, req SendRequest) notification.DispatchResult
	RecordManual(ctx context.Context, appointmentID int64, contact, text string, outcome notification.Status) error
}

// BatchFailure describes one failed target inside an aggregate result.
type BatchFailure struct {
	AppointmentID int64                  `json:"appointmentId"`
	ErrorKind     notification.ErrorKind `json:"errorKind"`
	Detail        string                 `json:"detail,omitempty"`
}

// BatchResult is the aggregate outcome of an automated batch. A failure in
// one target never aborts the rest of the run.
type BatchResult struct {
	SuccessCount int            `json:"successCount"`
	Skipped      int            `json:"skipped"`
	Failures     []BatchFailure `json:"failures"`
}

// ManualEntry is one step of a manual-confirmation batch: the operator
// opens the deep link, sends the pre-filled message by hand, and advances
// the cursor.
type ManualEntry struct {
	AppointmentID int64  `json:"appointmentId"`
	DisplayName   string `json:"displayName"`
	DeepLink      string `json:"deepLink"`

	contact string
	message string
}

// ManualProgress reports the cursor position of the active manual batch.
type ManualProgress struct {
	BatchID string       `json:"batchId"`
	Index   int          `json:"index"`
	Total   int          `json:"total"`
	Current *ManualEntry `json:"current,omitempty"`
	Done    bool         `json:"done"`
	// Final holds the re-fetched appointment statuses once the batch is
	// finalized.
	Final []ManualOutcome `json:"final,omitempty"`
}

// ManualOutcome is the refreshed status of one target after finalization.
type ManualOutcome struct {
	AppointmentID int64               `json:"appointmentId"`
	Status        notification.Status `json:"status"`
}

type manualBatch struct {
	id      string
	entries []ManualEntry
	index   int
}

// ReminderService selects target appointments, composes reminder messages
// and coordinates their dispatch, automated or operator-confirmed. One
// batch runs at a time per process; manual mode is sequential by design.
type ReminderService struct {
	appointments appointment.Repository
	dispatcher   dispatchEngine
	log          *logrus.Entry

	mu     sync.Mutex
	manual *manualBatch
}

func NewReminderService(ar appointment.Repository, de dispatchEngine, log *logrus.Entry) *ReminderService {
	return &ReminderService{
		appointments: ar,
		dispatcher:   de,
		log:          log,
	}
}

// composeMessage builds the reminder body, appending the optional free-text
// suffix after the templated part.
func composeMessage(ap *appointment.Appointment, custom string) string {
	msg := fmt.Sprintf("Ciao %s, ti ricordiamo il tuo appuntamento del %s alle %s.",
		ap.DisplayName(), ap.StartsAt.Format("02/01/2006"), ap.StartsAt.Format("15:04"))
	if ap.Service != "" {
		msg = fmt.Sprintf("Ciao %s, ti ricordiamo il tuo appuntamento per %q del %s alle %s.",
			ap.DisplayName(), ap.Service, ap.StartsAt.Format("02/01/2006"), ap.StartsAt.Format("15:04"))
	}
	if custom != "" {
		msg += " " + custom
	}
	return msg
}

// alreadyNotified reports whether the target already carries a generated or
// later marker for the current cycle ("select only unsent" filter).
func alreadyNotified(ap *appointment.Appointment) bool {
	return notification.StatusRank(ap.NotificationStatus) >= notification.StatusRank(notification.StatusGenerated) &&
		ap.NotificationStatus != notification.StatusFailed
}

// SendBatch runs an automated batch over the given appointments: compose,
// dispatch, record the resulting status. Targets already notified are
// skipped unless force is set; individual failures are collected and the
// run continues.
func (r *ReminderService) SendBatch(ctx context.Context, ids []int64, customMessage string, ch notification.Channel, force bool) (*BatchResult, error) {
	targets, err := r.appointments.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch appointments: %w", err)
	}
	if len(targets) < len(ids) {
		r.log.WithFields(logrus.Fields{"requested": len(ids), "found": len(targets)}).
			Warn("Some requested appointments were not found")
	}

	result := &BatchResult{Failures: []BatchFailure{}}
	for _, ap := range targets {
		if !force && alreadyNotified(ap) {
			r.log.WithField("appointment_id", ap.ID).Debug("Skipping already-notified appointment")
			result.Skipped++
			continue
		}
		if !ap.Phone.Valid || ap.Phone.String == "" {
			result.Failures = append(result.Failures, BatchFailure{
				AppointmentID: ap.ID,
				ErrorKind:     notification.ErrKindRecipientNotReachable,
				Detail:        "no phone number on file",
			})
			continue
		}

		res := r.dispatcher.Send(ctx, SendRequest{
			AppointmentID: ap.ID,
			Contact:       ap.Phone.String,
			Text:          composeMessage(ap, customMessage),
			Channel:       ch,
		})

		if res.Success {
			result.SuccessCount++
			if err := r.appointments.UpdateNotificationStatus(ctx, ap.ID, notification.StatusSent); err != nil {
				r.log.WithError(err).WithField("appointment_id", ap.ID).
					Error("Could not record sent status")
			}
			continue
		}

		failure := BatchFailure{AppointmentID: ap.ID}
		if res.Err != nil {
			failure.ErrorKind = res.Err.Kind
			failure.Detail = res.Err.Detail
		}
		result.Failures = append(result.Failures, failure)
		if err := r.appointments.UpdateNotificationStatus(ctx, ap.ID, notification.StatusFailed); err != nil && !errors.Is(err, idb.ErrStatusRegression) {
			r.log.WithError(err).WithField("appointment_id", ap.ID).
				Error("Could not record failed status")
		}
	}

	r.log.WithFields(logrus.Fields{
		"success": result.SuccessCount,
		"skipped": result.Skipped,
		"failed":  len(result.Failures),
	}).Info("Automated reminder batch finished")
	return result, nil
}

// PrepareManualBatch builds the ordered deep-link list for the
// manual-confirmation flow and resets the cursor. A batch already in
// progress is discarded.
func (r *ReminderService) PrepareManualBatch(ctx context.Context, ids []int64, customMessage string, force bool) (*ManualProgress, error) {
	targets, err := r.appointments.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch appointments: %w", err)
	}

	entries := make([]ManualEntry, 0, len(targets))
	for _, ap := range targets {
		if !force && alreadyNotified(ap) {
			r.log.WithField("appointment_id", ap.ID).Debug("Skipping already-notified appointment in manual batch")
			continue
		}
		if !ap.Phone.Valid || ap.Phone.String == "" {
			r.log.WithField("appointment_id", ap.ID).Warn("Skipping manual target without phone number")
			continue
		}
		message := composeMessage(ap, customMessage)
		entries = append(entries, ManualEntry{
			AppointmentID: ap.ID,
			DisplayName:   ap.DisplayName(),
			DeepLink:      deepLink(ap.Phone.String, message),
			contact:       ap.Phone.String,
			message:       message,
		})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manual != nil {
		r.log.WithField("batch_id", r.manual.id).Warn("Discarding manual batch in progress")
	}
	r.manual = &manualBatch{id: uuid.NewString(), entries: entries}
	return r.progressLocked(), nil
}

// ManualCurrent reports the cursor without moving it.
func (r *ReminderService) ManualCurrent() (*ManualProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manual == nil {
		return nil, ErrNoManualBatch
	}
	return r.progressLocked(), nil
}

// AdvanceManual marks the current target as generated and moves the cursor
// forward. The mark happens at presentation time, before the operator has
// confirmed delivery: the deep-link compose window cannot be observed, so
// optimistic marking is the documented trade-off. Advancing past the last
// entry finalizes the batch and re-fetches true appointment state.
func (r *ReminderService) AdvanceManual(ctx context.Context) (*ManualProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.manual == nil {
		return nil, ErrNoManualBatch
	}

	if r.manual.index < len(r.manual.entries) {
		entry := r.manual.entries[r.manual.index]
		if err := r.markNotified(ctx, entry.AppointmentID, entry.contact, entry.message, notification.StatusGenerated, false); err != nil {
			return nil, err
		}
		r.manual.index++
	}

	if r.manual.index < len(r.manual.entries) {
		return r.progressLocked(), nil
	}

	// Batch done: refresh statuses from the store before reporting.
	finished := r.manual
	r.manual = nil
	progress := &ManualProgress{
		BatchID: finished.id,
		Index:   finished.index,
		Total:   len(finished.entries),
		Done:    true,
	}
	ids := make([]int64, len(finished.entries))
	for i, e := range finished.entries {
		ids[i] = e.AppointmentID
	}
	refreshed, err := r.appointments.ListByIDs(ctx, ids)
	if err != nil {
		r.log.WithError(err).Warn("Could not refresh appointment state after manual batch")
		return progress, nil
	}
	for _, ap := range refreshed {
		progress.Final = append(progress.Final, ManualOutcome{
			AppointmentID: ap.ID,
			Status:        ap.NotificationStatus,
		})
	}
	r.log.WithField("batch_id", finished.id).Info("Manual reminder batch finalized")
	return progress, nil
}

// MarkSent marks one appointment's reminder as sent, for the operator
// confirming an out-of-band delivery. Idempotent per appointment per
// cycle: repeating the call changes nothing and appends no second history
// entry; force allows an explicit resend marker.
func (r *ReminderService) MarkSent(ctx context.Context, id int64, force bool) error {
	ap, err := r.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	contact := ""
	if ap.Phone.Valid {
		contact = ap.Phone.String
	}
	return r.markNotified(ctx, id, contact, composeMessage(ap, ""), notification.StatusSent, force)
}

// markNotified applies the idempotent mark: the status flag moves forward
// monotonically and exactly one history entry is appended the first time.
func (r *ReminderService) markNotified(ctx context.Context, id int64, contact, message string, status notification.Status, force bool) error {
	ap, err := r.appointments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !force && notification.StatusRank(ap.NotificationStatus) >= notification.StatusRank(status) {
		r.log.WithFields(logrus.Fields{
			"appointment_id": id,
			"status":         string(ap.NotificationStatus),
		}).Debug("Appointment already marked; no-op")
		return nil
	}
	if err := r.appointments.UpdateNotificationStatus(ctx, id, status); err != nil && !errors.Is(err, idb.ErrStatusRegression) {
		return fmt.Errorf("failed to update notification status: %w", err)
	}
	if err := r.dispatcher.RecordManual(ctx, id, contact, message, status); err != nil {
		r.log.WithError(err).WithField("appointment_id", id).
			Error("Could not append history entry for manual mark")
	}
	return nil
}

// RunDueReminders is the scheduled entry point: it picks tomorrow's
// appointments still pending and sends them through the carrier channel.
func (r *ReminderService) RunDueReminders(ctx context.Context) error {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	to := from.AddDate(0, 0, 1)

	due, err := r.appointments.ListPendingBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("failed to list due reminders: %w", err)
	}
	if len(due) == 0 {
		r.log.Debug("No due reminders for tomorrow")
		return nil
	}

	ids := make([]int64, len(due))
	for i, ap := range due {
		ids[i] = ap.ID
	}
	result, err := r.SendBatch(ctx, ids, "", notification.ChannelSMS, false)
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{
		"window_from": from.Format("2006-01-02"),
		"success":     result.SuccessCount,
		"failed":      len(result.Failures),
	}).Info("Scheduled reminder run finished")
	return nil
}

func (r *ReminderService) progressLocked() *ManualProgress {
	p := &ManualProgress{
		BatchID: r.manual.id,
		Index:   r.manual.index,
		Total:   len(r.manual.entries),
	}
	if r.manual.index < len(r.manual.entries) {
		current := r.manual.entries[r.manual.index]
		p.Current = &current
	}
	if len(r.manual.entries) == 0 {
		p.Done = true
	}
	return p
}

// deepLink builds the wa.me URI that opens a pre-filled compose window.
func deepLink(phone, message string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	return fmt.Sprintf("https://wa.me/%s?text=%s", string(digits), url.QueryEscape(message))
}

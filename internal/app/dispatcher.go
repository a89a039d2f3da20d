package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/channel"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

// sessionSource exposes the dispatcher's read-only view of session state.
// The dispatcher never mutates the session.
type sessionSource interface {
	Snapshot() SessionUpdate
}

// SendRequest describes one dispatch attempt.
type SendRequest struct {
	// AppointmentID ties the history entry to an appointment; zero for
	// test sends.
	AppointmentID int64
	Contact       string
	Text          string
	Channel       notification.Channel
}

// Dispatcher performs single sends through the paired interactive channel
// or the secondary carrier provider. Every call path returns a structured
// DispatchResult so batch processing can continue past one failed target;
// adapter and provider errors never cross this boundary as plain errors.
type Dispatcher struct {
	sessions sessionSource
	adapter  channel.Client
	carrier  notification.CarrierProvider
	records  notification.RecordRepository
	log      *logrus.Entry
}

func NewDispatcher(
	sessions sessionSource,
	adapter channel.Client,
	carrier notification.CarrierProvider,
	records notification.RecordRepository,
	log *logrus.Entry,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		adapter:  adapter,
		carrier:  carrier,
		records:  records,
		log:      log,
	}
}

// Send attempts one delivery and appends exactly one history entry,
// success or failure alike.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) notification.DispatchResult {
	var res notification.DispatchResult
	var providerCode string

	switch req.Channel {
	case notification.ChannelWhatsApp:
		res, providerCode = d.sendWhatsApp(ctx, req)
	case notification.ChannelSMS:
		res, providerCode = d.sendSMS(ctx, req)
	default:
		res = failure(notification.ErrKindProviderRejected, "unsupported channel: "+string(req.Channel))
	}

	d.appendRecord(ctx, req, res, providerCode)
	return res
}

func (d *Dispatcher) sendWhatsApp(ctx context.Context, req SendRequest) (notification.DispatchResult, string) {
	snap := d.sessions.Snapshot()
	if snap.Session.Status != channel.StatusConnected {
		return failure(notification.ErrKindChannelNotConnected,
			"channel session is "+string(snap.Session.Status)), ""
	}

	// A message is never attempted to an unreachable recipient.
	reachable, err := d.adapter.IsReachable(ctx, req.Contact)
	if err != nil {
		return failure(notification.ErrKindChannelNotConnected,
			"registration lookup failed: "+err.Error()), ""
	}
	if !reachable {
		return failure(notification.ErrKindRecipientNotReachable,
			"contact is not registered on the channel"), ""
	}

	id, err := d.adapter.Send(ctx, req.Contact, req.Text)
	if err != nil {
		// The session may have dropped between the reachability check and
		// the send; that race resolves here, not transactionally.
		if d.sessions.Snapshot().Session.Status != channel.StatusConnected {
			return failure(notification.ErrKindChannelNotConnected, err.Error()), ""
		}
		return failure(notification.ErrKindProviderRejected, err.Error()), ""
	}
	return notification.DispatchResult{Success: true, ProviderMessageID: id}, ""
}

func (d *Dispatcher) sendSMS(ctx context.Context, req SendRequest) (notification.DispatchResult, string) {
	if d.carrier == nil {
		return failure(notification.ErrKindProviderRejected, "carrier provider is not configured"), ""
	}

	id, err := d.carrier.SendText(ctx, req.Contact, req.Text)
	if err != nil {
		var perr *notification.ProviderError
		if errors.As(err, &perr) {
			return failure(notification.ErrKindProviderRejected, perr.Message), strconv.Itoa(perr.Code)
		}
		return failure(notification.ErrKindProviderRejected, err.Error()), ""
	}
	return notification.DispatchResult{Success: true, ProviderMessageID: id}, ""
}

// RecordManual appends the history entry for a manually handled target.
// The deep-link flow has no send attempt the dispatcher could observe, so
// the entry records what the operator was shown and the optimistic outcome.
func (d *Dispatcher) RecordManual(ctx context.Context, appointmentID int64, contact, text string, outcome notification.Status) error {
	rec := &notification.Record{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		Channel:       notification.ChannelWhatsAppManual,
		Recipient:     contact,
		Message:       text,
		Outcome:       outcome,
		CreatedAt:     time.Now(),
	}
	if err := d.records.Append(ctx, rec); err != nil {
		d.log.WithError(err).WithField("appointment_id", appointmentID).
			Error("Could not append manual-mode notification record")
		return err
	}
	return nil
}

func (d *Dispatcher) appendRecord(ctx context.Context, req SendRequest, res notification.DispatchResult, providerCode string) {
	outcome := notification.StatusSent
	if !res.Success {
		outcome = notification.StatusFailed
		if providerCode == "" && res.Err != nil {
			providerCode = string(res.Err.Kind)
		}
	}

	rec := &notification.Record{
		ID:                uuid.NewString(),
		AppointmentID:     req.AppointmentID,
		Channel:           req.Channel,
		Recipient:         req.Contact,
		Message:           req.Text,
		Outcome:           outcome,
		ProviderErrorCode: providerCode,
		CreatedAt:         time.Now(),
	}
	if err := d.records.Append(ctx, rec); err != nil {
		// PersistenceFailure: the attempt outcome stands, history is short
		// one entry.
		d.log.WithError(err).WithFields(logrus.Fields{
			"appointment_id": req.AppointmentID,
			"channel":        string(req.Channel),
		}).Error("Could not append notification record")
	}
}

func failure(kind notification.ErrorKind, detail string) notification.DispatchResult {
	return notification.DispatchResult{
		Success: false,
		Err:     &notification.DispatchError{Kind: kind, Detail: detail},
	}
}

package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/appointment"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/channel"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
	idb "github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/database"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type sentMessage struct {
	contact string
	text    string
}

// fakeAdapter implements channel.Client with scripted behaviour.
type fakeAdapter struct {
	mu              sync.Mutex
	events          chan channel.Event
	connectErr      error
	connectCalls    int
	disconnectCalls int
	reachable       map[string]bool
	reachableErr    error
	sendErr         error
	sent            []sentMessage
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		events:    make(chan channel.Event, 32),
		reachable: map[string]bool{},
	}
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakeAdapter) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return nil
}

func (f *fakeAdapter) IsReachable(ctx context.Context, contact string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reachableErr != nil {
		return false, f.reachableErr
	}
	return f.reachable[contact], nil
}

func (f *fakeAdapter) Send(ctx context.Context, contact, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{contact: contact, text: text})
	return fmt.Sprintf("wamid-%d", len(f.sent)), nil
}

func (f *fakeAdapter) Events() <-chan channel.Event { return f.events }

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// memSettings is an in-memory channel.SettingsStore that records every
// write so tests can inspect the persisted sequence.
type memSettings struct {
	mu      sync.Mutex
	values  map[string]string
	history []string
	setErr  error
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]string{}}
}

func (s *memSettings) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", idb.ErrSettingNotFound
	}
	return v, nil
}

func (s *memSettings) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	s.history = append(s.history, value)
	return nil
}

func (s *memSettings) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// fakeRecords is an in-memory append-only notification.RecordRepository.
type fakeRecords struct {
	mu        sync.Mutex
	records   []*notification.Record
	appendErr error
}

func (r *fakeRecords) Append(ctx context.Context, rec *notification.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	cp := *rec
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeRecords) ListByAppointment(ctx context.Context, appointmentID int64) ([]*notification.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*notification.Record, 0)
	for _, rec := range r.records {
		if rec.AppointmentID == appointmentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRecords) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeAppointments implements appointment.Repository with the same
// monotonicity guard as the Postgres implementation.
type fakeAppointments struct {
	mu   sync.Mutex
	byID map[int64]*appointment.Appointment
}

func newFakeAppointments(appts ...*appointment.Appointment) *fakeAppointments {
	f := &fakeAppointments{byID: map[int64]*appointment.Appointment{}}
	for _, ap := range appts {
		f.byID[ap.ID] = ap
	}
	return f
}

func (f *fakeAppointments) GetByID(ctx context.Context, id int64) (*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ap, ok := f.byID[id]
	if !ok {
		return nil, idb.ErrAppointmentNotFound
	}
	cp := *ap
	return &cp, nil
}

func (f *fakeAppointments) ListByIDs(ctx context.Context, ids []int64) ([]*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*appointment.Appointment, 0, len(ids))
	for _, id := range ids {
		if ap, ok := f.byID[id]; ok {
			cp := *ap
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAppointments) ListPendingBetween(ctx context.Context, from, to time.Time) ([]*appointment.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*appointment.Appointment, 0)
	for _, ap := range f.byID {
		if ap.NotificationStatus != notification.StatusPending {
			continue
		}
		if ap.StartsAt.Before(from) || !ap.StartsAt.Before(to) {
			continue
		}
		cp := *ap
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAppointments) UpdateNotificationStatus(ctx context.Context, id int64, status notification.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ap, ok := f.byID[id]
	if !ok {
		return idb.ErrAppointmentNotFound
	}
	if notification.StatusRank(status) < notification.StatusRank(ap.NotificationStatus) {
		return idb.ErrStatusRegression
	}
	ap.NotificationStatus = status
	return nil
}

func (f *fakeAppointments) status(id int64) notification.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].NotificationStatus
}

// fakeCarrier implements notification.CarrierProvider.
type fakeCarrier struct {
	mu     sync.Mutex
	sent   []sentMessage
	errFor map[string]error
}

func newFakeCarrier() *fakeCarrier {
	return &fakeCarrier{errFor: map[string]error{}}
}

func (f *fakeCarrier) SendText(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor[to]; err != nil {
		return "", err
	}
	f.sent = append(f.sent, sentMessage{contact: to, text: body})
	return fmt.Sprintf("SM%04d", len(f.sent)), nil
}

// fakeSessions is a controllable sessionSource for dispatcher tests.
type fakeSessions struct {
	mu     sync.Mutex
	update SessionUpdate
}

func (f *fakeSessions) Snapshot() SessionUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update
}

func (f *fakeSessions) setStatus(status channel.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.update.Session.Status = status
}

func connectedSessions() *fakeSessions {
	return &fakeSessions{update: SessionUpdate{Session: channel.Session{Status: channel.StatusConnected}}}
}

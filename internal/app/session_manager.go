package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/channel"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
	idb "github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/infra/database"
)

// persistedSession is the JSON blob written to the settings store under a
// single key. The pairing code is transient and deliberately absent.
type persistedSession struct {
	DeviceID      string         `json:"deviceId"`
	Status        channel.Status `json:"status"`
	PhoneNumber   string         `json:"phoneNumber,omitempty"`
	LastConnected time.Time      `json:"lastConnected"`
}

// ChannelManager owns the pairing state machine. It is the sole writer of
// the session record: adapter lifecycle events and operator commands are
// both funneled through the same mutex-guarded transition path, so no two
// transitions ever apply concurrently.
type ChannelManager struct {
	adapter     channel.Client
	settings    channel.SettingsStore
	broadcaster *StatusBroadcaster
	log         *logrus.Entry

	settingsKey    string
	pairingTimeout time.Duration

	mu          sync.Mutex
	session     channel.Session
	pairingCode string
	lastError   *notification.DispatchError
	// generation stamps each pairing attempt; timers belonging to a
	// superseded attempt are ignored when they fire.
	generation   uint64
	pairingTimer *time.Timer
}

func NewChannelManager(
	adapter channel.Client,
	settings channel.SettingsStore,
	broadcaster *StatusBroadcaster,
	log *logrus.Entry,
	settingsKey string,
	pairingTimeout time.Duration,
) *ChannelManager {
	return &ChannelManager{
		adapter:        adapter,
		settings:       settings,
		broadcaster:    broadcaster,
		log:            log,
		settingsKey:    settingsKey,
		pairingTimeout: pairingTimeout,
		session:        channel.Session{Status: channel.StatusDisconnected},
	}
}

// Run pumps adapter events into the state machine until ctx is cancelled
// or the adapter closes its event stream.
func (m *ChannelManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.adapter.Events():
			if !ok {
				return
			}
			m.Apply(ev)
		}
	}
}

// Apply feeds one typed lifecycle event to the state machine.
func (m *ChannelManager) Apply(ev channel.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(ev)
}

func (m *ChannelManager) applyLocked(ev channel.Event) {
	prev := m.session.Status
	log := m.log.WithFields(logrus.Fields{"event": string(ev.Kind), "from": string(prev)})

	switch ev.Kind {
	case channel.EventPairingCode:
		// A refresh while already QR_READY replaces the code in place.
		if prev != channel.StatusConnecting && prev != channel.StatusQRReady {
			log.Debug("Ignoring pairing code outside a pairing attempt")
			return
		}
		m.stopPairingTimerLocked()
		m.pairingCode = ev.Code
		m.session.Status = channel.StatusQRReady

	case channel.EventAuthenticated:
		if prev != channel.StatusQRReady {
			log.Debug("Ignoring confirmation event outside QR_READY")
			return
		}
		m.pairingCode = ""
		m.session.Status = channel.StatusAuthenticated

	case channel.EventReady:
		// CONNECTING is a valid origin too: resuming an already-paired
		// device skips the QR and confirmation steps entirely.
		if prev != channel.StatusAuthenticated && prev != channel.StatusConnecting && prev != channel.StatusQRReady {
			log.Debug("Ignoring ready event in current state")
			return
		}
		m.stopPairingTimerLocked()
		m.pairingCode = ""
		if ev.Identifier != "" {
			m.session.PhoneNumber = ev.Identifier
		}
		m.session.Status = channel.StatusConnected
		m.session.LastConnected = time.Now()
		m.lastError = nil
		log.WithField("identifier", m.session.PhoneNumber).Info("Channel session connected")

	case channel.EventAuthFailure:
		m.stopPairingTimerLocked()
		m.pairingCode = ""
		m.session.Status = channel.StatusAuthFailure
		log.WithField("reason", ev.Reason).Error("Channel authentication failed; manual restart required")

	case channel.EventDisconnected:
		if prev == channel.StatusDisconnected {
			return
		}
		m.stopPairingTimerLocked()
		m.pairingCode = ""
		m.session.Status = channel.StatusDisconnected
		m.session.PhoneNumber = ""
		log.WithField("reason", ev.Reason).Info("Channel session disconnected")

	default:
		log.Warn("Unknown channel event kind")
		return
	}

	m.commitLocked()
}

// StartPairing begins a new pairing attempt. Any existing session is torn
// down first, so at most one session is ever active. The call returns once
// the attempt has begun; completion is observed through the broadcaster.
func (m *ChannelManager) StartPairing(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Status != channel.StatusDisconnected {
		m.log.WithField("status", string(m.session.Status)).Info("Tearing down existing session before new pairing attempt")
		m.teardownLocked(ctx)
	}

	m.generation++
	gen := m.generation
	m.lastError = nil
	m.pairingCode = ""
	m.session = channel.Session{
		DeviceID: uuid.NewString(),
		Status:   channel.StatusConnecting,
	}

	if err := m.adapter.Connect(ctx); err != nil {
		m.session.Status = channel.StatusDisconnected
		m.commitLocked()
		return fmt.Errorf("failed to begin pairing attempt: %w", err)
	}

	if m.pairingTimeout > 0 {
		m.pairingTimer = time.AfterFunc(m.pairingTimeout, func() {
			m.onPairingTimeout(gen)
		})
	}

	m.log.WithField("device_id", m.session.DeviceID).Info("Pairing attempt started")
	m.commitLocked()
	return nil
}

// Disconnect tears down the session and persists DISCONNECTED. Idempotent.
func (m *ChannelManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Status == channel.StatusDisconnected {
		// Nothing to transition, but make sure the adapter is down too.
		if err := m.adapter.Disconnect(ctx); err != nil {
			m.log.WithError(err).Warn("Adapter disconnect failed on idle session")
		}
		return nil
	}

	m.lastError = nil
	m.teardownLocked(ctx)
	return nil
}

// AutoInitialize restores the persisted session on process start. If the
// last persisted status was non-DISCONNECTED it attempts to resume using
// the stored identifier. Best-effort: every failure path falls back to a
// clean DISCONNECTED state and nothing is returned to the caller.
func (m *ChannelManager) AutoInitialize(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.settings.Get(ctx, m.settingsKey)
	if err != nil {
		if !errors.Is(err, idb.ErrSettingNotFound) {
			m.log.WithError(err).Warn("Could not read persisted session; starting disconnected")
		}
		m.broadcaster.Publish(m.snapshotLocked())
		return
	}

	var saved persistedSession
	if err := json.Unmarshal([]byte(raw), &saved); err != nil {
		m.log.WithError(err).Warn("Persisted session is malformed; starting disconnected")
		m.broadcaster.Publish(m.snapshotLocked())
		return
	}

	m.session = channel.Session{
		DeviceID:      saved.DeviceID,
		Status:        channel.StatusDisconnected,
		LastConnected: saved.LastConnected,
	}
	if saved.Status == channel.StatusDisconnected || saved.Status == "" {
		m.broadcaster.Publish(m.snapshotLocked())
		return
	}

	m.log.WithFields(logrus.Fields{
		"device_id":  saved.DeviceID,
		"identifier": saved.PhoneNumber,
	}).Info("Resuming persisted channel session")

	m.generation++
	gen := m.generation
	m.session.Status = channel.StatusConnecting
	m.session.PhoneNumber = saved.PhoneNumber

	if err := m.adapter.Connect(ctx); err != nil {
		m.log.WithError(err).Warn("Session resume failed; starting disconnected")
		m.session.Status = channel.StatusDisconnected
		m.session.PhoneNumber = ""
		m.commitLocked()
		return
	}

	if m.pairingTimeout > 0 {
		m.pairingTimer = time.AfterFunc(m.pairingTimeout, func() {
			m.onPairingTimeout(gen)
		})
	}
	m.commitLocked()
}

// Snapshot returns the current session state, pairing code included only
// while awaiting confirmation.
func (m *ChannelManager) Snapshot() SessionUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *ChannelManager) snapshotLocked() SessionUpdate {
	update := SessionUpdate{Session: m.session, LastError: m.lastError}
	if m.session.Status == channel.StatusQRReady {
		update.PairingCode = m.pairingCode
	}
	return update
}

func (m *ChannelManager) onPairingTimeout(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.session.Status != channel.StatusConnecting {
		return
	}

	m.log.WithField("timeout", m.pairingTimeout.String()).Warn("No pairing code received in time; failing pairing attempt")
	m.generation++
	if err := m.adapter.Disconnect(context.Background()); err != nil {
		m.log.WithError(err).Warn("Adapter disconnect failed after pairing timeout")
	}
	m.pairingCode = ""
	m.session.Status = channel.StatusDisconnected
	m.lastError = &notification.DispatchError{
		Kind:   notification.ErrKindPairingTimeout,
		Detail: fmt.Sprintf("no pairing code received within %s", m.pairingTimeout),
	}
	m.commitLocked()
}

// teardownLocked disconnects the adapter and moves to DISCONNECTED,
// persisting and broadcasting the transition.
func (m *ChannelManager) teardownLocked(ctx context.Context) {
	m.generation++
	m.stopPairingTimerLocked()
	if err := m.adapter.Disconnect(ctx); err != nil {
		m.log.WithError(err).Warn("Adapter disconnect failed during teardown")
	}
	m.pairingCode = ""
	m.session.Status = channel.StatusDisconnected
	m.session.PhoneNumber = ""
	m.commitLocked()
}

func (m *ChannelManager) stopPairingTimerLocked() {
	if m.pairingTimer != nil {
		m.pairingTimer.Stop()
		m.pairingTimer = nil
	}
}

// commitLocked persists the session and broadcasts the new snapshot. A
// persistence failure is logged and the in-memory transition stands;
// consistency across a restart is then not guaranteed.
func (m *ChannelManager) commitLocked() {
	m.session.LastTransitionAt = time.Now()

	saved := persistedSession{
		DeviceID:      m.session.DeviceID,
		Status:        m.session.Status,
		PhoneNumber:   m.session.PhoneNumber,
		LastConnected: m.session.LastConnected,
	}
	blob, err := json.Marshal(saved)
	if err != nil {
		m.log.WithError(err).Error("Could not marshal session for persistence")
	} else if err := m.settings.Set(context.Background(), m.settingsKey, string(blob)); err != nil {
		m.log.WithError(err).Error("Could not persist session; continuing in memory")
	}

	m.broadcaster.Publish(m.snapshotLocked())
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/channel"
	"github.com/zambelliandrea1973-cloud/gestionale-appuntamenti-sub002/internal/domain/notification"
)

const testSettingsKey = "whatsapp_session"

func newTestManager(adapter *fakeAdapter, settings *memSettings, timeout time.Duration) *ChannelManager {
	return NewChannelManager(adapter, settings, NewStatusBroadcaster(discardLogger()),
		discardLogger(), testSettingsKey, timeout)
}

func TestApplyTransitionTable(t *testing.T) {
	tests := []struct {
		from  channel.Status
		event channel.Event
		want  channel.Status
	}{
		// Pairing codes are only valid while an attempt is in flight.
		{channel.StatusConnecting, channel.Event{Kind: channel.EventPairingCode, Code: "C1"}, channel.StatusQRReady},
		{channel.StatusQRReady, channel.Event{Kind: channel.EventPairingCode, Code: "C2"}, channel.StatusQRReady},
		{channel.StatusDisconnected, channel.Event{Kind: channel.EventPairingCode, Code: "C3"}, channel.StatusDisconnected},
		{channel.StatusConnected, channel.Event{Kind: channel.EventPairingCode, Code: "C4"}, channel.StatusConnected},
		{channel.StatusAuthenticated, channel.Event{Kind: channel.EventPairingCode, Code: "C5"}, channel.StatusAuthenticated},

		// Confirmation only follows a presented code.
		{channel.StatusQRReady, channel.Event{Kind: channel.EventAuthenticated}, channel.StatusAuthenticated},
		{channel.StatusConnecting, channel.Event{Kind: channel.EventAuthenticated}, channel.StatusConnecting},
		{channel.StatusDisconnected, channel.Event{Kind: channel.EventAuthenticated}, channel.StatusDisconnected},
		{channel.StatusConnected, channel.Event{Kind: channel.EventAuthenticated}, channel.StatusConnected},

		// Ready from the confirmation step or a paired-device resume.
		{channel.StatusAuthenticated, channel.Event{Kind: channel.EventReady}, channel.StatusConnected},
		{channel.StatusConnecting, channel.Event{Kind: channel.EventReady}, channel.StatusConnected},
		{channel.StatusQRReady, channel.Event{Kind: channel.EventReady}, channel.StatusConnected},
		{channel.StatusDisconnected, channel.Event{Kind: channel.EventReady}, channel.StatusDisconnected},
		{channel.StatusAuthFailure, channel.Event{Kind: channel.EventReady}, channel.StatusAuthFailure},

		// Auth failure is terminal from any state until a manual restart.
		{channel.StatusConnecting, channel.Event{Kind: channel.EventAuthFailure}, channel.StatusAuthFailure},
		{channel.StatusQRReady, channel.Event{Kind: channel.EventAuthFailure}, channel.StatusAuthFailure},
		{channel.StatusAuthenticated, channel.Event{Kind: channel.EventAuthFailure}, channel.StatusAuthFailure},
		{channel.StatusConnected, channel.Event{Kind: channel.EventAuthFailure}, channel.StatusAuthFailure},

		// Disconnects land everywhere and are idempotent.
		{channel.StatusConnected, channel.Event{Kind: channel.EventDisconnected}, channel.StatusDisconnected},
		{channel.StatusQRReady, channel.Event{Kind: channel.EventDisconnected}, channel.StatusDisconnected},
		{channel.StatusAuthFailure, channel.Event{Kind: channel.EventDisconnected}, channel.StatusDisconnected},
		{channel.StatusDisconnected, channel.Event{Kind: channel.EventDisconnected}, channel.StatusDisconnected},
	}

	for _, tc := range tests {
		name := fmt.Sprintf("%s_%s", tc.from, tc.event.Kind)
		t.Run(name, func(t *testing.T) {
			m := newTestManager(newFakeAdapter(), newMemSettings(), 0)
			m.session.Status = tc.from
			m.Apply(tc.event)
			if got := m.Snapshot().Session.Status; got != tc.want {
				t.Fatalf("from %q on %q: expected %q, got %q", tc.from, tc.event.Kind, tc.want, got)
			}
		})
	}
}

func TestStartPairingHappyPath(t *testing.T) {
	adapter := newFakeAdapter()
	settings := newMemSettings()
	m := newTestManager(adapter, settings, 0)
	ctx := context.Background()

	if err := m.StartPairing(ctx); err != nil {
		t.Fatalf("StartPairing failed: %v", err)
	}
	snap := m.Snapshot()
	if snap.Session.Status != channel.StatusConnecting {
		t.Fatalf("expected CONNECTING, got %q", snap.Session.Status)
	}
	if snap.Session.DeviceID == "" {
		t.Fatal("expected a device id to be assigned")
	}
	if adapter.connectCalls != 1 {
		t.Fatalf("expected one adapter connect, got %d", adapter.connectCalls)
	}

	m.Apply(channel.Event{Kind: channel.EventPairingCode, Code: "ABCD-1234"})
	snap = m.Snapshot()
	if snap.Session.Status != channel.StatusQRReady {
		t.Fatalf("expected QR_READY, got %q", snap.Session.Status)
	}
	if snap.PairingCode != "ABCD-1234" {
		t.Fatalf("expected pairing code in snapshot, got %q", snap.PairingCode)
	}

	m.Apply(channel.Event{Kind: channel.EventAuthenticated})
	snap = m.Snapshot()
	if snap.Session.Status != channel.StatusAuthenticated {
		t.Fatalf("expected AUTHENTICATED, got %q", snap.Session.Status)
	}
	if snap.PairingCode != "" {
		t.Fatal("pairing code must not be exposed after confirmation")
	}

	m.Apply(channel.Event{Kind: channel.EventReady, Identifier: "393331112233"})
	snap = m.Snapshot()
	if snap.Session.Status != channel.StatusConnected {
		t.Fatalf("expected CONNECTED, got %q", snap.Session.Status)
	}
	if snap.Session.PhoneNumber != "393331112233" {
		t.Fatalf("expected resolved phone number, got %q", snap.Session.PhoneNumber)
	}
	if snap.Session.LastConnected.IsZero() {
		t.Fatal("expected LastConnected to be set")
	}
	if snap.LastError != nil {
		t.Fatalf("expected last error cleared, got %v", snap.LastError)
	}
}

func TestPairingCodeDoesNotLeakAcrossAttempts(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 0)
	ctx := context.Background()

	if err := m.StartPairing(ctx); err != nil {
		t.Fatalf("first StartPairing failed: %v", err)
	}
	m.Apply(channel.Event{Kind: channel.EventPairingCode, Code: "FIRST"})

	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := m.Snapshot().PairingCode; got != "" {
		t.Fatalf("expected no pairing code after disconnect, got %q", got)
	}

	if err := m.StartPairing(ctx); err != nil {
		t.Fatalf("second StartPairing failed: %v", err)
	}
	m.Apply(channel.Event{Kind: channel.EventPairingCode, Code: "SECOND"})

	if got := m.Snapshot().PairingCode; got != "SECOND" {
		t.Fatalf("expected code from the new attempt, got %q", got)
	}
}

func TestStartPairingTearsDownActiveSession(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 0)
	ctx := context.Background()

	if err := m.StartPairing(ctx); err != nil {
		t.Fatalf("StartPairing failed: %v", err)
	}
	m.Apply(channel.Event{Kind: channel.EventReady, Identifier: "39333000000"})
	first := m.Snapshot().Session.DeviceID

	if err := m.StartPairing(ctx); err != nil {
		t.Fatalf("second StartPairing failed: %v", err)
	}
	snap := m.Snapshot()
	if adapter.disconnectCalls != 1 {
		t.Fatalf("expected the active session to be torn down, got %d disconnects", adapter.disconnectCalls)
	}
	if snap.Session.DeviceID == first {
		t.Fatal("expected a fresh device id for the new attempt")
	}
	if snap.Session.Status != channel.StatusConnecting {
		t.Fatalf("expected CONNECTING, got %q", snap.Session.Status)
	}
}

func TestStartPairingConnectFailureRevertsToDisconnected(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.connectErr = fmt.Errorf("socket refused")
	m := newTestManager(adapter, newMemSettings(), 0)

	if err := m.StartPairing(context.Background()); err == nil {
		t.Fatal("expected StartPairing to surface the connect error")
	}
	if got := m.Snapshot().Session.Status; got != channel.StatusDisconnected {
		t.Fatalf("expected DISCONNECTED after failed connect, got %q", got)
	}
}

func TestSessionPersistedAcrossTransitions(t *testing.T) {
	adapter := newFakeAdapter()
	settings := newMemSettings()
	m := newTestManager(adapter, settings, 0)
	ctx := context.Background()

	if err := m.StartPairing(ctx); err != nil {
		t.Fatalf("StartPairing failed: %v", err)
	}
	m.Apply(channel.Event{Kind: channel.EventPairingCode, Code: "X"})
	m.Apply(channel.Event{Kind: channel.EventAuthenticated})
	m.Apply(channel.Event{Kind: channel.EventReady, Identifier: "3933300000"})

	writes := settings.writes()
	if len(writes) != 4 {
		t.Fatalf("expected 4 persisted writes, got %d", len(writes))
	}

	wantStatuses := []channel.Status{
		channel.StatusConnecting,
		channel.StatusQRReady,
		channel.StatusAuthenticated,
		channel.StatusConnected,
	}
	for i, raw := range writes {
		var saved persistedSession
		if err := json.Unmarshal([]byte(raw), &saved); err != nil {
			t.Fatalf("write %d is not valid JSON: %v", i, err)
		}
		if saved.Status != wantStatuses[i] {
			t.Fatalf("write %d: expected status %q, got %q", i, wantStatuses[i], saved.Status)
		}
	}

	var last persistedSession
	if err := json.Unmarshal([]byte(writes[3]), &last); err != nil {
		t.Fatalf("final write is not valid JSON: %v", err)
	}
	if last.PhoneNumber != "3933300000" {
		t.Fatalf("expected phone number persisted, got %q", last.PhoneNumber)
	}
	if last.DeviceID == "" {
		t.Fatal("expected device id persisted")
	}
}

func TestPersistenceFailureKeepsInMemoryState(t *testing.T) {
	adapter := newFakeAdapter()
	settings := newMemSettings()
	settings.setErr = fmt.Errorf("connection reset")
	m := newTestManager(adapter, settings, 0)

	if err := m.StartPairing(context.Background()); err != nil {
		t.Fatalf("expected StartPairing to tolerate a persistence failure, got %v", err)
	}
	if got := m.Snapshot().Session.Status; got != channel.StatusConnecting {
		t.Fatalf("expected in-memory CONNECTING despite failed write, got %q", got)
	}
}

func TestAutoInitializeResumesPersistedSession(t *testing.T) {
	adapter := newFakeAdapter()
	settings := newMemSettings()
	blob, _ := json.Marshal(persistedSession{
		DeviceID:      "dev-1",
		Status:        channel.StatusConnected,
		PhoneNumber:   "393331112233",
		LastConnected: time.Now().Add(-time.Hour),
	})
	settings.values[testSettingsKey] = string(blob)

	m := newTestManager(adapter, settings, 0)
	m.AutoInitialize(context.Background())

	snap := m.Snapshot()
	if snap.Session.Status != channel.StatusConnecting {
		t.Fatalf("expected resume to begin in CONNECTING, got %q", snap.Session.Status)
	}
	if snap.Session.DeviceID != "dev-1" {
		t.Fatalf("expected persisted device id, got %q", snap.Session.DeviceID)
	}
	if adapter.connectCalls != 1 {
		t.Fatalf("expected one adapter connect, got %d", adapter.connectCalls)
	}

	// A resumed device reports ready without presenting a new code.
	m.Apply(channel.Event{Kind: channel.EventReady})
	snap = m.Snapshot()
	if snap.Session.Status != channel.StatusConnected {
		t.Fatalf("expected CONNECTED after resume, got %q", snap.Session.Status)
	}
	if snap.Session.PhoneNumber != "393331112233" {
		t.Fatalf("expected persisted phone number kept, got %q", snap.Session.PhoneNumber)
	}
}

func TestAutoInitializeWithNoPersistedSession(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 0)
	m.AutoInitialize(context.Background())

	if got := m.Snapshot().Session.Status; got != channel.StatusDisconnected {
		t.Fatalf("expected DISCONNECTED, got %q", got)
	}
	if adapter.connectCalls != 0 {
		t.Fatalf("expected no connect attempt, got %d", adapter.connectCalls)
	}
}

func TestAutoInitializeResumeFailureFallsBack(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.connectErr = fmt.Errorf("store unavailable")
	settings := newMemSettings()
	blob, _ := json.Marshal(persistedSession{DeviceID: "dev-2", Status: channel.StatusConnected})
	settings.values[testSettingsKey] = string(blob)

	m := newTestManager(adapter, settings, 0)
	m.AutoInitialize(context.Background())

	if got := m.Snapshot().Session.Status; got != channel.StatusDisconnected {
		t.Fatalf("expected fallback to DISCONNECTED, got %q", got)
	}
}

func TestAutoInitializeMalformedBlobFallsBack(t *testing.T) {
	adapter := newFakeAdapter()
	settings := newMemSettings()
	settings.values[testSettingsKey] = "{not json"

	m := newTestManager(adapter, settings, 0)
	m.AutoInitialize(context.Background())

	if got := m.Snapshot().Session.Status; got != channel.StatusDisconnected {
		t.Fatalf("expected DISCONNECTED on malformed blob, got %q", got)
	}
	if adapter.connectCalls != 0 {
		t.Fatalf("expected no connect attempt, got %d", adapter.connectCalls)
	}
}

func TestPairingTimeoutWhileConnecting(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 20*time.Millisecond)

	if err := m.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		snap := m.Snapshot()
		if snap.Session.Status == channel.StatusDisconnected {
			if snap.LastError == nil || snap.LastError.Kind != notification.ErrKindPairingTimeout {
				t.Fatalf("expected a pairing timeout error, got %v", snap.LastError)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("pairing attempt never timed out; status %q", snap.Session.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPairingTimerStoppedByCode(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 20*time.Millisecond)

	if err := m.StartPairing(context.Background()); err != nil {
		t.Fatalf("StartPairing failed: %v", err)
	}
	m.Apply(channel.Event{Kind: channel.EventPairingCode, Code: "IN-TIME"})

	time.Sleep(60 * time.Millisecond)
	snap := m.Snapshot()
	if snap.Session.Status != channel.StatusQRReady {
		t.Fatalf("expected QR_READY to survive the timeout window, got %q", snap.Session.Status)
	}
	if snap.LastError != nil {
		t.Fatalf("expected no timeout error once a code arrived, got %v", snap.LastError)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 0)
	ctx := context.Background()

	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect on idle session failed: %v", err)
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("repeated Disconnect failed: %v", err)
	}
	if got := m.Snapshot().Session.Status; got != channel.StatusDisconnected {
		t.Fatalf("expected DISCONNECTED, got %q", got)
	}
}

func TestRunStopsOnClosedEventStream(t *testing.T) {
	adapter := newFakeAdapter()
	m := newTestManager(adapter, newMemSettings(), 0)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	adapter.events <- channel.Event{Kind: channel.EventDisconnected, Reason: "stream errored"}
	close(adapter.events)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the event stream closed")
	}
}

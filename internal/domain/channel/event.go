package channel

// EventKind identifies a lifecycle event emitted by the channel client.
type EventKind string

const (
	EventPairingCode   EventKind = "PAIRING_CODE"
	EventAuthenticated EventKind = "AUTHENTICATED"
	EventReady         EventKind = "READY"
	EventAuthFailure   EventKind = "AUTH_FAILURE"
	EventDisconnected  EventKind = "DISCONNECTED"
)

// Event is a typed lifecycle event. The client adapter converts its
// library's callbacks into this stream so that session state is mutated in
// exactly one place instead of from asynchronous callbacks.
type Event struct {
	Kind EventKind
	// Code carries the pairing code payload for EventPairingCode.
	Code string
	// Identifier carries the resolved external identifier (the paired
	// phone number) for EventReady.
	Identifier string
	// Reason describes EventAuthFailure and EventDisconnected.
	Reason string
}

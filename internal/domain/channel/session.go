package channel

import "time"

// Status is the lifecycle state of the messaging channel session.
type Status string

const (
	StatusDisconnected  Status = "DISCONNECTED"
	StatusConnecting    Status = "CONNECTING"
	StatusQRReady       Status = "QR_READY"
	StatusAuthenticated Status = "AUTHENTICATED"
	StatusConnected     Status = "CONNECTED"
	StatusAuthFailure   Status = "AUTH_FAILURE"
)

// Session is the singleton record describing the connection to the
// interactive messaging channel. At most one session per process is ever
// in a non-DISCONNECTED state; the session manager is its only writer.
type Session struct {
	DeviceID         string    `json:"deviceId"`
	Status           Status    `json:"status"`
	PhoneNumber      string    `json:"phoneNumber,omitempty"`
	LastConnected    time.Time `json:"lastConnected"`
	LastTransitionAt time.Time `json:"lastTransitionAt"`
}

package notification

import "fmt"

// ErrorKind classifies a failed dispatch attempt.
type ErrorKind string

const (
	ErrKindPairingTimeout        ErrorKind = "PairingTimeout"
	ErrKindChannelNotConnected   ErrorKind = "ChannelNotConnected"
	ErrKindRecipientNotReachable ErrorKind = "RecipientNotReachable"
	ErrKindProviderRejected      ErrorKind = "ProviderRejected"
	ErrKindPersistenceFailure    ErrorKind = "PersistenceFailure"
)

// DispatchError is the structured failure carried inside a DispatchResult.
// The dispatcher never lets an adapter or provider error cross its boundary
// as a plain error; every failure is classified into one of these kinds.
type DispatchError struct {
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

func (e *DispatchError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// DispatchResult is the outcome of one send attempt.
type DispatchResult struct {
	Success           bool           `json:"success"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	Err               *DispatchError `json:"error,omitempty"`
}

// ProviderError carries a provider-specific rejection sub-code (for example
// a Twilio trial-account restriction) so it can be surfaced distinctly
// instead of being swallowed into a generic failure.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider rejected send (code %d): %s", e.Code, e.Message)
}

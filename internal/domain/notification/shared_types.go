package notification

// Channel identifies the transport used for one dispatch attempt.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	// ChannelWhatsAppManual is the human-operated deep-link flow used when
	// the interactive channel cannot be driven programmatically.
	ChannelWhatsAppManual Channel = "whatsapp_manual"
)

// Status is the per-appointment notification status. Transitions are
// monotonic within a reminder cycle: the coordinator never regresses one.
type Status string

const (
	StatusPending   Status = "pending"
	StatusGenerated Status = "generated"
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// StatusRank orders statuses for the monotonicity guard. Generated and
// queued share a rank, as do sent and failed (a send attempt terminates in
// one or the other).
func StatusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusGenerated, StatusQueued:
		return 1
	case StatusSent, StatusFailed:
		return 2
	case StatusDelivered:
		return 3
	default:
		return 0
	}
}

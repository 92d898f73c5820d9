package session

// State is the connection state of one managed session.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateQRPending      State = "qr_pending"
	StatePairingPending State = "pairing_pending"
	StateConnected      State = "connected"
)

// Status is an immutable snapshot of a session, emitted to subscribers on
// every state transition and returned by GetStatus.
type Status struct {
	OwnerID     string `json:"user_id"`
	ProfileID   string `json:"profile_id"`
	State       State  `json:"status"`
	QR          string `json:"qr,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	GroupCount  int    `json:"groups_count"`
}

package session

import (
	"context"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
)

// Transport is the live protocol connection for one linked account. The
// session owns exactly one transport at a time; callers obtain it through
// Session.LiveTransport after waiting for connection readiness.
type Transport interface {
	// Connect opens the underlying socket. Lifecycle progress is reported
	// through the event handler the transport was constructed with.
	Connect(ctx context.Context) error
	// Disconnect tears the socket down without logging out.
	Disconnect()
	// Logout performs a protocol-level unlink of the account.
	Logout(ctx context.Context) error
	// PurgeCredentials deletes any protocol-layer state for this identity.
	PurgeCredentials(ctx context.Context) error

	RequestPairingCode(ctx context.Context, phone string) (string, error)
	SendMessage(ctx context.Context, to string, text string) (string, error)
	FetchAllGroups(ctx context.Context) ([]GroupInfo, error)
	CreateGroup(ctx context.Context, name string, participants []string) (*GroupInfo, error)
	UpdateGroupParticipants(ctx context.Context, groupID string, members []string, action ParticipantAction) error
	UpdateGroupSubject(ctx context.Context, groupID string, subject string) error
	UpdateGroupDescription(ctx context.Context, groupID string, description string) error
	CheckRegistered(ctx context.Context, numbers []string) ([]RegisteredStatus, error)
}

// TransportFactory builds a transport bound to previously persisted
// credentials (nil record means a fresh, unlinked identity) and an event
// handler owned by the calling session.
type TransportFactory func(ctx context.Context, creds credstore.Record, handler func(Event)) (Transport, error)

// ParticipantAction mirrors the protocol's group participant operations.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// GroupInfo is the cached metadata for one group. Fields may be partially
// populated; cache updates merge rather than replace.
type GroupInfo struct {
	ID           string   `json:"id"`
	Subject      string   `json:"subject,omitempty"`
	Description  string   `json:"description,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Size         int      `json:"size,omitempty"`
}

// RegisteredStatus is one phone number's validation result.
type RegisteredStatus struct {
	Phone  string `json:"phone"`
	Exists bool   `json:"exists"`
	JID    string `json:"jid,omitempty"`
}

// Event is a connection-lifecycle notification from the transport. Events
// are delivered sequentially; the session processes them in arrival order.
type Event interface{ isEvent() }

// EventQR carries a freshly issued login QR payload. During a pairing-code
// flow this doubles as the handshake opportunity at which a code can be
// requested.
type EventQR struct {
	Code string
}

// EventOpened signals a successful handshake for the given identity.
type EventOpened struct {
	PhoneNumber string
}

// EventClosed signals the transport dropped. LoggedOut marks an explicit
// remote logout; Conflict marks closure caused by a rival process holding
// the same identity. Reason carries the protocol error, if any.
type EventClosed struct {
	Reason    error
	LoggedOut bool
	Conflict  bool
}

// EventCredentials carries updated authentication material that must be
// written through to the credential store.
type EventCredentials struct {
	Record credstore.Record
}

// EventGroupUpsert announces a group newly visible to this account.
type EventGroupUpsert struct {
	Group GroupInfo
}

// EventGroupUpdate announces changed metadata for a known group.
type EventGroupUpdate struct {
	Group GroupInfo
}

func (EventQR) isEvent()          {}
func (EventOpened) isEvent()      {}
func (EventClosed) isEvent()      {}
func (EventCredentials) isEvent() {}
func (EventGroupUpsert) isEvent() {}
func (EventGroupUpdate) isEvent() {}

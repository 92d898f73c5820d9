package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

var (
	datastoreOnce sync.Once
	datastore     *sqlstore.Container
	datastoreErr  error
	proxyURL      string
)

func openDatastore(ctx context.Context) (*sqlstore.Container, error) {
	datastoreOnce.Do(func() {
		dbType, err := env.GetEnvString("WHATSAPP_DATASTORE_TYPE")
		if err != nil {
			datastoreErr = fmt.Errorf("WHATSAPP_DATASTORE_TYPE is required: %w", err)
			return
		}
		dbURI, err := env.GetEnvString("WHATSAPP_DATASTORE_URI")
		if err != nil {
			datastoreErr = fmt.Errorf("WHATSAPP_DATASTORE_URI is required: %w", err)
			return
		}

		driver := normalizeDatastoreDriver(dbType)
		dbURI = normalizeDatastoreDSN(driver, dbURI)

		log.Print(nil).Info("Initializing WhatsApp datastore with driver=" + driver)

		container, err := sqlstore.New(ctx, driver, dbURI, nil)
		if err != nil {
			datastoreErr = fmt.Errorf("failed to initialize whatsapp datastore: %w", err)
			return
		}
		if err := container.Upgrade(ctx); err != nil {
			datastoreErr = fmt.Errorf("failed to upgrade datastore schema: %w", err)
			return
		}

		proxyURL, _ = env.GetEnvString("WHATSAPP_CLIENT_PROXY_URL")
		applyDeviceProps()
		datastore = container
	})
	return datastore, datastoreErr
}

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	default:
		return strings.ToLower(driver)
	}
}

func normalizeDatastoreDSN(driver string, dsn string) string {
	if driver != "pgx" {
		return dsn
	}
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}

func applyDeviceProps() {
	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	if major, err := env.GetEnvInt("WHATSAPP_VERSION_MAJOR"); err == nil {
		store.DeviceProps.Version.Primary = proto.Uint32(uint32(major))
	}
	if minor, err := env.GetEnvInt("WHATSAPP_VERSION_MINOR"); err == nil {
		store.DeviceProps.Version.Secondary = proto.Uint32(uint32(minor))
	}
	if patch, err := env.GetEnvInt("WHATSAPP_VERSION_PATCH"); err == nil {
		store.DeviceProps.Version.Tertiary = proto.Uint32(uint32(patch))
	}
}

// NewTransportFactory returns the production transport factory backed by
// whatsmeow. Each transport wraps one whatsmeow client whose device is
// resolved from the credential record's device routing, or freshly created
// for an unlinked identity.
func NewTransportFactory() session.TransportFactory {
	return func(ctx context.Context, creds credstore.Record, handler func(session.Event)) (session.Transport, error) {
		container, err := openDatastore(ctx)
		if err != nil {
			return nil, err
		}

		var device *store.Device
		if creds != nil {
			if raw, ok := creds["device_jid"].(string); ok && raw != "" {
				if jid, err := types.ParseJID(raw); err == nil {
					device, _ = container.GetDevice(ctx, jid)
				}
			}
		}
		if device == nil {
			device = container.NewDevice()
		}

		client := whatsmeow.NewClient(device, nil)
		if len(proxyURL) > 0 {
			client.SetProxyAddress(proxyURL)
		}
		// The session layer owns reconnect policy, backoff and conflict
		// handling; the client must not fight it.
		client.EnableAutoReconnect = false
		client.AutoTrustIdentity = true

		t := &meowTransport{client: client, handler: handler}
		t.handlerID = client.AddEventHandler(t.dispatch)
		return t, nil
	}
}

type meowTransport struct {
	client    *whatsmeow.Client
	handler   func(session.Event)
	handlerID uint32
	closed    atomic.Bool
}

// reportClosed forwards at most one close per transport. whatsmeow can emit
// Disconnected and ConnectFailure for the same drop, and a double close
// would double-count a reconnect attempt in the session layer.
func (t *meowTransport) reportClosed(e session.EventClosed) {
	if t.closed.CompareAndSwap(false, true) {
		t.handler(e)
	}
}

func (t *meowTransport) dispatch(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		if len(e.Codes) > 0 {
			t.handler(session.EventQR{Code: e.Codes[0]})
		}
	case *events.PairSuccess:
		t.handler(session.EventCredentials{Record: t.credentialRecord()})
	case *events.Connected:
		t.handler(session.EventCredentials{Record: t.credentialRecord()})
		t.handler(session.EventOpened{PhoneNumber: t.linkedPhone()})
	case *events.LoggedOut:
		t.reportClosed(session.EventClosed{
			Reason:    fmt.Errorf("logged out by server (%v)", e.Reason),
			LoggedOut: true,
		})
	case *events.StreamReplaced:
		t.reportClosed(session.EventClosed{
			Reason:   errors.New("stream replaced by a rival session"),
			Conflict: true,
		})
	case *events.Disconnected:
		t.reportClosed(session.EventClosed{Reason: errors.New("websocket disconnected")})
	case *events.ConnectFailure:
		t.reportClosed(session.EventClosed{Reason: fmt.Errorf("connect failure (%v): %s", e.Reason, e.Message)})
	case *events.TemporaryBan:
		log.Print(nil).Error(fmt.Sprintf("Client temporarily banned: reason=%s, expires=%s", e.Code, e.Expire))
	case *events.KeepAliveTimeout:
		log.Print(nil).Warn(fmt.Sprintf("Client keepalive timeout: errors=%d", e.ErrorCount))
	case *events.JoinedGroup:
		t.handler(session.EventGroupUpsert{Group: groupInfoFrom(&e.GroupInfo)})
	case *events.GroupInfo:
		g := session.GroupInfo{ID: e.JID.String()}
		if e.Name != nil {
			g.Subject = e.Name.Name
		}
		if e.Topic != nil {
			g.Description = e.Topic.Topic
		}
		t.handler(session.EventGroupUpdate{Group: g})
	}
}

func (t *meowTransport) credentialRecord() credstore.Record {
	device := t.client.Store
	rec := credstore.Record{"registered": true}
	if device.ID != nil {
		rec["device_jid"] = device.ID.String()
	}
	if device.PushName != "" {
		rec["push_name"] = device.PushName
	}
	if device.Platform != "" {
		rec["platform"] = device.Platform
	}
	if device.IdentityKey != nil && device.IdentityKey.Pub != nil {
		rec["identity_pub"] = append([]byte(nil), device.IdentityKey.Pub[:]...)
	}
	return rec
}

func (t *meowTransport) linkedPhone() string {
	if t.client.Store.ID == nil {
		return ""
	}
	return t.client.Store.ID.User
}

func (t *meowTransport) Connect(ctx context.Context) error {
	return t.client.Connect()
}

func (t *meowTransport) Disconnect() {
	t.client.RemoveEventHandler(t.handlerID)
	t.client.Disconnect()
}

func (t *meowTransport) Logout(ctx context.Context) error {
	return t.client.Logout(ctx)
}

func (t *meowTransport) PurgeCredentials(ctx context.Context) error {
	if t.client.Store.ID == nil {
		return nil
	}
	return t.client.Store.Delete(ctx)
}

func (t *meowTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return t.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
}

func (t *meowTransport) SendMessage(ctx context.Context, to string, text string) (string, error) {
	jid := composeUserJID(to)
	if jid.IsEmpty() {
		return "", errors.New("invalid recipient id")
	}
	resp, err := t.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (t *meowTransport) FetchAllGroups(ctx context.Context) ([]session.GroupInfo, error) {
	groups, err := t.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]session.GroupInfo, 0, len(groups))
	for _, group := range groups {
		out = append(out, groupInfoFrom(group))
	}
	return out, nil
}

func (t *meowTransport) CreateGroup(ctx context.Context, name string, participants []string) (*session.GroupInfo, error) {
	req := whatsmeow.ReqCreateGroup{Name: name}
	for _, participant := range participants {
		jid := composeUserJID(participant)
		if jid.IsEmpty() {
			return nil, fmt.Errorf("invalid participant id %q", participant)
		}
		req.Participants = append(req.Participants, jid)
	}
	group, err := t.client.CreateGroup(ctx, req)
	if err != nil {
		return nil, err
	}
	info := groupInfoFrom(group)
	return &info, nil
}

func (t *meowTransport) UpdateGroupParticipants(ctx context.Context, groupID string, members []string, action session.ParticipantAction) error {
	groupJID, err := composeGroupJID(groupID)
	if err != nil {
		return err
	}
	jids := make([]types.JID, 0, len(members))
	for _, member := range members {
		jid := composeUserJID(member)
		if jid.IsEmpty() {
			return fmt.Errorf("invalid participant id %q", member)
		}
		jids = append(jids, jid)
	}

	var change whatsmeow.ParticipantChange
	switch action {
	case session.ParticipantAdd:
		change = whatsmeow.ParticipantChangeAdd
	case session.ParticipantRemove:
		change = whatsmeow.ParticipantChangeRemove
	case session.ParticipantPromote:
		change = whatsmeow.ParticipantChangePromote
	case session.ParticipantDemote:
		change = whatsmeow.ParticipantChangeDemote
	default:
		return fmt.Errorf("unsupported participant action %q", action)
	}

	_, err = t.client.UpdateGroupParticipants(ctx, groupJID, jids, change)
	return err
}

func (t *meowTransport) UpdateGroupSubject(ctx context.Context, groupID string, subject string) error {
	groupJID, err := composeGroupJID(groupID)
	if err != nil {
		return err
	}
	return t.client.SetGroupName(ctx, groupJID, subject)
}

func (t *meowTransport) UpdateGroupDescription(ctx context.Context, groupID string, description string) error {
	groupJID, err := composeGroupJID(groupID)
	if err != nil {
		return err
	}
	return t.client.SetGroupDescription(ctx, groupJID, description)
}

func (t *meowTransport) CheckRegistered(ctx context.Context, numbers []string) ([]session.RegisteredStatus, error) {
	queries := make([]string, 0, len(numbers))
	for _, number := range numbers {
		queries = append(queries, "+"+decomposeJID(number))
	}
	responses, err := t.client.IsOnWhatsApp(ctx, queries)
	if err != nil {
		return nil, err
	}

	registered := make(map[string]types.JID, len(responses))
	for _, resp := range responses {
		if resp.IsIn {
			registered[decomposeJID(resp.Query)] = resp.JID
		}
	}

	out := make([]session.RegisteredStatus, 0, len(numbers))
	for _, number := range numbers {
		digits := decomposeJID(number)
		status := session.RegisteredStatus{Phone: digits}
		if jid, ok := registered[digits]; ok {
			status.Exists = true
			status.JID = jid.String()
		}
		out = append(out, status)
	}
	return out, nil
}

func groupInfoFrom(group *types.GroupInfo) session.GroupInfo {
	participants := make([]string, 0, len(group.Participants))
	for _, participant := range group.Participants {
		participants = append(participants, participant.JID.String())
	}
	return session.GroupInfo{
		ID:           group.JID.String(),
		Subject:      group.GroupName.Name,
		Description:  group.GroupTopic.Topic,
		Participants: participants,
		Size:         len(participants),
	}
}

func composeUserJID(id string) types.JID {
	digits := decomposeJID(id)
	if digits == "" {
		return types.EmptyJID
	}
	return types.NewJID(digits, types.DefaultUserServer)
}

func composeGroupJID(id string) (types.JID, error) {
	if parsed, err := types.ParseJID(id); err == nil && parsed.Server == types.GroupServer {
		return parsed, nil
	}
	stripped := decomposeJID(id)
	if stripped == "" {
		return types.EmptyJID, errors.New("invalid group id")
	}
	return types.NewJID(stripped, types.GroupServer), nil
}

func decomposeJID(id string) string {
	if strings.ContainsRune(id, '@') {
		id = strings.Split(id, "@")[0]
	}
	if len(id) > 0 && id[0] == '+' {
		id = id[1:]
	}
	return strings.TrimSpace(id)
}

package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/validation"
)

const sessionKeyPrefix = "wa:sess:"

// Config tunes one session's reconnect and pairing behavior.
type Config struct {
	MaxReconnectAttempts int
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	// ConflictRetryDelay is the fixed retry interval used when the close
	// reason is an identity conflict. Conflict retries are unbounded and
	// never consume reconnect attempts: the rival session may release the
	// identity at any time, and the credentials are still valid.
	ConflictRetryDelay time.Duration
	PairingWindow      time.Duration
	// IsConflict classifies a close reason as an identity conflict.
	// Protocol libraries are not consistent about how conflicts surface,
	// so the predicate is configuration, not hard-coded string matching.
	IsConflict func(error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectBase:        2 * time.Second,
		ReconnectMax:         32 * time.Second,
		ConflictRetryDelay:   5 * time.Second,
		PairingWindow:        20 * time.Second,
		IsConflict: func(err error) bool {
			return err != nil && strings.Contains(strings.ToLower(err.Error()), "conflict")
		},
	}
}

type pairingSignal struct {
	closed bool
	reason error
}

// Session owns the connection lifecycle for one (owner, profile) pair: the
// transport handle, authentication state, reconnect policy and the group
// metadata cache. All methods are safe for concurrent use.
type Session struct {
	OwnerID   string
	ProfileID string

	store   credstore.Store
	factory TransportFactory
	cfg     Config

	mu                sync.Mutex
	gen               uint64
	state             State
	transport         Transport
	currentQR         string
	pairingCode       string
	phoneNumber       string
	reconnectAttempts int
	pairingMode       bool
	pairingChan       chan pairingSignal
	retryTimer        *time.Timer
	subs              map[int]chan Status
	nextSubID         int
	groups            map[string]GroupInfo
}

func New(ownerID string, profileID string, store credstore.Store, factory TransportFactory, cfg Config) *Session {
	if cfg.IsConflict == nil {
		cfg.IsConflict = DefaultConfig().IsConflict
	}
	return &Session{
		OwnerID:   ownerID,
		ProfileID: profileID,
		store:     store,
		factory:   factory,
		cfg:       cfg,
		state:     StateDisconnected,
		subs:      make(map[int]chan Status),
		groups:    make(map[string]GroupInfo),
	}
}

// Prefix is the deterministic credential key namespace for this session,
// e.g. "wa:sess:<owner>:profile-<profile>:".
func (s *Session) Prefix() string {
	return sessionKeyPrefix + s.OwnerID + ":profile-" + s.ProfileID + ":"
}

func (s *Session) credsKey() string {
	return s.Prefix() + "creds"
}

// Connect brings the session up, loading persisted credentials if any
// exist. Idempotent: a session that is already connected, or already has a
// live connection attempt in flight, is left alone.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.transport != nil && s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.stopRetryTimerLocked()
	s.pairingMode = false
	s.pairingChan = nil
	s.setTransientStateLocked(StateConnecting)
	s.notifyLocked()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	creds, _ := s.store.Load(ctx, s.credsKey())
	transport, err := s.factory(ctx, creds, func(evt Event) { s.handleEvent(gen, evt) })
	if err != nil {
		s.failConnect(gen)
		return fmt.Errorf("failed to build transport: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Torn down while we were building the transport.
		s.mu.Unlock()
		transport.Disconnect()
		return ErrTransportClosed
	}
	s.transport = transport
	s.mu.Unlock()

	if err := transport.Connect(ctx); err != nil {
		s.failConnect(gen)
		return fmt.Errorf("failed to open transport: %w", err)
	}
	return nil
}

func (s *Session) failConnect(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.transport = nil
	s.state = StateDisconnected
	s.notifyLocked()
}

// ConnectWithPairingCode links a fresh identity via a phone pairing code
// instead of a QR scan. Any previously stored credentials for this session
// are discarded first. Fails with ErrInvalidPhone before any network
// action, ErrPairingTimeout if no handshake opportunity arrives within the
// pairing window, or ErrTransportClosed if the transport drops first.
func (s *Session) ConnectWithPairingCode(ctx context.Context, phone string) (string, error) {
	digits, err := validation.NormalizePairingPhone(phone)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPhone, err.Error())
	}

	s.mu.Lock()
	if s.state == StateConnected && s.transport != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("profile is already linked, disconnect it first")
	}
	s.stopRetryTimerLocked()
	old := s.transport
	s.transport = nil
	s.gen++
	gen := s.gen
	s.pairingMode = true
	s.pairingCode = ""
	signal := make(chan pairingSignal, 1)
	s.pairingChan = signal
	s.setTransientStateLocked(StateConnecting)
	s.notifyLocked()
	prefix := s.Prefix()
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
		if err := old.PurgeCredentials(ctx); err != nil {
			log.Session(s.OwnerID, s.ProfileID).WithError(err).Warn("Failed to purge stale transport state")
		}
	}
	// Pairing-code linking always starts from a fresh identity.
	s.store.ClearPrefix(ctx, prefix)

	transport, err := s.factory(ctx, nil, func(evt Event) { s.handleEvent(gen, evt) })
	if err != nil {
		s.abortPairing(gen)
		return "", fmt.Errorf("failed to build transport: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		transport.Disconnect()
		return "", ErrTransportClosed
	}
	s.transport = transport
	s.mu.Unlock()

	if err := transport.Connect(ctx); err != nil {
		s.abortPairing(gen)
		return "", fmt.Errorf("failed to open transport: %w", err)
	}

	timer := time.NewTimer(s.cfg.PairingWindow)
	defer timer.Stop()

	select {
	case sig := <-signal:
		if sig.closed {
			s.abortPairing(gen)
			if sig.reason != nil {
				return "", fmt.Errorf("%w: %s", ErrTransportClosed, sig.reason.Error())
			}
			return "", ErrTransportClosed
		}
		code, err := transport.RequestPairingCode(ctx, digits)
		if err != nil {
			s.abortPairing(gen)
			return "", fmt.Errorf("failed to request pairing code: %w", err)
		}
		s.mu.Lock()
		if s.gen == gen {
			s.pairingCode = code
			s.pairingChan = nil
			if s.state != StateConnected {
				s.state = StatePairingPending
			}
			s.notifyLocked()
		}
		s.mu.Unlock()
		log.Session(s.OwnerID, s.ProfileID).Info("Pairing code issued for " + maskPhone(digits))
		return code, nil
	case <-timer.C:
		s.abortPairing(gen)
		return "", ErrPairingTimeout
	case <-ctx.Done():
		s.abortPairing(gen)
		return "", ctx.Err()
	}
}

func (s *Session) abortPairing(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	t := s.transport
	s.transport = nil
	s.pairingMode = false
	s.pairingChan = nil
	s.pairingCode = ""
	s.state = StateDisconnected
	s.notifyLocked()
	s.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}
}

// WaitForConnection blocks until the session reaches connected (true) or
// settles disconnected outside a pairing flow (false), or the timeout
// elapses. Triggers Connect if the session is idle. This is the contract
// request handlers use before touching the transport.
func (s *Session) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return true
	}
	needConnect := s.state == StateDisconnected
	ch, cancel := s.subscribeLocked()
	s.mu.Unlock()
	defer cancel()

	if needConnect {
		if err := s.Connect(ctx); err != nil {
			log.Session(s.OwnerID, s.ProfileID).WithError(err).Warn("Connect attempt failed while waiting")
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case st := <-ch:
			if st.State == StateConnected {
				return true
			}
			if st.State == StateDisconnected && !s.isPairing() {
				return false
			}
		case <-timer.C:
			return s.GetStatus().State == StateConnected
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Session) isPairing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingMode
}

// CancelConnection tears down any in-progress login attempt and purges
// stored credentials. Used when a user abandons a QR or pairing flow.
func (s *Session) CancelConnection(ctx context.Context) {
	t, prefix := s.teardown()
	if t != nil {
		t.Disconnect()
		if err := t.PurgeCredentials(ctx); err != nil {
			log.Session(s.OwnerID, s.ProfileID).WithError(err).Warn("Failed to purge transport state")
		}
	}
	s.store.ClearPrefix(ctx, prefix)
}

// Disconnect attempts a graceful protocol-level logout, then performs the
// same teardown and credential purge as CancelConnection.
func (s *Session) Disconnect(ctx context.Context) {
	t, prefix := s.teardown()
	if t != nil {
		if err := t.Logout(ctx); err != nil {
			log.Session(s.OwnerID, s.ProfileID).WithError(err).Warn("Graceful logout failed, dropping transport")
			t.Disconnect()
		}
		if err := t.PurgeCredentials(ctx); err != nil {
			log.Session(s.OwnerID, s.ProfileID).WithError(err).Warn("Failed to purge transport state")
		}
	}
	s.store.ClearPrefix(ctx, prefix)
}

// teardown resets every transient field and invalidates pending events and
// reconnect timers, so an intentional shutdown can never be resurrected by
// a stale retry firing afterwards.
func (s *Session) teardown() (Transport, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRetryTimerLocked()
	s.gen++
	t := s.transport
	s.transport = nil
	s.pairingMode = false
	s.pairingChan = nil
	s.currentQR = ""
	s.pairingCode = ""
	s.phoneNumber = ""
	s.reconnectAttempts = 0
	s.state = StateDisconnected
	s.notifyLocked()
	return t, s.Prefix()
}

// HasStoredCredentials reports whether this session still has a persisted
// login. Disconnected sessions with stored credentials are candidates for
// an automatic reconnect.
func (s *Session) HasStoredCredentials(ctx context.Context) bool {
	return s.store.Exists(ctx, s.credsKey())
}

// GetStatus is a pure read of the session snapshot.
func (s *Session) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// LiveTransport returns the transport handle only while connected. Callers
// that need guaranteed liveness pair this with WaitForConnection.
func (s *Session) LiveTransport() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.transport == nil {
		return nil, ErrNotConnected
	}
	return s.transport, nil
}

// Subscribe returns a channel receiving a status snapshot on every state
// transition, and a cancel function that must be called to release it.
func (s *Session) Subscribe() (<-chan Status, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked()
}

// CachedGroups returns the best-effort group metadata cache, sorted by id.
// The cache may be empty or stale; callers needing fresh data use FetchGroups.
func (s *Session) CachedGroups() []GroupInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	groups := make([]GroupInfo, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

func (s *Session) CachedGroupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

// FetchGroups asks the live transport for the full group list and merges
// it into the cache.
func (s *Session) FetchGroups(ctx context.Context) ([]GroupInfo, error) {
	t, err := s.LiveTransport()
	if err != nil {
		return nil, err
	}
	groups, err := t.FetchAllGroups(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, g := range groups {
		s.mergeGroupLocked(g)
	}
	s.mu.Unlock()
	return s.CachedGroups(), nil
}

// handleEvent processes one transport event. Events from superseded
// transports (stale gen) are dropped.
func (s *Session) handleEvent(gen uint64, evt Event) {
	switch e := evt.(type) {
	case EventQR:
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if s.pairingMode {
			ch := s.pairingChan
			s.mu.Unlock()
			if ch != nil {
				select {
				case ch <- pairingSignal{}:
				default:
				}
			}
			return
		}
		s.currentQR = e.Code
		s.state = StateQRPending
		s.notifyLocked()
		s.mu.Unlock()

	case EventOpened:
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.state = StateConnected
		s.currentQR = ""
		s.pairingCode = ""
		s.phoneNumber = e.PhoneNumber
		s.reconnectAttempts = 0
		s.pairingMode = false
		s.pairingChan = nil
		s.notifyLocked()
		s.mu.Unlock()
		log.Session(s.OwnerID, s.ProfileID).Info("Connected as " + maskPhone(e.PhoneNumber))

	case EventCredentials:
		s.mu.Lock()
		stale := s.gen != gen
		s.mu.Unlock()
		if !stale {
			s.store.Save(context.Background(), s.credsKey(), e.Record)
		}

	case EventClosed:
		s.handleClose(gen, e)

	case EventGroupUpsert:
		s.mu.Lock()
		if s.gen == gen {
			s.mergeGroupLocked(e.Group)
		}
		s.mu.Unlock()

	case EventGroupUpdate:
		s.mu.Lock()
		if s.gen == gen {
			s.mergeGroupLocked(e.Group)
		}
		s.mu.Unlock()
	}
}

func (s *Session) handleClose(gen uint64, e EventClosed) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.currentQR = ""

	if s.pairingMode && s.pairingChan != nil {
		// Pre-code closure: the pairing flow owns the outcome.
		ch := s.pairingChan
		s.mu.Unlock()
		select {
		case ch <- pairingSignal{closed: true, reason: e.Reason}:
		default:
		}
		return
	}

	s.resolveCloseLocked(e)
}

// resolveCloseLocked applies the close policy to a lost transport and
// releases the lock. Scheduled reconnects that fail synchronously re-enter
// here too, so a dial error consumes the same attempt accounting as a
// closed stream instead of stranding the session disconnected.
func (s *Session) resolveCloseLocked(e EventClosed) {
	conflict := e.Conflict || (e.Reason != nil && s.cfg.IsConflict(e.Reason))
	entry := log.Session(s.OwnerID, s.ProfileID)

	switch {
	case e.LoggedOut && !conflict:
		// Remote unlink: the stored credentials are dead, purge them.
		s.gen++
		s.transport = nil
		s.pairingMode = false
		s.phoneNumber = ""
		s.pairingCode = ""
		s.reconnectAttempts = 0
		s.state = StateDisconnected
		s.notifyLocked()
		prefix := s.Prefix()
		s.mu.Unlock()
		s.store.ClearPrefix(context.Background(), prefix)
		entry.Warn("Session logged out remotely, credentials purged")

	case s.pairingMode:
		// Post-code closure while waiting for the user to enter the code:
		// credentials were just exchanged, reconnect with them shortly.
		s.pairingMode = false
		s.transport = nil
		s.state = StateConnecting
		s.notifyLocked()
		s.scheduleReconnectLocked(2*time.Second, false)
		s.mu.Unlock()

	case conflict:
		// A rival process holds this identity. Credentials are still
		// valid; retry on a fixed delay without consuming attempts.
		s.transport = nil
		s.state = StateConnecting
		s.notifyLocked()
		s.scheduleReconnectLocked(s.cfg.ConflictRetryDelay, true)
		s.mu.Unlock()
		entry.Warn("Stream conflict, retrying in " + s.cfg.ConflictRetryDelay.String())

	case s.reconnectAttempts < s.cfg.MaxReconnectAttempts:
		delay := s.cfg.ReconnectBase << s.reconnectAttempts
		if delay > s.cfg.ReconnectMax {
			delay = s.cfg.ReconnectMax
		}
		s.reconnectAttempts++
		attempt := s.reconnectAttempts
		s.transport = nil
		s.state = StateConnecting
		s.notifyLocked()
		s.scheduleReconnectLocked(delay, false)
		s.mu.Unlock()
		entry.WithField("attempt", attempt).Warn("Transport closed, reconnecting in " + delay.String())

	default:
		s.transport = nil
		s.state = StateDisconnected
		s.notifyLocked()
		s.mu.Unlock()
		entry.Error("Max reconnect attempts reached, giving up")
	}
}

// scheduleReconnectLocked arms the retry timer. The conflict flag survives
// into the next attempt so a conflict loop that trips over a dial error
// stays on its fixed delay instead of burning reconnect attempts.
func (s *Session) scheduleReconnectLocked(delay time.Duration, conflict bool) {
	s.stopRetryTimerLocked()
	s.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.state != StateConnecting || s.transport != nil {
			s.mu.Unlock()
			return
		}
		gen := s.gen
		s.mu.Unlock()

		err := s.Connect(context.Background())
		if err == nil {
			return
		}
		log.Session(s.OwnerID, s.ProfileID).WithError(err).Warn("Reconnect attempt failed")

		// Connect bumps gen exactly once; anything else means the session
		// was torn down or taken over while we were dialing, and the retry
		// policy no longer applies.
		s.mu.Lock()
		if s.gen != gen+1 || s.transport != nil || s.pairingMode {
			s.mu.Unlock()
			return
		}
		s.resolveCloseLocked(EventClosed{Reason: err, Conflict: conflict})
	})
}

func (s *Session) stopRetryTimerLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Session) setTransientStateLocked(state State) {
	s.state = state
	s.currentQR = ""
	s.pairingCode = ""
}

func (s *Session) subscribeLocked() (chan Status, func()) {
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Status, 8)
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}

// notifyLocked fans the current snapshot out to subscribers. Slow
// subscribers lose the oldest snapshot, never the newest.
func (s *Session) notifyLocked() {
	st := s.statusLocked()
	for _, ch := range s.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (s *Session) statusLocked() Status {
	return Status{
		OwnerID:     s.OwnerID,
		ProfileID:   s.ProfileID,
		State:       s.state,
		QR:          s.currentQR,
		PairingCode: s.pairingCode,
		PhoneNumber: s.phoneNumber,
		GroupCount:  len(s.groups),
	}
}

func (s *Session) mergeGroupLocked(g GroupInfo) {
	if g.ID == "" {
		return
	}
	existing := s.groups[g.ID]
	existing.ID = g.ID
	if g.Subject != "" {
		existing.Subject = g.Subject
	}
	if g.Description != "" {
		existing.Description = g.Description
	}
	if len(g.Participants) > 0 {
		existing.Participants = g.Participants
	}
	if g.Size > 0 {
		existing.Size = g.Size
	}
	s.groups[g.ID] = existing
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return phone
	}
	return phone[:len(phone)-4] + "xxxx"
}

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
)

type fakeTransport struct {
	mu          sync.Mutex
	handler     func(Event)
	creds       credstore.Record
	connectErr  error
	pairErr     error
	disconnects int
	logouts     int
	purges      int
	pairPhone   string
}

func (t *fakeTransport) Connect(ctx context.Context) error { return t.connectErr }

func (t *fakeTransport) Disconnect() {
	t.mu.Lock()
	t.disconnects++
	t.mu.Unlock()
}

func (t *fakeTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	t.logouts++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) PurgeCredentials(ctx context.Context) error {
	t.mu.Lock()
	t.purges++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if t.pairErr != nil {
		return "", t.pairErr
	}
	t.mu.Lock()
	t.pairPhone = phone
	t.mu.Unlock()
	return "ABCD-1234", nil
}

func (t *fakeTransport) SendMessage(ctx context.Context, to string, text string) (string, error) {
	return "id", nil
}

func (t *fakeTransport) FetchAllGroups(ctx context.Context) ([]GroupInfo, error) {
	return []GroupInfo{{ID: "g1", Subject: "One"}, {ID: "g2", Subject: "Two"}}, nil
}

func (t *fakeTransport) CreateGroup(ctx context.Context, name string, participants []string) (*GroupInfo, error) {
	return &GroupInfo{ID: "g-new", Subject: name}, nil
}

func (t *fakeTransport) UpdateGroupParticipants(ctx context.Context, groupID string, members []string, action ParticipantAction) error {
	return nil
}

func (t *fakeTransport) UpdateGroupSubject(ctx context.Context, groupID string, subject string) error {
	return nil
}

func (t *fakeTransport) UpdateGroupDescription(ctx context.Context, groupID string, description string) error {
	return nil
}

func (t *fakeTransport) CheckRegistered(ctx context.Context, numbers []string) ([]RegisteredStatus, error) {
	return nil, nil
}

func (t *fakeTransport) emit(evt Event) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(evt)
	}
}

type fakeFactory struct {
	mu          sync.Mutex
	transports  []*fakeTransport
	err         error
	connectErrs map[int]error
}

func (f *fakeFactory) factory() TransportFactory {
	return func(ctx context.Context, creds credstore.Record, handler func(Event)) (Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		t := &fakeTransport{handler: handler, creds: creds, connectErr: f.connectErrs[len(f.transports)]}
		f.transports = append(f.transports, t)
		return t, nil
	}
}

// failConnectAt makes the i-th transport (0-based creation order) fail its
// Connect call synchronously, like a dial error.
func (f *fakeFactory) failConnectAt(i int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErrs == nil {
		f.connectErrs = make(map[int]error)
	}
	f.connectErrs[i] = err
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) at(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[len(f.transports)-1]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxReconnectAttempts = 2
	cfg.ReconnectBase = 10 * time.Millisecond
	cfg.ReconnectMax = 40 * time.Millisecond
	cfg.ConflictRetryDelay = 15 * time.Millisecond
	cfg.PairingWindow = 200 * time.Millisecond
	return cfg
}

func newTestSession(t *testing.T) (*Session, *fakeFactory, *credstore.MemoryStore) {
	t.Helper()
	store := credstore.NewMemoryStore()
	factory := &fakeFactory{}
	sess := New("owner1", "1", store, factory.factory(), testConfig())
	return sess, factory, store
}

func waitForTransport(f *fakeFactory, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for f.count() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForState(t *testing.T, sess *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.GetStatus().State == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %s, got %s", want, sess.GetStatus().State)
}

func TestConnectQRFlow(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	assert.Equal(t, StateConnecting, sess.GetStatus().State)
	require.Equal(t, 1, factory.count())

	tr := factory.at(0)
	tr.emit(EventQR{Code: "qr-payload-1"})
	st := sess.GetStatus()
	assert.Equal(t, StateQRPending, st.State)
	assert.Equal(t, "qr-payload-1", st.QR)

	tr.emit(EventCredentials{Record: credstore.Record{"device_jid": "628111:1@s"}})
	rec, ok := store.Load(ctx, sess.Prefix()+"creds")
	require.True(t, ok)
	assert.Equal(t, "628111:1@s", rec["device_jid"])

	tr.emit(EventOpened{PhoneNumber: "628111111111"})
	st = sess.GetStatus()
	assert.Equal(t, StateConnected, st.State)
	assert.Empty(t, st.QR)
	assert.Equal(t, "628111111111", st.PhoneNumber)
}

func TestConnectIsIdempotent(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	require.NoError(t, sess.Connect(ctx))
	assert.Equal(t, 1, factory.count())

	factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})
	require.NoError(t, sess.Connect(ctx))
	assert.Equal(t, 1, factory.count())
}

func TestRemoteLogoutPurgesCredentials(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	tr := factory.at(0)
	tr.emit(EventCredentials{Record: credstore.Record{"k": "v"}})
	tr.emit(EventOpened{PhoneNumber: "628111111111"})

	tr.emit(EventClosed{LoggedOut: true})
	waitForState(t, sess, StateDisconnected)
	assert.False(t, store.Exists(ctx, sess.Prefix()))
	assert.Empty(t, sess.GetStatus().PhoneNumber)
}

func TestConflictRetriesWithoutPurging(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	tr := factory.at(0)
	tr.emit(EventCredentials{Record: credstore.Record{"k": "v"}})
	tr.emit(EventOpened{PhoneNumber: "628111111111"})

	// Conflict closures keep credentials and retry on the fixed delay, as
	// often as needed.
	for i := 0; i < 4; i++ {
		factory.last().emit(EventClosed{Reason: errors.New("stream conflict (409)")})
		assert.Equal(t, StateConnecting, sess.GetStatus().State)
		assert.True(t, store.Exists(ctx, sess.Prefix()+"creds"))

		require.Eventually(t, func() bool {
			return factory.count() == i+2
		}, 2*time.Second, 5*time.Millisecond)
	}
}

func TestReconnectBacksOffThenGivesUp(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})

	// MaxReconnectAttempts is 2 in testConfig.
	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	assert.Equal(t, StateConnecting, sess.GetStatus().State)
	require.Eventually(t, func() bool { return factory.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	require.Eventually(t, func() bool { return factory.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	waitForState(t, sess, StateDisconnected)

	// No further attempts once it gave up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, factory.count())
}

func TestReconnectSurvivesDialFailure(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})

	// The first reconnect dies on dial; the second must still be made.
	factory.failConnectAt(1, errors.New("dial tcp: connection refused"))

	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	require.Eventually(t, func() bool { return factory.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	factory.last().emit(EventOpened{PhoneNumber: "628111111111"})
	waitForState(t, sess, StateConnected)
}

func TestReconnectGivesUpAfterRepeatedDialFailures(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})

	// Both budgeted attempts fail synchronously.
	factory.failConnectAt(1, errors.New("dial tcp: connection refused"))
	factory.failConnectAt(2, errors.New("dial tcp: connection refused"))

	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	waitForState(t, sess, StateDisconnected)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, factory.count())
}

func TestConflictRetrySurvivesDialFailures(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	tr := factory.at(0)
	tr.emit(EventCredentials{Record: credstore.Record{"k": "v"}})
	tr.emit(EventOpened{PhoneNumber: "628111111111"})

	// Three consecutive dial failures exceed MaxReconnectAttempts (2 in
	// testConfig); a conflict loop must shrug them all off.
	for i := 1; i <= 3; i++ {
		factory.failConnectAt(i, errors.New("dial tcp: connection refused"))
	}

	tr.emit(EventClosed{Conflict: true})
	require.Eventually(t, func() bool { return factory.count() == 5 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, store.Exists(ctx, sess.Prefix()+"creds"))
	factory.last().emit(EventOpened{PhoneNumber: "628111111111"})
	waitForState(t, sess, StateConnected)
}

func TestSuccessfulConnectResetsAttempts(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})

	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	require.Eventually(t, func() bool { return factory.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	factory.last().emit(EventOpened{PhoneNumber: "628111111111"})
	waitForState(t, sess, StateConnected)

	// Attempts were reset on connect, so two more drops must both retry.
	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	require.Eventually(t, func() bool { return factory.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	factory.last().emit(EventClosed{Reason: errors.New("read timeout")})
	require.Eventually(t, func() bool { return factory.count() == 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestPairingRejectsInvalidPhone(t *testing.T) {
	sess, factory, _ := newTestSession(t)

	_, err := sess.ConnectWithPairingCode(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidPhone)
	assert.Zero(t, factory.count())
	assert.Equal(t, StateDisconnected, sess.GetStatus().State)
}

func TestPairingIssuesCode(t *testing.T) {
	sess, factory, _ := newTestSession(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The QR opportunity arrives shortly after the transport opens.
		waitForTransport(factory, 1)
		factory.at(0).emit(EventQR{Code: "ignored-in-pairing-mode"})
	}()

	code, err := sess.ConnectWithPairingCode(context.Background(), "+62 811-1111-111")
	<-done
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", code)
	assert.Equal(t, "628111111111", factory.at(0).pairPhone)

	st := sess.GetStatus()
	assert.Equal(t, StatePairingPending, st.State)
	assert.Equal(t, "ABCD-1234", st.PairingCode)
}

func TestPairingTimesOutWithoutOpportunity(t *testing.T) {
	sess, _, _ := newTestSession(t)

	start := time.Now()
	_, err := sess.ConnectWithPairingCode(context.Background(), "628111111111")
	assert.ErrorIs(t, err, ErrPairingTimeout)
	assert.GreaterOrEqual(t, time.Since(start), testConfig().PairingWindow)
	assert.Equal(t, StateDisconnected, sess.GetStatus().State)
}

func TestPairingClearsPreviousCredentials(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()
	store.Save(ctx, sess.Prefix()+"creds", credstore.Record{"old": "identity"})

	go func() {
		waitForTransport(factory, 1)
		factory.at(0).emit(EventQR{Code: "opportunity"})
	}()

	_, err := sess.ConnectWithPairingCode(ctx, "628111111111")
	require.NoError(t, err)
	_, ok := store.Load(ctx, sess.Prefix()+"creds")
	assert.False(t, ok)
}

func TestWaitForConnectionConnectsAndReturnsTrue(t *testing.T) {
	sess, factory, _ := newTestSession(t)

	go func() {
		waitForTransport(factory, 1)
		factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})
	}()

	assert.True(t, sess.WaitForConnection(context.Background(), 2*time.Second))
}

func TestWaitForConnectionFalseWhenAttemptDies(t *testing.T) {
	store := credstore.NewMemoryStore()
	factory := &fakeFactory{err: errors.New("no route to host")}
	sess := New("owner1", "1", store, factory.factory(), testConfig())

	assert.False(t, sess.WaitForConnection(context.Background(), time.Second))
}

func TestWaitForConnectionTimeout(t *testing.T) {
	sess, _, _ := newTestSession(t)

	start := time.Now()
	assert.False(t, sess.WaitForConnection(context.Background(), 50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDisconnectLogsOutAndPurges(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	tr := factory.at(0)
	tr.emit(EventCredentials{Record: credstore.Record{"k": "v"}})
	tr.emit(EventOpened{PhoneNumber: "628111111111"})

	sess.Disconnect(ctx)

	st := sess.GetStatus()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Empty(t, st.PhoneNumber)
	assert.Equal(t, 1, tr.logouts)
	assert.Equal(t, 1, tr.purges)
	assert.False(t, store.Exists(ctx, sess.Prefix()))
}

func TestStaleTransportEventsAreDropped(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	old := factory.at(0)
	old.emit(EventOpened{PhoneNumber: "628111111111"})

	sess.Disconnect(ctx)

	// The superseded transport keeps talking; nothing may change.
	old.emit(EventOpened{PhoneNumber: "628199999999"})
	old.emit(EventQR{Code: "zombie"})
	old.emit(EventClosed{Reason: errors.New("read timeout")})

	time.Sleep(50 * time.Millisecond)
	st := sess.GetStatus()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Empty(t, st.PhoneNumber)
	assert.Empty(t, st.QR)
	assert.Equal(t, 1, factory.count())
}

func TestCancelDuringQRFlow(t *testing.T) {
	sess, factory, store := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	tr := factory.at(0)
	tr.emit(EventQR{Code: "qr-payload"})
	tr.emit(EventCredentials{Record: credstore.Record{"k": "v"}})

	sess.CancelConnection(ctx)

	st := sess.GetStatus()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Empty(t, st.QR)
	assert.False(t, store.Exists(ctx, sess.Prefix()))
	assert.Equal(t, 1, tr.purges)
}

func TestGroupCacheMergesUpdates(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	tr := factory.at(0)
	tr.emit(EventOpened{PhoneNumber: "628111111111"})

	tr.emit(EventGroupUpsert{Group: GroupInfo{ID: "g1", Subject: "Old Name", Size: 5}})
	tr.emit(EventGroupUpdate{Group: GroupInfo{ID: "g1", Subject: "New Name"}})

	groups := sess.CachedGroups()
	require.Len(t, groups, 1)
	assert.Equal(t, "New Name", groups[0].Subject)
	// Fields absent from the update survive from the upsert.
	assert.Equal(t, 5, groups[0].Size)
	assert.Equal(t, 1, sess.GetStatus().GroupCount)
}

func TestFetchGroupsPopulatesCache(t *testing.T) {
	sess, factory, _ := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Connect(ctx))
	factory.at(0).emit(EventOpened{PhoneNumber: "628111111111"})

	groups, err := sess.FetchGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 2)
	assert.Equal(t, 2, sess.CachedGroupCount())
}

func TestFetchGroupsRequiresConnection(t *testing.T) {
	sess, _, _ := newTestSession(t)

	_, err := sess.FetchGroups(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

package profile

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/credstore"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
)

// fakeTransport emits one QR shortly after Connect and then waits forever
// for the scan that never comes.
type fakeTransport struct {
	handler func(session.Event)
	qr      string
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	go t.handler(session.EventQR{Code: t.qr})
	return nil
}

func (t *fakeTransport) Disconnect() {}

func (t *fakeTransport) Logout(ctx context.Context) error { return nil }

func (t *fakeTransport) PurgeCredentials(ctx context.Context) error { return nil }

func (t *fakeTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return "", nil
}

func (t *fakeTransport) SendMessage(ctx context.Context, to string, text string) (string, error) {
	return "", nil
}

func (t *fakeTransport) FetchAllGroups(ctx context.Context) ([]session.GroupInfo, error) {
	return nil, nil
}

func (t *fakeTransport) CreateGroup(ctx context.Context, name string, participants []string) (*session.GroupInfo, error) {
	return nil, nil
}

func (t *fakeTransport) UpdateGroupParticipants(ctx context.Context, groupID string, members []string, action session.ParticipantAction) error {
	return nil
}

func (t *fakeTransport) UpdateGroupSubject(ctx context.Context, groupID string, subject string) error {
	return nil
}

func (t *fakeTransport) UpdateGroupDescription(ctx context.Context, groupID string, description string) error {
	return nil
}

func (t *fakeTransport) CheckRegistered(ctx context.Context, numbers []string) ([]session.RegisteredStatus, error) {
	return nil, nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	factory := func(ctx context.Context, creds credstore.Record, handler func(session.Event)) (session.Transport, error) {
		return &fakeTransport{handler: handler, qr: "qr-payload-1"}, nil
	}
	Init(session.NewRegistry(credstore.NewMemoryStore(), factory, session.DefaultConfig()))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "owner1")
		return c.Next()
	})
	app.Post("/wa/connect", Connect)
	app.Get("/wa/qr", QR)
	return app
}

func TestConnectRepeatReturnsPendingQR(t *testing.T) {
	app := newTestApp(t)

	// Both the initial request and a repeat while the QR is still pending
	// must answer with the QR well inside the connect window.
	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/wa/connect", nil), 3000)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "data:image/png;base64,")
	}
}

func TestQRReturnsNotFoundWithoutPendingCode(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/wa/qr", nil), 3000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

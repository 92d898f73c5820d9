// Package profile exposes the connection lifecycle endpoints: QR and
// pairing-code login, status, and teardown for each dashboard profile.
package profile

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/session"
	"github.com/gdbrns/go-whatsapp-dashboard-api/internal/types"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/router"
)

// connectWindow bounds how long a connect request waits for either a QR
// payload or a restored login before answering.
const connectWindow = 30 * time.Second

var registry *session.Registry

func Init(reg *session.Registry) {
	registry = reg
}

func userContext(c *fiber.Ctx) (ownerID string, profileID string) {
	ownerID = c.Locals("user_id").(string)
	profileID = c.Query("profile_id", "1")
	return
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func qrDataURI(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Status lists every tracked profile for the authenticated user.
func Status(c *fiber.Ctx) error {
	ownerID, _ := userContext(c)
	return router.ResponseSuccessWithData(c, "Success get status", registry.ListStatuses(ownerID))
}

// Connect starts the QR login flow (or resumes a stored login) and blocks
// until a QR code or an open connection is available.
func Connect(c *fiber.Ctx) error {
	ownerID, _ := userContext(c)

	var req types.RequestConnect
	_ = c.BodyParser(&req)
	profileID := req.ProfileID
	if profileID == "" {
		profileID = c.Query("profile_id", "1")
	}

	sess, err := registry.GetOrCreate(ownerID, profileID)
	if err != nil {
		if errors.Is(err, session.ErrProfileLimit) {
			return router.ResponseBadRequest(c, "Profile limit reached")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	if st := sess.GetStatus(); st.State == session.StateConnected {
		return router.ResponseSuccessWithData(c, "Already connected", types.ResponseConnect{Status: string(st.State)})
	}

	ctx := requestContext(c)
	ch, cancel := sess.Subscribe()
	defer cancel()

	if err := sess.Connect(ctx); err != nil {
		log.Session(ownerID, profileID).WithError(err).Error("Failed to connect")
		return router.ResponseInternalError(c, err.Error())
	}

	// A QR issued by an earlier attempt is still pending and won't be
	// re-emitted; return it instead of waiting for the next transition.
	if st := sess.GetStatus(); st.State == session.StateConnected {
		return router.ResponseSuccessWithData(c, "Connected", types.ResponseConnect{Status: string(st.State)})
	} else if st.QR != "" {
		uri, err := qrDataURI(st.QR)
		if err != nil {
			return router.ResponseInternalError(c, err.Error())
		}
		return router.ResponseSuccessWithData(c, "Scan the QR code", types.ResponseConnect{
			Status: string(st.State),
			QRCode: uri,
		})
	}

	timer := time.NewTimer(connectWindow)
	defer timer.Stop()

	for {
		select {
		case st := <-ch:
			switch {
			case st.State == session.StateConnected:
				return router.ResponseSuccessWithData(c, "Connected", types.ResponseConnect{Status: string(st.State)})
			case st.QR != "":
				uri, err := qrDataURI(st.QR)
				if err != nil {
					return router.ResponseInternalError(c, err.Error())
				}
				return router.ResponseSuccessWithData(c, "Scan the QR code", types.ResponseConnect{
					Status: string(st.State),
					QRCode: uri,
				})
			case st.State == session.StateDisconnected:
				return router.ResponseInternalError(c, "Connection attempt failed")
			}
		case <-timer.C:
			return router.ResponseInternalError(c, "Timed out waiting for QR code")
		case <-ctx.Done():
			return router.ResponseInternalError(c, "Request cancelled")
		}
	}
}

// QR returns the currently pending QR code, if any.
func QR(c *fiber.Ctx) error {
	ownerID, profileID := userContext(c)

	sess, ok := registry.Get(ownerID, profileID)
	if !ok {
		return router.ResponseNotFound(c, "Profile not found")
	}

	st := sess.GetStatus()
	if st.QR == "" {
		return router.ResponseNotFound(c, "No QR code pending")
	}

	uri, err := qrDataURI(st.QR)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseSuccessWithData(c, "Success get QR code", types.ResponseConnect{
		Status: string(st.State),
		QRCode: uri,
	})
}

// Pair links a fresh identity through a phone pairing code.
func Pair(c *fiber.Ctx) error {
	ownerID, _ := userContext(c)

	var req types.RequestPair
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}
	profileID := req.ProfileID
	if profileID == "" {
		profileID = "1"
	}

	sess, err := registry.GetOrCreate(ownerID, profileID)
	if err != nil {
		if errors.Is(err, session.ErrProfileLimit) {
			return router.ResponseBadRequest(c, "Profile limit reached")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	code, err := sess.ConnectWithPairingCode(requestContext(c), req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidPhone):
			return router.ResponseBadRequest(c, err.Error())
		case errors.Is(err, session.ErrPairingTimeout):
			return router.ResponseInternalError(c, "Timed out waiting for pairing opportunity")
		default:
			log.Session(ownerID, profileID).WithError(err).Error("Pairing failed")
			return router.ResponseInternalError(c, err.Error())
		}
	}

	return router.ResponseSuccessWithData(c, "Enter the pairing code on your phone", types.ResponsePair{
		PairCode: code,
		Timeout:  int(session.DefaultConfig().PairingWindow.Seconds()),
	})
}

// Cancel abandons an in-progress login attempt.
func Cancel(c *fiber.Ctx) error {
	ownerID, profileID := userContext(c)

	sess, ok := registry.Get(ownerID, profileID)
	if !ok {
		return router.ResponseNotFound(c, "Profile not found")
	}

	sess.CancelConnection(requestContext(c))
	return router.ResponseSuccess(c, "Success cancel connection")
}

// Disconnect logs the profile out and purges its stored credentials.
func Disconnect(c *fiber.Ctx) error {
	ownerID, profileID := userContext(c)

	sess, ok := registry.Get(ownerID, profileID)
	if !ok {
		return router.ResponseNotFound(c, "Profile not found")
	}

	sess.Disconnect(requestContext(c))
	return router.ResponseSuccess(c, "Success disconnect")
}

// Reset removes the profile from tracking entirely, including logout and
// credential purge.
func Reset(c *fiber.Ctx) error {
	ownerID, profileID := userContext(c)

	registry.Remove(requestContext(c), ownerID, profileID)
	return router.ResponseSuccess(c, "Success reset profile")
}

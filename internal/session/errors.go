package session

import "errors"

var (
	// ErrInvalidPhone rejects malformed phone numbers before any network action.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrProfileLimit is returned when an owner already tracks the maximum
	// number of profiles, live or not.
	ErrProfileLimit = errors.New("maximum profiles reached for this user")
	// ErrNotConnected means no live transport is available for the session.
	ErrNotConnected = errors.New("whatsapp session is not connected")
	// ErrPairingTimeout means the pairing code was not obtained within the window.
	ErrPairingTimeout = errors.New("timed out waiting for pairing code from whatsapp")
	// ErrTransportClosed means the transport closed before a requested
	// operation could complete.
	ErrTransportClosed = errors.New("whatsapp transport closed unexpectedly")
)

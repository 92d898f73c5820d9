package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	nonDigits    = regexp.MustCompile(`[^0-9]`)
	phonePattern = regexp.MustCompile(`^[1-9][0-9]{5,15}$`)
)

// NormalizePairingPhone strips everything except digits and validates the
// remainder for pairing-code linking (minimum 10 digits, e.g. 628123456789).
func NormalizePairingPhone(phone string) (string, error) {
	digits := nonDigits.ReplaceAllString(phone, "")
	if len(digits) < 10 {
		return "", errors.New("phone number must contain at least 10 digits, example: 628123456789")
	}
	return digits, nil
}

// NormalizeRecipient strips a phone number down to digits for message and
// group operations. Returns empty string for numbers too short to be real.
func NormalizeRecipient(raw string) string {
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	if len(digits) < 8 {
		return ""
	}
	return digits
}

// ValidatePhone ensures international format (no leading 0, digits only, length 6-16).
func ValidatePhone(phone string) error {
	trimmed := strings.TrimSpace(phone)
	if trimmed == "" {
		return errors.New("phone number cannot be empty")
	}
	if strings.HasPrefix(trimmed, "+") {
		trimmed = trimmed[1:]
	}
	if strings.HasPrefix(trimmed, "0") {
		return errors.New("phone number must be in international format without leading 0")
	}
	if !phonePattern.MatchString(trimmed) {
		return errors.New("phone number must be digits only and at least 6 characters")
	}
	return nil
}

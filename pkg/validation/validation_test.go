package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePairingPhone(t *testing.T) {
	digits, err := NormalizePairingPhone("+62 811-1111-111")
	require.NoError(t, err)
	assert.Equal(t, "628111111111", digits)

	_, err = NormalizePairingPhone("abc")
	assert.Error(t, err)

	_, err = NormalizePairingPhone("123456789")
	assert.Error(t, err, "nine digits is below the minimum")

	digits, err = NormalizePairingPhone("1234567890")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", digits)
}

func TestNormalizeRecipient(t *testing.T) {
	assert.Equal(t, "628111111111", NormalizeRecipient(" +62 811-1111-111 "))
	assert.Equal(t, "12345678", NormalizeRecipient("12345678"))
	assert.Equal(t, "", NormalizeRecipient("1234567"))
	assert.Equal(t, "", NormalizeRecipient("hello"))
	assert.Equal(t, "", NormalizeRecipient(""))
}

func TestValidatePhone(t *testing.T) {
	assert.NoError(t, ValidatePhone("628111111111"))
	assert.NoError(t, ValidatePhone("+628111111111"))
	assert.Error(t, ValidatePhone(""))
	assert.Error(t, ValidatePhone("08111111111"))
	assert.Error(t, ValidatePhone("12ab34"))
	assert.Error(t, ValidatePhone("12345"))
}

package contacts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildVCF(t *testing.T) {
	out := BuildVCF([]Contact{
		{Name: "Alice", Phone: "+62 811-1111-111"},
		{Name: "Bob; Jr", Phone: "628122222222"},
		{Name: "NoPhone", Phone: "abc"},
	})

	assert.Equal(t, 2, strings.Count(out, "BEGIN:VCARD"))
	assert.Contains(t, out, "FN:Alice\r\n")
	assert.Contains(t, out, "TEL;TYPE=CELL:+628111111111\r\n")
	assert.Contains(t, out, "FN:Bob\\; Jr\r\n")
	assert.NotContains(t, out, "NoPhone")
}

func TestBuildVCFNamelessContactGetsPlaceholder(t *testing.T) {
	out := BuildVCF([]Contact{{Phone: "628111111111"}})
	assert.Contains(t, out, "FN:Contact 1\r\n")
}

func TestParseVCFRoundTrip(t *testing.T) {
	src := []Contact{
		{Name: "Alice", Phone: "628111111111"},
		{Name: "Bob", Phone: "628122222222"},
	}

	parsed, err := ParseVCF(strings.NewReader(BuildVCF(src)))
	require.NoError(t, err)
	assert.Equal(t, src, parsed)
}

func TestParseVCFHandlesFoldedLinesAndCRLF(t *testing.T) {
	raw := "BEGIN:VCARD\r\n" +
		"VERSION:3.0\r\n" +
		"FN:Some Very Long\r\n" +
		"  Name\r\n" +
		"TEL;TYPE=CELL:+62 811 1111 111\r\n" +
		"END:VCARD\r\n"

	parsed, err := ParseVCF(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "Some Very Long Name", parsed[0].Name)
	assert.Equal(t, "628111111111", parsed[0].Phone)
}

func TestParseVCFSkipsCardsWithoutPhone(t *testing.T) {
	raw := "BEGIN:VCARD\nVERSION:3.0\nFN:Ghost\nEND:VCARD\n" +
		"BEGIN:VCARD\nVERSION:3.0\nFN:Real\nTEL:628133333333\nEND:VCARD\n"

	parsed, err := ParseVCF(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "Real", parsed[0].Name)
}

func TestParseVCFKeepsFirstTelOnly(t *testing.T) {
	raw := "BEGIN:VCARD\nFN:Multi\nTEL:628111111111\nTEL:628122222222\nEND:VCARD\n"

	parsed, err := ParseVCF(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "628111111111", parsed[0].Phone)
}

package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecPreservesBinary(t *testing.T) {
	key := []byte{0x00, 0x01, 0xfe, 0xff, 0x80, 0x7f}
	record := Record{
		"noise_key": key,
		"registered": true,
		"device_id": float64(3),
		"nested": map[string]interface{}{
			"identity": []byte{0xde, 0xad, 0xbe, 0xef},
			"label":    "primary",
		},
		"list": []interface{}{[]byte{0x01}, "plain"},
	}

	raw, err := marshalRecord(record)
	require.NoError(t, err)

	decoded, err := unmarshalRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, key, decoded["noise_key"])
	assert.Equal(t, true, decoded["registered"])
	assert.Equal(t, float64(3), decoded["device_id"])

	nested := decoded["nested"].(map[string]interface{})
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, nested["identity"])
	assert.Equal(t, "primary", nested["label"])

	list := decoded["list"].([]interface{})
	assert.Equal(t, []byte{0x01}, list[0])
	assert.Equal(t, "plain", list[1])
}

func TestCodecBufferWireFormat(t *testing.T) {
	raw, err := marshalRecord(Record{"k": []byte{0x01, 0x02}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":{"type":"Buffer","data":"AQI="}}`, string(raw))
}

func TestCodecLeavesLookalikeMapsAlone(t *testing.T) {
	// A user map that happens to have a "type" key but extra fields must
	// not be mistaken for a binary wrapper.
	record := Record{
		"meta": map[string]interface{}{
			"type":  "Buffer",
			"data":  "aGk=",
			"extra": "field",
		},
	}

	raw, err := marshalRecord(record)
	require.NoError(t, err)
	decoded, err := unmarshalRecord(raw)
	require.NoError(t, err)

	meta := decoded["meta"].(map[string]interface{})
	assert.Equal(t, "aGk=", meta["data"])
	assert.Equal(t, "field", meta["extra"])
}

// storeUnderTest runs the shared Store contract against a backend.
func storeUnderTest(t *testing.T, store Store) {
	ctx := context.Background()

	_, ok := store.Load(ctx, "missing")
	assert.False(t, ok)

	store.Save(ctx, "wa:sess:u1:profile-1:creds", Record{"a": "b"})
	store.Save(ctx, "wa:sess:u1:profile-1:key-1", Record{"c": []byte{0x01}})
	store.Save(ctx, "wa:sess:u1:profile-2:creds", Record{"d": "e"})

	rec, ok := store.Load(ctx, "wa:sess:u1:profile-1:creds")
	require.True(t, ok)
	assert.Equal(t, "b", rec["a"])

	assert.True(t, store.Exists(ctx, "wa:sess:u1:profile-1:"))
	assert.True(t, store.Exists(ctx, "wa:sess:u1:profile-1:creds"))
	assert.False(t, store.Exists(ctx, "wa:sess:u2:"))

	keys := store.ScanPrefix(ctx, "wa:sess:u1:profile-1:")
	assert.ElementsMatch(t, []string{
		"wa:sess:u1:profile-1:creds",
		"wa:sess:u1:profile-1:key-1",
	}, keys)

	store.Delete(ctx, "wa:sess:u1:profile-1:key-1")
	_, ok = store.Load(ctx, "wa:sess:u1:profile-1:key-1")
	assert.False(t, ok)
	// Deleting a missing key is a no-op.
	store.Delete(ctx, "wa:sess:u1:profile-1:key-1")

	store.ClearPrefix(ctx, "wa:sess:u1:profile-1:")
	assert.False(t, store.Exists(ctx, "wa:sess:u1:profile-1:"))
	// The sibling profile is untouched.
	assert.True(t, store.Exists(ctx, "wa:sess:u1:profile-2:creds"))

	// Clearing an empty prefix is safe.
	store.ClearPrefix(ctx, "wa:sess:none:")
}

func TestMemoryStoreContract(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestFileStoreContract(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	storeUnderTest(t, store)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	first.Save(ctx, "wa:sess:u1:profile-1:creds", Record{"noise": []byte{0xca, 0xfe}})

	second, err := NewFileStore(dir)
	require.NoError(t, err)
	rec, ok := second.Load(ctx, "wa:sess:u1:profile-1:creds")
	require.True(t, ok)
	assert.Equal(t, []byte{0xca, 0xfe}, rec["noise"])
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	store.Save(ctx, "wa:sess:u1:profile-1:creds", Record{"a": "b"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a record"), 0o600))

	keys := store.ScanPrefix(ctx, "wa:sess:")
	assert.Equal(t, []string{"wa:sess:u1:profile-1:creds"}, keys)
}

package credstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/env"
)

// Record is one stored credential blob. Values may nest maps, slices and
// raw binary ([]byte) payloads; the codec preserves binary data across a
// save/load round trip.
type Record = map[string]interface{}

// Store persists authentication material under deterministic key prefixes,
// one prefix per managed session.
//
// All methods degrade on backend failure instead of returning errors: a
// failed read behaves as a missing key and a failed write as a no-op, with
// the underlying error logged. A corrupt or unreachable store must only
// cost a session its saved login, never crash the process.
type Store interface {
	// Load returns the record stored at key, or ok=false if absent.
	Load(ctx context.Context, key string) (Record, bool)
	// Save overwrites the record at key.
	Save(ctx context.Context, key string, record Record)
	// Delete removes key. Idempotent.
	Delete(ctx context.Context, key string)
	// ClearPrefix removes every key starting with prefix. Safe to call on
	// a prefix with zero matching keys.
	ClearPrefix(ctx context.Context, prefix string)
	// Exists reports whether any key starts with keyOrPrefix.
	Exists(ctx context.Context, keyOrPrefix string) bool
	// ScanPrefix lists all keys starting with prefix.
	ScanPrefix(ctx context.Context, prefix string) []string
}

// NewFromEnv selects the configured backend. Exactly one backend serves a
// deployment; CREDSTORE_BACKEND defaults to the file store.
func NewFromEnv(ctx context.Context) (Store, error) {
	backend := strings.ToLower(env.GetEnvStringOrDefault("CREDSTORE_BACKEND", "file"))

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		root := env.GetEnvStringOrDefault("CREDSTORE_FILE_ROOT", "./data/credentials")
		return NewFileStore(root)
	case "redis":
		url, err := env.GetEnvString("REDIS_URL")
		if err != nil {
			return nil, fmt.Errorf("redis credstore requires REDIS_URL: %w", err)
		}
		return NewRedisStore(ctx, url)
	case "postgres", "postgresql":
		uri, err := env.GetEnvString("CREDSTORE_POSTGRES_URI")
		if err != nil {
			return nil, fmt.Errorf("postgres credstore requires CREDSTORE_POSTGRES_URI: %w", err)
		}
		return NewPgStore(ctx, uri)
	default:
		return nil, fmt.Errorf("unsupported credstore backend %q", backend)
	}
}

package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// PgStore backs the credential contract with a single relational table,
// for deployments that already run Postgres and want no extra service.
type PgStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS wa_credentials (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
)`

func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize wa_credentials table: %w", err)
	}
	log.Print(nil).Info("Connected to Postgres credential store")
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Load(ctx context.Context, key string) (Record, bool) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM wa_credentials WHERE key = $1`, key).Scan(&data)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Print(nil).WithError(err).Warn("credstore: postgres read failed for " + key)
		}
		return nil, false
	}
	record, err := unmarshalRecord(data)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: corrupt record at " + key)
		return nil, false
	}
	return record, true
}

func (s *PgStore) Save(ctx context.Context, key string, record Record) {
	data, err := marshalRecord(record)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: marshal failed for " + key)
		return
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO wa_credentials (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, data)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: postgres write failed for " + key)
	}
}

func (s *PgStore) Delete(ctx context.Context, key string) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM wa_credentials WHERE key = $1`, key); err != nil {
		log.Print(nil).WithError(err).Warn("credstore: postgres delete failed for " + key)
	}
}

func (s *PgStore) ClearPrefix(ctx context.Context, prefix string) {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM wa_credentials WHERE key LIKE $1`, escapeLike(prefix)+"%")
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: postgres clear failed for prefix " + prefix)
	}
}

func (s *PgStore) Exists(ctx context.Context, keyOrPrefix string) bool {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM wa_credentials WHERE key LIKE $1)`,
		escapeLike(keyOrPrefix)+"%").Scan(&exists)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: postgres exists check failed for " + keyOrPrefix)
		return false
	}
	return exists
}

func (s *PgStore) ScanPrefix(ctx context.Context, prefix string) []string {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM wa_credentials WHERE key LIKE $1 ORDER BY key`,
		escapeLike(prefix)+"%")
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: postgres scan failed for prefix " + prefix)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			log.Print(nil).WithError(err).Warn("credstore: postgres scan row failed")
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

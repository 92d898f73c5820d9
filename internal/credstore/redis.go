package credstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// RedisStore backs the credential contract with a Redis-compatible service.
// Matches the key layout dashboard deployments already use, so an existing
// store can be pointed at directly.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Print(nil).Info("Connected to Redis credential store")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (Record, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Print(nil).WithError(err).Warn("credstore: redis read failed for " + key)
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

func (s *RedisStore) Save(ctx context.Context, key string, record Record) {
	data, err := marshalRecord(record)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: marshal failed for " + key)
		return
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		log.Print(nil).WithError(err).Warn("credstore: redis write failed for " + key)
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		log.Print(nil).WithError(err).Warn("credstore: redis delete failed for " + key)
	}
}

func (s *RedisStore) ClearPrefix(ctx context.Context, prefix string) {
	keys := s.ScanPrefix(ctx, prefix)
	for len(keys) > 0 {
		batch := keys
		if len(batch) > 100 {
			batch = keys[:100]
		}
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			log.Print(nil).WithError(err).Warn("credstore: redis clear failed for prefix " + prefix)
			return
		}
		keys = keys[len(batch):]
	}
}

func (s *RedisStore) Exists(ctx context.Context, keyOrPrefix string) bool {
	n, err := s.client.Exists(ctx, keyOrPrefix).Result()
	if err == nil && n > 0 {
		return true
	}
	iter := s.client.Scan(ctx, 0, escapeMatch(keyOrPrefix)+"*", 1).Iterator()
	return iter.Next(ctx)
}

func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) []string {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeMatch(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Print(nil).WithError(err).Warn("credstore: redis scan failed for prefix " + prefix)
	}
	return keys
}

// escapeMatch escapes glob metacharacters so prefixes are matched literally.
func escapeMatch(prefix string) string {
	out := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, prefix[i])
	}
	return string(out)
}

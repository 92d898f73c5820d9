package credstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps credentials in process memory. Suitable for local
// development and tests; every restart forces a relink.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (Record, bool) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	record, err := unmarshalRecord(raw)
	if err != nil {
		return nil, false
	}
	return record, true
}

func (s *MemoryStore) Save(ctx context.Context, key string, record Record) {
	raw, err := marshalRecord(record)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
}

func (s *MemoryStore) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

func (s *MemoryStore) ClearPrefix(ctx context.Context, prefix string) {
	s.mu.Lock()
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	s.mu.Unlock()
}

func (s *MemoryStore) Exists(ctx context.Context, keyOrPrefix string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[keyOrPrefix]; ok {
		return true
	}
	for key := range s.data {
		if strings.HasPrefix(key, keyOrPrefix) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ScanPrefix(ctx context.Context, prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

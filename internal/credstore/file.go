package credstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gdbrns/go-whatsapp-dashboard-api/pkg/log"
)

// FileStore keeps one JSON file per key under a root directory. Default
// backend for development and single-node deployments.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("file credstore root directory cannot be empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credstore root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Keys contain ':' and arbitrary owner ids, so file names carry the
// url-safe base64 of the key instead of the key itself.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, base64.RawURLEncoding.EncodeToString([]byte(key))+".json")
}

func decodeFileName(name string) (string, bool) {
	name = strings.TrimSuffix(name, ".json")
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (s *FileStore) Load(ctx context.Context, key string) (Record, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Print(nil).WithError(err).Warn("credstore: read failed for " + key)
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

func (s *FileStore) Save(ctx context.Context, key string, record Record) {
	data, err := marshalRecord(record)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: marshal failed for " + key)
		return
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Print(nil).WithError(err).Warn("credstore: write failed for " + key)
		return
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		log.Print(nil).WithError(err).Warn("credstore: rename failed for " + key)
	}
}

func (s *FileStore) Delete(ctx context.Context, key string) {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Print(nil).WithError(err).Warn("credstore: delete failed for " + key)
	}
}

func (s *FileStore) ClearPrefix(ctx context.Context, prefix string) {
	for _, key := range s.ScanPrefix(ctx, prefix) {
		s.Delete(ctx, key)
	}
}

func (s *FileStore) Exists(ctx context.Context, keyOrPrefix string) bool {
	if _, err := os.Stat(s.path(keyOrPrefix)); err == nil {
		return true
	}
	return len(s.ScanPrefix(ctx, keyOrPrefix)) > 0
}

func (s *FileStore) ScanPrefix(ctx context.Context, prefix string) []string {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		log.Print(nil).WithError(err).Warn("credstore: scan failed")
		return nil
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		key, ok := decodeFileName(entry.Name())
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

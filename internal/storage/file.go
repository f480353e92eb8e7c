package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileStore keeps a KVStore in a local JSON file, rewritten atomically on
// every Set.
type FileStore struct {
	Path string

	mu sync.Mutex
}

type fileRecord struct {
	Values    map[string]string `json:"values"`
	UpdatedAt string            `json:"updated_at"`
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read()
	if err != nil {
		return nil, false, err
	}
	value, ok := rec.Values[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(value), true, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read()
	if err != nil {
		return err
	}
	rec.Values[key] = string(value)
	rec.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return s.write(rec)
}

// Keys lists the stored keys with the given prefix in order.
func (s *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rec.Values))
	for key := range rec.Values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) read() (fileRecord, error) {
	rec := fileRecord{Values: make(map[string]string)}
	if s.Path == "" {
		return rec, fmt.Errorf("state path is required")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("read state: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("parse state: %w", err)
	}
	if rec.Values == nil {
		rec.Values = make(map[string]string)
	}
	return rec, nil
}

func (s *FileStore) write(rec fileRecord) error {
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

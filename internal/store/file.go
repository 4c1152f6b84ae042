package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every key in one JSON document on disk and rewrites it on each change
type FileStore struct {
	mu       sync.Mutex
	filePath string
	values   map[string]json.RawMessage
}

// NewFileStore opens (or lazily creates) state.json in dir
func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{
		filePath: filepath.Join(dir, "state.json"),
		values:   make(map[string]json.RawMessage),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string, v any) error {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Set(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return s.saveLocked()
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return s.saveLocked()
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// write then rename so a crash never leaves a truncated file
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.filePath
}

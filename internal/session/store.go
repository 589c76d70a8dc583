// Package session resolves conversation bindings (off / sticky / explicit)
// and persists slot-to-conversation mappings atomically.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileFormat is the persisted shape: {"bindings": {slot: conversation_id}}.
type fileFormat struct {
	Bindings map[string]string `json:"bindings"`
}

// Store keeps slot bindings in memory and mirrors every change to a JSON
// file via same-directory temp + rename. Writes are serialized by the
// mutex; readers never observe a partial file.
type Store struct {
	path     string
	mu       sync.RWMutex
	bindings map[string]string
}

// Open loads the bindings file, creating an empty store when it does not
// exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, bindings: make(map[string]string)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session bindings: %w", err)
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse session bindings: %w", err)
	}
	if f.Bindings != nil {
		s.bindings = f.Bindings
	}
	return s, nil
}

// Get returns the bound conversation for a slot.
func (s *Store) Get(slot string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.bindings[slot]
	return conv, ok
}

// All returns a copy of every binding.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out
}

// Set binds a slot to a conversation and persists.
func (s *Store) Set(slot, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[slot] = conversationID
	return s.persistLocked()
}

// Delete removes a slot binding and persists. It reports whether the slot
// was bound.
func (s *Store) Delete(slot string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[slot]; !ok {
		return false, nil
	}
	delete(s.bindings, slot)
	return true, s.persistLocked()
}

// persistLocked serializes the full map to a temp file in the target's
// directory, then renames over the target. Callers hold s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create bindings directory: %w", err)
	}

	data, err := json.MarshalIndent(fileFormat{Bindings: s.bindings}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session bindings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".bindings-*.tmp")
	if err != nil {
		return fmt.Errorf("create bindings temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write bindings temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close bindings temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace bindings file: %w", err)
	}
	return nil
}

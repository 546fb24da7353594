package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and by components that
// need credential persistence without touching disk.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) key(fingerprint, name string) string {
	return fingerprint + "_" + name
}

// ReadJSON unmarshals a stored record into out.
func (s *MemoryStore) ReadJSON(fingerprint, name string, out interface{}) error {
	s.mu.RLock()
	data, ok := s.records[s.key(fingerprint, name)]
	s.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

// WriteJSON stores a record, replacing any previous value.
func (s *MemoryStore) WriteJSON(fingerprint, name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records[s.key(fingerprint, name)] = data
	s.mu.Unlock()
	return nil
}

// ReadText returns a stored text record.
func (s *MemoryStore) ReadText(fingerprint, name string) (string, error) {
	s.mu.RLock()
	data, ok := s.records[s.key(fingerprint, name)]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNotFound
	}
	return string(data), nil
}

// WriteText stores a text record.
func (s *MemoryStore) WriteText(fingerprint, name, value string) error {
	s.mu.Lock()
	s.records[s.key(fingerprint, name)] = []byte(value)
	s.mu.Unlock()
	return nil
}

// Delete removes a record; absent records are ignored.
func (s *MemoryStore) Delete(fingerprint, name string) error {
	s.mu.Lock()
	delete(s.records, s.key(fingerprint, name))
	s.mu.Unlock()
	return nil
}

// DeleteAll removes every record for the fingerprint.
func (s *MemoryStore) DeleteAll(fingerprint string) error {
	s.mu.Lock()
	for key := range s.records {
		if len(key) > len(fingerprint) && key[:len(fingerprint)+1] == fingerprint+"_" {
			delete(s.records, key)
		}
	}
	s.mu.Unlock()
	return nil
}

// Path returns a synthetic path for error messages.
func (s *MemoryStore) Path(fingerprint, name string) string {
	return filepath.Join("memory", fmt.Sprintf("%s_%s", fingerprint, name))
}

var _ Store = (*MemoryStore)(nil)

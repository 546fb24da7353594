// Package store persists the bridge's per-server credential records.
//
// Every record is keyed by (fingerprint, name) and lives in its own file
// under the config directory: {fingerprint}_{name}.json for JSON records
// and {fingerprint}_{name}.txt for text records. One file per record keeps
// the state trivially inspectable and individually deletable by operators
// recovering from corrupted auth state.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned when a record does not exist. Absence is a normal
// outcome for every record type, not an exceptional condition.
var ErrNotFound = errors.New("record not found")

// Record names used by the bridge. Exposed as constants so error messages
// and the auth status command can point operators at the exact files.
const (
	NameClientInfo   = "client_info"
	NameTokens       = "tokens"
	NameCodeVerifier = "code_verifier"
	NameLock         = "lock"
)

// Store is the persistence boundary for credential records. The OAuth
// client and lock coordinator never touch storage media directly.
type Store interface {
	// ReadJSON unmarshals the record into out. Returns ErrNotFound when absent.
	ReadJSON(fingerprint, name string, out interface{}) error

	// WriteJSON persists the record, replacing any previous value.
	WriteJSON(fingerprint, name string, value interface{}) error

	// ReadText returns the record's raw text. Returns ErrNotFound when absent.
	ReadText(fingerprint, name string) (string, error)

	// WriteText persists the record, replacing any previous value.
	WriteText(fingerprint, name, value string) error

	// Delete removes the record. Deleting an absent record is not an error.
	Delete(fingerprint, name string) error

	// DeleteAll removes every record for the fingerprint.
	DeleteAll(fingerprint string) error

	// Path returns the file path a record is (or would be) stored at.
	Path(fingerprint, name string) string
}

// FileStore stores records as files under a single directory.
//
// SECURITY: records hold OAuth credentials. Files are written 0600 and the
// directory is created 0700, owner-only.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created
// lazily on first write, so read-only operations never leave state behind.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file path for a record.
func (s *FileStore) Path(fingerprint, name string) string {
	ext := ".json"
	if name == NameCodeVerifier {
		ext = ".txt"
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s%s", fingerprint, name, ext))
}

// ReadJSON reads and unmarshals a JSON record.
func (s *FileStore) ReadJSON(fingerprint, name string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFile(s.Path(fingerprint, name))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.Path(fingerprint, name), err)
	}
	return nil
}

// WriteJSON marshals and persists a JSON record with 2-space indentation,
// matching the operator-facing convention for these files.
func (s *FileStore) WriteJSON(fingerprint, name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(s.Path(fingerprint, name), append(data, '\n'))
}

// ReadText reads a text record.
func (s *FileStore) ReadText(fingerprint, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFile(s.Path(fingerprint, name))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// WriteText persists a text record.
func (s *FileStore) WriteText(fingerprint, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(s.Path(fingerprint, name), []byte(value))
}

// Delete removes a record. A missing record is not an error.
func (s *FileStore) Delete(fingerprint, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(fingerprint, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", s.Path(fingerprint, name), err)
	}
	return nil
}

// DeleteAll removes every record belonging to the fingerprint.
func (s *FileStore) DeleteAll(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read storage directory: %w", err)
	}

	prefix := fingerprint + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to delete %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *FileStore) readFile(path string) ([]byte, error) {
	// #nosec G304 -- path is constructed from internal keys, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func (s *FileStore) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.dir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davin/stateshim/internal/metrics"
)

// expirationFile is the marker persisted inside every session directory so a
// restart can recover the expiry instant.
const expirationFile = ".expiration_ts"

// Session is a single conversation's key/value store, backed by one file per
// key inside a directory that exclusively belongs to it.
type Session struct {
	// ID is the opaque session identifier (UUID string)
	ID string
	// ExpirationTS is the absolute expiry instant in seconds since epoch
	ExpirationTS float64
	// FilesPath is the directory holding this session's values
	FilesPath string
}

func newSession(id, storageRoot string, expirationTS float64) *Session {
	return &Session{
		ID:           id,
		ExpirationTS: expirationTS,
		FilesPath:    filepath.Join(storageRoot, id),
	}
}

// loadSession rebuilds a Session from an existing directory by reading its
// persisted expiration marker.
func loadSession(id, storageRoot string) (*Session, error) {
	s := newSession(id, storageRoot, 0)

	data, err := os.ReadFile(filepath.Join(s.FilesPath, expirationFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read expiration marker for session %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &s.ExpirationTS); err != nil {
		return nil, fmt.Errorf("failed to decode expiration marker for session %s: %w", id, err)
	}

	return s, nil
}

// persistExpiration writes the expiration marker into the session directory.
func (s *Session) persistExpiration() error {
	data, err := json.Marshal(s.ExpirationTS)
	if err != nil {
		return fmt.Errorf("failed to encode expiration: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.FilesPath, expirationFile), data, 0600); err != nil {
		return fmt.Errorf("failed to persist expiration: %w", err)
	}
	return nil
}

// expired reports whether the session is past its TTL at the given instant.
func (s *Session) expired(now time.Time) bool {
	return s.ExpirationTS <= float64(now.UnixNano())/float64(time.Second)
}

// filePath sanitizes key and joins it onto FilesPath. It is the single
// chokepoint protecting the shared storage root from key-based traversal:
// keys containing ".." and absolute keys are rejected, path separators are
// mapped to "-".
func (s *Session) filePath(key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: '..' not allowed in %q", ErrInvalidKey, key)
	}
	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return "", fmt.Errorf("%w: absolute paths not allowed in %q", ErrInvalidKey, key)
	}

	sanitized := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '-'
		}
		return r
	}, key)

	return filepath.Join(s.FilesPath, sanitized), nil
}

// Put stores a JSON-representable value under key, overwriting any previous
// value. Concurrent puts to the same key race with last-writer-wins semantics.
func (s *Session) Put(key string, value interface{}) error {
	start := time.Now()
	defer func() {
		metrics.RecordSessionPut(time.Since(start))
	}()

	path, err := s.filePath(key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for key %q: %w", key, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write value for key %q: %w", key, err)
	}

	return nil
}

// Get reads and decodes the value stored under key. The second return value
// is false when no value exists; callers supply their own default.
func (s *Session) Get(key string) (interface{}, bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSessionGet(time.Since(start))
	}()

	path, err := s.filePath(key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read value for key %q: %w", key, err)
	}

	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode value for key %q: %w", key, err)
	}

	return value, true, nil
}

// Remove deletes the session directory recursively. Removing a directory that
// is already gone returns ErrInvalidState.
func (s *Session) Remove() error {
	if _, err := os.Stat(s.FilesPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrInvalidState, s.FilesPath)
	}

	if err := os.RemoveAll(s.FilesPath); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}

	return nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/davin/stateshim/internal/metrics"
	"github.com/davin/stateshim/internal/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultExpiration is the TTL applied to new sessions when none is
	// configured.
	DefaultExpiration = 1200 * time.Second

	// NewSessionSentinel is the reserved id meaning "no session yet". Lookups
	// for it return nil without error.
	NewSessionSentinel = "NEW_SESSION"

	// sharedMemoryMount is probed as the preferred ephemeral storage root.
	sharedMemoryMount = "/dev/shm"

	// storageDirName is the directory created under the selected mount.
	storageDirName = "sagemaker_sessions"

	tracerName = "stateshim.session"
)

// Options configures a Manager.
type Options struct {
	// StoragePath overrides storage-root selection when non-empty.
	StoragePath string
	// Expiration is the TTL for new sessions. Zero selects DefaultExpiration.
	Expiration time.Duration
}

// Manager is the in-memory registry of live sessions. It owns storage-root
// selection, creation, lookup, closure and lazy TTL sweeping, and is the sole
// synchronization point for all of them.
type Manager struct {
	mu          sync.Mutex
	storageRoot string
	expiration  time.Duration
	sessions    map[string]*Session

	// now is swappable for tests
	now func() time.Time
}

// NewManager creates a Manager, selecting a writable storage root and
// rebuilding the registry from any session directories already on disk.
func NewManager(opts Options) (*Manager, error) {
	metrics.EnsureRegistered()

	if opts.Expiration < 0 {
		return nil, fmt.Errorf("%w: negative expiration %s", ErrConfiguration, opts.Expiration)
	}
	if opts.Expiration == 0 {
		opts.Expiration = DefaultExpiration
	}

	root, err := selectStorageRoot(opts.StoragePath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		storageRoot: root,
		expiration:  opts.Expiration,
		sessions:    make(map[string]*Session),
		now:         time.Now,
	}

	if err := m.restore(); err != nil {
		return nil, err
	}

	log.Info().
		Str("storage_root", root).
		Dur("expiration", opts.Expiration).
		Int("restored", len(m.sessions)).
		Msg("Session manager initialized")
	metrics.SetActiveSessions(len(m.sessions))

	return m, nil
}

// selectStorageRoot picks the first usable storage location: the explicit
// override, then the shared-memory mount, then the host temp directory.
// A candidate that cannot be created or written falls through to the next.
func selectStorageRoot(override string) (string, error) {
	var candidates []string
	if override != "" {
		candidates = append(candidates, override)
	}
	if info, err := os.Stat(sharedMemoryMount); err == nil && info.IsDir() {
		candidates = append(candidates, filepath.Join(sharedMemoryMount, storageDirName))
	}
	candidates = append(candidates, filepath.Join(os.TempDir(), storageDirName))

	for _, candidate := range candidates {
		if err := os.MkdirAll(candidate, 0700); err != nil {
			log.Warn().Str("path", candidate).Err(err).Msg("Storage candidate not usable")
			continue
		}
		probe, err := os.CreateTemp(candidate, ".probe-*")
		if err != nil {
			log.Warn().Str("path", candidate).Err(err).Msg("Storage candidate not writable")
			continue
		}
		probe.Close()
		os.Remove(probe.Name())
		return candidate, nil
	}

	return "", fmt.Errorf("%w: no writable storage location among %v", ErrConfiguration, candidates)
}

// restore scans the storage root and registers every session directory whose
// expiration marker can be read. The scan performs no writes.
func (m *Manager) restore() error {
	entries, err := os.ReadDir(m.storageRoot)
	if err != nil {
		return fmt.Errorf("failed to scan storage root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := loadSession(entry.Name(), m.storageRoot)
		if err != nil {
			log.Warn().
				Str("session_id", entry.Name()).
				Err(err).
				Msg("Skipping unreadable session directory")
			continue
		}
		m.sessions[s.ID] = s
	}

	return nil
}

// CreateSession sweeps expired sessions, then allocates, persists and
// registers a new session with a fresh random id. The full sequence runs
// under the manager lock.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.create")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepLocked(m.now())

	now := m.now()
	id := uuid.New().String()
	expiration := float64(now.UnixNano())/float64(time.Second) + m.expiration.Seconds()
	s := newSession(id, m.storageRoot, expiration)

	if err := os.MkdirAll(s.FilesPath, 0700); err != nil {
		err = fmt.Errorf("failed to create session directory: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.persistExpiration(); err != nil {
		os.RemoveAll(s.FilesPath)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	m.sessions[id] = s

	span.SetAttributes(attribute.String("session_id", id))
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().
		Str("session_id", id).
		Float64("expiration_ts", expiration).
		Msg("Session created")

	metrics.SessionCreated()
	metrics.SetActiveSessions(len(m.sessions))

	return s, nil
}

// GetSession looks up a live session by id. The empty string and the
// NEW_SESSION sentinel return (nil, nil): the caller may be legitimately
// probing. Any other unknown id returns ErrSessionNotFound. An expired id is
// removed atomically and returns (nil, nil).
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.get",
		attribute.String("session_id", sessionID))
	defer span.End()

	if sessionID == "" || sessionID == NewSessionSentinel {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if s.expired(m.now()) {
		if err := m.removeLocked(s); err != nil {
			logger := tracing.LoggerFromContext(ctx, log.Logger)
			logger.Warn().
				Str("session_id", sessionID).
				Err(err).
				Msg("Failed to remove expired session")
		} else {
			metrics.SessionsExpired(1)
		}
		return nil, nil
	}

	return s, nil
}

// CloseSession removes the session with the given id. An empty id is
// ErrInvalidArgument; an unknown id is ErrSessionNotFound.
func (m *Manager) CloseSession(ctx context.Context, sessionID string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.close",
		attribute.String("session_id", sessionID))
	defer span.End()

	if sessionID == "" {
		err := fmt.Errorf("%w: empty", ErrInvalidArgument)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := m.removeLocked(s); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().
		Str("session_id", sessionID).
		Msg("Session closed")
	metrics.SessionClosed()

	return nil
}

// SweepExpired removes every expired session under the manager lock and
// returns the number removed.
func (m *Manager) SweepExpired(ctx context.Context) int {
	_, span := tracing.StartSpan(ctx, tracerName, "session.sweep")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.sweepLocked(m.now())
	span.SetAttributes(attribute.Int("removed", removed))
	return removed
}

// sweepLocked removes every session past its TTL. Callers must hold mu.
func (m *Manager) sweepLocked(now time.Time) int {
	removed := 0
	for id, s := range m.sessions {
		if !s.expired(now) {
			continue
		}
		if err := m.removeLocked(s); err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Failed to sweep expired session")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired sessions")
		metrics.SessionsExpired(removed)
	}

	return removed
}

// removeLocked deletes a session's directory and registry entry as one
// logical step. A directory that is already gone still drops the registry
// entry, so an external deletion cannot leave the id half-alive. Callers must
// hold mu.
func (m *Manager) removeLocked(s *Session) error {
	if err := s.Remove(); err != nil {
		if !errors.Is(err, ErrInvalidState) {
			return err
		}
		log.Warn().Str("session_id", s.ID).Msg("Session directory already removed")
	}
	delete(m.sessions, s.ID)
	metrics.SetActiveSessions(len(m.sessions))
	return nil
}

// ActiveSessions returns the current registry size.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StorageRoot returns the selected storage root directory.
func (m *Manager) StorageRoot() string {
	return m.storageRoot
}

// Expiration returns the TTL applied to new sessions.
func (m *Manager) Expiration() time.Duration {
	return m.expiration
}

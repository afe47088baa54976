package session

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// StorageWatcher observes the storage root and logs session directories that
// appear or disappear outside the manager's control, e.g. another tool
// deleting a directory by hand. It never mutates the registry; it only keeps
// operators informed.
type StorageWatcher struct {
	watcher *fsnotify.Watcher
	manager *Manager
	logger  zerolog.Logger
	stopCh  chan struct{}
}

// NewStorageWatcher creates a watcher over the manager's storage root.
func NewStorageWatcher(manager *Manager, logger zerolog.Logger) (*StorageWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	sw := &StorageWatcher{
		watcher: watcher,
		manager: manager,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if err := watcher.Add(manager.StorageRoot()); err != nil {
		watcher.Close()
		return nil, err
	}

	go sw.run()

	return sw, nil
}

// Stop stops the watcher.
func (sw *StorageWatcher) Stop() error {
	close(sw.stopCh)
	return sw.watcher.Close()
}

func (sw *StorageWatcher) run() {
	for {
		select {
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				if info, err := os.Stat(event.Name); err != nil || !info.IsDir() {
					continue
				}
				sw.logger.Debug().
					Str("session_id", name).
					Msg("Session directory appeared")

			case event.Has(fsnotify.Remove):
				sw.logger.Debug().
					Str("session_id", name).
					Msg("Session directory removed")
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Error().Err(err).Msg("Storage watcher error")

		case <-sw.stopCh:
			return
		}
	}
}

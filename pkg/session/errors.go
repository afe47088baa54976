package session

import "errors"

var (
	// ErrConfiguration indicates no writable storage root could be selected
	// or the manager options are unusable. Fatal at construction time.
	ErrConfiguration = errors.New("session storage configuration error")

	// ErrInvalidArgument indicates an empty or absent session id was passed
	// to an operation that requires one.
	ErrInvalidArgument = errors.New("invalid session_id")

	// ErrSessionNotFound indicates an explicit lookup or close of an id that
	// is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidKey indicates a storage key failed path sanitization.
	ErrInvalidKey = errors.New("invalid session key")

	// ErrInvalidState indicates a session directory was already gone when a
	// remove was attempted, which signals a double-destroy upstream.
	ErrInvalidState = errors.New("session directory does not exist")
)

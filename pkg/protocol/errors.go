package protocol

import "errors"

var (
	// ErrMalformedRequest indicates a body that carries the request-type
	// field with an unrecognized value, or with sibling fields.
	ErrMalformedRequest = errors.New("malformed session request")

	// ErrSessionsDisabled indicates session-related input arrived while the
	// subsystem is turned off.
	ErrSessionsDisabled = errors.New("stateful sessions are not enabled")

	// ErrMissingSessionHeader indicates a close request without the required
	// session id header.
	ErrMissingSessionHeader = errors.New("session id header is required to close a session")
)

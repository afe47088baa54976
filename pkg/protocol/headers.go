package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Reserved session headers, exact wire names.
const (
	// HeaderSessionID is sent by the client on every request belonging to an
	// existing session, and echoed on responses.
	HeaderSessionID = "X-Amzn-SageMaker-Session-Id"

	// HeaderNewSessionID carries "<uuid>; Expires=<unix-timestamp>" on a
	// successful create response.
	HeaderNewSessionID = "X-Amzn-SageMaker-New-Session-Id"

	// HeaderClosedSessionID confirms which id was closed.
	HeaderClosedSessionID = "X-Amzn-SageMaker-Closed-Session-Id"
)

const expiresAttr = "Expires="

// EncodeNewSessionValue renders the new-session header value. The expiration
// is included so a client can renew proactively instead of discovering expiry
// via a failed request.
func EncodeNewSessionValue(sessionID string, expirationTS float64) string {
	return fmt.Sprintf("%s; %s%d", sessionID, expiresAttr, int64(expirationTS))
}

// DecodeNewSessionValue parses a new-session header value back into its id
// and expiration instant.
func DecodeNewSessionValue(value string) (string, int64, error) {
	id, attr, found := strings.Cut(value, ";")
	if !found {
		return "", 0, fmt.Errorf("missing %q attribute in %q", expiresAttr, value)
	}

	id = strings.TrimSpace(id)
	attr = strings.TrimSpace(attr)
	if id == "" {
		return "", 0, fmt.Errorf("empty session id in %q", value)
	}
	if !strings.HasPrefix(attr, expiresAttr) {
		return "", 0, fmt.Errorf("missing %q attribute in %q", expiresAttr, value)
	}

	expires, err := strconv.ParseInt(strings.TrimPrefix(attr, expiresAttr), 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid expiration in %q: %w", value, err)
	}

	return id, expires, nil
}

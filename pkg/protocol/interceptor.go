package protocol

import (
	"context"
	"fmt"
	"net/http"

	"github.com/davin/stateshim/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/davin/stateshim/pkg/session"
)

const tracerName = "stateshim.protocol"

// Response is a fully formed reply produced by the interceptor. The
// surrounding web layer translates it onto the wire; this package has no HTTP
// transport of its own.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Result is the outcome of intercepting one request. When Response is non-nil
// the request was a session-management request and has been handled; otherwise
// Body is the (possibly rewritten) pass-through body for the inference path.
type Result struct {
	Response *Response
	Body     []byte
}

// Config configures an Interceptor.
type Config struct {
	// Manager is the session registry. Nil means the subsystem is disabled:
	// any session-related input is rejected.
	Manager *session.Manager

	// SessionIDPath is an optional dot-path; when set, the session id header
	// value is injected into the forwarded body at that path.
	SessionIDPath string

	Logger zerolog.Logger
}

// Interceptor inspects inbound request bodies for session control messages
// and validates session id headers before the inference path proceeds.
type Interceptor struct {
	manager       *session.Manager
	sessionIDPath string
	logger        zerolog.Logger
}

// New creates an Interceptor.
func New(cfg Config) *Interceptor {
	return &Interceptor{
		manager:       cfg.Manager,
		sessionIDPath: cfg.SessionIDPath,
		logger:        cfg.Logger,
	}
}

// Enabled reports whether the session subsystem is active.
func (ic *Interceptor) Enabled() bool {
	return ic.manager != nil
}

// Intercept examines one parsed request. Session-management requests are
// dispatched to the manager and answered directly; ordinary requests are
// validated against the session header and passed through.
func (ic *Interceptor) Intercept(ctx context.Context, body []byte, headers http.Header) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "protocol.intercept")
	defer span.End()

	verb, isControl, err := ParseControlRequest(body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sessionID := headers.Get(HeaderSessionID)
	if sessionID != "" {
		ctx = tracing.WithSessionID(ctx, sessionID)
	}

	if !ic.Enabled() {
		if isControl || sessionID != "" {
			err := fmt.Errorf("%w: request carried session fields", ErrSessionsDisabled)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		return &Result{Body: body}, nil
	}

	if !isControl {
		return ic.passThrough(ctx, body, sessionID)
	}

	span.SetAttributes(attribute.String("verb", verb))
	switch verb {
	case RequestTypeNewSession:
		return ic.handleCreate(ctx)
	case RequestTypeClose:
		return ic.handleClose(ctx, sessionID)
	default:
		// ParseControlRequest's schema makes this unreachable.
		err := fmt.Errorf("%w: unknown verb %q", ErrMalformedRequest, verb)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
}

// passThrough validates the session header, optionally injects the id into
// the body, and hands the request back to the inference path. Downstream
// handlers never need to re-validate session existence.
func (ic *Interceptor) passThrough(ctx context.Context, body []byte, sessionID string) (*Result, error) {
	if sessionID == "" {
		return &Result{Body: body}, nil
	}

	s, err := ic.manager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		// Expired, or a reserved id used where a live session is required.
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}

	if ic.sessionIDPath != "" {
		rewritten, err := sjson.SetBytes(body, ic.sessionIDPath, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to inject session id at %q: %w", ic.sessionIDPath, err)
		}
		body = rewritten
	}

	return &Result{Body: body}, nil
}

// handleCreate creates a session. Any session id header on the request is
// deliberately ignored.
func (ic *Interceptor) handleCreate(ctx context.Context) (*Result, error) {
	s, err := ic.manager.CreateSession(ctx)
	if err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, ic.logger)
	logger.Info().Str("session_id", s.ID).Msg("Session create request handled")

	headers := http.Header{}
	headers.Set(HeaderNewSessionID, EncodeNewSessionValue(s.ID, s.ExpirationTS))

	return &Result{
		Response: &Response{
			StatusCode: http.StatusOK,
			Headers:    headers,
			Body:       []byte(fmt.Sprintf("Successfully created session: %s", s.ID)),
		},
	}, nil
}

// handleClose closes the session named by the request header.
func (ic *Interceptor) handleClose(ctx context.Context, sessionID string) (*Result, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionHeader
	}

	s, err := ic.manager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, sessionID)
	}

	if err := ic.manager.CloseSession(ctx, sessionID); err != nil {
		return nil, err
	}

	logger := tracing.LoggerFromContext(ctx, ic.logger)
	logger.Info().Str("session_id", sessionID).Msg("Session close request handled")

	headers := http.Header{}
	headers.Set(HeaderClosedSessionID, sessionID)

	return &Result{
		Response: &Response{
			StatusCode: http.StatusOK,
			Headers:    headers,
			Body:       []byte(fmt.Sprintf("Successfully closed session: %s", sessionID)),
		},
	}, nil
}

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/davin/stateshim/internal/metrics"
	"github.com/davin/stateshim/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/davin/stateshim/pkg/protocol"
	"github.com/davin/stateshim/pkg/session"
)

// ServerOptions holds proxy server configuration
type ServerOptions struct {
	Host           string
	Port           int
	EngineURL      string
	DefaultTimeout time.Duration
}

// Server is the HTTP frontend: it terminates /invocations, runs the session
// interceptor, and reverse-proxies ordinary inference requests to the engine.
type Server struct {
	options        ServerOptions
	server         *http.Server
	interceptor    *protocol.Interceptor
	engine         *httputil.ReverseProxy
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new proxy server
func NewServer(options ServerOptions, interceptor *protocol.Interceptor, logger zerolog.Logger) (*Server, error) {
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.DefaultTimeout == 0 {
		options.DefaultTimeout = 60 * time.Second
	}
	if interceptor == nil {
		return nil, fmt.Errorf("interceptor is required")
	}
	if options.EngineURL == "" {
		return nil, fmt.Errorf("engine URL is required")
	}

	engineURL, err := url.Parse(options.EngineURL)
	if err != nil {
		return nil, fmt.Errorf("invalid engine URL: %w", err)
	}

	engine := httputil.NewSingleHostReverseProxy(engineURL)
	engine.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Engine request failed")
		writeError(w, http.StatusBadGateway, "engine unavailable")
	}

	return &Server{
		options:     options,
		interceptor: interceptor,
		engine:      engine,
		logger:      logger,
	}, nil
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/invocations", s.handleInvocations)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start starts the proxy server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.options.DefaultTimeout,
		WriteTimeout: s.options.DefaultTimeout,
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Str("engine", s.options.EngineURL).
		Msg("Starting proxy server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start proxy server: %w", err)
	}

	return nil
}

// Stop gracefully stops the proxy server, waiting for in-flight requests.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.options.DefaultTimeout):
		s.logger.Warn().Msg("Timed out waiting for in-flight requests")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop proxy server: %w", err)
	}

	s.logger.Info().Msg("Proxy server stopped")
	return nil
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s.shutdownMu.RLock()
	shuttingDown := s.isShuttingDown
	s.shutdownMu.RUnlock()
	if shuttingDown {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.RecordRequest("/invocations", strconv.Itoa(rec.status), time.Since(start))
	}()

	if r.Method != http.MethodPost {
		writeError(rec, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requestID, err := gonanoid.New()
	if err != nil {
		requestID = ""
	}
	ctx := tracing.NewRequestContext(r.Context(), requestID)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rec, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	if !json.Valid(body) {
		writeError(rec, http.StatusBadRequest, "JSON decode error")
		return
	}

	result, err := s.interceptor.Intercept(ctx, body, r.Header)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).Msg("Intercept failed")
		} else {
			logger.Debug().Err(err).Msg("Request rejected")
		}
		writeError(rec, status, err.Error())
		return
	}

	if result.Response != nil {
		for name, values := range result.Response.Headers {
			for _, value := range values {
				rec.Header().Add(name, value)
			}
		}
		rec.WriteHeader(result.Response.StatusCode)
		rec.Write(result.Response.Body)

		logger.Debug().
			Int("status", result.Response.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("Session request handled")
		return
	}

	// Ordinary inference request: forward the (possibly rewritten) body.
	r.Body = io.NopCloser(bytes.NewReader(result.Body))
	r.ContentLength = int64(len(result.Body))
	r.Header.Set("Content-Length", strconv.Itoa(len(result.Body)))

	s.engine.ServeHTTP(rec, r.WithContext(ctx))

	logger.Debug().
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("Request forwarded to engine")
}

// statusFor maps interceptor errors onto HTTP status codes. Every usage
// mistake in the session protocol is a client error; anything else indicates
// a broken deployment.
func statusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrMalformedRequest),
		errors.Is(err, protocol.ErrSessionsDisabled),
		errors.Is(err, protocol.ErrMissingSessionHeader),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrInvalidArgument),
		errors.Is(err, session.ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Detail: detail})
}

// statusRecorder captures the response status for logging and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Unwrap exposes the underlying writer so http.ResponseController can reach
// its Flusher when the engine streams its response.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

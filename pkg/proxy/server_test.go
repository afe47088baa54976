package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/davin/stateshim/pkg/protocol"
	"github.com/davin/stateshim/pkg/session"
)

// newEngine returns a fake engine that echoes the request body it received.
func newEngine(t *testing.T) *httptest.Server {
	t.Helper()
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Engine-Path", r.URL.Path)
		w.Write(body)
	}))
	t.Cleanup(engine.Close)
	return engine
}

func newTestServer(t *testing.T, engineURL string, sessionIDPath string) (*httptest.Server, *session.Manager) {
	t.Helper()

	manager, err := session.NewManager(session.Options{StoragePath: t.TempDir()})
	require.NoError(t, err)

	interceptor := protocol.New(protocol.Config{
		Manager:       manager,
		SessionIDPath: sessionIDPath,
		Logger:        zerolog.Nop(),
	})

	server, err := NewServer(ServerOptions{EngineURL: engineURL}, interceptor, zerolog.Nop())
	require.NoError(t, err)

	front := httptest.NewServer(server.Handler())
	t.Cleanup(front.Close)
	return front, manager
}

func postInvocations(t *testing.T, front *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, front.URL+"/invocations", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestNewServer_Validation(t *testing.T) {
	interceptor := protocol.New(protocol.Config{Logger: zerolog.Nop()})

	_, err := NewServer(ServerOptions{EngineURL: "http://127.0.0.1:8000"}, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewServer(ServerOptions{}, interceptor, zerolog.Nop())
	assert.Error(t, err)

	server, err := NewServer(ServerOptions{EngineURL: "http://127.0.0.1:8000"}, interceptor, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", server.options.Host)
	assert.Equal(t, 8080, server.options.Port)
}

func TestPing(t *testing.T) {
	engine := newEngine(t)
	front, _ := newTestServer(t, engine.URL, "")

	resp, err := http.Get(front.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvocations_ForwardsToEngine(t *testing.T) {
	engine := newEngine(t)
	front, _ := newTestServer(t, engine.URL, "")

	resp := postInvocations(t, front, `{"prompt":"hello"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt":"hello"}`, string(body))
	assert.Equal(t, "/invocations", resp.Header.Get("X-Engine-Path"))
}

func TestInvocations_CreateAndUseSession(t *testing.T) {
	engine := newEngine(t)
	front, _ := newTestServer(t, engine.URL, "session_id")

	resp := postInvocations(t, front, `{"requestType":"NEW_SESSION"}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	newSession := resp.Header.Get(protocol.HeaderNewSessionID)
	require.NotEmpty(t, newSession)
	sessionID, _, err := protocol.DecodeNewSessionValue(newSession)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Successfully created session: "+sessionID)

	// A follow-up inference request carrying the session header reaches the
	// engine with the session id injected into the body.
	resp = postInvocations(t, front, `{"prompt":"next"}`, map[string]string{
		protocol.HeaderSessionID: sessionID,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, sessionID, gjson.GetBytes(body, "session_id").String())
	assert.Equal(t, "next", gjson.GetBytes(body, "prompt").String())
}

func TestInvocations_CloseSession(t *testing.T) {
	engine := newEngine(t)
	front, manager := newTestServer(t, engine.URL, "")

	created, err := manager.CreateSession(context.Background())
	require.NoError(t, err)

	resp := postInvocations(t, front, `{"requestType":"CLOSE"}`, map[string]string{
		protocol.HeaderSessionID: created.ID,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, resp.Header.Get(protocol.HeaderClosedSessionID))
	assert.Equal(t, 0, manager.ActiveSessions())
}

func TestInvocations_ClientErrors(t *testing.T) {
	engine := newEngine(t)
	front, _ := newTestServer(t, engine.URL, "")

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		detail  string
	}{
		{
			name:   "invalid json",
			body:   `{"prompt": `,
			detail: "JSON decode error",
		},
		{
			name:   "malformed control request",
			body:   `{"requestType":"NEW_SESSION","extra":1}`,
			detail: "malformed session request",
		},
		{
			name:   "close without session header",
			body:   `{"requestType":"CLOSE"}`,
			detail: "session id header",
		},
		{
			name:    "unknown session",
			body:    `{"prompt":"hi"}`,
			headers: map[string]string{protocol.HeaderSessionID: "no-such-session"},
			detail:  "session not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postInvocations(t, front, tt.body, tt.headers)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var payload struct {
				Detail string `json:"detail"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			assert.Contains(t, payload.Detail, tt.detail)
		})
	}
}

func TestInvocations_MethodNotAllowed(t *testing.T) {
	engine := newEngine(t)
	front, _ := newTestServer(t, engine.URL, "")

	resp, err := http.Get(front.URL + "/invocations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestInvocations_EngineDown(t *testing.T) {
	front, _ := newTestServer(t, "http://127.0.0.1:1", "")

	resp := postInvocations(t, front, `{"prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newEngine(t)
	front, _ := newTestServer(t, engine.URL, "")

	postInvocations(t, front, `{"prompt":"hi"}`, nil)

	resp, err := http.Get(front.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(body, []byte("stateshim_requests_total")))
}

func TestStatusRecorderFlushesThroughToBaseWriter(t *testing.T) {
	base := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: base, status: http.StatusOK}

	// ResponseController reaches the base writer's Flusher via Unwrap; this
	// is what lets a streaming engine response flush incrementally instead
	// of buffering until completion.
	require.NoError(t, http.NewResponseController(rec).Flush())
	assert.True(t, base.Flushed)
}

func TestStop_WithoutStart(t *testing.T) {
	interceptor := protocol.New(protocol.Config{Logger: zerolog.Nop()})
	server, err := NewServer(ServerOptions{EngineURL: "http://127.0.0.1:8000"}, interceptor, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, server.Stop())
}

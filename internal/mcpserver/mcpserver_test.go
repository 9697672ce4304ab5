package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fetchmcp/internal/cache"
	perr "fetchmcp/internal/platform/errors"
	"fetchmcp/internal/taskmanager"
	"fetchmcp/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateAccept(t *testing.T) {
	t.Parallel()
	require.NoError(t, negotiateAccept(""))
	require.NoError(t, negotiateAccept("*/*"))
	require.NoError(t, negotiateAccept("application/json, text/event-stream"))

	err := negotiateAccept("application/json")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
}

func TestParseResourceURI(t *testing.T) {
	t.Parallel()
	ns, hash, err := parseResourceURI("internal://cache/markdown/abc123")
	require.NoError(t, err)
	assert.Equal(t, "markdown", ns)
	assert.Equal(t, "abc123", hash)

	_, _, err = parseResourceURI("https://example.com")
	require.Error(t, err)

	_, _, err = parseResourceURI("internal://cache/markdown")
	require.Error(t, err)
}

func TestMimeTypeForNamespace(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "text/markdown", mimeTypeForNamespace("markdown"))
	assert.Equal(t, "application/x-ndjson", mimeTypeForNamespace("links"))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := cache.NewStore(cache.Options{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	t.Cleanup(store.Close)
	pool := transform.New(transform.Options{Workers: 2, Timeout: time.Second})
	t.Cleanup(pool.Close)
	tasks := taskmanager.New(taskmanager.Options{})

	s := New(Config{
		Addr:                   ":0",
		MaxSessions:            10,
		SessionIdleTTL:         time.Hour,
		InitializationTimeout:  time.Second,
		RateLimitMax:           1000,
		RateLimitWindow:        time.Minute,
		ProtocolVersions:       []string{"2025-03-26"},
		DefaultProtocolVersion: "2025-03-26",
		MaxInlineContentChars:  8000,
	}, Deps{Cache: store, Transform: pool, Fetcher: nil, Tasks: tasks})
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestServer_HealthEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "localhost"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_CallToolRejectsUnknownTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, err := s.CallTool(context.Background(), "not-a-tool", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
}

func TestServer_CallToolRejectsMissingURL(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, err := s.CallTool(context.Background(), "fetch-url", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestServer_ResourcesListAndReadRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.Cache.Set("markdown", "hash1", "markdown:hash1", "# hi", "https://example.com/a", "Hi Page", false)

	listed, err := s.dispatchResourcesList(json.RawMessage(`{"namespace":"markdown"}`))
	require.NoError(t, err)
	listedMap := listed.(map[string]any)
	items := listedMap["resources"].([]resourceItem)
	require.Len(t, items, 1)
	assert.Equal(t, "internal://cache/markdown/hash1", items[0].URI)

	read, err := s.dispatchResourcesRead(json.RawMessage(`{"uri":"internal://cache/markdown/hash1"}`))
	require.NoError(t, err)
	readMap := read.(map[string]any)
	contents := readMap["contents"].([]map[string]any)
	require.Len(t, contents, 1)
	assert.Equal(t, "# hi", contents[0]["text"])
}

func TestServer_ResourcesReadNotFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	_, err := s.dispatchResourcesRead(json.RawMessage(`{"uri":"internal://cache/markdown/missing"}`))
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeNotFound, perr.CodeOf(err))
}

func TestServer_PostWithoutSessionIsRejected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fetch-url","arguments":{}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Host = "localhost"
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestServer_InitializeCreatesSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Host = "localhost"
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(sessionHeader))
	assert.Equal(t, 1, s.Sessions.Size())
}

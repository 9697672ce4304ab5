package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	perr "fetchmcp/internal/platform/errors"
	"fetchmcp/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient builds a Client against srv without going through the secure
// resolver, so the test exercises Fetch's redirect/content-type/charset/
// retry-classification logic against a real HTTP server without tripping
// the loopback SSRF guard that internal/resolver already covers on its own.
func testClient(srv *httptest.Server) *Client {
	return &Client{
		opts:   Options{MaxHops: defaultMaxHops, MaxBytes: defaultMaxBytes, UserAgent: defaultUserAgent},
		client: srv.Client(),
	}
}

func TestFetch_HappyPathCacheMissFetch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><h1>hello</h1></body></html>"))
	}))
	defer srv.Close()

	res, err := testClient(srv).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Body, "hello")
	assert.False(t, res.Truncated)
}

func TestFetch_BlocksSSRFToLoopback(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// New's real resolver (unlike testClient) preflights every dial and
	// rejects the server's loopback address before a connection is made.
	client := New(Options{})
	_, err := client.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeBlocked, perr.CodeOf(err))
}

func TestFetch_RetriesOn429ThenSucceeds(t *testing.T) {
	t.Parallel()
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok on retry"))
	}))
	defer srv.Close()

	client := testClient(srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := retry.Do(ctx, 3, func(ctx context.Context) (string, error) {
		res, err := client.Fetch(ctx, srv.URL)
		if err != nil {
			return "", err
		}
		return res.Body, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok on retry", body)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestCheckContentType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		ct      string
		wantErr bool
	}{
		{"text/html; charset=utf-8", false},
		{"text/plain", false},
		{"application/json", false},
		{"application/xhtml+xml", false},
		{"", false},
		{"image/png", true},
		{"application/octet-stream", true},
		{"not a mime type;;;", true},
	}
	for _, tc := range cases {
		err := checkContentType(tc.ct)
		if tc.wantErr {
			assert.Error(t, err, tc.ct)
		} else {
			assert.NoError(t, err, tc.ct)
		}
	}
}

func TestLooksBinary(t *testing.T) {
	t.Parallel()
	assert.True(t, looksBinary([]byte("%PDF-1.4 rest of file")))
	assert.True(t, looksBinary([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}))
	assert.False(t, looksBinary([]byte("<html><body>hi</body></html>")))
	assert.False(t, looksBinary([]byte{}))
}

func TestTruncateAtBoundary_PrefersTagClose(t *testing.T) {
	t.Parallel()
	body := []byte("<p>" + string(make([]byte, 80)) + "</p><p>overflow content here</p>")
	for i := range body {
		if body[i] == 0 {
			body[i] = 'x'
		}
	}
	out := truncateAtBoundary(body, 90)
	require.True(t, len(out) <= 90)
	assert.Equal(t, byte('>'), out[len(out)-1])
}

func TestTruncateAtBoundary_HardCutWhenNoBoundary(t *testing.T) {
	t.Parallel()
	body := []byte(string(make([]byte, 100)))
	for i := range body {
		body[i] = 'x'
	}
	out := truncateAtBoundary(body, 50)
	assert.Len(t, out, 50)
}

func TestTruncateAtBoundary_NoopUnderLimit(t *testing.T) {
	t.Parallel()
	body := []byte("short")
	out := truncateAtBoundary(body, 100)
	assert.Equal(t, body, out)
}

func TestParseRetryAfterMs_Seconds(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2000, parseRetryAfterMs("2"))
}

func TestParseRetryAfterMs_Empty(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, parseRetryAfterMs(""))
}

func TestResolveCharset_BOMWins(t *testing.T) {
	t.Parallel()
	body := append([]byte{0xEF, 0xBB, 0xBF}, []byte("<html></html>")...)
	label := resolveCharset(body, "text/html; charset=iso-8859-1")
	assert.Equal(t, "utf-8", label)
}

func TestResolveCharset_ContentTypeHeader(t *testing.T) {
	t.Parallel()
	body := []byte("<html><body>plain</body></html>")
	label := resolveCharset(body, "text/html; charset=iso-8859-1")
	// the iso-8859-1 label resolves to its WHATWG canonical name
	assert.Equal(t, "windows-1252", label)
}

func TestResolveRedirect_RelativeLocation(t *testing.T) {
	t.Parallel()
	out, err := resolveRedirect("https://example.com/a/b", "/c")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/c", out)
}

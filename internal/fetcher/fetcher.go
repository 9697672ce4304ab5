// Package fetcher issues a single outbound HTTP request with manually
// handled redirects, each hop re-validated through the secure resolver, and
// decodes the response body according to the charset-resolution and
// binary-rejection rules of §4.3.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	perr "fetchmcp/internal/platform/errors"
	"fetchmcp/internal/resolver"
)

const (
	defaultMaxHops   = 5
	defaultMaxBytes  = 10 * 1024 * 1024
	defaultUserAgent = "fetchmcp/1.0 (+https://modelcontextprotocol.io)"
	truncateWindow   = 0.10
)

// allowedTextTypes is the application/* whitelist admitted alongside text/*
var allowedTextTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/xhtml+xml":  true,
	"application/javascript": true,
	"application/ld+json":    true,
	"application/rss+xml":    true,
	"application/atom+xml":   true,
	"application/x-ndjson":   true,
}

// Options configures a Client
type Options struct {
	Timeout   time.Duration
	MaxHops   int
	MaxBytes  int64
	UserAgent string
	Resolver  *resolver.Resolver
}

// Result is the decoded outcome of a single fetch
type Result struct {
	Body        string
	FinalURL    string
	ContentType string
	StatusCode  int
	Truncated   bool
}

// Client issues one fetch at a time per call, handling redirects manually
type Client struct {
	opts   Options
	client *http.Client
}

// New builds a Client whose transport dials resolved, SSRF-checked addresses
// and never auto-follows redirects
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = defaultMaxHops
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Resolver == nil {
		opts.Resolver = resolver.New(resolver.OrderVerbatim)
	}

	maxConns := max(2*runtime.NumCPU(), 25)
	dialer := &net.Dialer{Timeout: opts.Timeout}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		DisableCompression:  false,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			resolved, err := opts.Resolver.Resolve(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, a := range resolved {
				conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(a.IP.String(), port))
				if dialErr == nil {
					return conn, nil
				}
				lastErr = dialErr
			}
			return nil, lastErr
		},
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Client{opts: opts, client: httpClient}
}

// Fetch issues one logical fetch, following up to opts.MaxHops redirects,
// each hop's host re-validated by the secure resolver via DialContext
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	current := rawURL

	for hop := 0; ; hop++ {
		if hop > c.opts.MaxHops {
			return nil, perr.Wrapf(perr.WithStage(perr.Newf(perr.ErrorCodeHTTP4xx, "too many redirects"), "fetch:request"), perr.ErrorCodeHTTP4xx, "exceeded %d redirects", c.opts.MaxHops)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, perr.WithStage(perr.Wrapf(err, perr.ErrorCodeValidation, "malformed request url"), "fetch:request")
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, classifyTransportError(err, current)
		}

		if isRedirect(resp.StatusCode) {
			loc := resp.Header.Get("Location")
			_ = resp.Body.Close()
			if loc == "" {
				return nil, perr.WithStage(perr.Newf(perr.ErrorCodeHTTP5xx, "redirect with no Location header"), "fetch:request")
			}
			next, err := resolveRedirect(current, loc)
			if err != nil {
				return nil, perr.WithStage(perr.Wrapf(err, perr.ErrorCodeHTTP5xx, "invalid redirect target"), "fetch:request")
			}
			current = next
			continue
		}

		return c.finish(resp, current)
	}
}

func (c *Client) finish(resp *http.Response, finalURL string) (*Result, error) {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfterMs := parseRetryAfterMs(resp.Header.Get("Retry-After"))
		err := perr.Newf(perr.ErrorCodeRateLimited, "upstream rate limited (429)")
		err = perr.WithRetryAfterMs(err, retryAfterMs)
		return nil, perr.WithStage(err, "fetch:request")
	}
	if resp.StatusCode >= 500 {
		return nil, perr.WithStage(perr.Newf(perr.ErrorCodeHTTP5xx, "upstream returned %d", resp.StatusCode), "fetch:request")
	}
	if resp.StatusCode >= 400 {
		return nil, perr.WithStage(perr.Newf(perr.ErrorCodeHTTP4xx, "upstream returned %d", resp.StatusCode), "fetch:request")
	}

	contentType := resp.Header.Get("Content-Type")
	if err := checkContentType(contentType); err != nil {
		return nil, perr.WithStage(err, "fetch:body")
	}

	limited := io.LimitReader(resp.Body, c.opts.MaxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, perr.WithStage(perr.Wrapf(err, perr.ErrorCodeHTTP5xx, "reading response body failed"), "fetch:body")
	}

	if len(raw) > 0 && looksBinary(raw) {
		return nil, perr.WithStage(perr.Newf(perr.ErrorCodeBinaryContent, "response body looks binary"), "fetch:body")
	}

	truncated := false
	if int64(len(raw)) > c.opts.MaxBytes {
		raw = truncateAtBoundary(raw, c.opts.MaxBytes)
		truncated = true
	}

	label := resolveCharset(raw, contentType)
	decoded, err := decodeBody(raw, label)
	if err != nil {
		return nil, perr.WithStage(perr.Wrapf(err, perr.ErrorCodeHTTP4xx, "charset decode failed"), "fetch:body")
	}

	return &Result{
		Body:        decoded,
		FinalURL:    finalURL,
		ContentType: contentType,
		StatusCode:  resp.StatusCode,
		Truncated:   truncated,
	}, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	next, err := baseURL.Parse(location)
	if err != nil {
		return "", err
	}
	return next.String(), nil
}

// checkContentType enforces the text/* + whitelisted application/* gate
func checkContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return perr.Newf(perr.ErrorCodeUnsupportedContentType, "malformed content-type %q", contentType)
	}
	if strings.HasPrefix(mt, "text/") {
		return nil
	}
	if allowedTextTypes[mt] {
		return nil
	}
	return perr.Newf(perr.ErrorCodeUnsupportedContentType, "unsupported content-type %q", mt)
}

// truncateAtBoundary cuts raw to at most limit bytes, preferring to land on a
// '>' tag boundary within a 10% window of the limit, else hard-cutting.
func truncateAtBoundary(raw []byte, limit int64) []byte {
	if int64(len(raw)) <= limit {
		return raw
	}
	cut := raw[:limit]
	window := int64(float64(limit) * truncateWindow)
	searchFrom := limit - window
	if searchFrom < 0 {
		searchFrom = 0
	}
	if idx := bytes.LastIndexByte(raw[searchFrom:limit], '>'); idx >= 0 {
		return raw[:searchFrom+int64(idx)+1]
	}
	return cut
}

func parseRetryAfterMs(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return secs * 1000
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			return 0
		}
		return int(d.Milliseconds())
	}
	return 0
}

// classifyTransportError maps a low-level transport error to a fetch error.
// A cancelled request is non-retryable and must be distinguished from a
// deadline exceeded (504 TIMEOUT, retryable) or a generic network failure
// (502, retryable): context.Canceled maps to 499 ABORTED so retry.Do stops
// immediately instead of retrying a request the caller already gave up on.
func classifyTransportError(err error, rawURL string) error {
	if e, ok := perr.As(err); ok {
		return perr.WithStage(e, "fetch:request")
	}
	if errors.Is(err, context.Canceled) {
		return perr.WithStage(perr.Wrapf(err, perr.ErrorCodeAborted, "fetch aborted for %s", rawURL), "fetch:request")
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return perr.WithStage(perr.Wrapf(err, perr.ErrorCodeTimeout, "fetch timed out for %s", rawURL), "fetch:request")
	}
	return perr.WithStage(perr.Wrapf(err, perr.ErrorCodeHTTP5xx, "network error fetching %s", rawURL), "fetch:request")
}

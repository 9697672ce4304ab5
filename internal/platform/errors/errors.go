// Package errors provides a structured error type with wrapping and metadata
package errors

// Always import the project errors package as perr (platform/errors)

import (
	stderrs "errors"
	"fmt"
)

// ErrorCode defines supported error codes used across the service
// Values are stable for wire compatibility; add sparingly
type ErrorCode uint16

const (
	// ErrorCodeUnknown is for unclassified errors
	ErrorCodeUnknown ErrorCode = iota

	// ErrorCodePanic is for panics recovered by middleware
	ErrorCodePanic

	// ErrorCodeValidation covers bad URLs, bad cache-vary payloads, malformed JSON-RPC
	ErrorCodeValidation

	// ErrorCodeParseError is for JSON-RPC bodies that fail to parse as JSON
	ErrorCodeParseError

	// ErrorCodeHostNotAllowed is for Host header policy failures
	ErrorCodeHostNotAllowed

	// ErrorCodeOriginNotAllowed is for Origin header policy failures
	ErrorCodeOriginNotAllowed

	// ErrorCodeUnsupportedContentType is for non text/* and non-whitelisted responses
	ErrorCodeUnsupportedContentType

	// ErrorCodeBinaryContent is for responses sniffed as binary
	ErrorCodeBinaryContent

	// ErrorCodeBlocked is for SSRF preflight rejections (EBLOCKED)
	ErrorCodeBlocked

	// ErrorCodeDNSTimeout is for DNS preflight deadline exceeded (ETIMEOUT)
	ErrorCodeDNSTimeout

	// ErrorCodeTimeout is for HTTP/worker deadline exceeded
	ErrorCodeTimeout

	// ErrorCodeAborted is for caller cancellation
	ErrorCodeAborted

	// ErrorCodeRateLimited is for upstream 429 responses
	ErrorCodeRateLimited

	// ErrorCodeHTTP4xx is for non-retryable upstream 4xx responses
	ErrorCodeHTTP4xx

	// ErrorCodeHTTP5xx is for upstream 5xx / network errors
	ErrorCodeHTTP5xx

	// ErrorCodeSessionNotFound is for a stale or unknown mcp-session-id
	ErrorCodeSessionNotFound

	// ErrorCodeServerBusy is for session/slot capacity exhaustion
	ErrorCodeServerBusy

	// ErrorCodeInternal covers worker crashes, closed pools, and other internal faults
	ErrorCodeInternal

	// ErrorCodeNotFound is for missing cache entries / resources / tasks
	ErrorCodeNotFound
)

// HTTPStatusCode turns an ErrorCode into an http-equivalent status code.
// 499 and 504 follow spec for cancellation/timeout; net/http has no constant
// for 499 so the literal is used, matching nginx's client-closed-request code.
func HTTPStatusCode(c ErrorCode) int {
	switch c {
	case ErrorCodeNotFound, ErrorCodeSessionNotFound:
		return 404
	case ErrorCodeValidation, ErrorCodeUnsupportedContentType, ErrorCodeBinaryContent, ErrorCodeParseError:
		return 400
	case ErrorCodeHostNotAllowed, ErrorCodeOriginNotAllowed:
		return 403
	case ErrorCodeBlocked:
		return 502
	case ErrorCodeDNSTimeout, ErrorCodeTimeout:
		return 504
	case ErrorCodeAborted:
		return 499
	case ErrorCodeRateLimited:
		return 429
	case ErrorCodeHTTP4xx:
		return 400
	case ErrorCodeHTTP5xx:
		return 502
	case ErrorCodeServerBusy:
		return 503
	case ErrorCodeInternal, ErrorCodePanic, ErrorCodeUnknown:
		return 500
	default:
		return 500
	}
}

// ErrNotFound is a sentinel not found error for convenience
var ErrNotFound = New(ErrorCodeNotFound, "not found")

// Error is the structured error type with wrapping and metadata
// msg is human/developer facing; code is machine facing
// field/op/stage carry extra diagnostic context (e.g. a pipeline stage tag)
type Error struct {
	orig  error
	msg   string
	code  ErrorCode
	field string
	op    string
	stage string

	// Retryable overrides the default code-based retry classification when set
	retryableSet bool
	retryable    bool

	// RetryAfterMs carries an upstream Retry-After hint in milliseconds (429s)
	RetryAfterMs int
}

// Wire is the JSON-serializable form returned to tool callers
type Wire struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Stage   string    `json:"stage,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.orig)
	}
	return e.msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() ErrorCode { return e.code }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// Stage returns the pipeline stage label, if set (dns:preflight, fetch:request, ...)
func (e *Error) Stage() string { return e.stage }

// ToWire converts an *Error to a Wire payload
func (e *Error) ToWire() Wire {
	return Wire{Code: e.code, Message: e.msg, Field: e.field, Stage: e.stage}
}

// WireFrom converts any error into a Wire payload with best-effort mapping
func WireFrom(err error) Wire {
	if err == nil {
		return Wire{}
	}
	if e, ok := As(err); ok {
		return e.ToWire()
	}
	return Wire{Code: ErrorCodeUnknown, Message: err.Error()}
}

// Root returns the deepest wrapped cause
func Root(err error) error {
	for err != nil {
		u := stderrs.Unwrap(err)
		if u == nil {
			return err
		}
		err = u
	}
	return nil
}

// CodeOf extracts an ErrorCode from any error, defaulting to Unknown
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.code
	}
	return ErrorCodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code ErrorCode) bool { return CodeOf(err) == code }

// HTTPStatus returns the mapped HTTP-equivalent status for any error
func HTTPStatus(err error) int { return HTTPStatusCode(CodeOf(err)) }

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WithField attaches a field to an *Error (copy-on-write)
func WithField(err error, field string) error {
	if e, ok := As(err); ok {
		c := *e
		c.field = field
		return &c
	}
	return err
}

// WithOp attaches an operation label to an *Error (copy-on-write)
func WithOp(err error, op string) error {
	if e, ok := As(err); ok {
		c := *e
		c.op = op
		return &c
	}
	return err
}

// WithStage attaches a pipeline stage tag to an *Error (copy-on-write), or
// wraps a foreign error into an *Error with Unknown code carrying the stage
func WithStage(err error, stage string) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		c := *e
		c.stage = stage
		return &c
	}
	return &Error{code: ErrorCodeUnknown, msg: err.Error(), stage: stage, orig: err}
}

// WithRetryAfterMs attaches a Retry-After hint (copy-on-write)
func WithRetryAfterMs(err error, ms int) error {
	if e, ok := As(err); ok {
		c := *e
		c.RetryAfterMs = ms
		return &c
	}
	return err
}

// WithRetryable forces the retry classification for this error (copy-on-write)
func WithRetryable(err error, retryable bool) error {
	if e, ok := As(err); ok {
		c := *e
		c.retryableSet = true
		c.retryable = retryable
		return &c
	}
	return err
}

// Constructors

// New returns a new *Error with the given code and message
func New(code ErrorCode, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code ErrorCode, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code ErrorCode, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// WrapIf wraps only when err != nil (helper for 1-liners)
func WrapIf(err error, code ErrorCode, msg string) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, msg)
}

// Sugar

// NotFoundf returns a not found error
func NotFoundf(format string, a ...any) error { return Newf(ErrorCodeNotFound, format, a...) }

// Validationf returns a validation error
func Validationf(format string, a ...any) error { return Newf(ErrorCodeValidation, format, a...) }

// Blockedf returns an SSRF-blocked error
func Blockedf(format string, a ...any) error { return Newf(ErrorCodeBlocked, format, a...) }

// Timeoutf returns a timeout error
func Timeoutf(format string, a ...any) error { return Newf(ErrorCodeTimeout, format, a...) }

// Abortedf returns a cancellation error
func Abortedf(format string, a ...any) error { return Newf(ErrorCodeAborted, format, a...) }

// RateLimitedf returns a rate-limited error
func RateLimitedf(format string, a ...any) error { return Newf(ErrorCodeRateLimited, format, a...) }

// ServerBusyf returns a capacity error
func ServerBusyf(format string, a ...any) error { return Newf(ErrorCodeServerBusy, format, a...) }

// Internalf returns a generic internal error
func Internalf(format string, a ...any) error { return Newf(ErrorCodeInternal, format, a...) }

// SessionNotFoundf returns a session-not-found error
func SessionNotFoundf(format string, a ...any) error {
	return Newf(ErrorCodeSessionNotFound, format, a...)
}

// Panicf returns a panic-classified error, used by recover middleware
func Panicf(format string, a ...any) error { return Newf(ErrorCodePanic, format, a...) }

// ParseErrorf returns a JSON-RPC parse error
func ParseErrorf(format string, a ...any) error { return Newf(ErrorCodeParseError, format, a...) }

// Retry semantics

// Retryable reports whether the error is retryable per spec.md §4.4:
// 429 and 5xx/network are retryable; cancellation and other 4xx are not.
// An explicit WithRetryable override always wins.
func Retryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	if e.retryableSet {
		return e.retryable
	}
	switch e.code {
	case ErrorCodeRateLimited, ErrorCodeHTTP5xx, ErrorCodeTimeout:
		return true
	default:
		return false
	}
}

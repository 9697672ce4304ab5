package middleware

import (
	stdjson "encoding/json"
	"net"
	"net/http"
	"strings"

	perr "fetchmcp/internal/platform/errors"
)

// AllowlistOptions names the hosts/origins permitted to reach this server.
// Loopback is always allowed regardless of Hosts/Origins contents.
type AllowlistOptions struct {
	Hosts   []string
	Origins []string
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func isLoopbackHost(h string) bool {
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func matchesAny(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return true
		}
	}
	return false
}

func writeRPCError(w http.ResponseWriter, err error) {
	status := perr.HTTPStatus(err)
	wire := perr.WireFrom(err)
	body := rpcErrorWire{
		JSONRPC: "2.0",
		ID:      nil,
		Error: rpcErrorField{
			Code:    jsonrpcCodeFor(status),
			Message: wire.Message,
			Data:    wire,
		},
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = stdjson.NewEncoder(w).Encode(body)
}

// jsonrpcCodeFor maps an http-equivalent status onto the nearest JSON-RPC
// reserved code; policy-level rejections use the server-error band.
func jsonrpcCodeFor(httpStatus int) int {
	switch httpStatus {
	case 400:
		return -32600
	default:
		return -32000
	}
}

// HostAllowlist rejects requests whose Host header does not match the
// configured allow-list. Loopback hosts are always permitted; wildcard bind
// addresses (0.0.0.0, ::) are not, and never imply "allow everything".
func HostAllowlist(opt AllowlistOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := stripPort(r.Host)
			if isLoopbackHost(host) || matchesAny(host, opt.Hosts) {
				next.ServeHTTP(w, r)
				return
			}
			writeRPCError(w, perr.Newf(perr.ErrorCodeHostNotAllowed, "host %q is not allowed", host))
		})
	}
}

// OriginAllowlist rejects requests carrying an Origin header that does not
// match the configured allow-list. A missing Origin always passes (same-origin
// or non-browser clients).
func OriginAllowlist(opt AllowlistOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if host, err := hostFromOrigin(origin); err == nil && isLoopbackHost(host) {
				next.ServeHTTP(w, r)
				return
			}
			if matchesAny(origin, opt.Origins) {
				next.ServeHTTP(w, r)
				return
			}
			writeRPCError(w, perr.Newf(perr.ErrorCodeOriginNotAllowed, "origin %q is not allowed", origin))
		})
	}
}

func hostFromOrigin(origin string) (string, error) {
	idx := strings.Index(origin, "://")
	if idx < 0 {
		return "", perr.Validationf("malformed origin %q", origin)
	}
	rest := origin[idx+3:]
	return stripPort(rest), nil
}

package middleware

import (
	stdjson "encoding/json"
	stdhttp "net/http"
	"runtime/debug"
	"strings"

	perr "fetchmcp/internal/platform/errors"
	"fetchmcp/internal/platform/logger"
	pnet "fetchmcp/internal/platform/net"
)

// rpcErrorWire mirrors the JSON-RPC 2.0 error envelope so a recovered panic
// still looks like a well-formed JSON-RPC response to the caller
type rpcErrorWire struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Error   rpcErrorField `json:"error"`
}

type rpcErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// internalErrorCode is the JSON-RPC reserved code for internal server errors
const internalErrorCode = -32603

// RecoverJSON converts panics into a JSON-RPC formatted 500 and logs the
// stack with the request id attached
func RecoverJSON(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		defer func() {
			if v := recover(); v != nil {
				reqID := pnet.RequestID(r.Context())

				raw := debug.Stack()
				lines := strings.Split(string(raw), "\n")
				stack := strings.Join(lines, "\n\t")

				log := logger.C(r.Context())
				log.Error().
					Str("request_id", reqID).
					Interface("panic", v).
					Msgf("panic recovered\n%s", stack)

				if reqID != "" {
					w.Header().Set("X-Request-ID", reqID)
				}

				body := rpcErrorWire{
					JSONRPC: "2.0",
					ID:      nil,
					Error: rpcErrorField{
						Code:    internalErrorCode,
						Message: perr.Root(perr.Panicf("panic recovered")).Error(),
						Data:    perr.WireFrom(perr.Panicf("panic recovered")),
					},
				}

				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(stdhttp.StatusInternalServerError)
				_ = stdjson.NewEncoder(w).Encode(body)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

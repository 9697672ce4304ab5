package mcpserver

import (
	"time"

	"fetchmcp/internal/platform/config"
)

// Config bundles every tunable of the HTTP dispatch + session layer, sourced
// from MCP_-prefixed environment variables.
type Config struct {
	Addr string

	AllowedHosts   []string
	AllowedOrigins []string

	RateLimitMax    int
	RateLimitWindow time.Duration

	MaxSessions           int
	SessionIdleTTL        time.Duration
	InitializationTimeout time.Duration
	ProtocolVersions      []string
	DefaultProtocolVersion string

	MaxInlineContentChars int
	FetchRetries          int
}

// FromEnv loads Config from MCP_-prefixed environment variables, falling
// back to the documented defaults for anything unset.
func FromEnv() Config {
	c := config.New().Prefix("MCP_")
	fetchCfg := config.New().Prefix("FETCH_")
	return Config{
		Addr:                   c.MayString("ADDR", ":3000"),
		AllowedHosts:           c.MayCSV("ALLOWED_HOSTS", nil),
		AllowedOrigins:         c.MayCSV("ALLOWED_ORIGINS", nil),
		RateLimitMax:           c.MayInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow:        c.MayDurationMs("RATE_LIMIT_WINDOW_MS", time.Minute),
		MaxSessions:            c.MayInt("MAX_SESSIONS", 1000),
		SessionIdleTTL:         c.MayDurationMs("SESSION_IDLE_TTL_MS", 30*time.Minute),
		InitializationTimeout:  c.MayDurationMs("INIT_TIMEOUT_MS", 10*time.Second),
		ProtocolVersions:       c.MayCSV("PROTOCOL_VERSIONS", []string{"2025-03-26", "2025-11-25"}),
		DefaultProtocolVersion: c.MayString("DEFAULT_PROTOCOL_VERSION", "2025-03-26"),
		MaxInlineContentChars:  c.MayInt("MAX_INLINE_CONTENT_CHARS", 8000),
		FetchRetries:           fetchCfg.MayInt("RETRIES", 3),
	}
}

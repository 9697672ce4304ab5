// Package mcpserver implements the HTTP-JSON-RPC dispatch layer of §4.9:
// POST/GET/DELETE /mcp, the allow-list/rate-limit/CORS middleware chain, and
// the session/tool/resource method dispatch that sits behind it.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"fetchmcp/internal/cache"
	"fetchmcp/internal/fetcher"
	"fetchmcp/internal/jsonrpc"
	mw "fetchmcp/internal/platform/net/middleware"
	"fetchmcp/internal/pipeline"
	"fetchmcp/internal/session"
	"fetchmcp/internal/taskmanager"
	"fetchmcp/internal/transform"

	"github.com/go-chi/chi/v5"
)

// Server wires every core component behind the HTTP transport
type Server struct {
	Config Config

	Sessions  *session.Store
	Cache     *cache.Store
	Transform *transform.Pool
	Fetcher   *fetcher.Client
	Pipeline  *pipeline.Pipeline
	Tasks     *taskmanager.Manager

	DefaultRetries int

	router      *chi.Mux
	httpServer  *http.Server
	rateLimiter *mw.RateLimiter

	notifyStop chan struct{}
	notifyDone chan struct{}
}

// Deps groups the constructed core components a Server is wired against
type Deps struct {
	Cache     *cache.Store
	Transform *transform.Pool
	Fetcher   *fetcher.Client
	Tasks     *taskmanager.Manager
}

// New constructs a Server, its session store, and its HTTP router. It does
// not start listening; call Run for that.
func New(cfg Config, deps Deps) *Server {
	sessions := session.New(session.Options{
		MaxSessions:               cfg.MaxSessions,
		IdleTTL:                   cfg.SessionIdleTTL,
		InitializationTimeout:     cfg.InitializationTimeout,
		SupportedProtocolVersions: cfg.ProtocolVersions,
		DefaultProtocolVersion:    cfg.DefaultProtocolVersion,
	})

	s := &Server{
		Config:         cfg,
		Sessions:       sessions,
		Cache:          deps.Cache,
		Transform:      deps.Transform,
		Fetcher:        deps.Fetcher,
		Tasks:          deps.Tasks,
		DefaultRetries: cfg.FetchRetries,
		rateLimiter:    mw.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
	}
	s.Pipeline = &pipeline.Pipeline{
		Fetcher:   deps.Fetcher,
		Transform: deps.Transform,
		Cache:     deps.Cache,
		Enabled:   true,
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.notifyStop = make(chan struct{})
	s.notifyDone = make(chan struct{})
	go s.runChangeNotifier()

	return s
}

// runChangeNotifier drains the cache's change-stream and pushes a
// notifications/resources/list_changed message to every live session's
// transport, so an SSE-subscribed client learns a cache write or eviction
// changed what resources/list would return. A cache event that leaves the
// listable set unchanged (e.g. an in-place refresh of an existing entry) is
// not forwarded.
func (s *Server) runChangeNotifier() {
	defer close(s.notifyDone)
	events := s.Cache.Subscribe()
	for {
		select {
		case <-s.notifyStop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.ListChanged {
				continue
			}
			s.broadcastResourcesListChanged(ev)
		}
	}
}

func (s *Server) broadcastResourcesListChanged(ev cache.ChangeEvent) {
	msg, err := jsonrpc.NewNotification("notifications/resources/list_changed", map[string]any{
		"namespace": ev.Namespace,
	})
	if err != nil {
		return
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, sess := range s.Sessions.All() {
		if t, ok := sess.Transport.(*streamTransport); ok {
			t.Send(encoded)
		}
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(mw.RequestID())
	r.Use(mw.RealIP())
	r.Use(mw.RecoverJSON)
	r.Use(mw.AccessLogZerolog(mw.AccessLogOptions{Slow: 2 * time.Second}))
	r.Use(mw.HostAllowlist(mw.AllowlistOptions{Hosts: s.Config.AllowedHosts}))
	r.Use(mw.OriginAllowlist(mw.AllowlistOptions{Origins: s.Config.AllowedOrigins}))
	r.Use(mw.RateLimit(s.rateLimiter))
	r.Use(mw.CORS(mw.CORSOptions{AllowedOrigins: s.Config.AllowedOrigins}))

	r.Get("/health", s.handleHealth)
	r.Post("/mcp", s.handlePost)
	r.Get("/mcp", s.handleGet)
	r.Delete("/mcp", s.handleDelete)

	return r
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and background loops
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.notifyStop)
	<-s.notifyDone
	s.rateLimiter.Stop()
	s.Sessions.Clear()
	s.Sessions.Close()
	return s.httpServer.Shutdown(ctx)
}

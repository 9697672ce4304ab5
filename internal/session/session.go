// Package session implements the MCP session store of §4.8: slot
// reservation with capacity admission, evict-oldest under pressure,
// protocol-version negotiation, and idle-TTL background cleanup.
package session

import (
	"context"
	"sync"
	"time"

	perr "fetchmcp/internal/platform/errors"
	"fetchmcp/internal/platform/logger"

	"github.com/google/uuid"
)

// State is a session's lifecycle state per the §4.8 state machine
type State int

const (
	StateReserving State = iota
	StateInitializing
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReserving:
		return "reserving"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the minimal handle a session owns: a per-session message
// stream that the dispatcher forwards requests into and reads SSE events
// from. Concrete transports (e.g. the streamable-HTTP transport) implement
// this; the store only needs to know how to tear one down.
type Transport interface {
	Close() error
}

// Session is one record in the store
type Session struct {
	ID          string
	CreatedAt   time.Time
	LastSeen    time.Time
	Transport   Transport
	State       State
	Initialized bool
}

// Options configures a Store
type Options struct {
	MaxSessions               int
	IdleTTL                   time.Duration
	InitializationTimeout     time.Duration
	SupportedProtocolVersions []string
	DefaultProtocolVersion    string
}

// Store owns session records and a reservation counter. The slot counter
// and the session map share one mutex: admission decisions and map
// mutations must be observed atomically together, per §5's
// "reserveSlot/releaseSlot paired exactly once" invariant.
type Store struct {
	mu                  sync.Mutex
	sessions            map[string]*Session
	inFlightReservations int

	maxSessions int
	idleTTL     time.Duration
	initTimeout time.Duration

	supportedVersions map[string]bool
	defaultVersion    string

	now func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Store and starts its idle-eviction background loop
func New(opts Options) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1000
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.InitializationTimeout <= 0 {
		opts.InitializationTimeout = 10 * time.Second
	}
	if opts.DefaultProtocolVersion == "" {
		opts.DefaultProtocolVersion = "2025-03-26"
	}
	versions := opts.SupportedProtocolVersions
	if len(versions) == 0 {
		versions = []string{"2025-03-26", "2025-11-25"}
	}
	supported := make(map[string]bool, len(versions))
	for _, v := range versions {
		supported[v] = true
	}

	s := &Store{
		sessions:          make(map[string]*Session),
		maxSessions:       opts.MaxSessions,
		idleTTL:           opts.IdleTTL,
		initTimeout:       opts.InitializationTimeout,
		supportedVersions: supported,
		defaultVersion:    opts.DefaultProtocolVersion,
		now:               time.Now,
		stopCh:            make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop()
	return s
}

func cleanupInterval(ttl time.Duration) time.Duration {
	d := ttl / 2
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	log := logger.Named("session-store")
	t := time.NewTicker(cleanupInterval(s.idleTTL))
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			n := s.EvictExpired()
			if n > 0 {
				log.Debug().Int("evicted", n).Msg("idle session cleanup")
			}
		}
	}
}

// Close stops the background cleanup loop; it does not close remaining
// sessions' transports, matching the teacher's convention of only owning
// its own goroutine lifecycle.
func (s *Store) Close() {
	close(s.stopCh)
	s.wg.Wait()
}

// reservation is a RAII-style guard over one pending slot: exactly one of
// Commit or Release must be called, matching §3's "released exactly once
// per attempt" invariant.
type reservation struct {
	store    *Store
	resolved bool
}

func (r *reservation) release() {
	if r.resolved {
		return
	}
	r.resolved = true
	r.store.mu.Lock()
	r.store.inFlightReservations--
	r.store.mu.Unlock()
}

func (r *reservation) commit() {
	r.resolved = true
}

// Reserve admits one new session attempt. It first evicts expired
// sessions; if the store is still at capacity it attempts exactly one
// evict-oldest; if that doesn't free room, admission fails with a
// ServerBusy error (mapped to 503 / -32000).
func (s *Store) Reserve() (*reservation, error) {
	s.EvictExpired()

	s.mu.Lock()
	if len(s.sessions)+s.inFlightReservations >= s.maxSessions {
		s.mu.Unlock()
		if !s.evictOldest() {
			return nil, perr.ServerBusyf("session capacity exhausted")
		}
		s.mu.Lock()
	}
	s.inFlightReservations++
	s.mu.Unlock()

	return &reservation{store: s}, nil
}

// Initialize commits a reservation into an Active session once the
// transport has produced its assigned sessionId. Bound by ctx's deadline;
// callers are expected to derive ctx with the store's InitializationTimeout.
func (s *Store) Initialize(ctx context.Context, r *reservation, transport Transport, sessionID string) (*Session, error) {
	defer r.release()

	if err := ctx.Err(); err != nil {
		return nil, perr.Abortedf("session initialization cancelled")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := s.now()
	sess := &Session{
		ID:          sessionID,
		CreatedAt:   now,
		LastSeen:    now,
		Transport:   transport,
		State:       StateActive,
		Initialized: true,
	}

	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.inFlightReservations--
	s.mu.Unlock()

	r.commit()
	return sess, nil
}

// InitializationTimeout returns the configured deadline for a pending
// initialization, for callers constructing a derived context
func (s *Store) InitializationTimeout() time.Duration { return s.initTimeout }

// Abort releases a reservation that failed before a session was created
func (s *Store) Abort(r *reservation) { r.release() }

// Get returns a session by id without updating lastSeen
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Touch updates lastSeen for id; idempotent and safe under concurrent Get
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastSeen = s.now()
	}
}

// Remove deletes a session and returns it, closing its transport if present
func (s *Store) Remove(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.State = StateClosing
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok && sess.Transport != nil {
		_ = sess.Transport.Close()
		sess.State = StateClosed
	}
	return sess, ok
}

// All returns a snapshot of every currently active session, for broadcasting
// a server-initiated notification to every live transport
func (s *Store) All() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// Size returns the current number of active sessions
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Clear removes and closes every session, used on server shutdown
func (s *Store) Clear() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Remove(id)
	}
}

// EvictExpired removes every session idle past IdleTTL, returning the count
func (s *Store) EvictExpired() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.LastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Remove(id)
	}
	return len(expired)
}

// evictOldest removes the single least-recently-seen session, ties broken
// by map iteration order (deterministic only in the sense that some single
// entry is always chosen, per §5). Returns false if the store is empty.
func (s *Store) evictOldest() bool {
	s.mu.Lock()
	var oldestID string
	var oldestSeen time.Time
	first := true
	for id, sess := range s.sessions {
		if first || sess.LastSeen.Before(oldestSeen) {
			oldestID = id
			oldestSeen = sess.LastSeen
			first = false
		}
	}
	s.mu.Unlock()

	if first {
		return false
	}
	s.Remove(oldestID)
	return true
}

// NegotiateProtocolVersion resolves the mcp-protocol-version header per
// §4.8/§6: empty → default; known → passthrough; unknown → a ValidationError
// the caller maps to -32600.
func (s *Store) NegotiateProtocolVersion(header string) (string, error) {
	if header == "" {
		return s.defaultVersion, nil
	}
	if !s.supportedVersions[header] {
		return "", perr.Validationf("unsupported MCP-Protocol-Version %q", header)
	}
	return header, nil
}

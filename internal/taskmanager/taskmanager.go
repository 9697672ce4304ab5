// Package taskmanager implements the in-flight long-running task registry
// of §4.10: owner-scoped TTL, cursor-paginated listing, and exactly-once
// terminal-transition notification via waiter channels.
package taskmanager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"
	"time"

	perr "fetchmcp/internal/platform/errors"

	"github.com/google/uuid"
)

// State is a task's lifecycle state
type State string

const (
	StateWorking       State = "working"
	StateInputRequired State = "input_required"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// IsTerminal reports whether s is one of {completed, failed, cancelled}
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Task is one registry record
type Task struct {
	ID        string
	Owner     string
	State     State
	Result    any
	Error     string
	CreatedAt time.Time
	ExpiresAt time.Time

	waiters []chan State
}

// Options configures a Manager
type Options struct {
	MaxTotal    int
	MaxPerOwner int
	DefaultTTL  time.Duration
}

// Manager owns the task registry
type Manager struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	perOwner    map[string]int
	maxTotal    int
	maxPerOwner int
	defaultTTL  time.Duration
	now         func() time.Time
}

// New constructs a Manager
func New(opts Options) *Manager {
	if opts.MaxTotal <= 0 {
		opts.MaxTotal = 10000
	}
	if opts.MaxPerOwner <= 0 {
		opts.MaxPerOwner = 100
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	return &Manager{
		tasks:       make(map[string]*Task),
		perOwner:    make(map[string]int),
		maxTotal:    opts.MaxTotal,
		maxPerOwner: opts.MaxPerOwner,
		defaultTTL:  opts.DefaultTTL,
		now:         time.Now,
	}
}

// CreateTask reserves a slot for owner and registers a new working task. ttl
// of zero uses the manager's DefaultTTL.
func (m *Manager) CreateTask(owner string, ttl time.Duration) (*Task, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tasks) >= m.maxTotal {
		return nil, perr.ServerBusyf("task registry at capacity")
	}
	if m.perOwner[owner] >= m.maxPerOwner {
		return nil, perr.ServerBusyf("owner %q at task capacity", owner)
	}

	now := m.now()
	t := &Task{
		ID:        uuid.NewString(),
		Owner:     owner,
		State:     StateWorking,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	m.tasks[t.ID] = t
	m.perOwner[owner]++
	return t, nil
}

// snapshot returns a value copy of t safe to hand to callers outside the lock
func snapshot(t *Task) Task {
	cp := *t
	cp.waiters = nil
	return cp
}

// GetTask returns a task by id; if owner is non-empty it must match the
// task's owner. An expired task is treated as not found.
func (m *Manager) GetTask(id, owner string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, perr.NotFoundf("task %s not found", id)
	}
	if owner != "" && t.Owner != owner {
		return Task{}, perr.NotFoundf("task %s not found", id)
	}
	if m.now().After(t.ExpiresAt) {
		return Task{}, perr.NotFoundf("task %s not found", id)
	}
	return snapshot(t), nil
}

// UpdateTask applies patch fields to a non-terminal task; it is a silent
// no-op once the task has reached a terminal state, per §4.10. Reaching a
// terminal state here fires any waiters exactly once.
func (m *Manager) UpdateTask(id string, newState State, result any, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return perr.NotFoundf("task %s not found", id)
	}
	if t.State.IsTerminal() {
		return nil
	}

	if newState != "" {
		t.State = newState
	}
	if result != nil {
		t.Result = result
	}
	if errMsg != "" {
		t.Error = errMsg
	}

	if t.State.IsTerminal() {
		m.notifyLocked(t)
	}
	return nil
}

// CancelTask transitions a task to cancelled; fails if it is already
// terminal.
func (m *Manager) CancelTask(id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return perr.NotFoundf("task %s not found", id)
	}
	if owner != "" && t.Owner != owner {
		return perr.NotFoundf("task %s not found", id)
	}
	if t.State.IsTerminal() {
		return perr.Validationf("task %s already in terminal state %s", id, t.State)
	}

	t.State = StateCancelled
	m.notifyLocked(t)
	return nil
}

// notifyLocked wakes every waiter exactly once. Caller must hold m.mu.
func (m *Manager) notifyLocked(t *Task) {
	for _, ch := range t.waiters {
		ch <- t.State
		close(ch)
	}
	t.waiters = nil
}

// WaitForTerminalTask blocks until id reaches a terminal state, ctx is
// cancelled, or ctx's deadline expires (whichever first), per §4.10.
func (m *Manager) WaitForTerminalTask(ctx context.Context, id, owner string) (Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || (owner != "" && t.Owner != owner) {
		m.mu.Unlock()
		return Task{}, perr.NotFoundf("task %s not found", id)
	}
	if t.State.IsTerminal() {
		out := snapshot(t)
		m.mu.Unlock()
		return out, nil
	}
	ch := make(chan State, 1)
	t.waiters = append(t.waiters, ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return m.GetTask(id, owner)
	case <-ctx.Done():
		return Task{}, perr.Abortedf("wait for task %s cancelled", id)
	}
}

// cursor is the decoded form of a listTasks pagination token
type cursor struct {
	LastID string `json:"lastId"`
}

func encodeCursor(c cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return c, perr.Validationf("invalid cursor")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, perr.Validationf("invalid cursor")
	}
	return c, nil
}

// ListTasks returns a page of owner's tasks ordered by id, plus an opaque
// cursor for the next page (empty once exhausted). limit defaults to 50.
func (m *Manager) ListTasks(owner, rawCursor string, limit int) ([]Task, string, error) {
	if limit <= 0 {
		limit = 50
	}
	after := ""
	if rawCursor != "" {
		c, err := decodeCursor(rawCursor)
		if err != nil {
			return nil, "", err
		}
		after = c.LastID
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id, t := range m.tasks {
		if owner == "" || t.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if after != "" {
		idx := sort.SearchStrings(ids, after)
		if idx < len(ids) && ids[idx] == after {
			idx++
		}
		start = idx
	}

	var page []Task
	end := start
	for end < len(ids) && len(page) < limit {
		page = append(page, snapshot(m.tasks[ids[end]]))
		end++
	}
	m.mu.Unlock()

	next := ""
	if end < len(ids) {
		var err error
		next, err = encodeCursor(cursor{LastID: ids[end-1]})
		if err != nil {
			return nil, "", err
		}
	}
	return page, next, nil
}

// EvictExpired removes every task past its TTL, releasing its owner slot
func (m *Manager) EvictExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, t := range m.tasks {
		if now.After(t.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		t := m.tasks[id]
		delete(m.tasks, id)
		m.perOwner[t.Owner]--
		if m.perOwner[t.Owner] <= 0 {
			delete(m.perOwner, t.Owner)
		}
	}
	return len(expired)
}

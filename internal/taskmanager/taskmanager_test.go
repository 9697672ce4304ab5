package taskmanager

import (
	"context"
	"regexp"
	"testing"
	"time"

	perr "fetchmcp/internal/platform/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cursorPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+={0,2}$`)

func TestManager_CreateGetTask(t *testing.T) {
	t.Parallel()
	m := New(Options{})

	task, err := m.CreateTask("alice", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StateWorking, task.State)

	got, err := m.GetTask(task.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
}

func TestManager_GetTaskWrongOwnerNotFound(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	task, err := m.CreateTask("alice", time.Minute)
	require.NoError(t, err)

	_, err = m.GetTask(task.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeNotFound, perr.CodeOf(err))
}

func TestManager_MaxPerOwnerExhausted(t *testing.T) {
	t.Parallel()
	m := New(Options{MaxPerOwner: 1})
	_, err := m.CreateTask("alice", time.Minute)
	require.NoError(t, err)

	_, err = m.CreateTask("alice", time.Minute)
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeServerBusy, perr.CodeOf(err))
}

func TestManager_UpdateTaskNoOpAfterTerminal(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	task, _ := m.CreateTask("alice", time.Minute)

	require.NoError(t, m.UpdateTask(task.ID, StateCompleted, "done", ""))
	require.NoError(t, m.UpdateTask(task.ID, StateFailed, nil, "should not apply"))

	got, _ := m.GetTask(task.ID, "")
	want := Task{ID: task.ID, Owner: "alice", State: StateCompleted, Result: "done", Error: ""}
	opts := cmp.Options{cmpopts.IgnoreFields(Task{}, "CreatedAt", "ExpiresAt"), cmpopts.IgnoreUnexported(Task{})}
	if diff := cmp.Diff(want, got, opts); diff != "" {
		t.Errorf("task mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_CancelTaskFailsWhenAlreadyTerminal(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	task, _ := m.CreateTask("alice", time.Minute)
	require.NoError(t, m.UpdateTask(task.ID, StateCompleted, nil, ""))

	err := m.CancelTask(task.ID, "alice")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
}

func TestManager_WaitForTerminalTaskResolvesOnUpdate(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	task, _ := m.CreateTask("alice", time.Minute)

	done := make(chan Task, 1)
	go func() {
		got, err := m.WaitForTerminalTask(context.Background(), task.ID, "alice")
		require.NoError(t, err)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.UpdateTask(task.ID, StateCompleted, "ok", ""))

	select {
	case got := <-done:
		assert.Equal(t, StateCompleted, got.State)
	case <-time.After(time.Second):
		t.Fatal("waiter did not resolve")
	}
}

func TestManager_WaitForTerminalTaskRespectsCancellation(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	task, _ := m.CreateTask("alice", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.WaitForTerminalTask(ctx, task.ID, "alice")
	require.Error(t, err)
	assert.Equal(t, perr.ErrorCodeAborted, perr.CodeOf(err))
}

func TestManager_ListTasksPaginates(t *testing.T) {
	t.Parallel()
	m := New(Options{})
	for i := 0; i < 5; i++ {
		_, err := m.CreateTask("alice", time.Minute)
		require.NoError(t, err)
	}

	page1, cursor1, err := m.ListTasks("alice", "", 2)
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	require.NotEmpty(t, cursor1)
	assert.True(t, cursorPattern.MatchString(cursor1))
	assert.LessOrEqual(t, len(cursor1), 256)

	page2, cursor2, err := m.ListTasks("alice", cursor1, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	require.NotEmpty(t, cursor2)

	page3, cursor3, err := m.ListTasks("alice", cursor2, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Empty(t, cursor3, "cursor is empty once the listing is exhausted")

	seen := map[string]bool{}
	for _, pg := range [][]Task{page1, page2, page3} {
		for _, tk := range pg {
			assert.False(t, seen[tk.ID], "no task repeated across pages")
			seen[tk.ID] = true
		}
	}
	assert.Len(t, seen, 5)
}

func TestManager_EvictExpiredFreesOwnerSlot(t *testing.T) {
	t.Parallel()
	m := New(Options{MaxPerOwner: 1})
	task, err := m.CreateTask("alice", time.Minute)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n := m.EvictExpired()
	assert.Equal(t, 1, n)

	_, err = m.GetTask(task.ID, "alice")
	require.Error(t, err)

	_, err = m.CreateTask("alice", time.Minute)
	require.NoError(t, err, "owner slot must be freed after eviction")
}

package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andywolf/borg/internal/modes"
	"github.com/andywolf/borg/internal/store"
)

type fakeBackend struct {
	output  string
	success bool
	err     error
	calls   int
}

func (f *fakeBackend) RunPhase(ctx context.Context, cfg modes.PhaseConfig, pctx BackendPhaseContext) (BackendPhaseOutput, error) {
	f.calls++
	if f.err != nil {
		return BackendPhaseOutput{}, f.err
	}
	return BackendPhaseOutput{Output: f.output, Success: f.success}, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOrderTasksForDispatchPrioritizesRebaseOverSpec(t *testing.T) {
	tasks := []store.Task{
		{ID: 1, Status: "spec"},
		{ID: 2, Status: "rebase"},
		{ID: 3, Status: "impl"},
		{ID: 4, Status: "lint_fix"},
	}
	orderTasksForDispatch(tasks)
	want := []int64{2, 3, 4, 1}
	for i, id := range want {
		if tasks[i].ID != id {
			t.Fatalf("expected order %v, got %v", want, taskIDs(tasks))
		}
	}
}

func taskIDs(tasks []store.Task) []int64 {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func TestTickAdvancesLawborgTaskThroughReviewToDone(t *testing.T) {
	db := openTestStore(t)
	backend := &fakeBackend{output: "draft text", success: true}
	s := New(db, Config{MaxAgents: 4}, backend, nil, nil)

	id, err := db.InsertTask(store.Task{
		Title: "Draft a memo", RepoPath: t.TempDir(), Status: "draft",
		MaxAttempts: 2, Mode: "lawborg",
	})
	require.NoError(t, err)

	ctx := context.Background()
	s.Tick(ctx)
	waitForInFlightDrain(t, s)

	task, err := db.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, "review", task.Status)

	s.Tick(ctx)
	waitForInFlightDrain(t, s)

	task, err = db.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, "done", task.Status)
	require.Equal(t, 2, backend.calls)
}

func TestFailOrRetryMarksFailedAfterMaxAttempts(t *testing.T) {
	db := openTestStore(t)
	s := New(db, Config{MaxAgents: 4}, &fakeBackend{}, nil, nil)

	id, err := db.InsertTask(store.Task{
		Title: "t", RepoPath: t.TempDir(), Status: "impl", MaxAttempts: 1, Mode: "sweborg",
	})
	require.NoError(t, err)
	task, err := db.GetTask(id)
	require.NoError(t, err)

	require.NoError(t, s.failOrRetry(task, "impl", "boom"))
	task, err = db.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, "failed", task.Status)
	require.Equal(t, "boom", task.LastError)
}

func TestFailOrRetryRequeuesBelowMaxAttempts(t *testing.T) {
	db := openTestStore(t)
	s := New(db, Config{MaxAgents: 4}, &fakeBackend{}, nil, nil)

	id, err := db.InsertTask(store.Task{
		Title: "t", RepoPath: t.TempDir(), Status: "impl", MaxAttempts: 3, Mode: "sweborg",
	})
	require.NoError(t, err)
	task, err := db.GetTask(id)
	require.NoError(t, err)

	require.NoError(t, s.failOrRetry(task, "impl", "boom"))
	task, err = db.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, "impl", task.Status)
	require.Equal(t, 1, task.Attempt)
}

// waitForInFlightDrain polls briefly for the scheduler's detached
// dispatch goroutines to finish, since Tick returns before they do.
func waitForInFlightDrain(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.activeCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for in-flight tasks to drain")
}

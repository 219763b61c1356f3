package swarm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/workspace"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	paths, err := store.NewPaths(t.TempDir())
	require.NoError(t, err)
	return NewStore(store.New(paths))
}

func saveWorker(t *testing.T, s *Store, id, role string) {
	t.Helper()
	require.NoError(t, s.SaveWorker(context.Background(), "acme", "core", &Worker{ID: id, Role: role}))
}

// === Plan ===

func TestGetPlan_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPlan("acme", "core")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdatePlan_CreatesWithDefaults(t *testing.T) {
	s := newTestStore(t)

	plan, err := s.UpdatePlan(context.Background(), "acme", "core", func(p *Plan, exists bool) error {
		require.False(t, exists)
		p.Session = "acme-core"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, PlanRunning, plan.Status)
	require.Equal(t, "acme-core", plan.Session)
	require.NotNil(t, plan.Workers)
	require.Empty(t, plan.Workers)
	require.NotEmpty(t, plan.CreatedAt)
	require.NotEmpty(t, plan.UpdatedAt)
}

func TestUpdatePlan_MutatesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdatePlan(ctx, "acme", "core", func(p *Plan, exists bool) error {
		p.Workers = []string{"w1", "w2"}
		return nil
	})
	require.NoError(t, err)

	plan, err := s.UpdatePlan(ctx, "acme", "core", func(p *Plan, exists bool) error {
		require.True(t, exists)
		p.CurrentWave = 2
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, plan.CurrentWave)
	require.Equal(t, []string{"w1", "w2"}, plan.Workers)
}

func TestUpdatePlan_Validation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdatePlan(context.Background(), "acme", "bad team", func(p *Plan, exists bool) error {
		return nil
	})
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

func TestRecordMerge_SuccessStaysRunning(t *testing.T) {
	s := newTestStore(t)

	report := &workspace.MergeReport{
		Status: workspace.MergeSuccess,
		Wave:   1,
		Merged: []string{"w1", "w2"},
	}
	require.NoError(t, s.RecordMerge(context.Background(), "acme", "core", report))

	plan, err := s.GetPlan("acme", "core")
	require.NoError(t, err)
	require.Equal(t, PlanRunning, plan.Status)
	require.False(t, plan.Paused)
	require.NotNil(t, plan.LastMerge)
	require.Equal(t, []string{"w1", "w2"}, plan.LastMerge.Merged)
}

func TestRecordMerge_ConflictPauses(t *testing.T) {
	s := newTestStore(t)

	report := &workspace.MergeReport{
		Status:        workspace.MergeConflict,
		Wave:          1,
		ConflictAt:    "w1",
		ConflictFiles: []string{"main.go"},
	}
	require.NoError(t, s.RecordMerge(context.Background(), "acme", "core", report))

	plan, err := s.GetPlan("acme", "core")
	require.NoError(t, err)
	require.Equal(t, PlanPaused, plan.Status)
	require.True(t, plan.Paused)
	require.Equal(t, "w1", plan.LastMerge.ConflictAt)
}

// === Workers ===

func TestSaveWorker_Defaults(t *testing.T) {
	s := newTestStore(t)

	w := Worker{ID: "w1", Role: "builder", Pane: 2}
	require.NoError(t, s.SaveWorker(context.Background(), "acme", "core", &w))
	require.Equal(t, WorkerIdle, w.Status)
	require.NotEmpty(t, w.CreatedAt)

	got, err := s.GetWorker("acme", "core", "w1")
	require.NoError(t, err)
	require.Equal(t, "builder", got.Role)
	require.Equal(t, 2, got.Pane)
	require.NotNil(t, got.TasksCompleted)
	require.Empty(t, got.TasksCompleted)
}

func TestSaveWorker_DuplicateRejected(t *testing.T) {
	s := newTestStore(t)

	saveWorker(t, s, "w1", "builder")
	err := s.SaveWorker(context.Background(), "acme", "core", &Worker{ID: "w1"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestGetWorker_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorker("acme", "core", "w9")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateWorker_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.UpdateWorker(context.Background(), "acme", "core", "w9", func(w *Worker) error {
		return nil
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListWorkers_NumericOrder(t *testing.T) {
	s := newTestStore(t)

	saveWorker(t, s, "w10", "builder")
	saveWorker(t, s, "w2", "builder")
	saveWorker(t, s, "w1", "reviewer")

	workers, skipped, err := s.ListWorkers("acme", "core")
	require.NoError(t, err)
	require.Zero(t, skipped)

	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	require.Equal(t, []string{"w1", "w2", "w10"}, ids)
}

func TestListWorkers_SkipsCorrupt(t *testing.T) {
	s := newTestStore(t)

	saveWorker(t, s, "w1", "builder")
	dir := s.st.Paths().WorkersDir("acme", "core")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w2.json"), []byte("{not json"), 0600))

	workers, skipped, err := s.ListWorkers("acme", "core")
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Len(t, workers, 1)
	require.Equal(t, "w1", workers[0].ID)
}

func TestListWorkers_MissingDirIsEmpty(t *testing.T) {
	s := newTestStore(t)

	workers, skipped, err := s.ListWorkers("acme", "core")
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Empty(t, workers)
}

// === Heartbeat ===

func TestHeartbeat_StampOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveWorker(t, s, "w1", "builder")
	taskID := "t1"
	_, err := s.Heartbeat(ctx, "acme", "core", "w1", &taskID)
	require.NoError(t, err)

	w, err := s.Heartbeat(ctx, "acme", "core", "w1", nil)
	require.NoError(t, err)
	require.NotEmpty(t, w.LastHeartbeat)
	require.Equal(t, WorkerWorking, w.Status)
	require.NotNil(t, w.CurrentTask)
	require.Equal(t, "t1", *w.CurrentTask)
}

func TestHeartbeat_TakesTask(t *testing.T) {
	s := newTestStore(t)

	saveWorker(t, s, "w1", "builder")
	taskID := "t1"
	w, err := s.Heartbeat(context.Background(), "acme", "core", "w1", &taskID)
	require.NoError(t, err)
	require.Equal(t, WorkerWorking, w.Status)
	require.Equal(t, "t1", *w.CurrentTask)
}

func TestHeartbeat_ClearsTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveWorker(t, s, "w1", "builder")
	taskID := "t1"
	_, err := s.Heartbeat(ctx, "acme", "core", "w1", &taskID)
	require.NoError(t, err)

	empty := ""
	w, err := s.Heartbeat(ctx, "acme", "core", "w1", &empty)
	require.NoError(t, err)
	require.Equal(t, WorkerIdle, w.Status)
	require.Nil(t, w.CurrentTask)
}

// === Completion ===

func TestRecordCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveWorker(t, s, "w1", "builder")
	taskID := "t1"
	_, err := s.Heartbeat(ctx, "acme", "core", "w1", &taskID)
	require.NoError(t, err)

	w, err := s.RecordCompletion(ctx, "acme", "core", "w1", "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, w.TasksCompleted)
	require.Nil(t, w.CurrentTask)
	require.Equal(t, WorkerIdle, w.Status)
}

func TestRecordCompletion_Dedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saveWorker(t, s, "w1", "builder")
	_, err := s.RecordCompletion(ctx, "acme", "core", "w1", "t1")
	require.NoError(t, err)
	w, err := s.RecordCompletion(ctx, "acme", "core", "w1", "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, w.TasksCompleted)
}

func TestRecordCompletion_EmptyTaskRejected(t *testing.T) {
	s := newTestStore(t)

	saveWorker(t, s, "w1", "builder")
	_, err := s.RecordCompletion(context.Background(), "acme", "core", "w1", "")
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

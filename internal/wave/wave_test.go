package wave

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/task"
)

func newTestCalc(t *testing.T) (*Calculator, *task.Store) {
	t.Helper()
	paths, err := store.NewPaths(t.TempDir())
	require.NoError(t, err)
	st := store.New(paths)
	tasks := task.NewStore(st)
	return NewCalculator(st, tasks), tasks
}

func mkTask(t *testing.T, tasks *task.Store, id string, deps ...string) {
	t.Helper()
	_, err := tasks.Create(context.Background(), task.TeamScope("acme", "core"), task.CreateParams{
		ID: id, Title: "work on " + id, BlockedBy: deps,
	})
	require.NoError(t, err)
}

func simpleTask(id string, deps ...string) task.Task {
	return task.Task{ID: id, BlockedBy: deps}
}

// === Layering ===

func TestLayer_LinearChain(t *testing.T) {
	layering, err := Layer([]task.Task{
		simpleTask("t3", "t2"),
		simpleTask("t1"),
		simpleTask("t2", "t1"),
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"t1"}, {"t2"}, {"t3"}}, layering.Waves)
	require.Empty(t, layering.Warnings)
}

func TestLayer_Diamond(t *testing.T) {
	layering, err := Layer([]task.Task{
		simpleTask("t1"),
		simpleTask("t2", "t1"),
		simpleTask("t3", "t1"),
		simpleTask("t4", "t2", "t3"),
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"t1"}, {"t2", "t3"}, {"t4"}}, layering.Waves)
}

func TestLayer_CycleDetected(t *testing.T) {
	_, err := Layer([]task.Task{
		simpleTask("t1", "t3"),
		simpleTask("t2", "t1"),
		simpleTask("t3", "t2"),
	})
	require.ErrorIs(t, err, ErrCycleDetected)
	require.Contains(t, err.Error(), "t1, t2, t3")
}

func TestLayer_PartialCycle(t *testing.T) {
	_, err := Layer([]task.Task{
		simpleTask("t0"),
		simpleTask("t1", "t2"),
		simpleTask("t2", "t1"),
	})
	require.ErrorIs(t, err, ErrCycleDetected)
	require.Contains(t, err.Error(), "t1, t2")
	require.NotContains(t, err.Error(), "t0")
}

func TestLayer_UnknownBlockerWarns(t *testing.T) {
	layering, err := Layer([]task.Task{
		simpleTask("t1", "ghost"),
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"t1"}}, layering.Waves)
	require.Len(t, layering.Warnings, 1)
	require.Contains(t, layering.Warnings[0], "ghost")
}

func TestLayer_Empty(t *testing.T) {
	layering, err := Layer(nil)
	require.NoError(t, err)
	require.Empty(t, layering.Waves)
}

func TestLayer_Property(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(r, "n")
		tasks := make([]task.Task, n)
		for i := 0; i < n; i++ {
			var deps []string
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(r, "edge") {
					deps = append(deps, fmt.Sprintf("t%02d", j))
				}
			}
			tasks[i] = task.Task{ID: fmt.Sprintf("t%02d", i), BlockedBy: deps}
		}

		layering, err := Layer(tasks)
		require.NoError(r, err)

		waveOf := map[string]int{}
		for k, ids := range layering.Waves {
			for _, id := range ids {
				waveOf[id] = k + 1
			}
		}
		require.Len(r, waveOf, n, "every task placed exactly once")
		for _, tk := range tasks {
			for _, dep := range tk.BlockedBy {
				require.Less(r, waveOf[dep], waveOf[tk.ID], "blockers precede dependents")
			}
		}

		// Input order must not affect the layering.
		shuffled := make([]task.Task, n)
		copy(shuffled, tasks)
		for i := range shuffled {
			j := rapid.IntRange(0, i).Draw(r, "swap")
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}
		again, err := Layer(shuffled)
		require.NoError(r, err)
		require.Equal(r, layering.Waves, again.Waves)
	})
}

// === Calculate ===

func TestCalculate_PersistsPlan(t *testing.T) {
	calc, tasks := newTestCalc(t)
	mkTask(t, tasks, "t1")
	mkTask(t, tasks, "t2", "t1")

	plan, warnings, err := calc.Calculate(context.Background(), "acme", "core")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, 2, plan.TotalWaves)
	require.Equal(t, 1, plan.CurrentWave)
	require.Equal(t, []string{"t1"}, plan.Waves[0].Tasks)
	require.Equal(t, []string{"t2"}, plan.Waves[1].Tasks)
	require.Equal(t, StatusPlanning, plan.Waves[0].Status)

	stored, err := calc.Get("acme", "core")
	require.NoError(t, err)
	require.Equal(t, plan, stored)
}

func TestCalculate_Idempotent(t *testing.T) {
	calc, tasks := newTestCalc(t)
	mkTask(t, tasks, "t1")
	mkTask(t, tasks, "t2", "t1")

	_, _, err := calc.Calculate(context.Background(), "acme", "core")
	require.NoError(t, err)
	path := calc.st.Paths().WavesFile("acme", "core")
	before, err := calc.st.Read(path)
	require.NoError(t, err)

	_, _, err = calc.Calculate(context.Background(), "acme", "core")
	require.NoError(t, err)
	after, err := calc.st.Read(path)
	require.NoError(t, err)
	require.Equal(t, before, after, "recalculation over the same input is byte-identical")
}

func TestCalculate_PreservesUnchangedWaveStatus(t *testing.T) {
	calc, tasks := newTestCalc(t)
	ctx := context.Background()
	mkTask(t, tasks, "t1")
	mkTask(t, tasks, "t2", "t1")
	_, _, err := calc.Calculate(ctx, "acme", "core")
	require.NoError(t, err)

	_, err = calc.UpdateWave(ctx, "acme", "core", 1, StatusInProgress)
	require.NoError(t, err)

	// A new task in wave 2 resets that wave but leaves wave 1 alone.
	mkTask(t, tasks, "t3", "t1")
	plan, _, err := calc.Calculate(ctx, "acme", "core")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, plan.Waves[0].Status)
	require.NotNil(t, plan.Waves[0].StartedAt)
	require.Equal(t, []string{"t2", "t3"}, plan.Waves[1].Tasks)
	require.Equal(t, StatusPlanning, plan.Waves[1].Status)
}

func TestCalculate_Cycle(t *testing.T) {
	calc, tasks := newTestCalc(t)
	mkTask(t, tasks, "t1", "t3")
	mkTask(t, tasks, "t2", "t1")
	mkTask(t, tasks, "t3", "t2")

	_, _, err := calc.Calculate(context.Background(), "acme", "core")
	require.ErrorIs(t, err, ErrCycleDetected)
}

func TestCalculate_EmptyTaskSet(t *testing.T) {
	calc, _ := newTestCalc(t)
	plan, _, err := calc.Calculate(context.Background(), "acme", "core")
	require.NoError(t, err)
	require.Zero(t, plan.TotalWaves)
	require.Zero(t, plan.CurrentWave)
	require.Empty(t, plan.Waves)
}

// === UpdateWave ===

func TestUpdateWave_StampsTimestamps(t *testing.T) {
	paths, err := store.NewPaths(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	st := store.New(paths, store.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	calc := NewCalculator(st, task.NewStore(st))
	ctx := context.Background()
	_, err = task.NewStore(st).Create(ctx, task.TeamScope("acme", "core"), task.CreateParams{ID: "t1", Title: "t"})
	require.NoError(t, err)
	_, _, err = calc.Calculate(ctx, "acme", "core")
	require.NoError(t, err)

	plan, err := calc.UpdateWave(ctx, "acme", "core", 1, StatusInProgress)
	require.NoError(t, err)
	first := *plan.Waves[0].StartedAt

	plan, err = calc.UpdateWave(ctx, "acme", "core", 1, StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, plan.Waves[0].CompletedAt)
	require.Zero(t, plan.CurrentWave, "single wave done")

	// Backward motion is allowed and re-stamps on re-entry.
	plan, err = calc.UpdateWave(ctx, "acme", "core", 1, StatusInProgress)
	require.NoError(t, err)
	require.Equal(t, 1, plan.CurrentWave)
	require.NotEqual(t, first, *plan.Waves[0].StartedAt)
}

func TestUpdateWave_AdvancesCurrent(t *testing.T) {
	calc, tasks := newTestCalc(t)
	ctx := context.Background()
	mkTask(t, tasks, "t1")
	mkTask(t, tasks, "t2", "t1")
	_, _, err := calc.Calculate(ctx, "acme", "core")
	require.NoError(t, err)

	plan, err := calc.UpdateWave(ctx, "acme", "core", 1, StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, 2, plan.CurrentWave)

	plan, err = calc.UpdateWave(ctx, "acme", "core", 2, StatusVerified)
	require.NoError(t, err)
	require.Zero(t, plan.CurrentWave)
}

func TestUpdateWave_Validation(t *testing.T) {
	calc, tasks := newTestCalc(t)
	ctx := context.Background()

	_, err := calc.UpdateWave(ctx, "acme", "core", 1, StatusCompleted)
	require.ErrorIs(t, err, store.ErrNotFound, "no plan yet")

	mkTask(t, tasks, "t1")
	_, _, err = calc.Calculate(ctx, "acme", "core")
	require.NoError(t, err)

	_, err = calc.UpdateWave(ctx, "acme", "core", 9, StatusCompleted)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = calc.UpdateWave(ctx, "acme", "core", 1, Status("shipped"))
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

// === Field extraction ===

func TestGetField(t *testing.T) {
	calc, tasks := newTestCalc(t)
	mkTask(t, tasks, "t1")
	_, _, err := calc.Calculate(context.Background(), "acme", "core")
	require.NoError(t, err)

	v, err := calc.GetField("acme", "core", "waves.0.tasks.0")
	require.NoError(t, err)
	require.Equal(t, "t1", v)

	v, err = calc.GetField("acme", "core", "current_wave")
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

package wave

import (
	"context"
	"fmt"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/task"
)

// Calculator derives and persists the wave plan for a project/team.
type Calculator struct {
	st    *store.Store
	tasks *task.Store
}

// NewCalculator creates a calculator over the atomic store and task store.
func NewCalculator(st *store.Store, tasks *task.Store) *Calculator {
	return &Calculator{st: st, tasks: tasks}
}

// Calculate recomputes the layering from the current task set and persists
// it. Waves whose task lists are unchanged keep their status and
// timestamps, so recomputation over the same input is byte-identical.
func (c *Calculator) Calculate(ctx context.Context, project, team string) (*Plan, []string, error) {
	scope := task.TeamScope(project, team)
	tasks, skipped, err := c.tasks.List(scope, task.Filter{})
	if err != nil {
		return nil, nil, err
	}
	layering, err := Layer(tasks)
	if err != nil {
		return nil, nil, err
	}
	warnings := layering.Warnings
	if skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("skipped %d unreadable task files", skipped))
	}

	path := c.st.Paths().WavesFile(project, team)
	var result *Plan
	err = store.Update(ctx, c.st, path, func(prev *Plan, exists bool) error {
		plan := Plan{TotalWaves: len(layering.Waves), Waves: make([]Wave, 0, len(layering.Waves))}
		for i, taskIDs := range layering.Waves {
			w := Wave{ID: i + 1, Status: StatusPlanning, Tasks: taskIDs}
			if exists {
				if old := prev.wave(w.ID); old != nil && sameTasks(old.Tasks, taskIDs) {
					w.Status = old.Status
					w.StartedAt = old.StartedAt
					w.CompletedAt = old.CompletedAt
					w.VerifiedAt = old.VerifiedAt
				}
			}
			plan.Waves = append(plan.Waves, w)
		}
		plan.recomputeCurrent()
		*prev = plan
		result = prev
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info(log.CatWave, "waves calculated", "project", project, "team", team,
		"waves", result.TotalWaves, "tasks", len(tasks))
	return result, warnings, nil
}

// Get returns the persisted wave plan.
func (c *Calculator) Get(project, team string) (*Plan, error) {
	doc, err := store.ReadJSON[Plan](c.st, c.st.Paths().WavesFile(project, team))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetField returns a dotted sub-path of the wave plan.
func (c *Calculator) GetField(project, team, fieldPath string) (any, error) {
	doc, err := c.Get(project, team)
	if err != nil {
		return nil, err
	}
	return store.ExtractFrom(doc, fieldPath)
}

// UpdateWave moves one wave to a new status, stamping the state's timestamp
// on entry. Backward moves are allowed; re-entering a state re-stamps it.
func (c *Calculator) UpdateWave(ctx context.Context, project, team string, waveID int, target Status) (*Plan, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown wave status %q", store.ErrInvalidValue, target)
	}
	path := c.st.Paths().WavesFile(project, team)
	var result *Plan
	err := store.Update(ctx, c.st, path, func(plan *Plan, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: no wave plan for %s/%s", store.ErrNotFound, project, team)
		}
		w := plan.wave(waveID)
		if w == nil {
			return fmt.Errorf("%w: wave %d of %d", store.ErrNotFound, waveID, plan.TotalWaves)
		}
		if w.Status != target {
			w.Status = target
			now := c.st.Stamp()
			switch target {
			case StatusInProgress:
				w.StartedAt = &now
			case StatusCompleted:
				w.CompletedAt = &now
			case StatusVerified:
				w.VerifiedAt = &now
			}
			plan.recomputeCurrent()
			log.Info(log.CatWave, "wave status changed", "project", project, "team", team,
				"wave", waveID, "status", target)
		}
		result = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func sameTasks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package wave layers the task dependency graph into execution waves:
// every task in wave k has all of its blockers in waves before k, so the
// tasks of one wave can run concurrently.
package wave

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zjrosen/ultrawork/internal/task"
)

// ErrCycleDetected is returned when the blocked_by graph contains a cycle.
var ErrCycleDetected = errors.New("cycle detected")

// Status is the lifecycle state of one wave.
type Status string

const (
	StatusPlanning   Status = "planning"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
)

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanning, StatusInProgress, StatusCompleted, StatusVerified:
		return true
	}
	return false
}

// Done reports whether the wave needs no further execution.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusVerified
}

// Wave is one layer of mutually independent tasks.
type Wave struct {
	ID          int      `json:"id"`
	Status      Status   `json:"status"`
	Tasks       []string `json:"tasks"`
	StartedAt   *string  `json:"started_at"`
	CompletedAt *string  `json:"completed_at"`
	VerifiedAt  *string  `json:"verified_at"`
}

// Plan is the persisted wave layering for a project/team.
type Plan struct {
	TotalWaves  int    `json:"total_waves"`
	CurrentWave int    `json:"current_wave"`
	Waves       []Wave `json:"waves"`
}

// recomputeCurrent sets current_wave to the smallest wave still needing
// work, or 0 when every wave is done or none exist.
func (p *Plan) recomputeCurrent() {
	p.CurrentWave = 0
	for _, w := range p.Waves {
		if !w.Status.Done() {
			p.CurrentWave = w.ID
			return
		}
	}
}

// wave returns the wave with the given id, or nil.
func (p *Plan) wave(id int) *Wave {
	for i := range p.Waves {
		if p.Waves[i].ID == id {
			return &p.Waves[i]
		}
	}
	return nil
}

// Layering is the pure result of ordering a task set.
type Layering struct {
	Waves    [][]string
	Warnings []string
}

// Layer runs Kahn's algorithm over the tasks' blocked_by edges. Blockers
// that name no known task are treated as satisfied and reported as
// warnings. A cycle surfaces as ErrCycleDetected naming the residual ids.
func Layer(tasks []task.Task) (Layering, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	var warnings []string
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
		indegree[t.ID] = 0
		for _, dep := range t.BlockedBy {
			if !known[dep] {
				warnings = append(warnings,
					fmt.Sprintf("task %s references unknown blocker %s; treating it as satisfied", t.ID, dep))
				continue
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}
	sort.Strings(ids)

	var level []string
	for _, id := range ids {
		if indegree[id] == 0 {
			level = append(level, id)
		}
	}

	var waves [][]string
	placed := 0
	for len(level) > 0 {
		sort.Strings(level)
		waves = append(waves, level)
		placed += len(level)

		var next []string
		for _, id := range level {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		level = next
	}

	if placed < len(tasks) {
		var residual []string
		for _, id := range ids {
			if indegree[id] > 0 {
				residual = append(residual, id)
			}
		}
		return Layering{}, fmt.Errorf("%w: unresolvable dependencies among %s",
			ErrCycleDetected, strings.Join(residual, ", "))
	}
	return Layering{Waves: waves, Warnings: warnings}, nil
}

package swarm

import (
	"github.com/zjrosen/ultrawork/internal/workspace"
)

// PlanStatus is the lifecycle of a swarm.
type PlanStatus string

const (
	PlanRunning PlanStatus = "running"
	PlanStopped PlanStatus = "stopped"
	PlanPaused  PlanStatus = "paused"
)

// Plan is the stored swarm document. The worker list is advisory;
// concurrent spawns may overwrite it, so worker files stay authoritative.
type Plan struct {
	Session     string                 `json:"session"`
	Status      PlanStatus             `json:"status"`
	Workers     []string               `json:"workers"`
	CurrentWave int                    `json:"current_wave"`
	Paused      bool                   `json:"paused"`
	UseWorktree bool                   `json:"use_worktree"`
	SourceDir   string                 `json:"source_dir"`
	LastMerge   *workspace.MergeReport `json:"last_merge,omitempty"`
	CreatedAt   string                 `json:"created_at"`
	UpdatedAt   string                 `json:"updated_at"`
}

// WorkerStatus is a worker's advertised state.
type WorkerStatus string

const (
	WorkerIdle     WorkerStatus = "idle"
	WorkerWorking  WorkerStatus = "working"
	WorkerNotFound WorkerStatus = "not_found"
	WorkerUnknown  WorkerStatus = "unknown"
)

// Valid reports whether the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerIdle, WorkerWorking, WorkerNotFound, WorkerUnknown:
		return true
	}
	return false
}

// Worker is one worker's state file. The controller writes everything
// except tasks_completed, current_task, and last_heartbeat, which the
// worker maintains under its own file lock.
type Worker struct {
	ID             string       `json:"id"`
	Role           string       `json:"role"`
	Pane           int          `json:"pane"`
	Worktree       *string      `json:"worktree"`
	Branch         string       `json:"branch,omitempty"`
	SessionID      string       `json:"session_id,omitempty"`
	Status         WorkerStatus `json:"status"`
	CurrentTask    *string      `json:"current_task"`
	TasksCompleted []string     `json:"tasks_completed"`
	LastHeartbeat  string       `json:"last_heartbeat,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
	CreatedAt      string       `json:"created_at"`
	UpdatedAt      string       `json:"updated_at"`
}

// WorkerView is a worker decorated with pane-host liveness.
type WorkerView struct {
	Worker
	Alive bool `json:"alive"`
}

// StatusView is the swarm status: the advisory plan plus the
// authoritative worker files in numeric id order.
type StatusView struct {
	Plan    *Plan        `json:"plan,omitempty"`
	Workers []WorkerView `json:"workers"`
	Skipped int          `json:"skipped,omitempty"`
}

package swarm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/workspace"
)

// Store persists the swarm plan and the per-worker state files.
type Store struct {
	st *store.Store
}

// Compile-time check that merge outcomes can be recorded into the plan.
var _ workspace.PlanRecorder = (*Store)(nil)

// NewStore creates a swarm store over the atomic store.
func NewStore(st *store.Store) *Store {
	return &Store{st: st}
}

func validateTeam(project, team string) error {
	if err := store.ValidateProject(project); err != nil {
		return err
	}
	return store.ValidateID("team", team)
}

// GetPlan reads the swarm plan.
func (s *Store) GetPlan(project, team string) (*Plan, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	path := s.st.Paths().SwarmFile(project, team)
	if !s.st.Exists(path) {
		return nil, fmt.Errorf("%w: swarm plan for %s/%s", store.ErrNotFound, project, team)
	}
	doc, err := store.ReadJSON[Plan](s.st, path)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdatePlan applies mutate to the plan under its lock, creating the
// document when absent. Timestamps are maintained here.
func (s *Store) UpdatePlan(ctx context.Context, project, team string, mutate func(p *Plan, exists bool) error) (*Plan, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	path := s.st.Paths().SwarmFile(project, team)
	now := s.st.Stamp()
	var updated Plan
	err := store.Update(ctx, s.st, path, func(p *Plan, exists bool) error {
		if !exists {
			p.Status = PlanRunning
			p.Workers = []string{}
			p.CreatedAt = now
		}
		if err := mutate(p, exists); err != nil {
			return err
		}
		if p.Workers == nil {
			p.Workers = []string{}
		}
		p.UpdatedAt = now
		updated = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// RecordMerge stores the merge report on the plan. A conflict pauses the
// swarm until the operator resumes it.
func (s *Store) RecordMerge(ctx context.Context, project, team string, report *workspace.MergeReport) error {
	_, err := s.UpdatePlan(ctx, project, team, func(p *Plan, exists bool) error {
		p.LastMerge = report
		if report.Status == workspace.MergeConflict {
			p.Paused = true
			p.Status = PlanPaused
		}
		return nil
	})
	if err != nil {
		return err
	}
	if report.Status == workspace.MergeConflict {
		log.Warn(log.CatSwarm, "swarm paused on merge conflict",
			"project", project, "team", team, "worker", report.ConflictAt)
	}
	return nil
}

// GetWorker reads one worker's state file.
func (s *Store) GetWorker(project, team, id string) (*Worker, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	if err := store.ValidateID("worker", id); err != nil {
		return nil, err
	}
	path := s.st.Paths().WorkerFile(project, team, id)
	if !s.st.Exists(path) {
		return nil, fmt.Errorf("%w: worker %s in %s/%s", store.ErrNotFound, id, project, team)
	}
	doc, err := store.ReadJSON[Worker](s.st, path)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListWorkers scans the workers directory, skipping unreadable files. The
// skipped count is returned alongside workers in numeric id order.
func (s *Store) ListWorkers(project, team string) ([]Worker, int, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, 0, err
	}
	dir := s.st.Paths().WorkersDir(project, team)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Worker{}, 0, nil
		}
		return nil, 0, fmt.Errorf("reading workers directory: %w", err)
	}

	workers := []Worker{}
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := store.ReadJSON[Worker](s.st, filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped++
			log.Warn(log.CatSwarm, "skipping unreadable worker file",
				"file", entry.Name(), "error", err)
			continue
		}
		workers = append(workers, doc)
	}
	sort.Slice(workers, func(a, b int) bool {
		return workspace.LessWorkerID(workers[a].ID, workers[b].ID)
	})
	return workers, skipped, nil
}

// SaveWorker writes a fresh worker file. An existing file is an error;
// worker ids are allocated once per spawn.
func (s *Store) SaveWorker(ctx context.Context, project, team string, w *Worker) error {
	if err := validateTeam(project, team); err != nil {
		return err
	}
	if err := store.ValidateID("worker", w.ID); err != nil {
		return err
	}
	now := s.st.Stamp()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.Status == "" {
		w.Status = WorkerIdle
	}
	if w.TasksCompleted == nil {
		w.TasksCompleted = []string{}
	}
	path := s.st.Paths().WorkerFile(project, team, w.ID)
	return store.Create(ctx, s.st, path, *w)
}

// UpdateWorker applies mutate to a worker file under its lock.
func (s *Store) UpdateWorker(ctx context.Context, project, team, id string, mutate func(w *Worker) error) (*Worker, error) {
	if err := validateTeam(project, team); err != nil {
		return nil, err
	}
	if err := store.ValidateID("worker", id); err != nil {
		return nil, err
	}
	path := s.st.Paths().WorkerFile(project, team, id)
	var updated Worker
	err := store.Update(ctx, s.st, path, func(w *Worker, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: worker %s in %s/%s", store.ErrNotFound, id, project, team)
		}
		if err := mutate(w); err != nil {
			return err
		}
		if w.TasksCompleted == nil {
			w.TasksCompleted = []string{}
		}
		w.UpdatedAt = s.st.Stamp()
		updated = *w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Heartbeat is the worker-side liveness write: it stamps last_heartbeat
// and optionally moves the current task. An empty task clears it.
func (s *Store) Heartbeat(ctx context.Context, project, team, worker string, task *string) (*Worker, error) {
	return s.UpdateWorker(ctx, project, team, worker, func(w *Worker) error {
		w.LastHeartbeat = s.st.Stamp()
		if task == nil {
			return nil
		}
		if *task == "" {
			w.CurrentTask = nil
			w.Status = WorkerIdle
		} else {
			t := *task
			w.CurrentTask = &t
			w.Status = WorkerWorking
		}
		return nil
	})
}

// RecordCompletion appends a finished task to the worker's tally and
// returns it to idle.
func (s *Store) RecordCompletion(ctx context.Context, project, team, worker, taskID string) (*Worker, error) {
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id must not be empty", store.ErrInvalidValue)
	}
	return s.UpdateWorker(ctx, project, team, worker, func(w *Worker) error {
		for _, done := range w.TasksCompleted {
			if done == taskID {
				return nil
			}
		}
		w.TasksCompleted = append(w.TasksCompleted, taskID)
		if w.CurrentTask != nil && *w.CurrentTask == taskID {
			w.CurrentTask = nil
		}
		w.Status = WorkerIdle
		return nil
	})
}

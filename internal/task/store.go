package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
)

// Store persists one JSON file per task inside a scope's tasks directory.
type Store struct {
	st       *store.Store
	onMutate func(Scope)
}

// Option configures the store.
type Option func(*Store)

// WithMutationHook registers a callback invoked after every successful
// mutation, keyed by the mutated scope. The project view uses it to drop
// its stats cache.
func WithMutationHook(fn func(Scope)) Option {
	return func(s *Store) { s.onMutate = fn }
}

// NewStore creates a task store over the atomic store.
func NewStore(st *store.Store, opts ...Option) *Store {
	s := &Store{st: st}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) notifyMutation(scope Scope) {
	if s.onMutate != nil {
		s.onMutate(scope)
	}
}

func (s *Store) taskFile(scope Scope, taskID string) string {
	return store.TaskFileIn(scope.Dir(s.st.Paths()), taskID)
}

// CreateParams carries the caller-settable fields of a new task.
type CreateParams struct {
	ID          string
	Title       string
	Description string
	Role        string
	Domain      string
	Complexity  Complexity
	BlockedBy   []string
	Criteria    []string
}

// Create writes a new open task. The id must be unused within the scope.
func (s *Store) Create(ctx context.Context, scope Scope, p CreateParams) (*Task, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := store.ValidateID("task", p.ID); err != nil {
		return nil, err
	}
	if p.Title == "" {
		return nil, fmt.Errorf("%w: task title must not be empty", store.ErrInvalidValue)
	}
	if p.Complexity == "" {
		p.Complexity = ComplexityStandard
	}
	if !p.Complexity.Valid() {
		return nil, fmt.Errorf("%w: unknown complexity %q", store.ErrInvalidValue, p.Complexity)
	}
	if !ValidDomain(p.Domain) {
		return nil, fmt.Errorf("%w: unknown domain %q", store.ErrInvalidValue, p.Domain)
	}
	blockedBy := dedupe(p.BlockedBy)
	for _, dep := range blockedBy {
		if dep == p.ID {
			return nil, fmt.Errorf("%w: task %s cannot block on itself", store.ErrInvalidValue, p.ID)
		}
	}
	criteria := p.Criteria
	if criteria == nil {
		criteria = []string{}
	}

	now := s.st.Stamp()
	doc := Task{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Role:        p.Role,
		Domain:      p.Domain,
		Complexity:  p.Complexity,
		Status:      StatusOpen,
		BlockedBy:   blockedBy,
		Criteria:    criteria,
		Evidence:    []string{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Create(ctx, s.st, s.taskFile(scope, p.ID), doc); err != nil {
		return nil, err
	}
	log.Info(log.CatTask, "task created", "scope", scope.String(), "task", p.ID)
	s.notifyMutation(scope)
	return &doc, nil
}

// Get returns the task document.
func (s *Store) Get(scope Scope, taskID string) (*Task, error) {
	doc, err := store.ReadJSON[Task](s.st, s.taskFile(scope, taskID))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetField returns a dotted sub-path of the task document.
func (s *Store) GetField(scope Scope, taskID, fieldPath string) (any, error) {
	doc, err := s.Get(scope, taskID)
	if err != nil {
		return nil, err
	}
	return store.ExtractFrom(doc, fieldPath)
}

// Filter narrows List output. Zero values match everything.
type Filter struct {
	Status Status
	Role   string
	// Available selects open tasks with no owner.
	Available bool
	Wave      *int
}

func (f Filter) matches(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Role != "" && t.Role != f.Role {
		return false
	}
	if f.Available && (t.Status != StatusOpen || t.ClaimedBy != nil) {
		return false
	}
	if f.Wave != nil && (t.Wave == nil || *t.Wave != *f.Wave) {
		return false
	}
	return true
}

// List scans the scope's tasks directory, skipping files that fail to parse.
// The skipped count is returned alongside the id-sorted matches.
func (s *Store) List(scope Scope, filter Filter) ([]Task, int, error) {
	if err := scope.Validate(); err != nil {
		return nil, 0, err
	}
	dir := scope.Dir(s.st.Paths())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Task{}, 0, nil
		}
		return nil, 0, fmt.Errorf("reading tasks directory: %w", err)
	}

	tasks := []Task{}
	skipped := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		doc, err := store.ReadJSON[Task](s.st, filepath.Join(dir, name))
		if err != nil {
			skipped++
			log.Warn(log.CatTask, "skipping unreadable task file", "scope", scope.String(), "file", name, "error", err)
			continue
		}
		if filter.matches(&doc) {
			tasks = append(tasks, doc)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, skipped, nil
}

// Claim takes ownership of a task. A task held by another owner fails with
// AlreadyClaimed; reclaiming one's own in_progress task succeeds without a
// version bump. Otherwise the status must admit claims, and under strict
// role matching the claimer's role must equal the task's.
func (s *Store) Claim(ctx context.Context, scope Scope, taskID, owner, role string, strict bool) (*Task, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: claim requires an owner", store.ErrInvalidValue)
	}
	path := s.taskFile(scope, taskID)
	var result *Task
	mutated := false
	err := store.Update(ctx, s.st, path, func(doc *Task, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: task %s in %s", store.ErrNotFound, taskID, scope)
		}
		if doc.ClaimedBy != nil && *doc.ClaimedBy != owner {
			return fmt.Errorf("%w: task %s is held by %s", ErrAlreadyClaimed, taskID, *doc.ClaimedBy)
		}
		if doc.ClaimedBy != nil && doc.Status == StatusInProgress {
			// Same owner re-claiming in-flight work.
			result = doc
			return nil
		}
		if !doc.Status.Claimable() {
			return fmt.Errorf("%w: task %s is %s", ErrNotClaimable, taskID, doc.Status)
		}
		if strict && doc.Role != "" && role != doc.Role {
			return fmt.Errorf("%w: task %s wants role %s, claimer has %q", ErrRoleMismatch, taskID, doc.Role, role)
		}
		now := s.st.Stamp()
		doc.ClaimedBy = &owner
		doc.ClaimedAt = &now
		doc.Status = StatusInProgress
		doc.Version++
		doc.UpdatedAt = now
		mutated = true
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mutated {
		log.Info(log.CatTask, "task claimed", "scope", scope.String(), "task", taskID, "owner", owner)
		s.notifyMutation(scope)
	}
	return result, nil
}

// Patch is a partial task update.
type Patch struct {
	Status      *Status
	Title       *string
	Description *string
	Wave        *int
}

// Update applies a patch under lock, bumping version once when anything
// changed. A field-identical patch leaves the document byte-identical.
func (s *Store) Update(ctx context.Context, scope Scope, taskID string, patch Patch) (*Task, error) {
	path := s.taskFile(scope, taskID)
	var result *Task
	mutated := false
	err := store.Update(ctx, s.st, path, func(doc *Task, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: task %s in %s", store.ErrNotFound, taskID, scope)
		}
		changed := false
		if patch.Status != nil {
			moved, err := doc.applyStatus(*patch.Status)
			if err != nil {
				return err
			}
			changed = changed || moved
		}
		if patch.Title != nil && *patch.Title != doc.Title {
			if *patch.Title == "" {
				return fmt.Errorf("%w: task title must not be empty", store.ErrInvalidValue)
			}
			doc.Title = *patch.Title
			changed = true
		}
		if patch.Description != nil && *patch.Description != doc.Description {
			doc.Description = *patch.Description
			changed = true
		}
		if patch.Wave != nil {
			if *patch.Wave < 1 {
				return fmt.Errorf("%w: wave must be positive", store.ErrInvalidValue)
			}
			if doc.Wave == nil || *doc.Wave != *patch.Wave {
				doc.Wave = patch.Wave
				changed = true
			}
		}
		if changed {
			doc.Version++
			doc.UpdatedAt = s.st.Stamp()
			mutated = true
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mutated {
		log.Debug(log.CatTask, "task updated", "scope", scope.String(), "task", taskID, "status", result.Status)
		s.notifyMutation(scope)
	}
	return result, nil
}

// Release drops ownership and reopens the task so it can be claimed again.
func (s *Store) Release(ctx context.Context, scope Scope, taskID string) (*Task, error) {
	path := s.taskFile(scope, taskID)
	var result *Task
	mutated := false
	err := store.Update(ctx, s.st, path, func(doc *Task, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: task %s in %s", store.ErrNotFound, taskID, scope)
		}
		if doc.ClaimedBy == nil && doc.Status != StatusInProgress {
			result = doc
			return nil
		}
		doc.clearClaim()
		doc.Status = StatusOpen
		doc.Version++
		doc.UpdatedAt = s.st.Stamp()
		mutated = true
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mutated {
		log.Info(log.CatTask, "task released", "scope", scope.String(), "task", taskID)
		s.notifyMutation(scope)
	}
	return result, nil
}

// AppendEvidence appends one evidence string. Allowed in any status, even
// resolved.
func (s *Store) AppendEvidence(ctx context.Context, scope Scope, taskID, text string) (*Task, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: evidence must not be empty", store.ErrInvalidValue)
	}
	path := s.taskFile(scope, taskID)
	var result *Task
	err := store.Update(ctx, s.st, path, func(doc *Task, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: task %s in %s", store.ErrNotFound, taskID, scope)
		}
		doc.Evidence = append(doc.Evidence, text)
		doc.Version++
		doc.UpdatedAt = s.st.Stamp()
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyMutation(scope)
	return result, nil
}

// Delete removes an open task. Tasks that other tasks block on are refused
// unless force is set; the forced path returns the orphaned dependent ids.
func (s *Store) Delete(ctx context.Context, scope Scope, taskID string, force bool) ([]string, error) {
	path := s.taskFile(scope, taskID)
	var orphaned []string
	err := s.st.WithLock(ctx, path, func() error {
		doc, err := store.ReadJSON[Task](s.st, path)
		if err != nil {
			return err
		}
		if doc.Status != StatusOpen {
			return fmt.Errorf("%w: task %s is %s", ErrNotDeletable, taskID, doc.Status)
		}
		dependents, err := s.dependentsOf(scope, taskID)
		if err != nil {
			return err
		}
		if len(dependents) > 0 && !force {
			return fmt.Errorf("%w: task %s blocks %s", ErrHasDependents, taskID, strings.Join(dependents, ", "))
		}
		orphaned = dependents
		return s.st.Remove(path)
	})
	if err != nil {
		return nil, err
	}
	log.Info(log.CatTask, "task deleted", "scope", scope.String(), "task", taskID, "orphaned", len(orphaned))
	s.notifyMutation(scope)
	return orphaned, nil
}

// dependentsOf lists tasks whose blocked_by references the id.
func (s *Store) dependentsOf(scope Scope, taskID string) ([]string, error) {
	all, _, err := s.List(scope, Filter{})
	if err != nil {
		return nil, err
	}
	var dependents []string
	for _, other := range all {
		if other.ID == taskID {
			continue
		}
		for _, dep := range other.BlockedBy {
			if dep == taskID {
				dependents = append(dependents, other.ID)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents, nil
}

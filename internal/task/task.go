// Package task stores units of work as one JSON file per task under a
// project/team or session scope, with claim-based ownership and a status
// ladder driven by the retry loop.
package task

import (
	"errors"
	"fmt"

	"github.com/zjrosen/ultrawork/internal/store"
)

var (
	// ErrNotClaimable is returned when a claim targets a task whose status
	// does not admit new owners.
	ErrNotClaimable = errors.New("task not claimable")
	// ErrAlreadyClaimed is returned when a claim races another owner.
	ErrAlreadyClaimed = errors.New("task already claimed")
	// ErrRoleMismatch is returned by strict claims whose role differs from
	// the task's.
	ErrRoleMismatch = errors.New("role mismatch")
	// ErrNotDeletable is returned when delete targets a non-open task.
	ErrNotDeletable = errors.New("task not deletable")
	// ErrHasDependents is returned when delete would orphan blocked tasks.
	ErrHasDependents = errors.New("task has dependents")
)

// Status is the task lifecycle state.
type Status string

const (
	// StatusOpen means the task is unclaimed and workable.
	StatusOpen Status = "open"
	// StatusInProgress means an owner holds the task.
	StatusInProgress Status = "in_progress"
	// StatusResolved means the work is done; only evidence may still be
	// appended.
	StatusResolved Status = "resolved"
	// StatusFailed means the last attempt was rejected.
	StatusFailed Status = "failed"
	// StatusPending means the retry loop requeued the task for another
	// attempt.
	StatusPending Status = "pending"
)

// validStatusTransitions is the status ladder. Entry into in_progress
// happens through claim, never through a bare status patch.
var validStatusTransitions = map[Status]map[Status]bool{
	StatusOpen:       {StatusInProgress: true},
	StatusInProgress: {StatusResolved: true, StatusFailed: true, StatusOpen: true},
	StatusFailed:     {StatusPending: true, StatusOpen: true},
	StatusPending:    {StatusInProgress: true, StatusOpen: true},
	StatusResolved:   {},
}

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	_, ok := validStatusTransitions[s]
	return ok
}

// CanTransitionTo reports whether the ladder admits the move.
func (s Status) CanTransitionTo(target Status) bool {
	return validStatusTransitions[s][target]
}

// Claimable reports whether a claim may take the task.
func (s Status) Claimable() bool {
	return s == StatusOpen || s == StatusPending
}

// Complexity is the closed effort estimate.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// Valid reports whether the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexityStandard, ComplexityComplex:
		return true
	}
	return false
}

// validDomains is the closed set of work areas a task may be tagged with.
var validDomains = map[string]bool{
	"backend":  true,
	"frontend": true,
	"infra":    true,
	"testing":  true,
	"docs":     true,
	"data":     true,
	"general":  true,
}

// ValidDomain reports whether the domain tag is known. Empty is allowed.
func ValidDomain(d string) bool {
	return d == "" || validDomains[d]
}

// Task is one unit of work.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Role        string     `json:"role,omitempty"`
	Domain      string     `json:"domain,omitempty"`
	Complexity  Complexity `json:"complexity"`
	Status      Status     `json:"status"`
	BlockedBy   []string   `json:"blocked_by"`
	Criteria    []string   `json:"criteria"`
	Evidence    []string   `json:"evidence"`
	ClaimedBy   *string    `json:"claimed_by"`
	ClaimedAt   *string    `json:"claimed_at"`
	Wave        *int       `json:"wave"`
	Version     int        `json:"version"`
	RetryCount  int        `json:"retry_count"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// clearClaim drops ownership, keeping the claimed_by iff in_progress
// invariant when the status leaves in_progress.
func (t *Task) clearClaim() {
	t.ClaimedBy = nil
	t.ClaimedAt = nil
}

// applyStatus moves the task along the ladder. Same-status moves report no
// change; entry into in_progress is reserved for claim.
func (t *Task) applyStatus(target Status) (bool, error) {
	if !target.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", store.ErrInvalidValue, target)
	}
	if t.Status == target {
		return false, nil
	}
	if target == StatusInProgress {
		return false, fmt.Errorf("%w: %s -> %s requires a claim",
			store.ErrIllegalTransition, t.Status, target)
	}
	if !t.Status.CanTransitionTo(target) {
		return false, fmt.Errorf("%w: %s -> %s", store.ErrIllegalTransition, t.Status, target)
	}
	if t.Status == StatusInProgress {
		t.clearClaim()
	}
	if target == StatusFailed {
		t.RetryCount++
	}
	t.Status = target
	return true, nil
}

// dedupe removes blank and repeated ids, preserving first-seen order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Package session implements the session store: the per-invocation document
// of the plan/execute/verify pipeline, its phase and exploration-stage state
// machines, and the append-only evidence log.
package session

import (
	"encoding/json"
	"fmt"

	"github.com/zjrosen/ultrawork/internal/store"
)

// SchemaVersion tags session documents.
const SchemaVersion = "1"

// DefaultMaxIterations bounds execute-verify retries when options omit it.
const DefaultMaxIterations = 5

// Phase is a session's position in the pipeline.
type Phase string

const (
	// PhasePlanning indicates the session is gathering context and
	// producing a plan.
	PhasePlanning Phase = "PLANNING"
	// PhaseExecution indicates the plan is being carried out.
	PhaseExecution Phase = "EXECUTION"
	// PhaseVerification indicates execution output is being checked.
	PhaseVerification Phase = "VERIFICATION"
	// PhaseComplete indicates the session finished successfully.
	PhaseComplete Phase = "COMPLETE"
	// PhaseCancelled indicates the session was cancelled by the user.
	PhaseCancelled Phase = "CANCELLED"
	// PhaseFailed indicates verification rejected the work with the retry
	// budget exhausted.
	PhaseFailed Phase = "FAILED"
)

// phaseTransitions defines the allowed phase moves. The key is the current
// phase, the value the set of valid targets. Gated edges (retry, skip-verify,
// plan-only) are additionally checked against session options.
var phaseTransitions = map[Phase]map[Phase]bool{
	PhasePlanning: {
		PhaseExecution: true,
		PhaseComplete:  true, // plan_only sessions stop here
		PhaseCancelled: true,
	},
	PhaseExecution: {
		PhaseVerification: true,
		PhaseComplete:     true, // skip_verify sessions stop here
		PhaseCancelled:    true,
	},
	PhaseVerification: {
		PhaseComplete:  true,
		PhaseExecution: true, // retry, gated by the iteration budget
		PhaseFailed:    true,
		PhaseCancelled: true,
	},
	PhaseComplete:  {},
	PhaseCancelled: {},
	PhaseFailed:    {},
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseTransitions[p]
	return ok
}

// IsTerminal reports whether no further pipeline work happens in this phase.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseCancelled || p == PhaseFailed
}

// CanTransitionTo reports whether the phase machine allows p -> target.
func (p Phase) CanTransitionTo(target Phase) bool {
	allowed, ok := phaseTransitions[p]
	if !ok {
		return false
	}
	return allowed[target]
}

// Stage is a session's exploration progress.
type Stage string

const (
	StageNotStarted Stage = "not_started"
	StageOverview   Stage = "overview"
	StageAnalyzing  Stage = "analyzing"
	StageTargeted   Stage = "targeted"
	StageComplete   Stage = "complete"
)

// stageOrder positions each stage on the exploration chain.
var stageOrder = map[Stage]int{
	StageNotStarted: 0,
	StageOverview:   1,
	StageAnalyzing:  2,
	StageTargeted:   3,
	StageComplete:   4,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// CanAdvanceTo reports whether the stage chain allows s -> target. Forward
// motion is one step at a time; backward motion is allowed only when
// resuming, to recompute missing work.
func (s Stage) CanAdvanceTo(target Stage, resuming bool) bool {
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[target]
	if !ok {
		return false
	}
	if to == from+1 || to == from {
		return true
	}
	return resuming && to < from
}

// Options is the closed option set carried by a session.
type Options struct {
	MaxWorkers    int  `json:"max_workers"`
	MaxIterations int  `json:"max_iterations"`
	SkipVerify    bool `json:"skip_verify"`
	PlanOnly      bool `json:"plan_only"`
	AutoMode      bool `json:"auto_mode"`
	UseWorktree   bool `json:"use_worktree"`
}

// normalize fills defaulted fields.
func (o Options) normalize() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	return o
}

// Plan records plan approval.
type Plan struct {
	ApprovedAt *string `json:"approved_at"`
}

// Evidence is one append-only record in the session's evidence log.
type Evidence struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Session is the per-invocation pipeline document.
type Session struct {
	SessionID        string     `json:"session_id"`
	Version          string     `json:"version"`
	Goal             string     `json:"goal"`
	WorkingDir       string     `json:"working_dir"`
	Phase            Phase      `json:"phase"`
	ExplorationStage Stage      `json:"exploration_stage"`
	Iteration        int        `json:"iteration"`
	Options          Options    `json:"options"`
	EvidenceLog      []Evidence `json:"evidence_log"`
	Plan             Plan       `json:"plan"`
	StartedAt        string     `json:"started_at"`
	UpdatedAt        string     `json:"updated_at"`
	CancelledAt      *string    `json:"cancelled_at"`
}

// transitionPhase applies the phase machine with its option gates, mutating
// iteration and cancelled_at as the move requires. A same-phase target is a
// no-op. The returned bool reports whether the document changed.
func (s *Session) transitionPhase(target Phase, now string) (bool, error) {
	if !target.Valid() {
		return false, fmt.Errorf("%w: unknown phase %q", store.ErrInvalidValue, target)
	}
	if s.Phase == target {
		return false, nil
	}
	if !s.Phase.CanTransitionTo(target) {
		return false, fmt.Errorf("%w: %s -> %s", store.ErrIllegalTransition, s.Phase, target)
	}

	switch {
	case s.Phase == PhaseVerification && target == PhaseExecution:
		if s.Iteration >= s.Options.MaxIterations {
			return false, fmt.Errorf("%w: retry budget exhausted (iteration %d of %d)",
				store.ErrIllegalTransition, s.Iteration, s.Options.MaxIterations)
		}
		s.Iteration++
	case s.Phase == PhaseVerification && target == PhaseFailed:
		if s.Iteration < s.Options.MaxIterations {
			return false, fmt.Errorf("%w: %s -> %s with %d of %d iterations remaining",
				store.ErrIllegalTransition, s.Phase, target,
				s.Options.MaxIterations-s.Iteration, s.Options.MaxIterations)
		}
	case s.Phase == PhaseExecution && target == PhaseComplete:
		if !s.Options.SkipVerify {
			return false, fmt.Errorf("%w: %s -> %s requires skip_verify",
				store.ErrIllegalTransition, s.Phase, target)
		}
	case s.Phase == PhasePlanning && target == PhaseComplete:
		if !s.Options.PlanOnly {
			return false, fmt.Errorf("%w: %s -> %s requires plan_only",
				store.ErrIllegalTransition, s.Phase, target)
		}
	}

	s.Phase = target
	if target == PhaseCancelled {
		s.CancelledAt = &now
	}
	return true, nil
}

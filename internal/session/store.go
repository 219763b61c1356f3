package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/ultrawork/internal/explore"
	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
)

// Store persists session documents under <root>/sessions/<id>/.
type Store struct {
	st *store.Store
}

// NewStore creates a session store over the atomic store.
func NewStore(st *store.Store) *Store {
	return &Store{st: st}
}

// InitParams carries session-init inputs.
type InitParams struct {
	SessionID  string
	Goal       string
	WorkingDir string
	Options    Options

	// Force overwrites an active session with the same id.
	Force bool
	// Resume reactivates a cancelled or failed session instead of
	// creating a new one.
	Resume bool
}

// Init creates a new session document plus an empty context document, or
// resumes a terminal one. An active session with the same id fails with
// AlreadyExists unless Force is set.
func (s *Store) Init(ctx context.Context, p InitParams) (*Session, error) {
	if err := store.ValidateID("session", p.SessionID); err != nil {
		return nil, err
	}
	if p.Goal == "" {
		return nil, fmt.Errorf("%w: goal must not be empty", store.ErrInvalidValue)
	}
	if p.WorkingDir == "" {
		return nil, fmt.Errorf("%w: working_dir must not be empty", store.ErrInvalidValue)
	}

	path := s.st.Paths().SessionFile(p.SessionID)
	var result *Session
	err := s.st.WithLock(ctx, path, func() error {
		now := s.st.Stamp()

		if s.st.Exists(path) {
			existing, err := store.ReadJSON[Session](s.st, path)
			if err != nil {
				return err
			}
			switch {
			case p.Resume && (existing.Phase == PhaseCancelled || existing.Phase == PhaseFailed):
				reactivate(&existing, now)
				if err := store.WriteJSON(s.st, path, existing); err != nil {
					return err
				}
				log.Info(log.CatSession, "session resumed", "session", p.SessionID, "phase", existing.Phase)
				result = &existing
				return nil
			case !existing.Phase.IsTerminal() && !p.Force:
				return fmt.Errorf("%w: active session %s (use force to overwrite)",
					store.ErrAlreadyExists, p.SessionID)
			}
		}

		doc := Session{
			SessionID:        p.SessionID,
			Version:          SchemaVersion,
			Goal:             p.Goal,
			WorkingDir:       p.WorkingDir,
			Phase:            PhasePlanning,
			ExplorationStage: StageNotStarted,
			Iteration:        1,
			Options:          p.Options.normalize(),
			EvidenceLog:      []Evidence{},
			StartedAt:        now,
			UpdatedAt:        now,
		}
		if err := store.WriteJSON(s.st, path, doc); err != nil {
			return err
		}
		if err := store.WriteJSON(s.st, s.st.Paths().ContextFile(p.SessionID), explore.NewContext()); err != nil {
			return err
		}
		if err := os.MkdirAll(s.st.Paths().ExplorationDir(p.SessionID), 0750); err != nil {
			return fmt.Errorf("creating exploration directory: %w", err)
		}
		log.Info(log.CatSession, "session initialized", "session", p.SessionID, "goal_len", len(p.Goal))
		result = &doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reactivate returns a terminal session to an active phase. A cancelled
// session without an approved plan restarts planning; otherwise execution
// picks up where the pipeline stopped.
func reactivate(doc *Session, now string) {
	doc.CancelledAt = nil
	switch doc.Phase {
	case PhaseCancelled:
		if doc.Plan.ApprovedAt == nil {
			doc.Phase = PhasePlanning
		} else {
			doc.Phase = PhaseExecution
		}
	case PhaseFailed:
		doc.Phase = PhaseExecution
	}
	doc.UpdatedAt = now
}

// Get returns the session document.
func (s *Store) Get(sessionID string) (*Session, error) {
	doc, err := store.ReadJSON[Session](s.st, s.st.Paths().SessionFile(sessionID))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetField returns a dotted sub-path of the session document.
func (s *Store) GetField(sessionID, fieldPath string) (any, error) {
	doc, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return store.ExtractFrom(doc, fieldPath)
}

// Patch is a partial session update.
type Patch struct {
	Phase        *Phase
	Stage        *Stage
	Iteration    *int
	PlanApproved bool

	// Resuming permits backward exploration-stage motion.
	Resuming bool
}

// Update applies a patch under lock, refreshing updated_at when anything
// changed. A field-identical patch leaves the document byte-identical.
func (s *Store) Update(ctx context.Context, sessionID string, patch Patch) (*Session, error) {
	path := s.st.Paths().SessionFile(sessionID)
	var result *Session
	err := store.Update(ctx, s.st, path, func(doc *Session, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
		}
		now := s.st.Stamp()
		changed := false

		if patch.Phase != nil {
			moved, err := doc.transitionPhase(*patch.Phase, now)
			if err != nil {
				return err
			}
			changed = changed || moved
		}
		if patch.Stage != nil {
			target := *patch.Stage
			if !target.Valid() {
				return fmt.Errorf("%w: unknown exploration stage %q", store.ErrInvalidValue, target)
			}
			if target != doc.ExplorationStage {
				if doc.Phase.IsTerminal() {
					return fmt.Errorf("%w: session %s is %s", store.ErrIllegalTransition, sessionID, doc.Phase)
				}
				if !doc.ExplorationStage.CanAdvanceTo(target, patch.Resuming) {
					return fmt.Errorf("%w: exploration stage %s -> %s",
						store.ErrIllegalTransition, doc.ExplorationStage, target)
				}
				doc.ExplorationStage = target
				changed = true
			}
		}
		if patch.Iteration != nil {
			if *patch.Iteration < 1 {
				return fmt.Errorf("%w: iteration must be positive", store.ErrInvalidValue)
			}
			if *patch.Iteration != doc.Iteration {
				if doc.Phase.IsTerminal() {
					return fmt.Errorf("%w: session %s is %s", store.ErrIllegalTransition, sessionID, doc.Phase)
				}
				doc.Iteration = *patch.Iteration
				changed = true
			}
		}
		if patch.PlanApproved && doc.Plan.ApprovedAt == nil {
			if doc.Phase.IsTerminal() {
				return fmt.Errorf("%w: session %s is %s", store.ErrIllegalTransition, sessionID, doc.Phase)
			}
			doc.Plan.ApprovedAt = &now
			changed = true
		}

		if changed {
			doc.UpdatedAt = now
			log.Debug(log.CatSession, "session updated", "session", sessionID, "phase", doc.Phase, "stage", doc.ExplorationStage)
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel marks the session cancelled. Idempotent: cancelling a cancelled
// session leaves it unchanged.
func (s *Store) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	path := s.st.Paths().SessionFile(sessionID)
	var result *Session
	err := store.Update(ctx, s.st, path, func(doc *Session, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
		}
		if doc.Phase == PhaseCancelled {
			result = doc
			return nil
		}
		now := s.st.Stamp()
		if _, err := doc.transitionPhase(PhaseCancelled, now); err != nil {
			return err
		}
		doc.UpdatedAt = now
		log.Info(log.CatSession, "session cancelled", "session", sessionID)
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resume clears the cancellation marker and returns the session to an
// active phase.
func (s *Store) Resume(ctx context.Context, sessionID string) (*Session, error) {
	path := s.st.Paths().SessionFile(sessionID)
	var result *Session
	err := store.Update(ctx, s.st, path, func(doc *Session, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
		}
		if doc.Phase == PhaseComplete {
			return fmt.Errorf("%w: session %s is COMPLETE", store.ErrIllegalTransition, sessionID)
		}
		reactivate(doc, s.st.Stamp())
		log.Info(log.CatSession, "session resumed", "session", sessionID, "phase", doc.Phase)
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AppendEvidence appends one typed record to the evidence log. The record
// must carry a type; a missing timestamp is filled with now, an explicit one
// must not precede the last logged record.
func (s *Store) AppendEvidence(ctx context.Context, sessionID string, rec Evidence) (*Session, error) {
	if rec.Type == "" {
		return nil, fmt.Errorf("%w: evidence record requires a type", store.ErrInvalidValue)
	}
	path := s.st.Paths().SessionFile(sessionID)
	var result *Session
	err := store.Update(ctx, s.st, path, func(doc *Session, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: session %s", store.ErrNotFound, sessionID)
		}
		if doc.Phase.IsTerminal() {
			return fmt.Errorf("%w: session %s is %s", store.ErrIllegalTransition, sessionID, doc.Phase)
		}
		now := s.st.Stamp()
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.Timestamp == "" {
			rec.Timestamp = now
		} else {
			ts, err := time.Parse(time.RFC3339, rec.Timestamp)
			if err != nil {
				return fmt.Errorf("%w: evidence timestamp %q is not ISO-8601", store.ErrInvalidValue, rec.Timestamp)
			}
			if n := len(doc.EvidenceLog); n > 0 {
				last, err := time.Parse(time.RFC3339, doc.EvidenceLog[n-1].Timestamp)
				if err == nil && ts.Before(last) {
					return fmt.Errorf("%w: evidence timestamp %s precedes the log tail", store.ErrInvalidValue, rec.Timestamp)
				}
			}
		}
		doc.EvidenceLog = append(doc.EvidenceLog, rec)
		doc.UpdatedAt = now
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

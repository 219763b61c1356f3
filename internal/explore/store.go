package explore

import (
	"context"
	"fmt"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
)

// Store persists the context document at <root>/sessions/<id>/context.json.
type Store struct {
	st *store.Store
}

// NewStore creates an exploration store over the atomic store.
func NewStore(st *store.Store) *Store {
	return &Store{st: st}
}

// InitContext overwrites the expected explorer set and resets completion.
// Stored explorer entries survive so a re-plan against the same session does
// not lose summaries already gathered.
func (s *Store) InitContext(ctx context.Context, sessionID string, expected []string) (*Context, error) {
	for _, id := range expected {
		if err := store.ValidateID("explorer", id); err != nil {
			return nil, err
		}
	}
	path := s.st.Paths().ContextFile(sessionID)
	var result *Context
	err := store.Update(ctx, s.st, path, func(doc *Context, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: session %s has no context", store.ErrNotFound, sessionID)
		}
		ensureAllocated(doc)
		doc.ExpectedExplorers = append([]string{}, expected...)
		doc.ExplorationComplete = false
		doc.recomputeComplete()
		log.Info(log.CatSession, "context initialized", "session", sessionID, "expected", len(expected))
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddParams carries one explorer report plus the sets it contributes.
type AddParams struct {
	Explorer    Explorer
	KeyFiles    []string
	Patterns    []string
	Constraints []string
}

// AddExplorer records an explorer summary and folds its sets into the
// context. A repeated id keeps the first entry and reports a warning; the
// sets are merged either way. Completion is recomputed after every call.
func (s *Store) AddExplorer(ctx context.Context, sessionID string, p AddParams) (*Context, []string, error) {
	if err := store.ValidateID("explorer", p.Explorer.ID); err != nil {
		return nil, nil, err
	}
	path := s.st.Paths().ContextFile(sessionID)
	var (
		result   *Context
		warnings []string
	)
	err := store.Update(ctx, s.st, path, func(doc *Context, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: session %s has no context", store.ErrNotFound, sessionID)
		}
		ensureAllocated(doc)
		if doc.explorerIDs()[p.Explorer.ID] {
			w := fmt.Sprintf("explorer %s already recorded; keeping the first entry", p.Explorer.ID)
			warnings = append(warnings, w)
			log.Warn(log.CatSession, "duplicate explorer", "session", sessionID, "explorer", p.Explorer.ID)
		} else {
			doc.Explorers = append(doc.Explorers, p.Explorer)
		}
		doc.KeyFiles = mergeSet(doc.KeyFiles, p.KeyFiles)
		doc.Patterns = mergeSet(doc.Patterns, p.Patterns)
		doc.Constraints = mergeSet(doc.Constraints, p.Constraints)
		doc.recomputeComplete()
		result = doc
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, warnings, nil
}

// Get returns the context document.
func (s *Store) Get(sessionID string) (*Context, error) {
	doc, err := store.ReadJSON[Context](s.st, s.st.Paths().ContextFile(sessionID))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetField returns a dotted sub-path of the context document.
func (s *Store) GetField(sessionID, fieldPath string) (any, error) {
	doc, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return store.ExtractFrom(doc, fieldPath)
}

// ensureAllocated backfills nil collections on documents written by hand.
func ensureAllocated(doc *Context) {
	if doc.ExpectedExplorers == nil {
		doc.ExpectedExplorers = []string{}
	}
	if doc.Explorers == nil {
		doc.Explorers = []Explorer{}
	}
	if doc.KeyFiles == nil {
		doc.KeyFiles = []string{}
	}
	if doc.Patterns == nil {
		doc.Patterns = []string{}
	}
	if doc.Constraints == nil {
		doc.Constraints = []string{}
	}
}

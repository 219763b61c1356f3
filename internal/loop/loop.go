// Package loop tracks continuous-session markers: one document per session
// id advertising that a supervision loop is live for a team. Cleanup removes
// markers together with their session.
package loop

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

// State is one loop marker.
type State struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Team      string `json:"team"`
	Role      string `json:"role,omitempty"`
	Active    bool   `json:"active"`
	StartedAt string `json:"started_at"`
	StoppedAt string `json:"stopped_at,omitempty"`
}

// Store persists loop markers under each team's .loop-state directory.
type Store struct {
	st *store.Store
}

// NewStore creates a loop store over the atomic store.
func NewStore(st *store.Store) *Store {
	return &Store{st: st}
}

func (s *Store) validate(project, team, sessionID string) error {
	if err := store.ValidateProject(project); err != nil {
		return err
	}
	if err := store.ValidateID("team", team); err != nil {
		return err
	}
	return store.ValidateID("session", sessionID)
}

// Start marks the session's loop active, creating the marker when absent.
// Restarting refreshes started_at and clears stopped_at.
func (s *Store) Start(ctx context.Context, project, team, role, sessionID string) (*State, error) {
	if err := s.validate(project, team, sessionID); err != nil {
		return nil, err
	}
	if role != "" {
		if err := store.ValidateID("role", role); err != nil {
			return nil, err
		}
	}
	path := s.st.Paths().LoopStateFile(project, team, sessionID)
	now := s.st.Stamp()
	var result State
	err := store.Update(ctx, s.st, path, func(doc *State, exists bool) error {
		doc.SessionID = sessionID
		doc.Project = project
		doc.Team = team
		doc.Role = role
		doc.Active = true
		doc.StartedAt = now
		doc.StoppedAt = ""
		result = *doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info(log.CatLoop, "loop started", "project", project, "team", team, "session", sessionID)
	return &result, nil
}

// Stop marks the session's loop inactive. Stopping a stopped loop is a
// no-op; a missing marker is NotFound.
func (s *Store) Stop(ctx context.Context, project, team, sessionID string) (*State, error) {
	if err := s.validate(project, team, sessionID); err != nil {
		return nil, err
	}
	path := s.st.Paths().LoopStateFile(project, team, sessionID)
	var result State
	err := store.Update(ctx, s.st, path, func(doc *State, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: loop marker for session %s in %s/%s",
				store.ErrNotFound, sessionID, project, team)
		}
		if doc.Active {
			doc.Active = false
			doc.StoppedAt = s.st.Stamp()
		}
		result = *doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info(log.CatLoop, "loop stopped", "project", project, "team", team, "session", sessionID)
	return &result, nil
}

// Get reads one loop marker.
func (s *Store) Get(project, team, sessionID string) (*State, error) {
	if err := s.validate(project, team, sessionID); err != nil {
		return nil, err
	}
	path := s.st.Paths().LoopStateFile(project, team, sessionID)
	if !s.st.Exists(path) {
		return nil, fmt.Errorf("%w: loop marker for session %s in %s/%s",
			store.ErrNotFound, sessionID, project, team)
	}
	doc, err := store.ReadJSON[State](s.st, path)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Active lists the live markers of a team in session-id order. Unreadable
// markers are skipped.
func (s *Store) Active(project, team string) ([]State, error) {
	if err := store.ValidateProject(project); err != nil {
		return nil, err
	}
	if err := store.ValidateID("team", team); err != nil {
		return nil, err
	}
	dir := s.st.Paths().LoopStateDir(project, team)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []State{}, nil
		}
		return nil, fmt.Errorf("reading loop-state directory: %w", err)
	}

	active := []State{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := store.ReadJSON[State](s.st, filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn(log.CatLoop, "skipping unreadable loop marker",
				"file", entry.Name(), "error", err)
			continue
		}
		if doc.Active {
			active = append(active, doc)
		}
	}
	sort.Slice(active, func(a, b int) bool {
		return active[a].SessionID < active[b].SessionID
	})
	return active, nil
}

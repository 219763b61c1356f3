// Package cleanup prunes session directories from the store. Deletion is
// mode-gated and every removal passes the safety predicate.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/session"
	"github.com/zjrosen/ultrawork/internal/store"
)

// DefaultOlderThanDays is the age threshold applied when no mode is given.
const DefaultOlderThanDays = 7

// Params selects the cleanup mode. The three modes are mutually exclusive;
// with none set, terminal sessions older than DefaultOlderThanDays go.
type Params struct {
	// OlderThanDays deletes terminal sessions older than this many days.
	// Zero means unset.
	OlderThanDays int
	// Completed deletes every terminal session regardless of age.
	Completed bool
	// All deletes every session, active ones included.
	All bool
}

// DeletedSession is one entry of the cleanup report.
type DeletedSession struct {
	SessionID string        `json:"session_id"`
	Goal      string        `json:"goal"`
	Phase     session.Phase `json:"phase"`
	AgeDays   int           `json:"age_days"`
}

// Report summarizes one cleanup run.
type Report struct {
	DeletedCount    int              `json:"deleted_count"`
	DeletedSessions []DeletedSession `json:"deleted_sessions"`
	PreservedCount  int              `json:"preserved_count"`
}

// Manager removes session state that is no longer needed.
type Manager struct {
	st *store.Store
}

// NewManager creates a cleanup manager over the atomic store.
func NewManager(st *store.Store) *Manager {
	return &Manager{st: st}
}

// Run scans the session store and deletes what the mode selects. Unreadable
// session documents are never deleted; they are preserved and tallied.
func (m *Manager) Run(ctx context.Context, p Params) (*Report, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	threshold := time.Duration(p.OlderThanDays) * 24 * time.Hour
	if !p.Completed && !p.All && p.OlderThanDays == 0 {
		threshold = DefaultOlderThanDays * 24 * time.Hour
	}

	report := &Report{DeletedSessions: []DeletedSession{}}
	entries, err := os.ReadDir(m.st.Paths().SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	now := m.st.Now()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sessionID := entry.Name()

		doc, err := store.ReadJSON[session.Session](m.st, m.st.Paths().SessionFile(sessionID))
		if err != nil {
			report.PreservedCount++
			log.Warn(log.CatCleanup, "preserving unreadable session",
				"session", sessionID, "error", err)
			continue
		}

		age := sessionAge(now, doc)
		keep := false
		switch {
		case p.All:
		case p.Completed:
			keep = !doc.Phase.IsTerminal()
		default:
			keep = !doc.Phase.IsTerminal() || age <= threshold
		}
		if keep {
			report.PreservedCount++
			continue
		}

		if err := m.st.Remove(m.st.Paths().SessionDir(sessionID)); err != nil {
			return nil, err
		}
		m.removeLoopMarkers(sessionID)
		report.DeletedSessions = append(report.DeletedSessions, DeletedSession{
			SessionID: sessionID,
			Goal:      doc.Goal,
			Phase:     doc.Phase,
			AgeDays:   int(age.Hours() / 24),
		})
		log.Info(log.CatCleanup, "session deleted",
			"session", sessionID, "phase", doc.Phase, "age_days", int(age.Hours()/24))
	}
	report.DeletedCount = len(report.DeletedSessions)
	return report, nil
}

func (p Params) validate() error {
	modes := 0
	if p.OlderThanDays != 0 {
		if p.OlderThanDays < 0 {
			return fmt.Errorf("%w: older-than must be positive, got %d",
				store.ErrInvalidValue, p.OlderThanDays)
		}
		modes++
	}
	if p.Completed {
		modes++
	}
	if p.All {
		modes++
	}
	if modes > 1 {
		return fmt.Errorf("%w: older-than, completed and all are mutually exclusive",
			store.ErrInvalidValue)
	}
	return nil
}

// sessionAge measures from updated_at, falling back to started_at. An
// unparseable stamp yields zero age, which only the all mode deletes.
func sessionAge(now time.Time, doc session.Session) time.Duration {
	for _, stamp := range []string{doc.UpdatedAt, doc.StartedAt} {
		if stamp == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			continue
		}
		return now.Sub(t)
	}
	return 0
}

// removeLoopMarkers drops the per-team loop-state files naming the session.
// Marker removal is best-effort; the session directory is already gone.
func (m *Manager) removeLoopMarkers(sessionID string) {
	root := m.st.Paths().Root()
	projects, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, project := range projects {
		if !project.IsDir() || project.Name() == "sessions" || project.Name() == "logs" {
			continue
		}
		teams, err := os.ReadDir(filepath.Join(root, project.Name()))
		if err != nil {
			continue
		}
		for _, team := range teams {
			if !team.IsDir() {
				continue
			}
			marker := m.st.Paths().LoopStateFile(project.Name(), team.Name(), sessionID)
			if !m.st.Exists(marker) {
				continue
			}
			if err := m.st.Remove(marker); err != nil {
				log.Warn(log.CatCleanup, "loop marker removal failed",
					"marker", marker, "error", err)
			}
		}
	}
}

package task

import (
	"fmt"

	"github.com/zjrosen/ultrawork/internal/store"
)

// Scope names the container a task set lives in: a project/team pair or a
// session.
type Scope struct {
	project string
	team    string
	session string
}

// TeamScope addresses the task set of a project/team pair.
func TeamScope(project, team string) Scope {
	return Scope{project: project, team: team}
}

// SessionScope addresses the private task set of a session.
func SessionScope(sessionID string) Scope {
	return Scope{session: sessionID}
}

// IsSession reports whether the scope addresses a session task set.
func (sc Scope) IsSession() bool { return sc.session != "" }

// Project returns the project name, empty for session scopes.
func (sc Scope) Project() string { return sc.project }

// Team returns the team name, empty for session scopes.
func (sc Scope) Team() string { return sc.team }

// Validate checks the scope's identifiers.
func (sc Scope) Validate() error {
	if sc.IsSession() {
		return store.ValidateID("session", sc.session)
	}
	if err := store.ValidateProject(sc.project); err != nil {
		return err
	}
	return store.ValidateID("team", sc.team)
}

// Dir resolves the scope's tasks directory.
func (sc Scope) Dir(p *store.Paths) string {
	if sc.IsSession() {
		return p.SessionTasksDir(sc.session)
	}
	return p.TeamTasksDir(sc.project, sc.team)
}

// String renders the scope for diagnostics.
func (sc Scope) String() string {
	if sc.IsSession() {
		return "session " + sc.session
	}
	return fmt.Sprintf("%s/%s", sc.project, sc.team)
}

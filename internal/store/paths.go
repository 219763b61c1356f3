// Package store implements the file-backed coordination substrate: a path
// resolver rooted at a single configurable directory, atomic JSON document
// writes, advisory file locks, and a safety predicate gating every
// destructive operation.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// EnvRoot overrides the store root, primarily for test isolation.
// EnvSessionID names the current session for commands that bind to the
// caller's context.
const (
	EnvRoot      = "ULTRAWORK_ROOT"
	EnvSessionID = "ULTRAWORK_SESSION_ID"
	EnvDebug     = "ULTRAWORK_DEBUG"
)

// sessionsDirName is reserved: projects may not take its name.
const (
	sessionsDirName = "sessions"
	logsDirName     = "logs"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID checks that id is a non-empty filesystem-safe identifier.
func ValidateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidValue, kind)
	}
	if !identPattern.MatchString(id) {
		return fmt.Errorf("%w: %s %q must match %s", ErrInvalidValue, kind, id, identPattern)
	}
	return nil
}

// ValidateProject checks a project name, rejecting reserved directory names.
func ValidateProject(project string) error {
	if err := ValidateID("project", project); err != nil {
		return err
	}
	if project == sessionsDirName || project == logsDirName {
		return fmt.Errorf("%w: project name %q is reserved", ErrInvalidValue, project)
	}
	return nil
}

// Paths maps logical entities (project, team, session, task, worker) to
// canonical filesystem paths under a single root.
type Paths struct {
	root       string
	home       string
	overridden bool // root came from a flag or ULTRAWORK_ROOT
}

// DefaultRoot returns <user-home>/.claude/ultrawork.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "ultrawork"), nil
}

// NewPaths resolves the store root. An empty root falls back to ULTRAWORK_ROOT
// and then to the default under the caller's home directory.
func NewPaths(root string) (*Paths, error) {
	overridden := true
	if root == "" {
		root = os.Getenv(EnvRoot)
	}
	if root == "" {
		def, err := DefaultRoot()
		if err != nil {
			return nil, err
		}
		root = def
		overridden = false
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}
	home, _ := os.UserHomeDir()
	return &Paths{root: filepath.Clean(abs), home: home, overridden: overridden}, nil
}

// Root returns the resolved store root.
func (p *Paths) Root() string { return p.root }

// LogFile returns the debug log location.
func (p *Paths) LogFile() string {
	return filepath.Join(p.root, logsDirName, "ultrawork.log")
}

// --- Session layout ---

// SessionsDir returns the parent of all session directories.
func (p *Paths) SessionsDir() string {
	return filepath.Join(p.root, sessionsDirName)
}

// SessionDir returns the directory owning one session's documents.
func (p *Paths) SessionDir(sessionID string) string {
	return filepath.Join(p.SessionsDir(), sessionID)
}

// SessionFile returns the session document path.
func (p *Paths) SessionFile(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "session.json")
}

// ContextFile returns the exploration context document path.
func (p *Paths) ContextFile(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "context.json")
}

// ExplorationDir holds opaque explorer output files (overview.md, exp-*.md).
func (p *Paths) ExplorationDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "exploration")
}

// SessionTasksDir returns the session-scoped task directory.
func (p *Paths) SessionTasksDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "tasks")
}

// --- Project/team layout ---

// TeamDir returns the directory owning one team's documents.
func (p *Paths) TeamDir(project, team string) string {
	return filepath.Join(p.root, project, team)
}

// ProjectFile returns the project document path.
func (p *Paths) ProjectFile(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), "project.json")
}

// TeamTasksDir returns the project-scoped task directory.
func (p *Paths) TeamTasksDir(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), "tasks")
}

// WavesFile returns the wave plan path.
func (p *Paths) WavesFile(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), "waves.json")
}

// InboxesDir returns the mailbox directory.
func (p *Paths) InboxesDir(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), "inboxes")
}

// InboxFile returns one recipient's inbox path.
func (p *Paths) InboxFile(project, team, recipient string) string {
	return filepath.Join(p.InboxesDir(project, team), recipient+".json")
}

// SwarmDir returns the swarm state directory.
func (p *Paths) SwarmDir(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), "swarm")
}

// SwarmFile returns the swarm plan path.
func (p *Paths) SwarmFile(project, team string) string {
	return filepath.Join(p.SwarmDir(project, team), "swarm.json")
}

// WorkersDir returns the per-worker state directory.
func (p *Paths) WorkersDir(project, team string) string {
	return filepath.Join(p.SwarmDir(project, team), "workers")
}

// WorkerFile returns one worker's state document path.
func (p *Paths) WorkerFile(project, team, workerID string) string {
	return filepath.Join(p.WorkersDir(project, team), workerID+".json")
}

// WorktreesDir returns the parent of all isolated working copies.
func (p *Paths) WorktreesDir(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), "worktrees")
}

// WorktreeDir returns one worker's isolated working copy.
func (p *Paths) WorktreeDir(project, team, workerID string) string {
	return filepath.Join(p.WorktreesDir(project, team), workerID)
}

// LoopStateDir returns the continuous-session marker directory.
func (p *Paths) LoopStateDir(project, team string) string {
	return filepath.Join(p.TeamDir(project, team), ".loop-state")
}

// LoopStateFile returns one session's continuous-session marker.
func (p *Paths) LoopStateFile(project, team, sessionID string) string {
	return filepath.Join(p.LoopStateDir(project, team), sessionID+".json")
}

// TaskFileIn returns the task document path within a tasks directory. Task
// storage is scope-agnostic: the same layout serves sessions and teams.
func TaskFileIn(tasksDir, taskID string) string {
	return filepath.Join(tasksDir, taskID+".json")
}

// canonical resolves symlinks for the longest existing prefix of path and
// cleans the rest, defeating traversal through links and parent references.
func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	abs = filepath.Clean(abs)
	probe := abs
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if len(tail) == 0 {
				return resolved
			}
			parts := append([]string{resolved}, tail...)
			return filepath.Clean(filepath.Join(parts...))
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return abs
		}
		tail = append([]string{filepath.Base(probe)}, tail...)
		probe = parent
	}
}

// relUnder returns target's path relative to root when target is a proper
// descendant of root, after canonicalization.
func relUnder(root, target string) (string, bool) {
	rel, err := filepath.Rel(canonical(root), canonical(target))
	if err != nil {
		return "", false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

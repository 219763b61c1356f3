// Package swarm supervises a team of workers: it spawns panes on the pane
// host, maintains the swarm plan and per-worker state files, watches wave
// progress, and drives the merge protocol between waves.
package swarm

import "errors"

var (
	// ErrSessionNotFound indicates the pane-host session does not exist.
	ErrSessionNotFound = errors.New("pane host session not found")

	// ErrHostUnavailable indicates the pane host itself cannot be reached.
	ErrHostUnavailable = errors.New("pane host unavailable")
)

// PaneHost abstracts the terminal multiplexer workers run in. One session
// per swarm, one pane per worker.
type PaneHost interface {
	HasSession(name string) bool
	// NewSession creates a detached session whose initial pane starts in
	// dir. The initial pane has index 0.
	NewSession(name, dir string) error
	KillSession(name string) error
	// SplitPane adds a pane to the session starting in dir and returns
	// its index.
	SplitPane(session, dir string) (int, error)
	KillPane(session string, pane int) error
	// SendKeys types a command into a pane and submits it.
	SendKeys(session string, pane int, command string) error
	ListPanes(session string) ([]int, error)
}

package swarm

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Compile-time check that Tmux implements PaneHost.
var _ PaneHost = (*Tmux)(nil)

// Tmux implements PaneHost by executing tmux commands.
type Tmux struct{}

// NewTmux creates the tmux-backed pane host.
func NewTmux() *Tmux { return &Tmux{} }

func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseTmuxError(stderrStr, err)
		}
		return "", fmt.Errorf("tmux %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// parseTmuxError converts tmux stderr messages to sentinel errors.
func parseTmuxError(stderr string, originalErr error) error {
	lower := strings.ToLower(stderr)

	if strings.Contains(lower, "no server running") ||
		strings.Contains(lower, "error connecting to") {
		return fmt.Errorf("%w: %s", ErrHostUnavailable, stderr)
	}

	// can't find session / session not found / no such session
	if strings.Contains(lower, "can't find session") ||
		strings.Contains(lower, "session not found") ||
		strings.Contains(lower, "no such session") {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, stderr)
	}

	return fmt.Errorf("tmux error: %s: %w", stderr, originalErr)
}

// HasSession probes for a session by exact name.
func (t *Tmux) HasSession(name string) bool {
	_, err := t.run("has-session", "-t", "="+name)
	return err == nil
}

// NewSession creates a detached session with its initial pane in dir.
func (t *Tmux) NewSession(name, dir string) error {
	args := []string{"new-session", "-d", "-s", name}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	_, err := t.run(args...)
	return err
}

// KillSession tears down the whole session.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", "="+name)
	return err
}

// SplitPane adds a pane to the session's window and reports its index.
func (t *Tmux) SplitPane(session, dir string) (int, error) {
	args := []string{"split-window", "-d", "-t", "=" + session, "-P", "-F", "#{pane_index}"}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	out, err := t.run(args...)
	if err != nil {
		return 0, err
	}
	idx, convErr := strconv.Atoi(out)
	if convErr != nil {
		return 0, fmt.Errorf("parsing pane index %q: %w", out, convErr)
	}
	return idx, nil
}

// KillPane removes one pane from the session.
func (t *Tmux) KillPane(session string, pane int) error {
	_, err := t.run("kill-pane", "-t", fmt.Sprintf("=%s.%d", session, pane))
	return err
}

// SendKeys types a command into a pane and submits it with Enter.
func (t *Tmux) SendKeys(session string, pane int, command string) error {
	target := fmt.Sprintf("=%s.%d", session, pane)
	_, err := t.run("send-keys", "-t", target, command, "Enter")
	return err
}

// ListPanes returns the pane indices of a session, in tmux order.
func (t *Tmux) ListPanes(session string) ([]int, error) {
	out, err := t.run("list-panes", "-s", "-t", "="+session, "-F", "#{pane_index}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var panes []int
	for _, line := range strings.Split(out, "\n") {
		idx, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil {
			continue
		}
		panes = append(panes, idx)
	}
	return panes, nil
}

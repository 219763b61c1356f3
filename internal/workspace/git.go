package workspace

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// Compile-time check that Git implements Provider.
var _ Provider = (*Git)(nil)

// Git implements Provider by executing git commands in the target directory.
type Git struct{}

// NewGit creates the git-backed provider.
func NewGit() *Git { return &Git{} }

func (g *Git) run(dir string, args ...string) error {
	_, err := g.runOutput(dir, args...)
	return err
}

func (g *Git) runOutput(dir string, args ...string) (string, error) {
	full := append([]string{"-C", dir}, args...)
	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.Command("git", full...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseGitError(stderrStr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// parseGitError converts git stderr messages to sentinel errors.
func parseGitError(stderr string, originalErr error) error {
	lower := strings.ToLower(stderr)

	// fatal: '<branch>' is already checked out at '<path>'
	if strings.Contains(lower, "is already checked out") ||
		strings.Contains(lower, "already checked out at") {
		return fmt.Errorf("%w: %s", ErrBranchCheckedOut, stderr)
	}

	// fatal: '<path>' already exists
	if strings.Contains(lower, "already exists") {
		return fmt.Errorf("%w: %s", ErrWorktreeExists, stderr)
	}

	if strings.Contains(lower, "not a git repository") {
		return fmt.Errorf("%w: %s", ErrNotARepo, stderr)
	}

	return fmt.Errorf("git error: %s: %w", stderr, originalErr)
}

// IsRepo checks whether dir is inside a git repository.
func (g *Git) IsRepo(dir string) bool {
	return g.run(dir, "rev-parse", "--git-dir") == nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch(dir string) (string, error) {
	// git branch --show-current (git 2.22+)
	out, err := g.runOutput(dir, "branch", "--show-current")
	if err == nil && out != "" {
		return out, nil
	}

	// Fallback: parse symbolic-ref
	out, err = g.runOutput(dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving current branch: %w", err)
	}
	return out, nil
}

// MainBranch resolves the mainline: main, then master, then the current
// checkout.
func (g *Git) MainBranch(dir string) (string, error) {
	for _, name := range []string{"main", "master"} {
		if g.BranchExists(dir, name) {
			return name, nil
		}
	}
	return g.CurrentBranch(dir)
}

// HasUncommittedChanges reports staged or unstaged changes in dir.
func (g *Git) HasUncommittedChanges(dir string) (bool, error) {
	out, err := g.runOutput(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// AddWorktree creates a worktree at path on branch, creating the branch
// when it does not exist yet.
func (g *Git) AddWorktree(dir, path, branch string) error {
	if g.BranchExists(dir, branch) {
		return g.run(dir, "worktree", "add", path, branch)
	}
	return g.run(dir, "worktree", "add", "-b", branch, path)
}

// RemoveWorktree removes the worktree at path, forcing on a second attempt
// when the plain removal is refused.
func (g *Git) RemoveWorktree(dir, path string) error {
	if err := g.run(dir, "worktree", "remove", path); err != nil {
		return g.run(dir, "worktree", "remove", "--force", path)
	}
	return nil
}

// PruneWorktrees drops stale worktree references.
func (g *Git) PruneWorktrees(dir string) error {
	return g.run(dir, "worktree", "prune")
}

// ListWorktrees parses git worktree list --porcelain.
func (g *Git) ListWorktrees(dir string) ([]Worktree, error) {
	out, err := g.runOutput(dir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList parses porcelain output of the form:
//
//	worktree /path/to/worktree
//	HEAD <sha>
//	branch refs/heads/branch-name
//	<blank line>
func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	var current Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = Worktree{}
			continue
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case "worktree":
			current.Path = parts[1]
		case "HEAD":
			current.Head = parts[1]
		case "branch":
			if after, found := strings.CutPrefix(parts[1], "refs/heads/"); found {
				current.Branch = after
			} else {
				current.Branch = parts[1]
			}
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// Branches returns all local branch names, sorted.
func (g *Git) Branches(dir string) ([]string, error) {
	out, err := g.runOutput(dir, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	if out == "" {
		return nil, nil
	}
	names := strings.Split(out, "\n")
	sort.Strings(names)
	return names, nil
}

// BranchExists checks for a local branch with the given name.
func (g *Git) BranchExists(dir, name string) bool {
	return g.run(dir, "show-ref", "--verify", "--quiet", "refs/heads/"+name) == nil
}

// DeleteBranch removes a local branch regardless of merge state.
func (g *Git) DeleteBranch(dir, name string) error {
	return g.run(dir, "branch", "-D", name)
}

// Rebase replays the checked-out branch onto the given ref.
func (g *Git) Rebase(dir, onto string) error {
	return g.run(dir, "rebase", onto)
}

// RebaseAbort returns the tree to its pre-rebase state.
func (g *Git) RebaseAbort(dir string) error {
	return g.run(dir, "rebase", "--abort")
}

// Merge merges branch into the checked-out branch with an explicit commit.
func (g *Git) Merge(dir, branch, message string) error {
	return g.run(dir, "merge", "--no-ff", "-m", message, branch)
}

// MergeAbort returns the tree to its pre-merge state.
func (g *Git) MergeAbort(dir string) error {
	return g.run(dir, "merge", "--abort")
}

// ConflictFiles lists paths with unresolved conflicts, sorted.
func (g *Git) ConflictFiles(dir string) ([]string, error) {
	out, err := g.runOutput(dir, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	files := strings.Split(out, "\n")
	sort.Strings(files)
	return files, nil
}

// ShowFile returns the content of path at ref.
func (g *Git) ShowFile(dir, ref, path string) (string, error) {
	//nolint:gosec // G204: ref and path come from controlled sources
	cmd := exec.Command("git", "-C", dir, "show", ref+":"+path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseGitError(stderrStr, err)
		}
		return "", fmt.Errorf("git show %s:%s: %w", ref, path, err)
	}
	// Keep the blob verbatim; trailing newlines matter for diffs.
	return stdout.String(), nil
}

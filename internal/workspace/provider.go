// Package workspace manages the isolated working copies workers build in:
// one worktree and one worker-<id> branch per worker, synced and merged
// back into the mainline by the controller.
package workspace

import (
	"errors"
	"sort"
	"strconv"
)

var (
	// ErrNotARepo indicates the source directory is not under version control.
	ErrNotARepo = errors.New("not a git repository")

	// ErrDirtyTree indicates uncommitted changes block a merge.
	ErrDirtyTree = errors.New("working tree has uncommitted changes")

	// ErrWorktreeExists indicates the worktree path is already in use.
	ErrWorktreeExists = errors.New("worktree path already exists")

	// ErrBranchCheckedOut indicates the branch is checked out in another worktree.
	ErrBranchCheckedOut = errors.New("branch already checked out in another worktree")
)

// BranchPrefix names worker branches: worker-<worker_id>.
const BranchPrefix = "worker-"

// Worktree describes one entry of the provider's worktree list.
type Worktree struct {
	Path   string
	Branch string
	Head   string
}

// Provider abstracts the source-control system behind worktree and branch
// operations. Every method takes the directory to operate in; the git
// implementation shells out with -C.
type Provider interface {
	IsRepo(dir string) bool
	CurrentBranch(dir string) (string, error)
	// MainBranch resolves the mainline name: main, then master, then
	// whatever is currently checked out.
	MainBranch(dir string) (string, error)
	HasUncommittedChanges(dir string) (bool, error)

	AddWorktree(dir, path, branch string) error
	RemoveWorktree(dir, path string) error
	ListWorktrees(dir string) ([]Worktree, error)
	PruneWorktrees(dir string) error

	Branches(dir string) ([]string, error)
	BranchExists(dir, name string) bool
	DeleteBranch(dir, name string) error

	Rebase(dir, onto string) error
	RebaseAbort(dir string) error
	Merge(dir, branch, message string) error
	MergeAbort(dir string) error

	// ConflictFiles lists paths with unresolved conflicts, sorted.
	ConflictFiles(dir string) ([]string, error)
	// ShowFile returns the content of path at ref.
	ShowFile(dir, ref, path string) (string, error)
}

// workerSortKey splits a worker id into its alphabetic prefix and numeric
// suffix so that w2 orders before w10.
func workerSortKey(id string) (string, int) {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	n := 0
	if i < len(id) {
		n, _ = strconv.Atoi(id[i:])
	}
	return id[:i], n
}

// LessWorkerID orders worker ids by prefix then numeric suffix, so w2
// comes before w10.
func LessWorkerID(a, b string) bool {
	pa, na := workerSortKey(a)
	pb, nb := workerSortKey(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

// SortWorkerIDs orders worker ids in place, the order merges walk workers in.
func SortWorkerIDs(ids []string) {
	sort.Slice(ids, func(a, b int) bool {
		return LessWorkerID(ids[a], ids[b])
	})
}

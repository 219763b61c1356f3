package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
)

// previewLimit caps the changed lines rendered per conflicted file.
const previewLimit = 40

// Workspace describes one worker's provisioned working copy.
type Workspace struct {
	Worker string `json:"worker"`
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

// SyncStatus is the outcome of rebasing a worker branch onto mainline.
type SyncStatus string

const (
	SyncSuccess  SyncStatus = "success"
	SyncConflict SyncStatus = "conflict"
)

// SyncResult reports one worker's sync. Conflicts are aborted, never
// resolved; the worktree is left at its pre-rebase state.
type SyncResult struct {
	Worker string     `json:"worker"`
	Status SyncStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// MergeStatus is the outcome of a wave merge.
type MergeStatus string

const (
	MergeSuccess  MergeStatus = "success"
	MergeConflict MergeStatus = "conflict"
)

// MergeReport records a wave merge: which workers landed on mainline and,
// on conflict, where the walk stopped.
type MergeReport struct {
	Status               MergeStatus       `json:"status"`
	Wave                 int               `json:"wave"`
	Merged               []string          `json:"merged"`
	ConflictAt           string            `json:"conflict_at,omitempty"`
	ConflictFiles        []string          `json:"conflict_files"`
	MergedBeforeConflict []string          `json:"merged_before_conflict"`
	NotMerged            []string          `json:"not_merged"`
	Previews             map[string]string `json:"previews,omitempty"`
	CompletedAt          string            `json:"completed_at"`
}

// PlanRecorder persists merge outcomes into the swarm plan. A conflict
// report pauses the plan until the operator resumes it.
type PlanRecorder interface {
	RecordMerge(ctx context.Context, project, team string, report *MergeReport) error
}

// Manager provisions, removes, syncs, and merges worker working copies
// through the workspace provider.
type Manager struct {
	st       *store.Store
	provider Provider
	recorder PlanRecorder
}

// Option configures the manager.
type Option func(*Manager)

// WithPlanRecorder wires merge outcomes into the swarm plan.
func WithPlanRecorder(r PlanRecorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a workspace manager over the given provider.
func NewManager(st *store.Store, provider Provider, opts ...Option) *Manager {
	m := &Manager{st: st, provider: provider}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func validateTarget(project, team, worker string) error {
	if err := store.ValidateProject(project); err != nil {
		return err
	}
	if err := store.ValidateID("team", team); err != nil {
		return err
	}
	if worker != "" {
		return store.ValidateID("worker", worker)
	}
	return nil
}

// CreateIsolated provisions a worktree and worker-<id> branch for a worker
// under the team's worktrees directory. Calling it again for a provisioned
// worker succeeds without touching the existing copy.
func (m *Manager) CreateIsolated(ctx context.Context, project, team, worker, source string) (*Workspace, error) {
	if err := validateTarget(project, team, worker); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !m.provider.IsRepo(source) {
		return nil, fmt.Errorf("%w: %s", ErrNotARepo, source)
	}

	branch := BranchPrefix + worker
	path := m.st.Paths().WorktreeDir(project, team, worker)
	ws := &Workspace{Worker: worker, Branch: branch, Path: path}

	existing, err := m.provider.ListWorktrees(source)
	if err != nil {
		return nil, err
	}
	for _, wt := range existing {
		if wt.Path == path || wt.Branch == branch {
			ws.Path = wt.Path
			return ws, nil
		}
	}

	if err := os.MkdirAll(m.st.Paths().WorktreesDir(project, team), 0750); err != nil {
		return nil, fmt.Errorf("creating worktrees directory: %w", err)
	}
	if err := m.provider.AddWorktree(source, path, branch); err != nil {
		if errors.Is(err, ErrWorktreeExists) || errors.Is(err, ErrBranchCheckedOut) {
			return ws, nil
		}
		return nil, err
	}
	log.Info(log.CatWorkspace, "worktree created",
		"project", project, "team", team, "worker", worker, "branch", branch, "path", path)
	return ws, nil
}

// Remove tears down a worker's worktree and deletes its branch. Removing
// an absent workspace is a no-op.
func (m *Manager) Remove(ctx context.Context, project, team, worker, source string) error {
	if err := validateTarget(project, team, worker); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.provider.IsRepo(source) {
		return fmt.Errorf("%w: %s", ErrNotARepo, source)
	}

	path := m.st.Paths().WorktreeDir(project, team, worker)
	branch := BranchPrefix + worker

	existing, err := m.provider.ListWorktrees(source)
	if err != nil {
		return err
	}
	for _, wt := range existing {
		if wt.Path != path {
			continue
		}
		if err := m.provider.RemoveWorktree(source, path); err != nil {
			return err
		}
		break
	}
	if m.provider.BranchExists(source, branch) {
		if err := m.provider.DeleteBranch(source, branch); err != nil {
			return err
		}
	}
	if err := m.provider.PruneWorktrees(source); err != nil {
		log.Warn(log.CatWorkspace, "worktree prune failed", "error", err)
	}
	log.Info(log.CatWorkspace, "worktree removed",
		"project", project, "team", team, "worker", worker)
	return nil
}

// Sync rebases a worker's branch onto the mainline inside its worktree.
// Conflicts abort the rebase and report status conflict; the worker's
// branch is never left mid-rebase.
func (m *Manager) Sync(ctx context.Context, project, team, worker string) (*SyncResult, error) {
	if err := validateTarget(project, team, worker); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wt := m.st.Paths().WorktreeDir(project, team, worker)
	if !m.provider.IsRepo(wt) {
		return nil, fmt.Errorf("%w: worker %s has no worktree at %s", ErrNotARepo, worker, wt)
	}
	main, err := m.provider.MainBranch(wt)
	if err != nil {
		return nil, err
	}

	if err := m.provider.Rebase(wt, main); err != nil {
		files, _ := m.provider.ConflictFiles(wt)
		_ = m.provider.RebaseAbort(wt)
		if len(files) > 0 {
			log.Warn(log.CatWorkspace, "sync conflict",
				"worker", worker, "files", strings.Join(files, ","))
			return &SyncResult{
				Worker: worker,
				Status: SyncConflict,
				Error:  fmt.Sprintf("rebase onto %s conflicts in %s", main, strings.Join(files, ", ")),
			}, nil
		}
		return nil, err
	}
	log.Info(log.CatWorkspace, "worker synced", "worker", worker, "onto", main)
	return &SyncResult{Worker: worker, Status: SyncSuccess}, nil
}

// Merge walks worker branches in numeric id order, merging each into the
// checked-out mainline of source. The walk stops at the first conflict:
// the merge is aborted, the report records where and what conflicted, and
// the swarm plan is paused through the recorder.
func (m *Manager) Merge(ctx context.Context, project, team string, wave int, source string) (*MergeReport, error) {
	if err := validateTarget(project, team, ""); err != nil {
		return nil, err
	}
	if wave < 1 {
		return nil, fmt.Errorf("%w: wave %d", store.ErrInvalidValue, wave)
	}
	if !m.provider.IsRepo(source) {
		return nil, fmt.Errorf("%w: %s", ErrNotARepo, source)
	}
	dirty, err := m.provider.HasUncommittedChanges(source)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("%w in %s; commit or stash before merging", ErrDirtyTree, source)
	}

	main, err := m.provider.MainBranch(source)
	if err != nil {
		return nil, err
	}
	current, err := m.provider.CurrentBranch(source)
	if err != nil {
		return nil, err
	}
	if current != main {
		return nil, fmt.Errorf("source is on branch %q; check out mainline %q before merging", current, main)
	}

	ids, err := m.workerBranches(source)
	if err != nil {
		return nil, err
	}

	report := &MergeReport{
		Status:               MergeSuccess,
		Wave:                 wave,
		Merged:               []string{},
		ConflictFiles:        []string{},
		MergedBeforeConflict: []string{},
		NotMerged:            []string{},
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		branch := BranchPrefix + id
		mergeErr := m.provider.Merge(source, branch, fmt.Sprintf("Merge %s (wave %d)", branch, wave))
		if mergeErr == nil {
			report.Merged = append(report.Merged, id)
			log.Info(log.CatWorkspace, "branch merged", "branch", branch, "wave", wave)
			continue
		}

		files, cfErr := m.provider.ConflictFiles(source)
		if cfErr != nil || len(files) == 0 {
			_ = m.provider.MergeAbort(source)
			return nil, mergeErr
		}
		report.Status = MergeConflict
		report.ConflictAt = id
		report.ConflictFiles = files
		report.MergedBeforeConflict = append([]string{}, report.Merged...)
		report.NotMerged = append([]string{}, ids[i+1:]...)
		report.Previews = m.conflictPreviews(source, main, branch, files)
		_ = m.provider.MergeAbort(source)
		log.Warn(log.CatWorkspace, "merge conflict",
			"worker", id, "wave", wave, "files", strings.Join(files, ","))
		break
	}
	report.CompletedAt = m.st.Stamp()

	if m.recorder != nil {
		if err := m.recorder.RecordMerge(ctx, project, team, report); err != nil {
			return nil, fmt.Errorf("recording merge outcome: %w", err)
		}
	}
	return report, nil
}

// workerBranches extracts worker ids from worker-* branches, in merge order.
func (m *Manager) workerBranches(source string) ([]string, error) {
	branches, err := m.provider.Branches(source)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, b := range branches {
		if id, ok := strings.CutPrefix(b, BranchPrefix); ok && id != "" {
			ids = append(ids, id)
		}
	}
	SortWorkerIDs(ids)
	return ids, nil
}

// conflictPreviews renders the mainline-vs-worker changes for each
// conflicted file. Files unreadable at either ref are skipped.
func (m *Manager) conflictPreviews(source, main, branch string, files []string) map[string]string {
	previews := make(map[string]string, len(files))
	for _, f := range files {
		ours, err := m.provider.ShowFile(source, main, f)
		if err != nil {
			continue
		}
		theirs, err := m.provider.ShowFile(source, branch, f)
		if err != nil {
			continue
		}
		if p := diffPreview(ours, theirs, previewLimit); p != "" {
			previews[f] = p
		}
	}
	if len(previews) == 0 {
		return nil
	}
	return previews
}

// diffPreview renders the changed lines between two versions of a file,
// capped at maxLines. Line-level reduction avoids newline boundary
// artifacts when converting to line ops.
func diffPreview(mainline, worker string, maxLines int) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(mainline, worker)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	count := 0
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(d.Text, "\n"), "\n") {
			if count == maxLines {
				sb.WriteString("(truncated)\n")
				return strings.TrimRight(sb.String(), "\n")
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteByte('\n')
			count++
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

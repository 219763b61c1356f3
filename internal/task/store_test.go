package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/ultrawork/internal/store"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	paths, err := store.NewPaths(t.TempDir())
	require.NoError(t, err)
	return NewStore(store.New(paths), opts...)
}

func teamScope() Scope { return TeamScope("acme", "core") }

func createTask(t *testing.T, s *Store, id string, deps ...string) *Task {
	t.Helper()
	doc, err := s.Create(context.Background(), teamScope(), CreateParams{
		ID:        id,
		Title:     "work on " + id,
		BlockedBy: deps,
	})
	require.NoError(t, err)
	return doc
}

func claimTask(t *testing.T, s *Store, id, owner string) *Task {
	t.Helper()
	doc, err := s.Claim(context.Background(), teamScope(), id, owner, "", false)
	require.NoError(t, err)
	return doc
}

func setStatus(t *testing.T, s *Store, id string, target Status) *Task {
	t.Helper()
	doc, err := s.Update(context.Background(), teamScope(), id, Patch{Status: &target})
	require.NoError(t, err)
	return doc
}

func rawTask(t *testing.T, s *Store, id string) []byte {
	t.Helper()
	data, err := s.st.Read(s.taskFile(teamScope(), id))
	require.NoError(t, err)
	return data
}

// === Create ===

func TestCreate_Defaults(t *testing.T) {
	s := newTestStore(t)
	doc := createTask(t, s, "t1")

	require.Equal(t, StatusOpen, doc.Status)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, ComplexityStandard, doc.Complexity)
	require.Empty(t, doc.Evidence)
	require.Nil(t, doc.ClaimedBy)
	require.Nil(t, doc.Wave)
}

func TestCreate_DedupesBlockers(t *testing.T) {
	s := newTestStore(t)
	doc := createTask(t, s, "t2", "t1", "t1", "", "t0")
	require.Equal(t, []string{"t1", "t0"}, doc.BlockedBy)
}

func TestCreate_AlreadyExists(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")

	_, err := s.Create(context.Background(), teamScope(), CreateParams{ID: "t1", Title: "again"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestCreate_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, teamScope(), CreateParams{ID: "t1", Title: "t", BlockedBy: []string{"t1"}})
	require.ErrorIs(t, err, store.ErrInvalidValue, "self-reference")

	_, err = s.Create(ctx, teamScope(), CreateParams{ID: "t1", Title: "t", Complexity: "heroic"})
	require.ErrorIs(t, err, store.ErrInvalidValue)

	_, err = s.Create(ctx, teamScope(), CreateParams{ID: "t1", Title: "t", Domain: "astrology"})
	require.ErrorIs(t, err, store.ErrInvalidValue)

	_, err = s.Create(ctx, teamScope(), CreateParams{ID: "t1"})
	require.ErrorIs(t, err, store.ErrInvalidValue, "empty title")

	_, err = s.Create(ctx, teamScope(), CreateParams{ID: "has space", Title: "t"})
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

func TestCreate_SessionScope(t *testing.T) {
	s := newTestStore(t)
	scope := SessionScope("sess-1")

	_, err := s.Create(context.Background(), scope, CreateParams{ID: "t1", Title: "session-local"})
	require.NoError(t, err)
	require.True(t, s.st.Exists(store.TaskFileIn(s.st.Paths().SessionTasksDir("sess-1"), "t1")))
}

// === Get ===

func TestGet_FieldExtraction(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t2", "t1")

	v, err := s.GetField(teamScope(), "t2", "blocked_by.0")
	require.NoError(t, err)
	require.Equal(t, "t1", v)

	v, err = s.GetField(teamScope(), "t2", "status")
	require.NoError(t, err)
	require.Equal(t, "open", v)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(teamScope(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// === List ===

func TestList_SortedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t3")
	createTask(t, s, "t1")
	createTask(t, s, "t2")
	claimTask(t, s, "t2", "w1")

	all, skipped, err := s.List(teamScope(), Filter{})
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Equal(t, []string{"t1", "t2", "t3"}, taskIDs(all))

	open, _, err := s.List(teamScope(), Filter{Status: StatusOpen})
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t3"}, taskIDs(open))

	available, _, err := s.List(teamScope(), Filter{Available: true})
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t3"}, taskIDs(available))
}

func TestList_FilterByRoleAndWave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, teamScope(), CreateParams{ID: "t1", Title: "t", Role: "backend"})
	require.NoError(t, err)
	_, err = s.Create(ctx, teamScope(), CreateParams{ID: "t2", Title: "t", Role: "frontend"})
	require.NoError(t, err)
	wave := 2
	_, err = s.Update(ctx, teamScope(), "t2", Patch{Wave: &wave})
	require.NoError(t, err)

	byRole, _, err := s.List(teamScope(), Filter{Role: "backend"})
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, taskIDs(byRole))

	byWave, _, err := s.List(teamScope(), Filter{Wave: &wave})
	require.NoError(t, err)
	require.Equal(t, []string{"t2"}, taskIDs(byWave))
}

func TestList_SkipsCorruptFiles(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	dir := teamScope().Dir(s.st.Paths())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0600))

	tasks, skipped, err := s.List(teamScope(), Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, skipped)
	require.Equal(t, []string{"t1"}, taskIDs(tasks))
}

func TestList_MissingDirIsEmpty(t *testing.T) {
	s := newTestStore(t)
	tasks, skipped, err := s.List(TeamScope("ghost", "none"), Filter{})
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Empty(t, tasks)
}

// === Claim ===

func TestClaim_TakesOwnership(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")

	doc := claimTask(t, s, "t1", "w1")
	require.Equal(t, StatusInProgress, doc.Status)
	require.Equal(t, "w1", *doc.ClaimedBy)
	require.NotNil(t, doc.ClaimedAt)
	require.Equal(t, 2, doc.Version)
}

func TestClaim_SecondOwnerRejected(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")

	_, err := s.Claim(context.Background(), teamScope(), "t1", "w2", "", false)
	require.ErrorIs(t, err, ErrAlreadyClaimed)

	doc, err := s.Get(teamScope(), "t1")
	require.NoError(t, err)
	require.Equal(t, "w1", *doc.ClaimedBy)
}

func TestClaim_SameOwnerReclaim(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")
	before := rawTask(t, s, "t1")

	doc, err := s.Claim(context.Background(), teamScope(), "t1", "w1", "", false)
	require.NoError(t, err)
	require.Equal(t, 2, doc.Version, "reclaim does not bump the version")
	require.Equal(t, before, rawTask(t, s, "t1"))
}

func TestClaim_StatusGate(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")
	setStatus(t, s, "t1", StatusResolved)

	_, err := s.Claim(context.Background(), teamScope(), "t1", "w2", "", false)
	require.ErrorIs(t, err, ErrNotClaimable)
}

func TestClaim_PendingIsClaimable(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")
	setStatus(t, s, "t1", StatusFailed)
	setStatus(t, s, "t1", StatusPending)

	doc := claimTask(t, s, "t1", "w2")
	require.Equal(t, StatusInProgress, doc.Status)
	require.Equal(t, "w2", *doc.ClaimedBy)
}

func TestClaim_StrictRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, teamScope(), CreateParams{ID: "t1", Title: "t", Role: "backend"})
	require.NoError(t, err)

	_, err = s.Claim(ctx, teamScope(), "t1", "w1", "frontend", true)
	require.ErrorIs(t, err, ErrRoleMismatch)

	// Same mismatch without strict mode succeeds.
	doc, err := s.Claim(ctx, teamScope(), "t1", "w1", "frontend", false)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, doc.Status)
}

func TestClaim_StrictAllowsUntaggedTasks(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")

	doc, err := s.Claim(context.Background(), teamScope(), "t1", "w1", "backend", true)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, doc.Status)
}

func TestClaim_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Claim(context.Background(), teamScope(), "ghost", "w1", "", false)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// === Update ===

func TestUpdate_ResolveClearsClaim(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")

	doc := setStatus(t, s, "t1", StatusResolved)
	require.Equal(t, StatusResolved, doc.Status)
	require.Nil(t, doc.ClaimedBy)
	require.Nil(t, doc.ClaimedAt)
	require.Equal(t, 3, doc.Version)
}

func TestUpdate_FailBumpsRetryCount(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")

	doc := setStatus(t, s, "t1", StatusFailed)
	require.Equal(t, 1, doc.RetryCount)
	require.Nil(t, doc.ClaimedBy)

	doc = setStatus(t, s, "t1", StatusPending)
	require.Equal(t, StatusPending, doc.Status)
	require.Equal(t, 1, doc.RetryCount)
}

func TestUpdate_StatusLadder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTask(t, s, "t1")
	inProgress := StatusInProgress
	_, err := s.Update(ctx, teamScope(), "t1", Patch{Status: &inProgress})
	require.ErrorIs(t, err, store.ErrIllegalTransition, "in_progress requires a claim")

	resolved := StatusResolved
	_, err = s.Update(ctx, teamScope(), "t1", Patch{Status: &resolved})
	require.ErrorIs(t, err, store.ErrIllegalTransition, "open cannot jump to resolved")

	claimTask(t, s, "t1", "w1")
	setStatus(t, s, "t1", StatusResolved)
	open := StatusOpen
	_, err = s.Update(ctx, teamScope(), "t1", Patch{Status: &open})
	require.ErrorIs(t, err, store.ErrIllegalTransition, "resolved is final")

	bad := Status("done")
	_, err = s.Update(ctx, teamScope(), "t1", Patch{Status: &bad})
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

func TestUpdate_IdenticalPatchIsNoOp(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	before := rawTask(t, s, "t1")

	open := StatusOpen
	title := "work on t1"
	doc, err := s.Update(context.Background(), teamScope(), "t1", Patch{Status: &open, Title: &title})
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, before, rawTask(t, s, "t1"))
}

func TestUpdate_Fields(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")

	title := "new title"
	desc := "longer description"
	wave := 3
	doc, err := s.Update(context.Background(), teamScope(), "t1", Patch{Title: &title, Description: &desc, Wave: &wave})
	require.NoError(t, err)
	require.Equal(t, "new title", doc.Title)
	require.Equal(t, "longer description", doc.Description)
	require.Equal(t, 3, *doc.Wave)
	require.Equal(t, 2, doc.Version, "one bump per mutation, not per field")

	zero := 0
	_, err = s.Update(context.Background(), teamScope(), "t1", Patch{Wave: &zero})
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

// === Release ===

func TestRelease_ReopensTask(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")

	doc, err := s.Release(context.Background(), teamScope(), "t1")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, doc.Status)
	require.Nil(t, doc.ClaimedBy)
	require.Nil(t, doc.ClaimedAt)
	require.Equal(t, 3, doc.Version)

	// Released tasks are claimable again.
	claimTask(t, s, "t1", "w2")
}

func TestRelease_UnclaimedIsNoOp(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	before := rawTask(t, s, "t1")

	doc, err := s.Release(context.Background(), teamScope(), "t1")
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, before, rawTask(t, s, "t1"))
}

// === Evidence ===

func TestAppendEvidence_AnyStatus(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")
	setStatus(t, s, "t1", StatusResolved)

	doc, err := s.AppendEvidence(context.Background(), teamScope(), "t1", "all 14 tests pass")
	require.NoError(t, err)
	require.Equal(t, []string{"all 14 tests pass"}, doc.Evidence)
	require.Equal(t, 4, doc.Version)

	_, err = s.AppendEvidence(context.Background(), teamScope(), "t1", "")
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

// === Delete ===

func TestDelete_OpenTask(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")

	orphaned, err := s.Delete(context.Background(), teamScope(), "t1", false)
	require.NoError(t, err)
	require.Empty(t, orphaned)
	require.False(t, s.st.Exists(s.taskFile(teamScope(), "t1")))
}

func TestDelete_NonOpenRefused(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")

	_, err := s.Delete(context.Background(), teamScope(), "t1", false)
	require.ErrorIs(t, err, ErrNotDeletable)
}

func TestDelete_Dependents(t *testing.T) {
	s := newTestStore(t)
	createTask(t, s, "t1")
	createTask(t, s, "t2", "t1")
	createTask(t, s, "t3", "t1")

	_, err := s.Delete(context.Background(), teamScope(), "t1", false)
	require.ErrorIs(t, err, ErrHasDependents)
	require.True(t, s.st.Exists(s.taskFile(teamScope(), "t1")))

	orphaned, err := s.Delete(context.Background(), teamScope(), "t1", true)
	require.NoError(t, err)
	require.Equal(t, []string{"t2", "t3"}, orphaned)
	require.False(t, s.st.Exists(s.taskFile(teamScope(), "t1")))
}

func TestDelete_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Delete(context.Background(), teamScope(), "ghost", false)
	require.ErrorIs(t, err, store.ErrNotFound)
}

// === Mutation hook ===

func TestMutationHook_FiresOnChanges(t *testing.T) {
	var fired []string
	s := newTestStore(t, WithMutationHook(func(sc Scope) {
		fired = append(fired, sc.String())
	}))

	createTask(t, s, "t1")
	claimTask(t, s, "t1", "w1")
	require.Len(t, fired, 2)

	// A rejected claim must not fire the hook.
	_, err := s.Claim(context.Background(), teamScope(), "t1", "w2", "", false)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	require.Len(t, fired, 2)

	setStatus(t, s, "t1", StatusResolved)
	require.Len(t, fired, 3)
	require.Equal(t, "acme/core", fired[0])
}

// === Ownership invariant ===

func TestOwnership_Property(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		paths, err := store.NewPaths(t.TempDir())
		require.NoError(r, err)
		s := NewStore(store.New(paths))
		ctx := context.Background()
		_, err = s.Create(ctx, teamScope(), CreateParams{ID: "t1", Title: "t"})
		require.NoError(r, err)

		lastVersion := 1
		steps := rapid.IntRange(1, 20).Draw(r, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 4).Draw(r, "op")
			switch op {
			case 0:
				owner := rapid.StringMatching(`w[1-3]`).Draw(r, "owner")
				_, _ = s.Claim(ctx, teamScope(), "t1", owner, "", false)
			case 1:
				_, _ = s.Release(ctx, teamScope(), "t1")
			case 2:
				target := Status(rapid.StringMatching(`open|resolved|failed|pending`).Draw(r, "status"))
				_, _ = s.Update(ctx, teamScope(), "t1", Patch{Status: &target})
			case 3:
				_, _ = s.AppendEvidence(ctx, teamScope(), "t1", "note")
			case 4:
				// Reads never mutate.
				_, _ = s.Get(teamScope(), "t1")
			}

			doc, err := s.Get(teamScope(), "t1")
			require.NoError(r, err)
			require.Equal(r, doc.Status == StatusInProgress, doc.ClaimedBy != nil,
				"claimed_by set exactly while in_progress")
			require.GreaterOrEqual(r, doc.Version, lastVersion, "version never decreases")
			lastVersion = doc.Version
		}
	})
}

func taskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

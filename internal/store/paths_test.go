package store

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Root resolution ===

func TestNewPaths_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvRoot, dir)

	paths, err := NewPaths("")
	require.NoError(t, err)
	require.Equal(t, dir, paths.Root())
}

func TestNewPaths_ExplicitRootWinsOverEnv(t *testing.T) {
	t.Setenv(EnvRoot, t.TempDir())
	explicit := t.TempDir()

	paths, err := NewPaths(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, paths.Root())
}

func TestNewPaths_DefaultUnderHome(t *testing.T) {
	t.Setenv(EnvRoot, "")

	paths, err := NewPaths("")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(paths.Root(), filepath.Join(".claude", "ultrawork")))
	require.False(t, paths.overridden)
}

// === Layout accessors ===

func TestPaths_SessionLayout(t *testing.T) {
	paths, err := NewPaths(t.TempDir())
	require.NoError(t, err)
	root := paths.Root()

	require.Equal(t, filepath.Join(root, "sessions", "s1", "session.json"), paths.SessionFile("s1"))
	require.Equal(t, filepath.Join(root, "sessions", "s1", "context.json"), paths.ContextFile("s1"))
	require.Equal(t, filepath.Join(root, "sessions", "s1", "exploration"), paths.ExplorationDir("s1"))
	require.Equal(t, filepath.Join(root, "sessions", "s1", "tasks"), paths.SessionTasksDir("s1"))
}

func TestPaths_TeamLayout(t *testing.T) {
	paths, err := NewPaths(t.TempDir())
	require.NoError(t, err)
	root := paths.Root()

	require.Equal(t, filepath.Join(root, "proj", "core", "project.json"), paths.ProjectFile("proj", "core"))
	require.Equal(t, filepath.Join(root, "proj", "core", "tasks"), paths.TeamTasksDir("proj", "core"))
	require.Equal(t, filepath.Join(root, "proj", "core", "waves.json"), paths.WavesFile("proj", "core"))
	require.Equal(t, filepath.Join(root, "proj", "core", "inboxes", "w1.json"), paths.InboxFile("proj", "core", "w1"))
	require.Equal(t, filepath.Join(root, "proj", "core", "swarm", "swarm.json"), paths.SwarmFile("proj", "core"))
	require.Equal(t, filepath.Join(root, "proj", "core", "swarm", "workers", "w2.json"), paths.WorkerFile("proj", "core", "w2"))
	require.Equal(t, filepath.Join(root, "proj", "core", "worktrees", "w2"), paths.WorktreeDir("proj", "core", "w2"))
	require.Equal(t, filepath.Join(root, "proj", "core", ".loop-state", "s1.json"), paths.LoopStateFile("proj", "core", "s1"))
}

// === Identifier validation ===

func TestValidateID(t *testing.T) {
	require.NoError(t, ValidateID("task", "t1"))
	require.NoError(t, ValidateID("task", "fix-parser_2.0"))

	require.ErrorIs(t, ValidateID("task", ""), ErrInvalidValue)
	require.ErrorIs(t, ValidateID("task", ".hidden"), ErrInvalidValue)
	require.ErrorIs(t, ValidateID("task", "a/b"), ErrInvalidValue)
	require.ErrorIs(t, ValidateID("task", "has space"), ErrInvalidValue)
	require.ErrorIs(t, ValidateID("task", ".."), ErrInvalidValue)
}

func TestValidateProject_ReservedNames(t *testing.T) {
	require.NoError(t, ValidateProject("myproj"))
	require.ErrorIs(t, ValidateProject("sessions"), ErrInvalidValue)
	require.ErrorIs(t, ValidateProject("logs"), ErrInvalidValue)
}

// === Safety predicate ===

func TestCheckRemovable_RelaxedOutsideHome(t *testing.T) {
	paths, err := NewPaths(t.TempDir())
	require.NoError(t, err)

	// Any proper descendant is removable under a test root.
	require.NoError(t, paths.CheckRemovable(filepath.Join(paths.Root(), "anything")))
	require.NoError(t, paths.CheckRemovable(paths.SessionDir("s1")))

	// Never the root itself or anything outside it.
	require.ErrorIs(t, paths.CheckRemovable(paths.Root()), ErrSafetyViolation)
	require.ErrorIs(t, paths.CheckRemovable(filepath.Dir(paths.Root())), ErrSafetyViolation)
}

func TestCheckRemovable_RestrictedDefaultRoot(t *testing.T) {
	home := t.TempDir()
	root := filepath.Join(home, ".claude", "ultrawork")
	paths := &Paths{root: root, home: home, overridden: false}

	// Leaves and their contents are removable.
	require.NoError(t, paths.CheckRemovable(filepath.Join(root, "sessions", "s1")))
	require.NoError(t, paths.CheckRemovable(filepath.Join(root, "sessions", "s1", "tasks", "t1.json")))
	require.NoError(t, paths.CheckRemovable(filepath.Join(root, "proj", "core")))
	require.NoError(t, paths.CheckRemovable(filepath.Join(root, "proj", "core", "worktrees", "w1")))

	// Anything shallower is refused.
	require.ErrorIs(t, paths.CheckRemovable(filepath.Join(root, "sessions")), ErrSafetyViolation)
	require.ErrorIs(t, paths.CheckRemovable(filepath.Join(root, "proj")), ErrSafetyViolation)
	require.ErrorIs(t, paths.CheckRemovable(filepath.Join(root, "logs")), ErrSafetyViolation)
	require.ErrorIs(t, paths.CheckRemovable(root), ErrSafetyViolation)
}

func TestCheckRemovable_RestrictedInsideHomeOverride(t *testing.T) {
	home := t.TempDir()
	root := filepath.Join(home, "work-root")
	paths := &Paths{root: root, home: home, overridden: true}

	// An override still under home keeps the restricted rules.
	require.ErrorIs(t, paths.CheckRemovable(filepath.Join(root, "proj")), ErrSafetyViolation)
	require.NoError(t, paths.CheckRemovable(filepath.Join(root, "proj", "core")))
}

// === Field extraction ===

func TestExtract_NestedAndIndexed(t *testing.T) {
	doc := map[string]any{
		"stats": map[string]any{"open": float64(3)},
		"waves": []any{
			map[string]any{"id": float64(1)},
			map[string]any{"id": float64(2)},
		},
	}

	val, err := Extract(doc, "stats.open")
	require.NoError(t, err)
	require.Equal(t, float64(3), val)

	val, err = Extract(doc, "waves.1.id")
	require.NoError(t, err)
	require.Equal(t, float64(2), val)
}

func TestExtract_MissingAndNull(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": nil}}

	_, err := Extract(doc, "a.missing")
	require.ErrorIs(t, err, ErrFieldNotFound)

	_, err = Extract(doc, "a.b")
	require.ErrorIs(t, err, ErrFieldNotFound)

	_, err = Extract(doc, "a.b.c")
	require.ErrorIs(t, err, ErrFieldNotFound)
}

func TestExtractFrom_TypedDocument(t *testing.T) {
	doc := testDoc{Name: "x", Count: 9}

	val, err := ExtractFrom(doc, "count")
	require.NoError(t, err)
	require.Equal(t, float64(9), val)

	whole, err := ExtractFrom(doc, "")
	require.NoError(t, err)
	require.IsType(t, map[string]any{}, whole)
}

package loop

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ultrawork/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	paths, err := store.NewPaths(t.TempDir())
	require.NoError(t, err)
	return NewStore(store.New(paths))
}

func TestStart_CreatesMarker(t *testing.T) {
	s := newTestStore(t)

	state, err := s.Start(context.Background(), "acme", "core", "orchestrator", "s1")
	require.NoError(t, err)
	require.True(t, state.Active)
	require.Equal(t, "s1", state.SessionID)
	require.Equal(t, "orchestrator", state.Role)
	require.NotEmpty(t, state.StartedAt)
	require.Empty(t, state.StoppedAt)
}

func TestStart_RestartReactivates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "acme", "core", "", "s1")
	require.NoError(t, err)
	_, err = s.Stop(ctx, "acme", "core", "s1")
	require.NoError(t, err)

	state, err := s.Start(ctx, "acme", "core", "", "s1")
	require.NoError(t, err)
	require.True(t, state.Active)
	require.Empty(t, state.StoppedAt)
}

func TestStart_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "sessions", "core", "", "s1")
	require.ErrorIs(t, err, store.ErrInvalidValue)
	_, err = s.Start(ctx, "acme", "core", "bad role", "s1")
	require.ErrorIs(t, err, store.ErrInvalidValue)
}

func TestStop_FlipsActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "acme", "core", "", "s1")
	require.NoError(t, err)

	state, err := s.Stop(ctx, "acme", "core", "s1")
	require.NoError(t, err)
	require.False(t, state.Active)
	require.NotEmpty(t, state.StoppedAt)
}

func TestStop_MissingMarker(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Stop(context.Background(), "acme", "core", "s1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStop_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "acme", "core", "", "s1")
	require.NoError(t, err)
	first, err := s.Stop(ctx, "acme", "core", "s1")
	require.NoError(t, err)
	second, err := s.Stop(ctx, "acme", "core", "s1")
	require.NoError(t, err)
	require.Equal(t, first.StoppedAt, second.StoppedAt)
}

func TestActive_ListsLiveMarkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "acme", "core", "", "s2")
	require.NoError(t, err)
	_, err = s.Start(ctx, "acme", "core", "", "s1")
	require.NoError(t, err)
	_, err = s.Start(ctx, "acme", "core", "", "s3")
	require.NoError(t, err)
	_, err = s.Stop(ctx, "acme", "core", "s3")
	require.NoError(t, err)

	active, err := s.Active("acme", "core")
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "s1", active[0].SessionID)
	require.Equal(t, "s2", active[1].SessionID)
}

func TestActive_SkipsUnreadable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Start(ctx, "acme", "core", "", "s1")
	require.NoError(t, err)
	dir := s.st.Paths().LoopStateDir("acme", "core")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{"), 0600))

	active, err := s.Active("acme", "core")
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestActive_MissingDirIsEmpty(t *testing.T) {
	s := newTestStore(t)

	active, err := s.Active("acme", "core")
	require.NoError(t, err)
	require.Empty(t, active)
}

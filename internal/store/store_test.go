package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// === Helper Functions ===

type testDoc struct {
	Name    string   `json:"name"`
	Count   int      `json:"count"`
	Notes   []string `json:"notes,omitempty"`
	Version int      `json:"version"`
}

// newTestStore creates a Store rooted at a temp directory, which the safety
// predicate treats as an out-of-home override.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	paths, err := NewPaths(t.TempDir())
	require.NoError(t, err)
	return New(paths)
}

func docPath(s *Store, name string) string {
	return filepath.Join(s.Paths().Root(), name)
}

// === Read / WriteAtomic ===

func TestStore_Read_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read(docPath(s, "missing.json"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_WriteAtomic_CreatesParents(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(s.Paths().Root(), "a", "b", "doc.json")

	require.NoError(t, s.WriteAtomic(path, []byte(`{"ok":true}`)))

	data, err := s.Read(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(data))
}

func TestStore_WriteAtomic_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	path := docPath(s, "doc.json")

	require.NoError(t, s.WriteAtomic(path, []byte(`{}`)))
	require.NoError(t, s.WriteAtomic(path, []byte(`{"n":2}`)))

	entries, err := os.ReadDir(s.Paths().Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "doc.json", entries[0].Name())
}

// === JSON round-trips ===

func TestStore_JSONRoundTrip_ControlCharacters(t *testing.T) {
	s := newTestStore(t)
	path := docPath(s, "doc.json")

	original := testDoc{
		Name:  "Line 1\nLine 2\t\"quoted\"",
		Count: 3,
		Notes: []string{"a\rb", "tab\there"},
	}
	require.NoError(t, WriteJSON(s, path, original))

	got, err := ReadJSON[testDoc](s, path)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestStore_JSONRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(r *rapid.T) {
		s := newTestStore(t)
		path := docPath(s, "doc.json")

		original := testDoc{
			Name:  rapid.String().Draw(r, "name"),
			Count: rapid.IntRange(0, 1<<30).Draw(r, "count"),
			Notes: rapid.SliceOfN(rapid.String(), 0, 5).Draw(r, "notes"),
		}
		require.NoError(r, WriteJSON(s, path, original))

		got, err := ReadJSON[testDoc](s, path)
		require.NoError(r, err)
		require.Equal(r, original.Name, got.Name)
		require.Equal(r, original.Count, got.Count)
		require.Len(r, got.Notes, len(original.Notes))
		if len(original.Notes) > 0 {
			require.Equal(r, original.Notes, got.Notes)
		}
	})
}

func TestStore_ReadJSON_Corrupt(t *testing.T) {
	s := newTestStore(t)
	path := docPath(s, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := ReadJSON[testDoc](s, path)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_Marshal_TwoSpaceIndent(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  \"outer\"")
	require.Contains(t, string(data), "\n    \"inner\"")
}

// === Create / Update ===

func TestStore_Create_ThenAlreadyExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := docPath(s, "doc.json")

	require.NoError(t, Create(ctx, s, path, testDoc{Name: "first"}))

	err := Create(ctx, s, path, testDoc{Name: "second"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, err := ReadJSON[testDoc](s, path)
	require.NoError(t, err)
	require.Equal(t, "first", got.Name)
}

func TestStore_Update_CreatesWhenAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := docPath(s, "doc.json")

	err := Update(ctx, s, path, func(doc *testDoc, exists bool) error {
		require.False(t, exists)
		doc.Name = "created"
		doc.Version = 1
		return nil
	})
	require.NoError(t, err)

	got, err := ReadJSON[testDoc](s, path)
	require.NoError(t, err)
	require.Equal(t, "created", got.Name)
}

func TestStore_Update_SurfacesCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := docPath(s, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("]["), 0600))

	err := Update(ctx, s, path, func(doc *testDoc, exists bool) error {
		t.Fatal("mutator must not run on corrupt input")
		return nil
	})
	require.ErrorIs(t, err, ErrCorrupt)

	// The corrupt document must survive untouched.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "][", string(data))
}

func TestStore_Update_MutatorErrorAborts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := docPath(s, "doc.json")
	require.NoError(t, WriteJSON(s, path, testDoc{Name: "before", Version: 1}))

	sentinel := os.ErrPermission
	err := Update(ctx, s, path, func(doc *testDoc, exists bool) error {
		doc.Name = "after"
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	got, err := ReadJSON[testDoc](s, path)
	require.NoError(t, err)
	require.Equal(t, "before", got.Name)
}

// === Locking ===

func TestStore_WithLock_SerializesWriters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := docPath(s, "counter.json")
	require.NoError(t, WriteJSON(s, path, testDoc{Count: 0}))

	const goroutines = 8
	const increments = 5

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				err := Update(ctx, s, path, func(doc *testDoc, exists bool) error {
					doc.Count++
					return nil
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := ReadJSON[testDoc](s, path)
	require.NoError(t, err)
	require.Equal(t, goroutines*increments, got.Count)
}

func TestStore_WithLock_Timeout(t *testing.T) {
	s := newTestStore(t)
	fast := New(s.Paths(), WithLockTimeout(60*time.Millisecond))
	ctx := context.Background()
	path := docPath(s, "held.json")

	acquired := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithLock(ctx, path, func() error {
			close(acquired)
			<-release
			return nil
		})
	}()
	<-acquired
	defer close(release)

	err := fast.WithLock(ctx, path, func() error { return nil })
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestStore_WithLock_ReleasedOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := docPath(s, "doc.json")

	sentinel := os.ErrInvalid
	err := s.WithLock(ctx, path, func() error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	// Lock must be free again.
	err = s.WithLock(ctx, path, func() error { return nil })
	require.NoError(t, err)
}

// === Safety predicate ===

func TestStore_Remove_OutsideRoot(t *testing.T) {
	s := newTestStore(t)
	outside := t.TempDir()

	err := s.Remove(outside)
	require.ErrorIs(t, err, ErrSafetyViolation)
}

func TestStore_Remove_RootItself(t *testing.T) {
	s := newTestStore(t)

	err := s.Remove(s.Paths().Root())
	require.ErrorIs(t, err, ErrSafetyViolation)
}

func TestStore_Remove_TraversalDefeated(t *testing.T) {
	s := newTestStore(t)
	sneaky := filepath.Join(s.Paths().Root(), "sessions", "..", "..")

	err := s.Remove(sneaky)
	require.ErrorIs(t, err, ErrSafetyViolation)
}

func TestStore_Remove_DescendantAllowed(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Paths().Root(), "sessions", "sess-1")
	require.NoError(t, os.MkdirAll(dir, 0750))

	require.NoError(t, s.Remove(dir))
	require.NoDirExists(t, dir)
}

// === Stamp ===

func TestStore_Stamp_UTCFormat(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.FixedZone("PST", -8*3600))
	s := New(newTestStore(t).Paths(), WithClock(func() time.Time { return fixed }))

	require.Equal(t, "2026-03-14T23:09:26Z", s.Stamp())

	parsed, err := time.Parse(time.RFC3339, s.Stamp())
	require.NoError(t, err)
	require.True(t, parsed.Equal(fixed))
}

// === JSON shape on disk ===

func TestStore_WriteJSON_StableBytes(t *testing.T) {
	s := newTestStore(t)
	pathA := docPath(s, "a.json")
	pathB := docPath(s, "b.json")
	doc := testDoc{Name: "same", Count: 7, Notes: []string{"x", "y"}}

	require.NoError(t, WriteJSON(s, pathA, doc))
	require.NoError(t, WriteJSON(s, pathB, doc))

	a, _ := os.ReadFile(pathA)
	b, _ := os.ReadFile(pathB)
	require.Equal(t, a, b)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(a, &generic))
}

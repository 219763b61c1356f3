package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/zjrosen/ultrawork/internal/log"
)

const (
	dirPerm  = 0750
	filePerm = 0600

	// Lock acquisition backoff bounds.
	lockBackoffInitial = 25 * time.Millisecond
	lockBackoffMax     = 400 * time.Millisecond

	// DefaultLockTimeout bounds advisory lock acquisition.
	DefaultLockTimeout = 5 * time.Second
)

// Store reads, locks, and atomically replaces JSON documents under a single
// root. All writers are cooperating processes, so advisory locks suffice.
type Store struct {
	paths       *Paths
	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout overrides the advisory lock acquisition deadline.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store over the given paths.
func New(paths *Paths, opts ...Option) *Store {
	s := &Store{
		paths:       paths,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Paths returns the path resolver backing this store.
func (s *Store) Paths() *Paths { return s.paths }

// Now returns the current wall-clock time.
func (s *Store) Now() time.Time { return s.now() }

// Stamp returns the current time as an ISO-8601 UTC string.
func (s *Store) Stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Read returns a document's raw bytes.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: paths come from the resolver
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether a document is present.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteAtomic writes data to a sibling temp file, fsyncs it, and renames it
// over the target, creating parent directories as needed. Readers never
// observe a partial document.
func (s *Store) WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// WithLock acquires an exclusive advisory lock on a sibling lock file,
// invokes fn, and releases the lock on every exit path. Acquisition retries
// with bounded backoff until the context deadline or the configured lock
// timeout, whichever is sooner.
func (s *Store) WithLock(ctx context.Context, path string, fn func() error) error {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), dirPerm); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	deadline := s.now().Add(s.lockTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	fl := flock.New(lockPath)
	backoff := lockBackoffInitial
	for {
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("locking %s: %w", lockPath, err)
		}
		if locked {
			break
		}
		if s.now().After(deadline) {
			log.Warn(log.CatStore, "lock timeout", "path", lockPath)
			return fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLockTimeout, lockPath, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < lockBackoffMax {
			backoff *= 2
		}
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			log.ErrorErr(log.CatStore, "unlock failed", err, "path", lockPath)
		}
	}()

	return fn()
}

// Remove destructively deletes a path after the safety predicate admits it.
func (s *Store) Remove(path string) error {
	if err := s.paths.CheckRemovable(path); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	log.Debug(log.CatStore, "removed", "path", path)
	return nil
}

// Marshal serializes a document the way every writer must: the standard
// serializer with two-space indentation, so control characters in strings
// survive round-trip.
func Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing document: %w", err)
	}
	return data, nil
}

// ReadJSON reads and parses one typed document.
func ReadJSON[T any](s *Store, path string) (T, error) {
	var doc T
	data, err := s.Read(path)
	if err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return doc, nil
}

// WriteJSON serializes and atomically writes one typed document.
func WriteJSON[T any](s *Store, path string, doc T) error {
	data, err := Marshal(doc)
	if err != nil {
		return err
	}
	return s.WriteAtomic(path, data)
}

// Create writes a new document under lock, failing when one already exists.
func Create[T any](ctx context.Context, s *Store, path string, doc T) error {
	return s.WithLock(ctx, path, func() error {
		if s.Exists(path) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return WriteJSON(s, path, doc)
	})
}

// Update applies mutate to a typed document under the advisory lock and
// atomically writes the result: lock, read, parse, mutate, serialize,
// rename. A parse failure surfaces ErrCorrupt and never overwrites the
// document. The mutator receives exists=false with a zero document when the
// file is absent, so callers can create-or-update.
func Update[T any](ctx context.Context, s *Store, path string, mutate func(doc *T, exists bool) error) error {
	return s.WithLock(ctx, path, func() error {
		var doc T
		exists := false
		data, err := s.Read(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
			}
			exists = true
		case errors.Is(err, ErrNotFound):
		default:
			return err
		}

		if err := mutate(&doc, exists); err != nil {
			return err
		}
		return WriteJSON(s, path, doc)
	})
}

// Package testutil seeds a store root with realistic session and task
// state for tests that drive the CLI or higher-level managers.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ultrawork/internal/session"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/task"
)

// sessionData holds one session to be written.
type sessionData struct {
	id      string
	goal    string
	phase   session.Phase
	age     time.Duration
	options session.Options
}

// taskData holds one team task to be written.
type taskData struct {
	project   string
	team      string
	id        string
	title     string
	role      string
	status    task.Status
	owner     string
	blockedBy []string
}

// Builder accumulates documents and writes them in dependency order.
// Session timestamps are back-dated by each session's age so pruning and
// reporting tests see realistic histories.
type Builder struct {
	t        *testing.T
	root     string
	now      time.Time
	sessions []sessionData
	tasks    []taskData
}

// NewBuilder creates a builder writing under the given store root.
func NewBuilder(t *testing.T, root string) *Builder {
	t.Helper()
	return &Builder{t: t, root: root, now: time.Now().UTC()}
}

// At pins the builder's reference clock.
func (b *Builder) At(now time.Time) *Builder {
	b.now = now
	return b
}

// WithSession adds a session with optional configuration.
func (b *Builder) WithSession(id string, opts ...SessionOption) *Builder {
	data := sessionData{
		id:    id,
		goal:  "goal of " + id,
		phase: session.PhasePlanning,
		// PlanOnly keeps the direct jump to COMPLETE legal.
		options: session.Options{PlanOnly: true},
	}
	for _, opt := range opts {
		opt(&data)
	}
	if data.phase == session.PhaseFailed {
		data.options.MaxIterations = 1
	}
	b.sessions = append(b.sessions, data)
	return b
}

// WithTask adds a team task with optional configuration.
func (b *Builder) WithTask(project, team, id string, opts ...TaskOption) *Builder {
	data := taskData{
		project: project,
		team:    team,
		id:      id,
		title:   "task " + id,
		status:  task.StatusOpen,
		owner:   "w1",
	}
	for _, opt := range opts {
		opt(&data)
	}
	b.tasks = append(b.tasks, data)
	return b
}

// Build writes all accumulated documents through the real stores.
func (b *Builder) Build() {
	b.t.Helper()
	ctx := context.Background()
	for _, data := range b.sessions {
		b.writeSession(ctx, data)
	}
	for _, data := range b.tasks {
		b.writeTask(ctx, data)
	}
}

func (b *Builder) writeSession(ctx context.Context, data sessionData) {
	b.t.Helper()
	stamp := b.now.Add(-data.age)
	st := b.store(stamp)
	sessions := session.NewStore(st)

	_, err := sessions.Init(ctx, session.InitParams{
		SessionID:  data.id,
		Goal:       data.goal,
		WorkingDir: "/src",
		Options:    data.options,
	})
	require.NoError(b.t, err)

	switch data.phase {
	case session.PhasePlanning:
	case session.PhaseCancelled:
		_, err = sessions.Cancel(ctx, data.id)
		require.NoError(b.t, err)
	case session.PhaseFailed:
		b.walkPhases(ctx, sessions, data.id,
			session.PhaseExecution, session.PhaseVerification, session.PhaseFailed)
	case session.PhaseVerification:
		b.walkPhases(ctx, sessions, data.id,
			session.PhaseExecution, session.PhaseVerification)
	default:
		b.walkPhases(ctx, sessions, data.id, data.phase)
	}
}

func (b *Builder) walkPhases(ctx context.Context, sessions *session.Store, id string, phases ...session.Phase) {
	b.t.Helper()
	for _, phase := range phases {
		target := phase
		_, err := sessions.Update(ctx, id, session.Patch{Phase: &target})
		require.NoError(b.t, err)
	}
}

func (b *Builder) writeTask(ctx context.Context, data taskData) {
	b.t.Helper()
	st := b.store(b.now)
	tasks := task.NewStore(st)
	scope := task.TeamScope(data.project, data.team)

	_, err := tasks.Create(ctx, scope, task.CreateParams{
		ID:        data.id,
		Title:     data.title,
		Role:      data.role,
		BlockedBy: data.blockedBy,
	})
	require.NoError(b.t, err)

	if data.status == task.StatusOpen {
		return
	}
	_, err = tasks.Claim(ctx, scope, data.id, data.owner, data.role, false)
	require.NoError(b.t, err)
	if data.status == task.StatusInProgress {
		return
	}
	target := data.status
	_, err = tasks.Update(ctx, scope, data.id, task.Patch{Status: &target})
	require.NoError(b.t, err)
}

func (b *Builder) store(stamp time.Time) *store.Store {
	b.t.Helper()
	paths, err := store.NewPaths(b.root)
	require.NoError(b.t, err)
	return store.New(paths, store.WithClock(func() time.Time { return stamp }))
}

package testutil

import (
	"time"

	"github.com/zjrosen/ultrawork/internal/session"
	"github.com/zjrosen/ultrawork/internal/task"
)

// SessionOption configures one seeded session.
type SessionOption func(*sessionData)

// Goal sets the session goal.
func Goal(goal string) SessionOption {
	return func(d *sessionData) { d.goal = goal }
}

// Phase walks the session to the given phase after creation.
func Phase(phase session.Phase) SessionOption {
	return func(d *sessionData) { d.phase = phase }
}

// Age back-dates the session's timestamps by the given duration.
func Age(age time.Duration) SessionOption {
	return func(d *sessionData) { d.age = age }
}

// AgeDays back-dates the session by whole days.
func AgeDays(days int) SessionOption {
	return Age(time.Duration(days) * 24 * time.Hour)
}

// Options replaces the session options wholesale.
func Options(opts session.Options) SessionOption {
	return func(d *sessionData) { d.options = opts }
}

// TaskOption configures one seeded task.
type TaskOption func(*taskData)

// Title sets the task title.
func Title(title string) TaskOption {
	return func(d *taskData) { d.title = title }
}

// Role sets the task role.
func Role(role string) TaskOption {
	return func(d *taskData) { d.role = role }
}

// Status walks the task to the given status after creation.
func Status(status task.Status) TaskOption {
	return func(d *taskData) { d.status = status }
}

// Owner names the worker used for claim transitions.
func Owner(owner string) TaskOption {
	return func(d *taskData) { d.owner = owner }
}

// BlockedBy lists the task's dependencies.
func BlockedBy(ids ...string) TaskOption {
	return func(d *taskData) { d.blockedBy = ids }
}

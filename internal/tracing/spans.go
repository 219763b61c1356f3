package tracing

// Span attribute keys used across the command surface.
const (
	AttrOperation = "operation"
	AttrSessionID = "session.id"
	AttrProject   = "project"
	AttrTeam      = "team"
	AttrTaskID    = "task.id"
	AttrWorkerID  = "worker.id"
	AttrWave      = "wave"
	AttrInbox     = "mailbox.inbox"
	AttrFormat    = "output.format"

	AttrErrorMessage = "error.message"
	AttrErrorKind    = "error.kind"
)

// Span name prefixes, one per command noun.
const (
	SpanPrefixSession   = "session."
	SpanPrefixTask      = "task."
	SpanPrefixWave      = "wave."
	SpanPrefixProject   = "project."
	SpanPrefixMailbox   = "mailbox."
	SpanPrefixSwarm     = "swarm."
	SpanPrefixWorkspace = "workspace."
	SpanPrefixCleanup   = "cleanup."
)

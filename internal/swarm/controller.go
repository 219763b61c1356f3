package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zjrosen/ultrawork/internal/cachemanager"
	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/loop"
	"github.com/zjrosen/ultrawork/internal/mailbox"
	"github.com/zjrosen/ultrawork/internal/pubsub"
	"github.com/zjrosen/ultrawork/internal/session"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/task"
	"github.com/zjrosen/ultrawork/internal/watcher"
	"github.com/zjrosen/ultrawork/internal/wave"
	"github.com/zjrosen/ultrawork/internal/workspace"
)

// OrchestratorInbox receives worker-to-controller messages.
const OrchestratorInbox = "orchestrator"

// livenessTTL bounds how long a pane-host probe is reused.
const livenessTTL = 2 * time.Second

// defaultTick paces the supervision loop when no events arrive.
const defaultTick = 2 * time.Second

// drainTimeout bounds the per-iteration inbox drain.
const drainTimeout = 50 * time.Millisecond

// Controller event types published on the broker.
const (
	EventSpawned        pubsub.EventType = "swarm.spawned"
	EventAssignmentSent pubsub.EventType = "swarm.assignment_sent"
	EventWaveCompleted  pubsub.EventType = "swarm.wave_completed"
	EventMergeConflict  pubsub.EventType = "swarm.merge_conflict"
	EventWorkerStopped  pubsub.EventType = "swarm.worker_stopped"
	EventResumed        pubsub.EventType = "swarm.resumed"
	EventShutdown       pubsub.EventType = "swarm.shutdown"
)

// Event is the payload of a controller transition.
type Event struct {
	Project string `json:"project"`
	Team    string `json:"team"`
	Worker  string `json:"worker,omitempty"`
	Wave    int    `json:"wave,omitempty"`
	Task    string `json:"task,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// ControllerConfig wires the controller's collaborators.
type ControllerConfig struct {
	Store      *store.Store
	Host       PaneHost
	Swarm      *Store
	Tasks      *task.Store
	Waves      *wave.Calculator
	Mail       *mailbox.Store
	Sessions   *session.Store
	Workspaces *workspace.Manager
	// Loop, when set, lets Run advertise itself with a loop marker.
	Loop *loop.Store
	// Tick paces the supervision loop; zero means defaultTick.
	Tick time.Duration
}

// Controller supervises the swarm: pane lifecycle, worker files, wave
// progression, and the merge protocol.
type Controller struct {
	st         *store.Store
	host       PaneHost
	swarm      *Store
	tasks      *task.Store
	waves      *wave.Calculator
	mail       *mailbox.Store
	sessions   *session.Store
	workspaces *workspace.Manager
	loop       *loop.Store
	broker     *pubsub.Broker[Event]
	liveness   cachemanager.CacheManager[string, bool]
	tick       time.Duration
}

// NewController creates the controller from its collaborators.
func NewController(cfg ControllerConfig) *Controller {
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	return &Controller{
		st:         cfg.Store,
		host:       cfg.Host,
		swarm:      cfg.Swarm,
		tasks:      cfg.Tasks,
		waves:      cfg.Waves,
		mail:       cfg.Mail,
		sessions:   cfg.Sessions,
		workspaces: cfg.Workspaces,
		loop:       cfg.Loop,
		broker:     pubsub.NewBroker[Event](),
		liveness: cachemanager.NewInMemoryCacheManager[string, bool](
			"pane-liveness", livenessTTL, cachemanager.DefaultCleanupInterval),
		tick: tick,
	}
}

// Events subscribes to controller transitions. The channel closes when ctx
// is cancelled.
func (c *Controller) Events(ctx context.Context) <-chan pubsub.Event[Event] {
	return c.broker.Subscribe(ctx)
}

// Close shuts the event broker down.
func (c *Controller) Close() {
	c.broker.Close()
}

// alive probes pane-host session existence through the short-lived cache.
func (c *Controller) alive(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	if v, ok := c.liveness.Get(ctx, name); ok {
		return v
	}
	ok := c.host.HasSession(name)
	c.liveness.Set(ctx, name, ok, livenessTTL)
	return ok
}

// SpawnParams describes the workers to start. Either Roles or Role with
// Count selects the worker set, never both.
type SpawnParams struct {
	Project     string
	Team        string
	Roles       []string
	Role        string
	Count       int
	SourceDir   string
	UseWorktree bool
	SessionName string
	// MaxWorkers caps the swarm size; zero means unbounded.
	MaxWorkers int
	// Command is typed into each worker's pane after spawn. Placeholders
	// {project} {team} {worker} {role} {worktree} are expanded.
	Command string
}

func (p *SpawnParams) roleList() ([]string, error) {
	if len(p.Roles) > 0 {
		if p.Role != "" || p.Count != 0 {
			return nil, fmt.Errorf("%w: pass either roles or role with count, not both", store.ErrInvalidValue)
		}
		return p.Roles, nil
	}
	if p.Role == "" {
		return nil, fmt.Errorf("%w: spawn requires roles or a role with count", store.ErrInvalidValue)
	}
	count := p.Count
	if count == 0 {
		count = 1
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: count %d", store.ErrInvalidValue, count)
	}
	roles := make([]string, count)
	for i := range roles {
		roles[i] = p.Role
	}
	return roles, nil
}

// SpawnResult reports the session and the workers started by one spawn.
type SpawnResult struct {
	Session string   `json:"session"`
	Workers []Worker `json:"workers"`
}

// Spawn creates the pane-host session when absent, one pane per worker,
// a worker file per worker, and writes the swarm plan. With UseWorktree
// each worker gets an isolated working copy before its pane starts.
func (c *Controller) Spawn(ctx context.Context, p SpawnParams) (*SpawnResult, error) {
	if err := validateTeam(p.Project, p.Team); err != nil {
		return nil, err
	}
	roles, err := p.roleList()
	if err != nil {
		return nil, err
	}
	if p.UseWorktree && p.SourceDir == "" {
		return nil, fmt.Errorf("%w: use_worktree requires a source directory", store.ErrInvalidValue)
	}

	existing, _, err := c.swarm.ListWorkers(p.Project, p.Team)
	if err != nil {
		return nil, err
	}
	if p.MaxWorkers > 0 && len(existing)+len(roles) > p.MaxWorkers {
		return nil, fmt.Errorf("%w: %d workers requested with %d active exceeds max_workers %d",
			store.ErrInvalidValue, len(roles), len(existing), p.MaxWorkers)
	}

	name := p.SessionName
	if name == "" {
		name = p.Project + "-" + p.Team
	}

	created := false
	if !c.host.HasSession(name) {
		if err := c.host.NewSession(name, p.SourceDir); err != nil {
			return nil, err
		}
		created = true
		_ = c.liveness.Delete(ctx, name)
	}

	next := nextWorkerNumber(existing)
	spawned := make([]Worker, 0, len(roles))
	for i, role := range roles {
		id := fmt.Sprintf("w%d", next+i)
		w := Worker{
			ID:        id,
			Role:      role,
			Status:    WorkerIdle,
			SessionID: os.Getenv(store.EnvSessionID),
		}

		dir := p.SourceDir
		if p.UseWorktree {
			wsp, err := c.workspaces.CreateIsolated(ctx, p.Project, p.Team, id, p.SourceDir)
			if err != nil {
				return nil, err
			}
			w.Worktree = &wsp.Path
			w.Branch = wsp.Branch
			dir = wsp.Path
		}

		if created && i == 0 {
			w.Pane = 0
		} else {
			pane, err := c.host.SplitPane(name, dir)
			if err != nil {
				return nil, err
			}
			w.Pane = pane
		}

		if p.Command != "" {
			if err := c.host.SendKeys(name, w.Pane, expandCommand(p.Command, p.Project, p.Team, w)); err != nil {
				return nil, err
			}
		}

		if err := c.swarm.SaveWorker(ctx, p.Project, p.Team, &w); err != nil {
			return nil, err
		}
		spawned = append(spawned, w)
		c.broker.Publish(EventSpawned, Event{Project: p.Project, Team: p.Team, Worker: id})
		log.Info(log.CatSwarm, "worker spawned",
			"project", p.Project, "team", p.Team, "worker", id, "role", role, "pane", w.Pane)
	}

	ids := make([]string, 0, len(existing)+len(spawned))
	for _, w := range existing {
		ids = append(ids, w.ID)
	}
	for _, w := range spawned {
		ids = append(ids, w.ID)
	}
	workspace.SortWorkerIDs(ids)

	currentWave := 1
	if wp, err := c.waves.Get(p.Project, p.Team); err == nil && wp.CurrentWave > 0 {
		currentWave = wp.CurrentWave
	}

	if _, err := c.swarm.UpdatePlan(ctx, p.Project, p.Team, func(pl *Plan, exists bool) error {
		pl.Session = name
		pl.Status = PlanRunning
		pl.Workers = ids
		pl.UseWorktree = pl.UseWorktree || p.UseWorktree
		if p.SourceDir != "" {
			pl.SourceDir = p.SourceDir
		}
		if !exists {
			pl.CurrentWave = currentWave
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &SpawnResult{Session: name, Workers: spawned}, nil
}

// nextWorkerNumber finds the first free w<N> id after the existing workers.
func nextWorkerNumber(existing []Worker) int {
	next := 1
	for _, w := range existing {
		n, ok := strings.CutPrefix(w.ID, "w")
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(n); err == nil && v >= next {
			next = v + 1
		}
	}
	return next
}

func expandCommand(tmpl, project, team string, w Worker) string {
	worktree := ""
	if w.Worktree != nil {
		worktree = *w.Worktree
	}
	return strings.NewReplacer(
		"{project}", project,
		"{team}", team,
		"{worker}", w.ID,
		"{role}", w.Role,
		"{worktree}", worktree,
	).Replace(tmpl)
}

// Status reads the authoritative worker files and decorates them with
// pane-host liveness. The plan is included as advisory context; an
// unreadable plan degrades to workers-only output.
func (c *Controller) Status(ctx context.Context, project, team string) (*StatusView, error) {
	workers, skipped, err := c.swarm.ListWorkers(project, team)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Workers: make([]WorkerView, 0, len(workers)), Skipped: skipped}

	plan, err := c.swarm.GetPlan(project, team)
	switch {
	case err == nil:
		view.Plan = plan
	case errors.Is(err, store.ErrNotFound):
	default:
		log.Warn(log.CatSwarm, "swarm plan unreadable", "project", project, "team", team, "error", err)
	}

	alive := false
	if view.Plan != nil {
		alive = c.alive(ctx, view.Plan.Session)
	}
	for _, w := range workers {
		view.Workers = append(view.Workers, WorkerView{Worker: w, Alive: alive})
	}
	return view, nil
}

// StopParams selects what to stop: one worker or the whole swarm.
type StopParams struct {
	Worker string
	All    bool
}

// Stop sends a shutdown_request and then kills the selected pane or the
// whole session. Exactly one selector must be given, and the pane-host
// session must exist.
func (c *Controller) Stop(ctx context.Context, project, team string, p StopParams) error {
	if err := validateTeam(project, team); err != nil {
		return err
	}
	if p.All == (p.Worker != "") {
		return fmt.Errorf("%w: stop takes exactly one of a worker id or all", store.ErrInvalidValue)
	}

	plan, err := c.swarm.GetPlan(project, team)
	if err != nil {
		return err
	}
	if !c.host.HasSession(plan.Session) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, plan.Session)
	}

	if p.All {
		workers, _, err := c.swarm.ListWorkers(project, team)
		if err != nil {
			return err
		}
		for _, w := range workers {
			c.sendShutdown(ctx, project, team, w.ID)
		}
		if err := c.host.KillSession(plan.Session); err != nil {
			return err
		}
		_ = c.liveness.Delete(ctx, plan.Session)
		if _, err := c.swarm.UpdatePlan(ctx, project, team, func(pl *Plan, exists bool) error {
			pl.Status = PlanStopped
			return nil
		}); err != nil {
			return err
		}
		c.broker.Publish(EventShutdown, Event{Project: project, Team: team})
		log.Info(log.CatSwarm, "swarm stopped", "project", project, "team", team)
		return nil
	}

	w, err := c.swarm.GetWorker(project, team, p.Worker)
	if err != nil {
		return err
	}
	c.sendShutdown(ctx, project, team, w.ID)
	if err := c.host.KillPane(plan.Session, w.Pane); err != nil {
		return err
	}
	if _, err := c.swarm.UpdateWorker(ctx, project, team, w.ID, func(w *Worker) error {
		w.Status = WorkerNotFound
		w.CurrentTask = nil
		return nil
	}); err != nil {
		return err
	}
	c.broker.Publish(EventWorkerStopped, Event{Project: project, Team: team, Worker: w.ID})
	log.Info(log.CatSwarm, "worker stopped", "project", project, "team", team, "worker", w.ID)
	return nil
}

func (c *Controller) sendShutdown(ctx context.Context, project, team, worker string) {
	_, err := c.mail.Send(ctx, project, team, mailbox.SendParams{
		From:    OrchestratorInbox,
		To:      worker,
		Type:    mailbox.TypeShutdownRequest,
		Payload: mailbox.Payload("shutdown requested"),
	})
	if err != nil {
		log.Warn(log.CatSwarm, "shutdown notice failed", "worker", worker, "error", err)
	}
}

// Resume clears the paused flag after a conflict has been resolved by hand
// and re-sends assignments for the current wave.
func (c *Controller) Resume(ctx context.Context, project, team string) (*Plan, error) {
	plan, err := c.swarm.UpdatePlan(ctx, project, team, func(pl *Plan, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: swarm plan for %s/%s", store.ErrNotFound, project, team)
		}
		pl.Paused = false
		if pl.Status == PlanPaused {
			pl.Status = PlanRunning
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rr := 0
	if _, err := c.assignWave(ctx, project, team, plan.CurrentWave, map[string]bool{}, &rr); err != nil {
		return nil, err
	}
	c.broker.Publish(EventResumed, Event{Project: project, Team: team, Wave: plan.CurrentWave})
	log.Info(log.CatSwarm, "swarm resumed", "project", project, "team", team, "wave", plan.CurrentWave)
	return plan, nil
}

// RunParams configures one supervision run.
type RunParams struct {
	Project string
	Team    string
	// SessionID names the owning session; a CANCELLED phase stops the
	// loop cleanly.
	SessionID string
	// SourceDir overrides the plan's mainline checkout for merge and sync.
	SourceDir string
}

// Run supervises the swarm until the waves are exhausted, the plan stops,
// the owning session is cancelled, or ctx ends. Each iteration drains the
// orchestrator inbox, checks wave completion, and drives the merge
// protocol.
func (c *Controller) Run(ctx context.Context, p RunParams) error {
	if err := validateTeam(p.Project, p.Team); err != nil {
		return err
	}

	tasksDir := c.st.Paths().TeamTasksDir(p.Project, p.Team)
	if err := os.MkdirAll(tasksDir, 0750); err != nil {
		return fmt.Errorf("creating tasks directory: %w", err)
	}
	w, err := watcher.New(watcher.DefaultConfig(tasksDir))
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	if c.loop != nil && p.SessionID != "" {
		if _, err := c.loop.Start(ctx, p.Project, p.Team, "orchestrator", p.SessionID); err != nil {
			return err
		}
		defer func() {
			if _, err := c.loop.Stop(context.Background(), p.Project, p.Team, p.SessionID); err != nil {
				log.Warn(log.CatLoop, "loop marker stop failed", "session", p.SessionID, "error", err)
			}
		}()
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	assigned := map[string]bool{}
	rr := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.sessionCancelled(p.SessionID) {
			log.Info(log.CatSwarm, "owning session cancelled; supervisor exiting",
				"session", p.SessionID)
			return nil
		}

		plan, err := c.swarm.GetPlan(p.Project, p.Team)
		if err != nil {
			return err
		}
		if plan.Status == PlanStopped {
			return nil
		}

		if !plan.Paused {
			done, err := c.step(ctx, p, plan, assigned, &rr)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}

		c.drainInbox(ctx, p.Project, p.Team)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
		case <-ticker.C:
		}
	}
}

func (c *Controller) sessionCancelled(sessionID string) bool {
	if sessionID == "" || c.sessions == nil {
		return false
	}
	doc, err := c.sessions.Get(sessionID)
	if err != nil {
		return false
	}
	return doc.Phase == session.PhaseCancelled
}

// drainInbox consumes pending orchestrator messages without blocking the
// loop for long.
func (c *Controller) drainInbox(ctx context.Context, project, team string) {
	msgs, err := c.mail.Poll(ctx, project, team, OrchestratorInbox,
		mailbox.PollParams{Timeout: drainTimeout})
	if err != nil {
		log.Warn(log.CatSwarm, "orchestrator inbox poll failed", "error", err)
		return
	}
	for _, m := range msgs {
		c.handleMessage(ctx, project, team, m)
	}
}

func (c *Controller) handleMessage(ctx context.Context, project, team string, m mailbox.Message) {
	switch m.Type {
	case mailbox.TypeIdleNotification:
		if _, err := c.swarm.UpdateWorker(ctx, project, team, m.From, func(w *Worker) error {
			w.Status = WorkerIdle
			w.CurrentTask = nil
			return nil
		}); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warn(log.CatSwarm, "idle update failed", "worker", m.From, "error", err)
		}
	case mailbox.TypeStatusReply:
		log.Debug(log.CatSwarm, "status reply", "from", m.From, "payload", m.PayloadText())
	default:
		log.Debug(log.CatSwarm, "orchestrator message", "from", m.From, "type", m.Type)
	}
}

// step advances wave state once: assign pending tasks, and when the
// current wave is fully resolved, merge it and move on. The returned bool
// reports that supervision is finished.
func (c *Controller) step(ctx context.Context, p RunParams, plan *Plan, assigned map[string]bool, rr *int) (bool, error) {
	wavePlan, err := c.waves.Get(p.Project, p.Team)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if wavePlan.TotalWaves == 0 {
		return false, nil
	}
	if wavePlan.CurrentWave == 0 {
		return true, c.shutdown(ctx, p.Project, p.Team)
	}
	current := wavePlan.CurrentWave

	if _, err := c.assignWave(ctx, p.Project, p.Team, current, assigned, rr); err != nil {
		return false, err
	}

	resolved, err := c.waveResolved(p.Project, p.Team, wavePlan, current)
	if err != nil {
		return false, err
	}
	if !resolved {
		return false, nil
	}

	if plan.UseWorktree {
		source := p.SourceDir
		if source == "" {
			source = plan.SourceDir
		}
		report, err := c.workspaces.Merge(ctx, p.Project, p.Team, current, source)
		if err != nil {
			return false, err
		}
		if report.Status == workspace.MergeConflict {
			c.broker.Publish(EventMergeConflict, Event{
				Project: p.Project, Team: p.Team, Wave: current, Worker: report.ConflictAt,
			})
			log.Warn(log.CatSwarm, "wave merge conflicted; waiting for resume",
				"wave", current, "worker", report.ConflictAt)
			return false, nil
		}
	}

	if _, err := c.waves.UpdateWave(ctx, p.Project, p.Team, current, wave.StatusCompleted); err != nil {
		return false, err
	}
	c.broker.Publish(EventWaveCompleted, Event{Project: p.Project, Team: p.Team, Wave: current})
	log.Info(log.CatSwarm, "wave completed", "project", p.Project, "team", p.Team, "wave", current)

	next := 0
	if wp, err := c.waves.Get(p.Project, p.Team); err == nil {
		next = wp.CurrentWave
	}
	if _, err := c.swarm.UpdatePlan(ctx, p.Project, p.Team, func(pl *Plan, exists bool) error {
		pl.CurrentWave = next
		return nil
	}); err != nil {
		return false, err
	}

	if plan.UseWorktree {
		c.syncWorkers(ctx, p.Project, p.Team)
	}

	if next == 0 {
		return true, c.shutdown(ctx, p.Project, p.Team)
	}
	if _, err := c.assignWave(ctx, p.Project, p.Team, next, assigned, rr); err != nil {
		return false, err
	}
	return false, nil
}

// waveResolved reports whether every task of the wave is resolved. Tasks
// deleted since the wave was calculated no longer gate it.
func (c *Controller) waveResolved(project, team string, plan *wave.Plan, id int) (bool, error) {
	var target *wave.Wave
	for i := range plan.Waves {
		if plan.Waves[i].ID == id {
			target = &plan.Waves[i]
			break
		}
	}
	if target == nil {
		return false, nil
	}
	scope := task.TeamScope(project, team)
	for _, taskID := range target.Tasks {
		doc, err := c.tasks.Get(scope, taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return false, err
		}
		if doc.Status != task.StatusResolved {
			return false, nil
		}
	}
	return true, nil
}

// assignWave sends task_assignment messages for the wave's unclaimed open
// tasks, round-robin over eligible workers. Role-tagged tasks go only to
// matching workers.
func (c *Controller) assignWave(ctx context.Context, project, team string, waveID int, assigned map[string]bool, rr *int) (int, error) {
	if waveID < 1 {
		return 0, nil
	}
	wavePlan, err := c.waves.Get(project, team)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var target *wave.Wave
	for i := range wavePlan.Waves {
		if wavePlan.Waves[i].ID == waveID {
			target = &wavePlan.Waves[i]
			break
		}
	}
	if target == nil {
		return 0, nil
	}

	workers, _, err := c.swarm.ListWorkers(project, team)
	if err != nil {
		return 0, err
	}

	scope := task.TeamScope(project, team)
	sent := 0
	for _, taskID := range target.Tasks {
		if assigned[taskID] {
			continue
		}
		doc, err := c.tasks.Get(scope, taskID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				assigned[taskID] = true
				continue
			}
			return sent, err
		}
		if doc.ClaimedBy != nil || doc.Status == task.StatusResolved {
			assigned[taskID] = true
			continue
		}
		if !doc.Status.Claimable() {
			continue
		}

		w := pickWorker(workers, doc.Role, rr)
		if w == nil {
			log.Warn(log.CatSwarm, "no eligible worker for task",
				"task", taskID, "role", doc.Role)
			continue
		}

		payload, err := json.Marshal(map[string]any{"task": taskID, "wave": waveID})
		if err != nil {
			return sent, err
		}
		if _, err := c.mail.Send(ctx, project, team, mailbox.SendParams{
			From:    OrchestratorInbox,
			To:      w.ID,
			Type:    mailbox.TypeTaskAssignment,
			Payload: payload,
		}); err != nil {
			return sent, err
		}
		assigned[taskID] = true
		sent++
		c.broker.Publish(EventAssignmentSent, Event{
			Project: project, Team: team, Worker: w.ID, Task: taskID, Wave: waveID,
		})
		log.Info(log.CatSwarm, "task assigned",
			"task", taskID, "worker", w.ID, "wave", waveID)
	}
	return sent, nil
}

// pickWorker round-robins over workers that can take the role.
func pickWorker(workers []Worker, role string, rr *int) *Worker {
	n := len(workers)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		w := &workers[(*rr+i)%n]
		if w.Status == WorkerNotFound {
			continue
		}
		if role != "" && w.Role != "" && w.Role != role {
			continue
		}
		*rr = (*rr + i + 1) % n
		return w
	}
	return nil
}

// syncWorkers rebases every active isolated worker onto the new mainline.
// Failures land in the worker's last_error; supervision continues.
func (c *Controller) syncWorkers(ctx context.Context, project, team string) {
	workers, _, err := c.swarm.ListWorkers(project, team)
	if err != nil {
		log.Warn(log.CatSwarm, "listing workers for sync failed", "error", err)
		return
	}
	for _, w := range workers {
		if w.Status == WorkerNotFound || w.Worktree == nil {
			continue
		}
		res, err := c.workspaces.Sync(ctx, project, team, w.ID)
		var detail string
		switch {
		case err != nil:
			detail = err.Error()
		case res.Status == workspace.SyncConflict:
			detail = res.Error
		default:
			continue
		}
		if _, uerr := c.swarm.UpdateWorker(ctx, project, team, w.ID, func(w *Worker) error {
			w.LastError = detail
			return nil
		}); uerr != nil {
			log.Warn(log.CatSwarm, "recording sync failure failed", "worker", w.ID, "error", uerr)
		}
		log.Warn(log.CatSwarm, "worker sync failed", "worker", w.ID, "error", detail)
	}
}

// shutdown asks every worker to exit and stops the plan.
func (c *Controller) shutdown(ctx context.Context, project, team string) error {
	workers, _, err := c.swarm.ListWorkers(project, team)
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.Status == WorkerNotFound {
			continue
		}
		c.sendShutdown(ctx, project, team, w.ID)
	}
	if _, err := c.swarm.UpdatePlan(ctx, project, team, func(pl *Plan, exists bool) error {
		pl.Status = PlanStopped
		return nil
	}); err != nil {
		return err
	}
	c.broker.Publish(EventShutdown, Event{Project: project, Team: team})
	log.Info(log.CatSwarm, "waves exhausted; swarm stopped", "project", project, "team", team)
	return nil
}

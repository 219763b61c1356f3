// Package project maintains the project/team container document and its
// derived view over the task set. Stored stats are a cache; the scan over
// task files is authoritative.
package project

import (
	"context"
	"fmt"
	"time"

	"github.com/zjrosen/ultrawork/internal/cachemanager"
	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/task"
)

// StatsTTL bounds how stale an in-process stats scan may get before the
// task files are read again.
const StatsTTL = 60 * time.Second

// Stats are the derived task counts.
type Stats struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Resolved   int `json:"resolved"`
}

// Project is the stored container document.
type Project struct {
	Project   string `json:"project"`
	Team      string `json:"team"`
	Goal      string `json:"goal"`
	Phase     string `json:"phase"`
	Stats     Stats  `json:"stats"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// StatusView is the derived answer to a status query.
type StatusView struct {
	Project      string      `json:"project"`
	Team         string      `json:"team"`
	Goal         string      `json:"goal"`
	Phase        string      `json:"phase"`
	Stats        Stats       `json:"stats"`
	BlockedTasks []string    `json:"blocked_tasks"`
	Tasks        []task.Task `json:"tasks,omitempty"`
	Skipped      int         `json:"skipped,omitempty"`
}

// scanResult caches one pass over the scope's task files.
type scanResult struct {
	tasks   []task.Task
	skipped int
}

// View answers status queries for project/team containers.
type View struct {
	st    *store.Store
	tasks *task.Store
	cache cachemanager.CacheManager[string, scanResult]
}

// NewView creates a project view over the atomic store and task store.
func NewView(st *store.Store, tasks *task.Store) *View {
	return &View{
		st:    st,
		tasks: tasks,
		cache: cachemanager.NewInMemoryCacheManager[string, scanResult]("project-stats", StatsTTL, cachemanager.DefaultCleanupInterval),
	}
}

// InvalidateStats drops the cached scan for a mutated scope. Wired as the
// task store's mutation hook; session scopes have no project stats.
func (v *View) InvalidateStats(scope task.Scope) {
	if scope.IsSession() {
		return
	}
	_ = v.cache.Delete(context.Background(), scope.String())
}

// Init creates the project document. An existing document is refused unless
// force is set.
func (v *View) Init(ctx context.Context, project, team, goal string, force bool) (*Project, error) {
	if err := store.ValidateProject(project); err != nil {
		return nil, err
	}
	if err := store.ValidateID("team", team); err != nil {
		return nil, err
	}
	now := v.st.Stamp()
	doc := Project{
		Project:   project,
		Team:      team,
		Goal:      goal,
		Phase:     "planning",
		CreatedAt: now,
		UpdatedAt: now,
	}
	path := v.st.Paths().ProjectFile(project, team)
	if force {
		err := v.st.WithLock(ctx, path, func() error {
			return store.WriteJSON(v.st, path, doc)
		})
		if err != nil {
			return nil, err
		}
	} else if err := store.Create(ctx, v.st, path, doc); err != nil {
		return nil, err
	}
	log.Info(log.CatProject, "project initialized", "project", project, "team", team)
	return &doc, nil
}

// Get returns the stored project document.
func (v *View) Get(project, team string) (*Project, error) {
	doc, err := store.ReadJSON[Project](v.st, v.st.Paths().ProjectFile(project, team))
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Status derives the current view: counts scanned from task files, the set
// of blocked task ids, and with verbose the tasks themselves plus the
// number of unreadable files skipped.
func (v *View) Status(ctx context.Context, project, team string, verbose bool) (*StatusView, error) {
	doc, err := v.Get(project, team)
	if err != nil {
		return nil, err
	}
	scan, err := v.scan(ctx, project, team)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		Project:      project,
		Team:         team,
		Goal:         doc.Goal,
		Phase:        doc.Phase,
		Stats:        tally(scan.tasks),
		BlockedTasks: blockedTasks(scan.tasks),
	}
	if verbose {
		view.Tasks = scan.tasks
		view.Skipped = scan.skipped
	}
	return view, nil
}

// StatusField extracts a dotted sub-path of the status view.
func (v *View) StatusField(ctx context.Context, project, team, fieldPath string) (any, error) {
	view, err := v.Status(ctx, project, team, true)
	if err != nil {
		return nil, err
	}
	return store.ExtractFrom(view, fieldPath)
}

// RefreshStats rescans the task files and persists the counts into the
// project document.
func (v *View) RefreshStats(ctx context.Context, project, team string) (*Project, error) {
	scan, err := v.rescan(ctx, project, team)
	if err != nil {
		return nil, err
	}
	stats := tally(scan.tasks)

	path := v.st.Paths().ProjectFile(project, team)
	var result *Project
	err = store.Update(ctx, v.st, path, func(doc *Project, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: project %s/%s", store.ErrNotFound, project, team)
		}
		if doc.Stats != stats {
			doc.Stats = stats
			doc.UpdatedAt = v.st.Stamp()
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug(log.CatProject, "stats refreshed", "project", project, "team", team,
		"total", stats.Total, "skipped", scan.skipped)
	return result, nil
}

// scan returns the cached task scan, reading from disk on a miss.
func (v *View) scan(ctx context.Context, project, team string) (scanResult, error) {
	key := project + "/" + team
	if cached, ok := v.cache.Get(ctx, key); ok {
		return cached, nil
	}
	return v.rescan(ctx, project, team)
}

// rescan always reads the task files and repopulates the cache.
func (v *View) rescan(ctx context.Context, project, team string) (scanResult, error) {
	tasks, skipped, err := v.tasks.List(task.TeamScope(project, team), task.Filter{})
	if err != nil {
		return scanResult{}, err
	}
	if skipped > 0 {
		log.Warn(log.CatProject, "skipped unreadable task files", "project", project, "team", team, "count", skipped)
	}
	res := scanResult{tasks: tasks, skipped: skipped}
	v.cache.Set(ctx, project+"/"+team, res, StatsTTL)
	return res, nil
}

// tally counts tasks by status. Failed and pending tasks count toward the
// total only.
func tally(tasks []task.Task) Stats {
	stats := Stats{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case task.StatusOpen:
			stats.Open++
		case task.StatusInProgress:
			stats.InProgress++
		case task.StatusResolved:
			stats.Resolved++
		}
	}
	return stats
}

// blockedTasks lists ids whose blocked_by names an unresolved known task.
// Blockers that no longer exist do not block.
func blockedTasks(tasks []task.Task) []string {
	unresolved := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status != task.StatusResolved {
			unresolved[t.ID] = true
		}
	}
	blocked := []string{}
	for _, t := range tasks {
		for _, dep := range t.BlockedBy {
			if unresolved[dep] {
				blocked = append(blocked, t.ID)
				break
			}
		}
	}
	return blocked
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/task"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the shared task board",
}

// Scope selector flags shared by every task verb.
var (
	taskProject string
	taskTeam    string
	taskSession string
)

func taskCmdScope() (task.Scope, error) {
	return taskScope(taskProject, taskTeam, taskSession)
}

var (
	taskCreateTitle       string
	taskCreateDescription string
	taskCreateRole        string
	taskCreateDomain      string
	taskCreateComplexity  string
	taskCreateBlockedBy   []string
	taskCreateCriteria    []string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <task-id>",
	Short: "Create an open task",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"create", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		doc, err := rt.tasks.Create(ctx, scope, task.CreateParams{
			ID:          args[0],
			Title:       taskCreateTitle,
			Description: taskCreateDescription,
			Role:        taskCreateRole,
			Domain:      taskCreateDomain,
			Complexity:  task.Complexity(taskCreateComplexity),
			BlockedBy:   taskCreateBlockedBy,
			Criteria:    taskCreateCriteria,
		})
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "task %s created in %s", doc.ID, scope)
	}),
}

var taskGetField string

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task or one of its fields",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"get", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		if taskGetField != "" {
			v, err := rt.tasks.GetField(scope, args[0], taskGetField)
			if err != nil {
				return err
			}
			return printField(rt.printer, v)
		}
		doc, err := rt.tasks.Get(scope, args[0])
		if err != nil {
			return err
		}
		return renderTask(rt.printer, doc)
	}),
}

var (
	taskListStatus    string
	taskListRole      string
	taskListAvailable bool
	taskListWave      int
)

// taskListing is the structured shape of a task list result.
type taskListing struct {
	Tasks   []task.Task `json:"tasks"`
	Skipped int         `json:"skipped,omitempty"`
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in a scope",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixTask+"list", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		filter := task.Filter{Role: taskListRole, Available: taskListAvailable}
		if taskListStatus != "" {
			status, err := parseTaskStatus(taskListStatus)
			if err != nil {
				return err
			}
			filter.Status = status
		}
		if taskListWave >= 0 {
			filter.Wave = &taskListWave
		}
		tasks, skipped, err := rt.tasks.List(scope, filter)
		if err != nil {
			return err
		}
		return rt.printer.Result(taskListing{Tasks: tasks, Skipped: skipped}, func(w io.Writer) error {
			if len(tasks) == 0 {
				_, err := fmt.Fprintln(w, "no tasks")
				return err
			}
			tbl := cli.NewTable("ID", "STATUS", "WAVE", "ROLE", "OWNER", "TITLE").Limit(5, 48)
			for i := range tasks {
				t := &tasks[i]
				tbl.AddRow(t.ID, string(t.Status), intOrDash(t.Wave), t.Role,
					strOrDash(t.ClaimedBy), t.Title)
			}
			if err := tbl.Render(w); err != nil {
				return err
			}
			if skipped > 0 {
				_, err := fmt.Fprintf(w, "(%d corrupt task files skipped)\n", skipped)
				return err
			}
			return nil
		})
	}),
}

var (
	taskClaimOwner  string
	taskClaimRole   string
	taskClaimStrict bool
)

var taskClaimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim a task for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"claim", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		doc, err := rt.tasks.Claim(ctx, scope, args[0], taskClaimOwner, taskClaimRole, taskClaimStrict)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "task %s claimed by %s", doc.ID, taskClaimOwner)
	}),
}

var taskReleaseCmd = &cobra.Command{
	Use:   "release <task-id>",
	Short: "Release a claimed task back to open",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"release", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		doc, err := rt.tasks.Release(ctx, scope, args[0])
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "task %s released", doc.ID)
	}),
}

var (
	taskUpdateStatus      string
	taskUpdateTitle       string
	taskUpdateDescription string
	taskUpdateWave        int
)

var taskUpdateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Apply a partial update to a task",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"update", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		var patch task.Patch
		if taskUpdateStatus != "" {
			status, err := parseTaskStatus(taskUpdateStatus)
			if err != nil {
				return err
			}
			patch.Status = &status
		}
		if taskUpdateTitle != "" {
			patch.Title = &taskUpdateTitle
		}
		if taskUpdateDescription != "" {
			patch.Description = &taskUpdateDescription
		}
		if taskUpdateWave >= 0 {
			patch.Wave = &taskUpdateWave
		}
		doc, err := rt.tasks.Update(ctx, scope, args[0], patch)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "task %s updated (status=%s)", doc.ID, doc.Status)
	}),
}

var taskEvidenceText string

var taskEvidenceCmd = &cobra.Command{
	Use:   "evidence <task-id>",
	Short: "Append an evidence line to a task",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"evidence", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		doc, err := rt.tasks.AppendEvidence(ctx, scope, args[0], taskEvidenceText)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "evidence appended to %s (%d lines)", doc.ID, len(doc.Evidence))
	}),
}

var taskDeleteForce bool

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete an open task",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixTask+"delete", func(ctx context.Context, rt *runtime, args []string) error {
		scope, err := taskCmdScope()
		if err != nil {
			return err
		}
		orphaned, err := rt.tasks.Delete(ctx, scope, args[0], taskDeleteForce)
		if err != nil {
			return err
		}
		result := map[string]any{"deleted": args[0], "orphaned_dependents": orphaned}
		if len(orphaned) > 0 {
			return confirm(rt.printer, result, "task %s deleted, orphaning %s",
				args[0], strings.Join(orphaned, ", "))
		}
		return confirm(rt.printer, result, "task %s deleted", args[0])
	}),
}

func init() {
	pf := taskCmd.PersistentFlags()
	pf.StringVarP(&taskProject, "project", "p", "", "project name")
	pf.StringVarP(&taskTeam, "team", "t", "", "team name")
	pf.StringVarP(&taskSession, "session", "s", "", "session id (default: $ULTRAWORK_SESSION_ID)")

	c := taskCreateCmd.Flags()
	c.StringVar(&taskCreateTitle, "title", "", "short imperative title")
	c.StringVar(&taskCreateDescription, "description", "", "what done looks like")
	c.StringVar(&taskCreateRole, "role", "", "role the task is meant for")
	c.StringVar(&taskCreateDomain, "domain", "", "work area tag")
	c.StringVar(&taskCreateComplexity, "complexity", string(task.ComplexityStandard), "simple, standard, or complex")
	c.StringSliceVar(&taskCreateBlockedBy, "blocked-by", nil, "task ids this one waits on")
	c.StringSliceVar(&taskCreateCriteria, "criteria", nil, "acceptance criteria")
	_ = taskCreateCmd.MarkFlagRequired("title")

	taskGetCmd.Flags().StringVar(&taskGetField, "field", "", "dotted field path, e.g. claimed_by")

	l := taskListCmd.Flags()
	l.StringVar(&taskListStatus, "status", "", "filter by status")
	l.StringVar(&taskListRole, "role", "", "filter by role")
	l.BoolVar(&taskListAvailable, "available", false, "only unowned open tasks")
	l.IntVar(&taskListWave, "wave", -1, "filter by wave number")

	cl := taskClaimCmd.Flags()
	cl.StringVar(&taskClaimOwner, "owner", "", "claiming worker id")
	cl.StringVar(&taskClaimRole, "role", "", "claiming worker's role")
	cl.BoolVar(&taskClaimStrict, "strict", false, "refuse when the task's role differs")
	_ = taskClaimCmd.MarkFlagRequired("owner")

	u := taskUpdateCmd.Flags()
	u.StringVar(&taskUpdateStatus, "status", "", "target status")
	u.StringVar(&taskUpdateTitle, "title", "", "replacement title")
	u.StringVar(&taskUpdateDescription, "description", "", "replacement description")
	u.IntVar(&taskUpdateWave, "wave", -1, "wave assignment")

	taskEvidenceCmd.Flags().StringVar(&taskEvidenceText, "text", "", "evidence line")
	_ = taskEvidenceCmd.MarkFlagRequired("text")

	taskDeleteCmd.Flags().BoolVar(&taskDeleteForce, "force", false, "delete even when other tasks block on it")

	taskCmd.AddCommand(taskCreateCmd, taskGetCmd, taskListCmd, taskClaimCmd,
		taskReleaseCmd, taskUpdateCmd, taskEvidenceCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}

func parseTaskStatus(s string) (task.Status, error) {
	st := task.Status(strings.ToLower(s))
	switch st {
	case task.StatusOpen, task.StatusInProgress, task.StatusResolved,
		task.StatusFailed, task.StatusPending:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown task status %q", store.ErrInvalidValue, s)
}

func renderTask(p *cli.Printer, t *task.Task) error {
	return p.Result(t, func(w io.Writer) error {
		f := cli.NewFields()
		f.Add("task", t.ID)
		f.Add("title", t.Title)
		f.Add("status", string(t.Status))
		if t.Description != "" {
			f.Add("description", t.Description)
		}
		if t.Role != "" {
			f.Add("role", t.Role)
		}
		if t.Domain != "" {
			f.Add("domain", t.Domain)
		}
		f.Add("complexity", string(t.Complexity))
		f.Add("owner", strOrDash(t.ClaimedBy))
		f.Add("wave", intOrDash(t.Wave))
		if len(t.BlockedBy) > 0 {
			f.Add("blocked_by", strings.Join(t.BlockedBy, ", "))
		}
		if len(t.Criteria) > 0 {
			f.Add("criteria", strings.Join(t.Criteria, "; "))
		}
		if t.RetryCount > 0 {
			f.Addf("retries", "%d", t.RetryCount)
		}
		f.Addf("evidence", "%d lines", len(t.Evidence))
		f.Add("updated", t.UpdatedAt)
		return f.Render(w)
	})
}

func strOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func intOrDash(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage project/team containers",
}

var (
	projectProject string
	projectTeam    string
)

var (
	projectInitGoal  string
	projectInitForce bool
)

var projectInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a project/team container",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixProject+"init", func(ctx context.Context, rt *runtime, args []string) error {
		doc, err := rt.projects.Init(ctx, projectProject, projectTeam, projectInitGoal, projectInitForce)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "project %s/%s initialized", doc.Project, doc.Team)
	}),
}

var (
	projectStatusVerbose bool
	projectStatusField   string
	projectStatusRefresh bool
)

var projectStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show goal, phase, and live task statistics",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixProject+"status", func(ctx context.Context, rt *runtime, args []string) error {
		if projectStatusRefresh {
			if _, err := rt.projects.RefreshStats(ctx, projectProject, projectTeam); err != nil {
				return err
			}
		}
		if projectStatusField != "" {
			v, err := rt.projects.StatusField(ctx, projectProject, projectTeam, projectStatusField)
			if err != nil {
				return err
			}
			return printField(rt.printer, v)
		}
		view, err := rt.projects.Status(ctx, projectProject, projectTeam, projectStatusVerbose)
		if err != nil {
			return err
		}
		return rt.printer.Result(view, func(w io.Writer) error {
			f := cli.NewFields()
			f.Addf("project", "%s/%s", view.Project, view.Team)
			f.Add("goal", view.Goal)
			f.Add("phase", view.Phase)
			f.Addf("tasks", "%d total, %d open, %d in progress, %d resolved",
				view.Stats.Total, view.Stats.Open, view.Stats.InProgress, view.Stats.Resolved)
			if len(view.BlockedTasks) > 0 {
				f.Add("blocked", strings.Join(view.BlockedTasks, ", "))
			}
			if view.Skipped > 0 {
				f.Addf("skipped", "%d corrupt task files", view.Skipped)
			}
			if err := f.Render(w); err != nil {
				return err
			}
			if len(view.Tasks) == 0 {
				return nil
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
			tbl := cli.NewTable("ID", "STATUS", "WAVE", "OWNER", "TITLE").Limit(4, 48)
			for i := range view.Tasks {
				t := &view.Tasks[i]
				tbl.AddRow(t.ID, string(t.Status), intOrDash(t.Wave), strOrDash(t.ClaimedBy), t.Title)
			}
			return tbl.Render(w)
		})
	}),
}

func init() {
	pf := projectCmd.PersistentFlags()
	pf.StringVarP(&projectProject, "project", "p", "", "project name")
	pf.StringVarP(&projectTeam, "team", "t", "", "team name")
	_ = projectCmd.MarkPersistentFlagRequired("project")
	_ = projectCmd.MarkPersistentFlagRequired("team")

	projectInitCmd.Flags().StringVarP(&projectInitGoal, "goal", "g", "", "what the team is building")
	projectInitCmd.Flags().BoolVar(&projectInitForce, "force", false, "overwrite an existing container")
	_ = projectInitCmd.MarkFlagRequired("goal")

	s := projectStatusCmd.Flags()
	s.BoolVarP(&projectStatusVerbose, "verbose", "v", false, "include the full task table")
	s.StringVar(&projectStatusField, "field", "", "dotted field path, e.g. stats.open")
	s.BoolVar(&projectStatusRefresh, "refresh", false, "persist recomputed stats into the container")

	projectCmd.AddCommand(projectInitCmd, projectStatusCmd)
	rootCmd.AddCommand(projectCmd)
}

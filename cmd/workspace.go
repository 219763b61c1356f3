package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/tracing"
	"github.com/zjrosen/ultrawork/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage per-worker git worktrees",
}

var (
	workspaceProject string
	workspaceTeam    string
	workspaceSource  string
)

func workspaceSourceDir() (string, error) {
	if workspaceSource != "" {
		return workspaceSource, nil
	}
	return os.Getwd()
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <worker-id>",
	Short: "Provision an isolated worktree and branch for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixWorkspace+"create", func(ctx context.Context, rt *runtime, args []string) error {
		source, err := workspaceSourceDir()
		if err != nil {
			return err
		}
		ws, err := rt.workspaces.CreateIsolated(ctx, workspaceProject, workspaceTeam, args[0], source)
		if err != nil {
			return err
		}
		return confirm(rt.printer, ws, "worktree %s on branch %s", ws.Path, ws.Branch)
	}),
}

var workspaceRemoveCmd = &cobra.Command{
	Use:   "remove <worker-id>",
	Short: "Remove a worker's worktree and branch",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixWorkspace+"remove", func(ctx context.Context, rt *runtime, args []string) error {
		source, err := workspaceSourceDir()
		if err != nil {
			return err
		}
		if err := rt.workspaces.Remove(ctx, workspaceProject, workspaceTeam, args[0], source); err != nil {
			return err
		}
		return confirm(rt.printer, map[string]string{"removed": args[0]}, "workspace of %s removed", args[0])
	}),
}

var workspaceSyncCmd = &cobra.Command{
	Use:   "sync <worker-id>",
	Short: "Rebase a worker's branch onto mainline",
	Args:  cobra.ExactArgs(1),
	RunE: run(tracing.SpanPrefixWorkspace+"sync", func(ctx context.Context, rt *runtime, args []string) error {
		res, err := rt.workspaces.Sync(ctx, workspaceProject, workspaceTeam, args[0])
		if err != nil {
			return err
		}
		if res.Status == workspace.SyncConflict {
			return confirm(rt.printer, res, "sync of %s hit conflicts, worktree left untouched: %s",
				res.Worker, res.Error)
		}
		return confirm(rt.printer, res, "%s synced onto mainline", res.Worker)
	}),
}

var workspaceMergeWave int

var workspaceMergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a wave's worker branches into mainline, stopping at the first conflict",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixWorkspace+"merge", func(ctx context.Context, rt *runtime, args []string) error {
		source, err := workspaceSourceDir()
		if err != nil {
			return err
		}
		report, err := rt.workspaces.Merge(ctx, workspaceProject, workspaceTeam, workspaceMergeWave, source)
		if err != nil {
			return err
		}
		return renderMergeReport(rt.printer, report)
	}),
}

func init() {
	pf := workspaceCmd.PersistentFlags()
	pf.StringVarP(&workspaceProject, "project", "p", "", "project name")
	pf.StringVarP(&workspaceTeam, "team", "t", "", "team name")
	pf.StringVar(&workspaceSource, "source", "", "source repository (default: current directory)")
	_ = workspaceCmd.MarkPersistentFlagRequired("project")
	_ = workspaceCmd.MarkPersistentFlagRequired("team")

	workspaceMergeCmd.Flags().IntVar(&workspaceMergeWave, "wave", 0, "wave number being landed")
	_ = workspaceMergeCmd.MarkFlagRequired("wave")

	workspaceCmd.AddCommand(workspaceCreateCmd, workspaceRemoveCmd, workspaceSyncCmd, workspaceMergeCmd)
	rootCmd.AddCommand(workspaceCmd)
}

func renderMergeReport(p *cli.Printer, r *workspace.MergeReport) error {
	return p.Result(r, func(w io.Writer) error {
		f := cli.NewFields()
		f.Add("status", string(r.Status))
		f.Addf("wave", "%d", r.Wave)
		f.Add("merged", listOrDash(r.Merged))
		if r.Status == workspace.MergeConflict {
			f.Add("conflict_at", r.ConflictAt)
			f.Add("conflict_files", listOrDash(r.ConflictFiles))
			f.Add("merged_before", listOrDash(r.MergedBeforeConflict))
			f.Add("not_merged", listOrDash(r.NotMerged))
		}
		f.Add("completed", r.CompletedAt)
		if err := f.Render(w); err != nil {
			return err
		}
		workers := make([]string, 0, len(r.Previews))
		for worker := range r.Previews {
			workers = append(workers, worker)
		}
		sort.Strings(workers)
		for _, worker := range workers {
			if _, err := fmt.Fprintf(w, "\n--- %s ---\n%s\n", worker, r.Previews[worker]); err != nil {
				return err
			}
		}
		return nil
	})
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

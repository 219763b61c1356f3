package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cleanup"
	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var (
	cleanupOlderThan int
	cleanupCompleted bool
	cleanupAll       bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune session directories",
	Long: `Prune session directories. By default, terminal sessions older than the
configured threshold are removed. --completed removes every terminal
session regardless of age; --all removes active sessions too.`,
	Args: cobra.NoArgs,
	RunE: run(tracing.SpanPrefixCleanup+"run", func(ctx context.Context, rt *runtime, args []string) error {
		params := cleanup.Params{
			OlderThanDays: cleanupOlderThan,
			Completed:     cleanupCompleted,
			All:           cleanupAll,
		}
		if params.OlderThanDays == 0 && !params.Completed && !params.All {
			params.OlderThanDays = cfg.Cleanup.OlderThanDays
		}
		report, err := cleanup.NewManager(rt.st).Run(ctx, params)
		if err != nil {
			return err
		}
		return rt.printer.Result(report, func(w io.Writer) error {
			if _, err := fmt.Fprintf(w, "deleted %d, preserved %d\n",
				report.DeletedCount, report.PreservedCount); err != nil {
				return err
			}
			if len(report.DeletedSessions) == 0 {
				return nil
			}
			tbl := cli.NewTable("SESSION", "PHASE", "AGE", "GOAL").Limit(3, 48)
			for _, s := range report.DeletedSessions {
				tbl.AddRow(s.SessionID, string(s.Phase), fmt.Sprintf("%dd", s.AgeDays), s.Goal)
			}
			return tbl.Render(w)
		})
	}),
}

func init() {
	f := cleanupCmd.Flags()
	f.IntVar(&cleanupOlderThan, "older-than", 0, "delete terminal sessions older than this many days")
	f.BoolVar(&cleanupCompleted, "completed", false, "delete every terminal session regardless of age")
	f.BoolVar(&cleanupAll, "all", false, "delete every session, active ones included")

	rootCmd.AddCommand(cleanupCmd)
}

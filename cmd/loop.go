package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var loopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Advertise and inspect continuous-session markers",
}

var (
	loopProject string
	loopTeam    string
)

var loopStartRole string

var loopStartCmd = &cobra.Command{
	Use:   "start [session-id]",
	Short: "Mark a continuous session as active",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSwarm+"loop.start", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		state, err := rt.loops.Start(ctx, loopProject, loopTeam, loopStartRole, id)
		if err != nil {
			return err
		}
		return confirm(rt.printer, state, "loop %s active on %s/%s", state.SessionID, loopProject, loopTeam)
	}),
}

var loopStopCmd = &cobra.Command{
	Use:   "stop [session-id]",
	Short: "Mark a continuous session as stopped",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSwarm+"loop.stop", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		state, err := rt.loops.Stop(ctx, loopProject, loopTeam, id)
		if err != nil {
			return err
		}
		return confirm(rt.printer, state, "loop %s stopped", state.SessionID)
	}),
}

var loopStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the live loop markers of a team",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"loop.status", func(ctx context.Context, rt *runtime, args []string) error {
		states, err := rt.loops.Active(loopProject, loopTeam)
		if err != nil {
			return err
		}
		return rt.printer.Result(states, func(w io.Writer) error {
			if len(states) == 0 {
				_, err := fmt.Fprintln(w, "no active loops")
				return err
			}
			tbl := cli.NewTable("SESSION", "ROLE", "STARTED")
			for _, s := range states {
				tbl.AddRow(s.SessionID, s.Role, s.StartedAt)
			}
			return tbl.Render(w)
		})
	}),
}

func init() {
	pf := loopCmd.PersistentFlags()
	pf.StringVarP(&loopProject, "project", "p", "", "project name")
	pf.StringVarP(&loopTeam, "team", "t", "", "team name")
	_ = loopCmd.MarkPersistentFlagRequired("project")
	_ = loopCmd.MarkPersistentFlagRequired("team")

	loopStartCmd.Flags().StringVar(&loopStartRole, "role", "", "role the loop runs as")

	loopCmd.AddCommand(loopStartCmd, loopStopCmd, loopStatusCmd)
	rootCmd.AddCommand(loopCmd)
}

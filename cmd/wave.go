package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/tracing"
	"github.com/zjrosen/ultrawork/internal/wave"
)

var waveCmd = &cobra.Command{
	Use:   "wave",
	Short: "Calculate and track dependency waves",
}

var (
	waveProject string
	waveTeam    string
)

// wavePlanResult pairs a calculated plan with its warnings.
type wavePlanResult struct {
	Plan     *wave.Plan `json:"plan"`
	Warnings []string   `json:"warnings,omitempty"`
}

var waveCalcCmd = &cobra.Command{
	Use:   "calc",
	Short: "Recompute the wave layering from the task board",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixWave+"calc", func(ctx context.Context, rt *runtime, args []string) error {
		plan, warnings, err := rt.waves.Calculate(ctx, waveProject, waveTeam)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("%d waves over %s/%s (current=%d)",
			plan.TotalWaves, waveProject, waveTeam, plan.CurrentWave)
		if len(warnings) > 0 {
			msg += "; " + strings.Join(warnings, "; ")
		}
		return confirm(rt.printer, wavePlanResult{Plan: plan, Warnings: warnings}, "%s", msg)
	}),
}

var waveShowField string

var waveShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted wave plan",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixWave+"show", func(ctx context.Context, rt *runtime, args []string) error {
		if waveShowField != "" {
			v, err := rt.waves.GetField(waveProject, waveTeam, waveShowField)
			if err != nil {
				return err
			}
			return printField(rt.printer, v)
		}
		plan, err := rt.waves.Get(waveProject, waveTeam)
		if err != nil {
			return err
		}
		return rt.printer.Result(plan, func(w io.Writer) error {
			if plan.TotalWaves == 0 {
				_, err := fmt.Fprintln(w, "no waves")
				return err
			}
			if _, err := fmt.Fprintf(w, "current wave: %d of %d\n\n", plan.CurrentWave, plan.TotalWaves); err != nil {
				return err
			}
			tbl := cli.NewTable("WAVE", "STATUS", "TASKS").Limit(2, 60)
			for _, wv := range plan.Waves {
				tbl.AddRow(fmt.Sprintf("%d", wv.ID), string(wv.Status), strings.Join(wv.Tasks, ", "))
			}
			return tbl.Render(w)
		})
	}),
}

var (
	waveUpdateID     int
	waveUpdateStatus string
)

var waveUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Move one wave to a new status",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixWave+"update", func(ctx context.Context, rt *runtime, args []string) error {
		target := wave.Status(strings.ToLower(waveUpdateStatus))
		plan, err := rt.waves.UpdateWave(ctx, waveProject, waveTeam, waveUpdateID, target)
		if err != nil {
			return err
		}
		return confirm(rt.printer, plan, "wave %d is %s (current=%d)",
			waveUpdateID, target, plan.CurrentWave)
	}),
}

func init() {
	pf := waveCmd.PersistentFlags()
	pf.StringVarP(&waveProject, "project", "p", "", "project name")
	pf.StringVarP(&waveTeam, "team", "t", "", "team name")
	_ = waveCmd.MarkPersistentFlagRequired("project")
	_ = waveCmd.MarkPersistentFlagRequired("team")

	waveShowCmd.Flags().StringVar(&waveShowField, "field", "", "dotted field path, e.g. current_wave")

	u := waveUpdateCmd.Flags()
	u.IntVar(&waveUpdateID, "wave", 0, "wave number")
	u.StringVar(&waveUpdateStatus, "status", "", "planning, in_progress, completed, or verified")
	_ = waveUpdateCmd.MarkFlagRequired("wave")
	_ = waveUpdateCmd.MarkFlagRequired("status")

	waveCmd.AddCommand(waveCalcCmd, waveShowCmd, waveUpdateCmd)
	rootCmd.AddCommand(waveCmd)
}

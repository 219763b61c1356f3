package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/swarm"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Spawn and supervise a team of tmux-hosted workers",
}

var (
	swarmProject string
	swarmTeam    string
)

func newSwarmController(rt *runtime) *swarm.Controller {
	return swarm.NewController(swarm.ControllerConfig{
		Store:      rt.st,
		Host:       swarm.NewTmux(),
		Swarm:      rt.swarm,
		Tasks:      rt.tasks,
		Waves:      rt.waves,
		Mail:       rt.mail,
		Sessions:   rt.sessions,
		Workspaces: rt.workspaces,
		Loop:       rt.loops,
	})
}

var (
	swarmSpawnRoles      []string
	swarmSpawnRole       string
	swarmSpawnCount      int
	swarmSpawnSource     string
	swarmSpawnWorktree   bool
	swarmSpawnSession    string
	swarmSpawnMaxWorkers int
	swarmSpawnCommand    string
)

var swarmSpawnCmd = &cobra.Command{
	Use:   "spawn",
	Short: "Start worker panes and record the swarm plan",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"spawn", func(ctx context.Context, rt *runtime, args []string) error {
		c := newSwarmController(rt)
		defer c.Close()

		name := swarmSpawnSession
		if name == "" && cfg.Swarm.SessionPrefix != "" {
			name = fmt.Sprintf("%s-%s-%s", cfg.Swarm.SessionPrefix, swarmProject, swarmTeam)
		}
		maxWorkers := swarmSpawnMaxWorkers
		if maxWorkers == 0 {
			maxWorkers = cfg.Swarm.MaxWorkers
		}
		command := swarmSpawnCommand
		if command == "" {
			command = cfg.Swarm.WorkerCommand
		}
		source := swarmSpawnSource
		useWorktree := swarmSpawnWorktree || cfg.Swarm.UseWorktree
		if useWorktree && source == "" {
			if wd, err := os.Getwd(); err == nil {
				source = wd
			}
		}
		res, err := c.Spawn(ctx, swarm.SpawnParams{
			Project:     swarmProject,
			Team:        swarmTeam,
			Roles:       swarmSpawnRoles,
			Role:        swarmSpawnRole,
			Count:       swarmSpawnCount,
			SourceDir:   source,
			UseWorktree: useWorktree,
			SessionName: name,
			MaxWorkers:  maxWorkers,
			Command:     command,
		})
		if err != nil {
			return err
		}
		ids := make([]string, len(res.Workers))
		for i := range res.Workers {
			ids[i] = res.Workers[i].ID
		}
		return confirm(rt.printer, res, "%d workers in session %s: %s",
			len(res.Workers), res.Session, strings.Join(ids, ", "))
	}),
}

var swarmStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the swarm plan and per-worker liveness",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"status", func(ctx context.Context, rt *runtime, args []string) error {
		c := newSwarmController(rt)
		defer c.Close()

		view, err := c.Status(ctx, swarmProject, swarmTeam)
		if err != nil {
			return err
		}
		return rt.printer.Result(view, func(w io.Writer) error {
			if view.Plan != nil {
				f := cli.NewFields()
				f.Add("session", view.Plan.Session)
				f.Add("status", string(view.Plan.Status))
				f.Addf("wave", "%d", view.Plan.CurrentWave)
				f.Addf("paused", "%t", view.Plan.Paused)
				if view.Plan.UseWorktree {
					f.Add("source", view.Plan.SourceDir)
				}
				if err := f.Render(w); err != nil {
					return err
				}
				if _, err := fmt.Fprintln(w); err != nil {
					return err
				}
			}
			if len(view.Workers) == 0 {
				_, err := fmt.Fprintln(w, "no workers")
				return err
			}
			tbl := cli.NewTable("WORKER", "ROLE", "STATUS", "ALIVE", "TASK", "DONE", "LAST ERROR").Limit(6, 40)
			for i := range view.Workers {
				wk := &view.Workers[i]
				tbl.AddRow(wk.ID, wk.Role, string(wk.Status), fmt.Sprintf("%t", wk.Alive),
					strOrDash(wk.CurrentTask), fmt.Sprintf("%d", len(wk.TasksCompleted)), wk.LastError)
			}
			if err := tbl.Render(w); err != nil {
				return err
			}
			if view.Skipped > 0 {
				_, err := fmt.Fprintf(w, "(%d corrupt worker files skipped)\n", view.Skipped)
				return err
			}
			return nil
		})
	}),
}

var (
	swarmStopWorker string
	swarmStopAll    bool
)

var swarmStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop one worker pane or the whole session",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"stop", func(ctx context.Context, rt *runtime, args []string) error {
		c := newSwarmController(rt)
		defer c.Close()

		if err := c.Stop(ctx, swarmProject, swarmTeam, swarm.StopParams{
			Worker: swarmStopWorker,
			All:    swarmStopAll,
		}); err != nil {
			return err
		}
		if swarmStopAll {
			return confirm(rt.printer, map[string]string{"stopped": "all"}, "swarm %s/%s stopped", swarmProject, swarmTeam)
		}
		return confirm(rt.printer, map[string]string{"stopped": swarmStopWorker}, "worker %s stopped", swarmStopWorker)
	}),
}

var swarmResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear a merge-conflict pause and reassign the current wave",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"resume", func(ctx context.Context, rt *runtime, args []string) error {
		c := newSwarmController(rt)
		defer c.Close()

		plan, err := c.Resume(ctx, swarmProject, swarmTeam)
		if err != nil {
			return err
		}
		return confirm(rt.printer, plan, "swarm %s/%s resumed at wave %d",
			swarmProject, swarmTeam, plan.CurrentWave)
	}),
}

var (
	swarmRunSession string
	swarmRunSource  string
)

var swarmRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Supervise the swarm until its waves are exhausted",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"run", func(ctx context.Context, rt *runtime, args []string) error {
		c := newSwarmController(rt)
		defer c.Close()

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		sessionID := swarmRunSession
		if sessionID == "" {
			sessionID = envSessionID()
		}
		if err := c.Run(ctx, swarm.RunParams{
			Project:   swarmProject,
			Team:      swarmTeam,
			SessionID: sessionID,
			SourceDir: swarmRunSource,
		}); err != nil {
			return err
		}
		return confirm(rt.printer, map[string]string{"run": "finished"}, "supervision of %s/%s finished", swarmProject, swarmTeam)
	}),
}

var (
	swarmHeartbeatWorker string
	swarmHeartbeatTask   string
	swarmHeartbeatIdle   bool
	swarmHeartbeatDone   string
)

var swarmHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Record a worker's liveness and current task",
	Args:  cobra.NoArgs,
	RunE: run(tracing.SpanPrefixSwarm+"heartbeat", func(ctx context.Context, rt *runtime, args []string) error {
		if swarmHeartbeatIdle && swarmHeartbeatTask != "" {
			return fmt.Errorf("%w: --idle conflicts with --task", store.ErrInvalidValue)
		}
		if swarmHeartbeatDone != "" {
			if _, err := rt.swarm.RecordCompletion(ctx, swarmProject, swarmTeam,
				swarmHeartbeatWorker, swarmHeartbeatDone); err != nil {
				return err
			}
		}
		var taskRef *string
		switch {
		case swarmHeartbeatIdle:
			empty := ""
			taskRef = &empty
		case swarmHeartbeatTask != "":
			taskRef = &swarmHeartbeatTask
		}
		worker, err := rt.swarm.Heartbeat(ctx, swarmProject, swarmTeam, swarmHeartbeatWorker, taskRef)
		if err != nil {
			return err
		}
		return confirm(rt.printer, worker, "heartbeat for %s (status=%s)", worker.ID, worker.Status)
	}),
}

func init() {
	pf := swarmCmd.PersistentFlags()
	pf.StringVarP(&swarmProject, "project", "p", "", "project name")
	pf.StringVarP(&swarmTeam, "team", "t", "", "team name")
	_ = swarmCmd.MarkPersistentFlagRequired("project")
	_ = swarmCmd.MarkPersistentFlagRequired("team")

	sp := swarmSpawnCmd.Flags()
	sp.StringSliceVar(&swarmSpawnRoles, "roles", nil, "one worker per role, e.g. builder,builder,reviewer")
	sp.StringVar(&swarmSpawnRole, "role", "", "single role, repeated --count times")
	sp.IntVar(&swarmSpawnCount, "count", 0, "workers to spawn with --role")
	sp.StringVar(&swarmSpawnSource, "source", "", "source repository for worktrees")
	sp.BoolVar(&swarmSpawnWorktree, "worktree", false, "give each worker an isolated worktree")
	sp.StringVar(&swarmSpawnSession, "session", "", "pane-host session name")
	sp.IntVar(&swarmSpawnMaxWorkers, "max-workers", 0, "swarm size cap, 0 = unbounded")
	sp.StringVar(&swarmSpawnCommand, "command", "", "command typed into each pane, {placeholders} expanded")

	st := swarmStopCmd.Flags()
	st.StringVar(&swarmStopWorker, "worker", "", "worker id to stop")
	st.BoolVar(&swarmStopAll, "all", false, "kill the whole session")

	r := swarmRunCmd.Flags()
	r.StringVar(&swarmRunSession, "session", "", "owning session id (default: $ULTRAWORK_SESSION_ID)")
	r.StringVar(&swarmRunSource, "source", "", "mainline checkout for merge and sync")

	hb := swarmHeartbeatCmd.Flags()
	hb.StringVar(&swarmHeartbeatWorker, "worker", "", "reporting worker id")
	hb.StringVar(&swarmHeartbeatTask, "task", "", "task the worker is on")
	hb.BoolVar(&swarmHeartbeatIdle, "idle", false, "mark the worker idle")
	hb.StringVar(&swarmHeartbeatDone, "done", "", "task id just completed")
	_ = swarmHeartbeatCmd.MarkFlagRequired("worker")

	swarmCmd.AddCommand(swarmSpawnCmd, swarmStatusCmd, swarmStopCmd,
		swarmResumeCmd, swarmRunCmd, swarmHeartbeatCmd)
	rootCmd.AddCommand(swarmCmd)
}

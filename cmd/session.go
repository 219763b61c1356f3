package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/session"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/tracing"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage coding session documents",
}

var (
	sessionInitGoal       string
	sessionInitDir        string
	sessionInitMaxWorkers int
	sessionInitMaxIter    int
	sessionInitSkipVerify bool
	sessionInitPlanOnly   bool
	sessionInitAuto       bool
	sessionInitWorktree   bool
	sessionInitForce      bool
	sessionInitResume     bool
)

var sessionInitCmd = &cobra.Command{
	Use:   "init [session-id]",
	Short: "Create a new session (or resume a terminal one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"init", func(ctx context.Context, rt *runtime, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		if id == "" {
			id = "s-" + uuid.NewString()[:8]
		}
		dir := sessionInitDir
		if dir == "" {
			if wd, err := os.Getwd(); err == nil {
				dir = wd
			}
		}
		maxIter := sessionInitMaxIter
		if maxIter == 0 {
			maxIter = cfg.Session.MaxIterations
		}
		doc, err := rt.sessions.Init(ctx, session.InitParams{
			SessionID:  id,
			Goal:       sessionInitGoal,
			WorkingDir: dir,
			Options: session.Options{
				MaxWorkers:    sessionInitMaxWorkers,
				MaxIterations: maxIter,
				SkipVerify:    sessionInitSkipVerify,
				PlanOnly:      sessionInitPlanOnly,
				AutoMode:      sessionInitAuto,
				UseWorktree:   sessionInitWorktree,
			},
			Force:  sessionInitForce,
			Resume: sessionInitResume,
		})
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "session %s initialized (phase=%s)", doc.SessionID, doc.Phase)
	}),
}

var sessionGetField string

var sessionGetCmd = &cobra.Command{
	Use:   "get [session-id]",
	Short: "Show a session document or one of its fields",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"get", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		if sessionGetField != "" {
			v, err := rt.sessions.GetField(id, sessionGetField)
			if err != nil {
				return err
			}
			return printField(rt.printer, v)
		}
		doc, err := rt.sessions.Get(id)
		if err != nil {
			return err
		}
		return renderSession(rt.printer, doc)
	}),
}

var (
	sessionUpdatePhase    string
	sessionUpdateStage    string
	sessionUpdateIter     int
	sessionUpdateApproved bool
	sessionUpdateResuming bool
)

var sessionUpdateCmd = &cobra.Command{
	Use:   "update [session-id]",
	Short: "Apply a partial update to a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"update", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		var patch session.Patch
		if sessionUpdatePhase != "" {
			phase, err := parsePhase(sessionUpdatePhase)
			if err != nil {
				return err
			}
			patch.Phase = &phase
		}
		if sessionUpdateStage != "" {
			stage, err := parseStage(sessionUpdateStage)
			if err != nil {
				return err
			}
			patch.Stage = &stage
		}
		if sessionUpdateIter > 0 {
			patch.Iteration = &sessionUpdateIter
		}
		patch.PlanApproved = sessionUpdateApproved
		patch.Resuming = sessionUpdateResuming

		doc, err := rt.sessions.Update(ctx, id, patch)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "session %s updated (phase=%s stage=%s iteration=%d)",
			doc.SessionID, doc.Phase, doc.ExplorationStage, doc.Iteration)
	}),
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Cancel a session from any phase",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"cancel", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		doc, err := rt.sessions.Cancel(ctx, id)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "session %s cancelled", doc.SessionID)
	}),
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Reactivate a cancelled or failed session",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"resume", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		doc, err := rt.sessions.Resume(ctx, id)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "session %s resumed (phase=%s)", doc.SessionID, doc.Phase)
	}),
}

var (
	sessionEvidenceType string
	sessionEvidenceData string
)

var sessionEvidenceCmd = &cobra.Command{
	Use:   "evidence [session-id]",
	Short: "Append one record to the session's evidence log",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(tracing.SpanPrefixSession+"evidence", func(ctx context.Context, rt *runtime, args []string) error {
		id, err := sessionArg(args)
		if err != nil {
			return err
		}
		rec := session.Evidence{Type: sessionEvidenceType}
		if sessionEvidenceData != "" {
			if !json.Valid([]byte(sessionEvidenceData)) {
				return fmt.Errorf("%w: --data must be valid JSON", store.ErrInvalidValue)
			}
			rec.Data = json.RawMessage(sessionEvidenceData)
		}
		doc, err := rt.sessions.AppendEvidence(ctx, id, rec)
		if err != nil {
			return err
		}
		return confirm(rt.printer, doc, "evidence appended to %s (%d records)",
			doc.SessionID, len(doc.EvidenceLog))
	}),
}

func init() {
	f := sessionInitCmd.Flags()
	f.StringVarP(&sessionInitGoal, "goal", "g", "", "what this session sets out to do")
	f.StringVar(&sessionInitDir, "dir", "", "working directory (default: current directory)")
	f.IntVar(&sessionInitMaxWorkers, "max-workers", 0, "worker cap, 0 = unbounded")
	f.IntVar(&sessionInitMaxIter, "max-iterations", 0, "execute-verify retry budget")
	f.BoolVar(&sessionInitSkipVerify, "skip-verify", false, "allow completion straight from execution")
	f.BoolVar(&sessionInitPlanOnly, "plan-only", false, "stop after planning")
	f.BoolVar(&sessionInitAuto, "auto", false, "run without interactive approval")
	f.BoolVar(&sessionInitWorktree, "worktree", false, "give each worker an isolated worktree")
	f.BoolVar(&sessionInitForce, "force", false, "overwrite an active session with the same id")
	f.BoolVar(&sessionInitResume, "resume", false, "reactivate a terminal session instead of failing")
	_ = sessionInitCmd.MarkFlagRequired("goal")

	sessionGetCmd.Flags().StringVar(&sessionGetField, "field", "", "dotted field path, e.g. options.max_workers")

	u := sessionUpdateCmd.Flags()
	u.StringVar(&sessionUpdatePhase, "phase", "", "target phase")
	u.StringVar(&sessionUpdateStage, "stage", "", "target exploration stage")
	u.IntVar(&sessionUpdateIter, "iteration", 0, "iteration counter")
	u.BoolVar(&sessionUpdateApproved, "plan-approved", false, "record plan approval")
	u.BoolVar(&sessionUpdateResuming, "resuming", false, "permit backward stage motion")

	e := sessionEvidenceCmd.Flags()
	e.StringVar(&sessionEvidenceType, "type", "", "record type, e.g. finding or decision")
	e.StringVar(&sessionEvidenceData, "data", "", "JSON payload")
	_ = sessionEvidenceCmd.MarkFlagRequired("type")

	sessionCmd.AddCommand(sessionInitCmd, sessionGetCmd, sessionUpdateCmd,
		sessionCancelCmd, sessionResumeCmd, sessionEvidenceCmd)
	rootCmd.AddCommand(sessionCmd)
}

// sessionArg resolves the positional session id, falling back to the
// caller's environment.
func sessionArg(args []string) (string, error) {
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	if id := envSessionID(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: no session id: pass one or set %s", store.ErrInvalidValue, store.EnvSessionID)
}

func parsePhase(s string) (session.Phase, error) {
	p := session.Phase(strings.ToUpper(s))
	switch p {
	case session.PhasePlanning, session.PhaseExecution, session.PhaseVerification,
		session.PhaseComplete, session.PhaseFailed, session.PhaseCancelled:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown phase %q", store.ErrInvalidValue, s)
}

func parseStage(s string) (session.Stage, error) {
	st := session.Stage(strings.ToLower(s))
	switch st {
	case session.StageNotStarted, session.StageOverview, session.StageAnalyzing, session.StageTargeted:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown exploration stage %q", store.ErrInvalidValue, s)
}

func renderSession(p *cli.Printer, s *session.Session) error {
	return p.Result(s, func(w io.Writer) error {
		f := cli.NewFields()
		f.Add("session", s.SessionID)
		f.Add("goal", s.Goal)
		f.Add("phase", string(s.Phase))
		f.Add("stage", string(s.ExplorationStage))
		f.Addf("iteration", "%d/%d", s.Iteration, s.Options.MaxIterations)
		f.Add("working_dir", s.WorkingDir)
		f.Addf("evidence", "%d records", len(s.EvidenceLog))
		if s.Plan.ApprovedAt != nil {
			f.Add("plan_approved", *s.Plan.ApprovedAt)
		}
		f.Add("updated", s.UpdatedAt)
		return f.Render(w)
	})
}


package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/zjrosen/ultrawork/internal/cli"
	"github.com/zjrosen/ultrawork/internal/config"
	"github.com/zjrosen/ultrawork/internal/explore"
	"github.com/zjrosen/ultrawork/internal/log"
	"github.com/zjrosen/ultrawork/internal/loop"
	"github.com/zjrosen/ultrawork/internal/mailbox"
	"github.com/zjrosen/ultrawork/internal/project"
	"github.com/zjrosen/ultrawork/internal/session"
	"github.com/zjrosen/ultrawork/internal/store"
	"github.com/zjrosen/ultrawork/internal/swarm"
	"github.com/zjrosen/ultrawork/internal/task"
	"github.com/zjrosen/ultrawork/internal/tracing"
	"github.com/zjrosen/ultrawork/internal/wave"
	"github.com/zjrosen/ultrawork/internal/workspace"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
	cfgErr  error

	rootFlag   string
	formatFlag string
	debugFlag  bool

	// dispatched flips once cobra hands control to a RunE; errors before
	// that point are flag or argument mistakes, never internal failures.
	dispatched bool

	logClose func()
	tracer   *tracing.Provider
)

var rootCmd = &cobra.Command{
	Use:   "ultrawork",
	Short: "File-backed coordination for multi-worker coding sessions",
	Long: `ultrawork coordinates cooperating worker processes through a shared
file-backed store: sessions, tasks, dependency waves, mailboxes, git
worktrees, and a tmux-hosted swarm controller. Every command reads and
writes JSON documents under a single root directory, so any process on
the machine sees the same state.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/ultrawork/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "",
		"store root directory (default: $ULTRAWORK_ROOT or ~/.claude/ultrawork)")
	rootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "",
		"output format: table or json")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs to <root>/logs/debug.log")

	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
}

func initConfig() {
	defaults := config.DefaultConfig()
	viper.SetDefault("root", defaults.Root)
	viper.SetDefault("format", defaults.Format)
	viper.SetDefault("store.lock_timeout_ms", defaults.Store.LockTimeoutMS)
	viper.SetDefault("session.max_iterations", defaults.Session.MaxIterations)
	viper.SetDefault("mailbox.poll_timeout_ms", defaults.Mailbox.PollTimeoutMS)
	viper.SetDefault("mailbox.poll_interval_ms", defaults.Mailbox.PollIntervalMS)
	viper.SetDefault("swarm.max_workers", defaults.Swarm.MaxWorkers)
	viper.SetDefault("swarm.session_prefix", defaults.Swarm.SessionPrefix)
	viper.SetDefault("swarm.worker_command", defaults.Swarm.WorkerCommand)
	viper.SetDefault("swarm.use_worktree", defaults.Swarm.UseWorktree)
	viper.SetDefault("cleanup.older_than_days", defaults.Cleanup.OlderThanDays)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if path, err := config.DefaultConfigPath(); err == nil {
		viper.AddConfigPath(filepath.Dir(path))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// A missing default config is fine; an explicit --config that
		// fails to load, or a malformed file, is not.
		if cfgFile != "" || !errors.As(err, &notFound) {
			cfgErr = fmt.Errorf("%w: reading config: %v", store.ErrInvalidValue, err)
			return
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		cfgErr = fmt.Errorf("%w: parsing config: %v", store.ErrInvalidValue, err)
	}
}

// runtime bundles the store graph a single command invocation draws from.
type runtime struct {
	st         *store.Store
	paths      *store.Paths
	printer    *cli.Printer
	sessions   *session.Store
	contexts   *explore.Store
	tasks      *task.Store
	waves      *wave.Calculator
	projects   *project.View
	mail       *mailbox.Store
	workspaces *workspace.Manager
	swarm      *swarm.Store
	loops      *loop.Store
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	format, err := cli.ParseFormat(firstNonEmpty(formatFlag, cfg.Format))
	if err != nil {
		return nil, err
	}
	paths, err := store.NewPaths(firstNonEmpty(rootFlag, cfg.Root))
	if err != nil {
		return nil, err
	}

	if debugFlag || os.Getenv(store.EnvDebug) != "" {
		if closer, err := log.Init(paths.LogFile()); err == nil {
			log.SetEnabled(true)
			logClose = closer
		}
	}
	if cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = filepath.Join(paths.Root(), "logs", "traces.jsonl")
	}

	st := store.New(paths,
		store.WithLockTimeout(time.Duration(cfg.Store.LockTimeoutMS)*time.Millisecond))

	rt := &runtime{
		st:      st,
		paths:   paths,
		printer: cli.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), format),
	}
	rt.sessions = session.NewStore(st)
	rt.contexts = explore.NewStore(st)
	rt.tasks = task.NewStore(st, task.WithMutationHook(func(sc task.Scope) {
		if rt.projects != nil {
			rt.projects.InvalidateStats(sc)
		}
	}))
	rt.waves = wave.NewCalculator(st, rt.tasks)
	rt.projects = project.NewView(st, rt.tasks)
	rt.mail = mailbox.NewStore(st,
		mailbox.WithPollTick(time.Duration(cfg.Mailbox.PollIntervalMS)*time.Millisecond))
	rt.swarm = swarm.NewStore(st)
	rt.workspaces = workspace.NewManager(st, workspace.NewGit(),
		workspace.WithPlanRecorder(rt.swarm))
	rt.loops = loop.NewStore(st)
	return rt, nil
}

// run wraps a command body with runtime construction and a span covering
// the whole invocation.
func run(span string, fn func(ctx context.Context, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dispatched = true
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		ctx, end := startSpan(cmd.Context(), span)
		err = fn(ctx, rt, args)
		end(err)
		return err
	}
}

func startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	if tracer == nil {
		p, err := tracing.NewProvider(cfg.Tracing)
		if err != nil {
			log.Warn(log.CatTrace, "tracing unavailable, continuing without", "error", err.Error())
			p, _ = tracing.NewProvider(tracing.Config{})
		}
		tracer = p
	}
	ctx, span := tracer.Tracer().Start(ctx, name)
	span.SetAttributes(attribute.String(tracing.AttrOperation, name))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
			span.SetAttributes(
				attribute.String(tracing.AttrErrorMessage, err.Error()),
				attribute.String(tracing.AttrErrorKind, errorKind(err)),
			)
		}
		span.End()
	}
}

// shutdown flushes the tracer and closes the debug log.
func shutdown() {
	if tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = tracer.Shutdown(ctx)
		cancel()
		tracer = nil
	}
	if logClose != nil {
		logClose()
		logClose = nil
	}
}

// errorKind classifies an error chain for span attributes and exit codes.
func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrFieldNotFound):
		return "not_found"
	case errors.Is(err, store.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, store.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, store.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, store.ErrCorrupt):
		return "corrupt"
	case errors.Is(err, store.ErrSafetyViolation):
		return "safety_violation"
	case errors.Is(err, task.ErrNotClaimable),
		errors.Is(err, task.ErrAlreadyClaimed),
		errors.Is(err, task.ErrRoleMismatch),
		errors.Is(err, task.ErrNotDeletable),
		errors.Is(err, task.ErrHasDependents):
		return "task_state"
	case errors.Is(err, wave.ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, workspace.ErrNotARepo),
		errors.Is(err, workspace.ErrDirtyTree),
		errors.Is(err, workspace.ErrWorktreeExists),
		errors.Is(err, workspace.ErrBranchCheckedOut):
		return "workspace"
	case errors.Is(err, swarm.ErrSessionNotFound),
		errors.Is(err, swarm.ErrHostUnavailable):
		return "pane_host"
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// exitCode maps an Execute error to the process exit code: 0 success,
// 1 validation/domain/not-found, 2 unexpected internal failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case !dispatched:
		return 1
	case errorKind(err) != "internal":
		return 1
	default:
		return 2
	}
}

// Execute runs the root command and returns the process exit code. Every
// failure prints exactly one Error: line on stderr.
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	shutdown()
	if err != nil {
		cli.NewPrinter(os.Stdout, os.Stderr, cli.FormatTable).Fail(err)
		return exitCode(err)
	}
	return 0
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// envSessionID is the session the calling process was spawned under.
func envSessionID() string {
	return os.Getenv(store.EnvSessionID)
}

// confirm reports a successful mutation: the resulting document in JSON
// mode, a single OK: line otherwise.
func confirm(p *cli.Printer, v any, format string, args ...any) error {
	if p.Format() == cli.FormatJSON {
		return p.JSON(v)
	}
	p.OK(format, args...)
	return nil
}

// printField writes one extracted field. Strings print verbatim so callers
// can capture values byte-for-byte; everything else is JSON.
func printField(p *cli.Printer, v any) error {
	if p.Format() == cli.FormatJSON {
		return p.JSON(v)
	}
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(p.Out(), s)
		return err
	}
	return p.JSON(v)
}

// taskScope resolves the scope selector flags shared by the task commands.
// Exactly one of --session or --project/--team applies; with neither, the
// caller's ULTRAWORK_SESSION_ID is used.
func taskScope(project, team, sessionID string) (task.Scope, error) {
	switch {
	case sessionID != "" && (project != "" || team != ""):
		return task.Scope{}, fmt.Errorf("%w: --session conflicts with --project/--team", store.ErrInvalidValue)
	case sessionID != "":
		return task.SessionScope(sessionID), nil
	case project != "" && team != "":
		return task.TeamScope(project, team), nil
	case project != "" || team != "":
		return task.Scope{}, fmt.Errorf("%w: --project and --team must be set together", store.ErrInvalidValue)
	}
	if id := envSessionID(); id != "" {
		return task.SessionScope(id), nil
	}
	return task.Scope{}, fmt.Errorf("%w: no scope: pass --project/--team or --session, or set %s",
		store.ErrInvalidValue, store.EnvSessionID)
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/harness"
	"github.com/roach88/lockharness/internal/locksvc"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Backend backendFlags

	Timeout  time.Duration
	Lockstep bool
	Jitter   time.Duration
	Seed     uint64
	LogLevel string
}

// RunSummary is the JSON payload of the run command.
type RunSummary struct {
	Backend   string           `json:"backend"`
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>...",
		Short: "Run scenarios against a locking backend",
		Long: `Run one or more scenarios. Each argument is a scenario file (.yaml, .yml
or .cue) or the name of a built-in scenario.

A failing scenario prints every actor's final state and executed steps.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (unknown scenario, backend unavailable, etc.)

Examples:
  lockharness run datastore-locking module-locking
  lockharness run ./scenarios/commit.yaml --backend sqlite --sqlite-path /tmp/locks.db
  lockharness run datastore-locking --lockstep --jitter 5ms --seed 42`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	opts.Backend.bind(cmd)
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "bound on each scenario run (default from scenario, LOCKHARNESS_TIMEOUT or 30s)")
	cmd.Flags().BoolVar(&opts.Lockstep, "lockstep", false, "make every actor meet at the barrier before each step")
	cmd.Flags().DurationVar(&opts.Jitter, "jitter", 0, "upper bound of a random pause before each step")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "seed for --jitter")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "service log level (none|error|warning|info|debug)")

	return cmd
}

func runScenarios(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.LogLevel != "" {
		if _, err := locksvc.ParseLogLevel(opts.LogLevel); err != nil {
			return WrapExitError(ExitCommandError, "invalid --log-level", err)
		}
	}

	scenarios := make([]*harness.Scenario, 0, len(args))
	for _, arg := range args {
		sc, err := resolveScenario(arg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load scenario", err)
		}
		scenarios = append(scenarios, sc)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, cfg, err := opts.Backend.open(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("error closing backend", "backend", be.Name, "error", err)
		}
	}()

	runOpts := harness.RunOptions{
		Logger:   logger,
		Lockstep: opts.Lockstep,
		Jitter:   opts.Jitter,
		Seed:     opts.Seed,
		LogLevel: opts.LogLevel,
	}

	summary := RunSummary{Backend: be.Name, Scenarios: make([]ScenarioReport, 0, len(scenarios))}
	w := cmd.OutOrStdout()
	for _, sc := range scenarios {
		// --timeout, then the scenario's own, then the configured default.
		runOpts.Timeout = opts.Timeout
		if runOpts.Timeout == 0 && sc.Timeout == "" {
			runOpts.Timeout = cfg.Harness.Timeout
		}

		start := time.Now()
		res, err := harness.RunScenario(ctx, sc, be.Service, runOpts)
		report := newReport(sc.Name, res, time.Since(start))
		if err != nil {
			report.fail(err.Error())
		}
		summary.Scenarios = append(summary.Scenarios, report)

		if report.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}

		if formatter.isJSON() {
			continue
		}
		if report.Pass {
			fmt.Fprintf(w, "✓ %s (%s)\n", report.Name, report.Duration)
			if opts.Verbose {
				writeDiagnostics(w, report)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s (%s)\n", report.Name, report.Duration)
		writeDiagnostics(w, report)
	}

	if formatter.isJSON() {
		if summary.Failed > 0 {
			if err := formatter.Failure(ErrCodeScenarioFailed, fmt.Sprintf("%d scenario(s) failed", summary.Failed), summary); err != nil {
				return err
			}
		} else if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w, "\n%d passed, %d failed (backend %s)\n", summary.Passed, summary.Failed, summary.Backend)
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}
	return nil
}

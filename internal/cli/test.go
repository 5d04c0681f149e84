package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/harness"
	"github.com/roach88/lockharness/internal/locksvc"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Backend backendFlags
	Update  bool   // regenerate golden files
	Filter  string // scenario filter (glob pattern)
}

// TestResult holds the overall test result.
type TestResult struct {
	Backend   string           `json:"backend"`
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run every scenario in a directory",
		Long: `Run every scenario file under a directory and check its assertions.

When golden/<name>.golden exists next to a scenario, the run's trace must
match it byte for byte. --update rewrites the golden files instead.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  lockharness test ./scenarios
  lockharness test ./scenarios --filter "module-*"
  lockharness test ./scenarios --update
  lockharness test ./scenarios --backend sqlite --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	opts.Backend.bind(cmd)
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if info, err := os.Stat(scenariosDir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	ctx := commandContext(cmd)
	be, cfg, err := opts.Backend.open(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("error closing backend", "backend", be.Name, "error", err)
		}
	}()

	result := TestResult{
		Backend:   be.Name,
		Scenarios: make([]ScenarioReport, 0, len(files)),
		Total:     len(files),
	}

	w := cmd.OutOrStdout()
	for _, file := range files {
		formatter.VerboseLog("running %s", file)
		report := runTestScenario(ctx, opts, file, be.Service, harness.RunOptions{Logger: logger}, cfg.Harness.Timeout)
		result.Scenarios = append(result.Scenarios, report)
		if report.Pass {
			result.Passed++
		} else {
			result.Failed++
		}

		if formatter.isJSON() {
			continue
		}
		switch {
		case report.Pass && opts.Update:
			fmt.Fprintf(w, "✓ %s (golden updated)\n", report.Name)
		case report.Pass:
			fmt.Fprintf(w, "✓ %s\n", report.Name)
		default:
			fmt.Fprintf(w, "✗ %s\n", report.Name)
			writeDiagnostics(w, report)
		}
	}

	if formatter.isJSON() {
		if result.Failed > 0 {
			if err := formatter.Failure(ErrCodeScenarioFailed, fmt.Sprintf("%d scenario(s) failed", result.Failed), result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
		}
		return formatter.Success(result)
	}

	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

// runTestScenario loads, runs and golden-checks one file. Scenarios without
// a golden file are judged on their assertions alone, and only passing runs
// are written by --update.
func runTestScenario(ctx context.Context, opts *TestOptions, file string, svc locksvc.Service, runOpts harness.RunOptions, defaultTimeout time.Duration) ScenarioReport {
	sc, err := harness.LoadScenario(file)
	if err != nil {
		report := ScenarioReport{Name: file, File: file}
		report.fail(fmt.Sprintf("failed to load scenario: %v", err))
		return report
	}
	if sc.Timeout == "" {
		runOpts.Timeout = defaultTimeout
	}

	start := time.Now()
	res, err := harness.RunScenario(ctx, sc, svc, runOpts)
	report := newReport(sc.Name, res, time.Since(start))
	report.File = file
	if err != nil {
		report.fail(fmt.Sprintf("execution failed: %v", err))
		return report
	}
	// A failed run is never recorded as the reference trace.
	if !report.Pass {
		return report
	}

	golden := goldenFilePath(file)
	if !opts.Update {
		if _, err := os.Stat(golden); errors.Is(err, os.ErrNotExist) {
			return report
		}
	}
	if err := harness.CompareGolden(golden, res, opts.Update); err != nil {
		if errors.Is(err, harness.ErrGoldenMismatch) {
			report.fail("trace does not match golden file (run with --update to regenerate)")
		} else {
			report.fail(fmt.Sprintf("golden file: %v", err))
		}
	}
	return report
}

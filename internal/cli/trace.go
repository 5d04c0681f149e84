package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Backend  backendFlags
	Actor    string // optional - filter to one actor
	Action   string // optional - filter to one action
	Lockstep bool
}

// TraceResult is the full record of one run.
type TraceResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Timeline []harness.TraceEvent `json:"timeline"`
	Releases []harness.Release    `json:"releases"`
	Stats    TraceStats           `json:"stats"`
}

// TraceStats counts the timeline by step kind.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Barriers    int `json:"barriers"`
	Effects     int `json:"effects"`
	Refused     int `json:"refused"`
	Failed      int `json:"failed"`
	Rounds      int `json:"rounds"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario>",
		Short: "Run a scenario and print its full timeline",
		Long: `Run one scenario and print every executed step together with the
barrier rounds that ordered them.

The output includes:
- Timeline: each step with its arguments, outcome and barrier generation
- Releases: every barrier round, how many actors it woke and whether a
  terminating actor completed it
- Stats: summary counts

Examples:
  lockharness trace datastore-locking
  lockharness trace module-locking --actor Second
  lockharness trace ./scenarios/commit.yaml --action commit --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	opts.Backend.bind(cmd)
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "only show steps of this actor")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only show steps of this action")
	cmd.Flags().BoolVar(&opts.Lockstep, "lockstep", false, "make every actor meet at the barrier before each step")

	return cmd
}

func runTrace(opts *TraceOptions, arg string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	sc, err := resolveScenario(arg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	ctx := commandContext(cmd)
	be, cfg, err := opts.Backend.open(ctx, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	runOpts := harness.RunOptions{Logger: logger, Lockstep: opts.Lockstep}
	if sc.Timeout == "" {
		runOpts.Timeout = cfg.Harness.Timeout
	}
	res, err := harness.RunScenario(ctx, sc, be.Service, runOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "scenario did not finish", err)
	}

	result := TraceResult{
		Scenario: sc.Name,
		Pass:     res.Pass,
		Timeline: buildTimeline(res.Trace, opts.Actor, opts.Action),
		Releases: res.Releases,
	}
	result.Stats = traceStats(result.Timeline, res.Releases)

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.isJSON() {
		return formatter.Success(result)
	}
	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// buildTimeline keeps the events matching the actor and action filters.
// Empty filters match everything.
func buildTimeline(trace []harness.TraceEvent, actor, action string) []harness.TraceEvent {
	timeline := make([]harness.TraceEvent, 0, len(trace))
	for _, ev := range trace {
		if actor != "" && ev.Actor != actor {
			continue
		}
		if action != "" && ev.Step != action {
			continue
		}
		timeline = append(timeline, ev)
	}
	return timeline
}

func traceStats(timeline []harness.TraceEvent, releases []harness.Release) TraceStats {
	stats := TraceStats{TotalEvents: len(timeline), Rounds: len(releases)}
	for _, ev := range timeline {
		switch {
		case ev.Generation != nil:
			stats.Barriers++
		case ev.Expect != "":
			stats.Refused++
		default:
			stats.Effects++
		}
		if !ev.Pass {
			stats.Failed++
		}
	}
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	verdict := "PASS"
	if !result.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "Scenario: %s (%s)\n\n", result.Scenario, verdict)

	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no matching steps)")
	}
	for _, ev := range result.Timeline {
		fmt.Fprintf(w, "  %s\n", harness.FormatEvent(ev))
		if verbose && ev.Error != "" {
			fmt.Fprintf(w, "    %s\n", ev.Error)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Barrier rounds:")
	for _, r := range result.Releases {
		note := ""
		if r.ByLeave {
			note = " (completed by a terminating actor)"
		}
		fmt.Fprintf(w, "  gen=%d released=%d live=%d%s\n", r.Generation, r.Released, r.Live, note)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Stats: %d steps, %d barrier, %d effect, %d refused, %d failed, %d rounds\n",
		result.Stats.TotalEvents, result.Stats.Barriers, result.Stats.Effects,
		result.Stats.Refused, result.Stats.Failed, result.Stats.Rounds)
}

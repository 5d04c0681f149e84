package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockharness/internal/backend"
	"github.com/roach88/lockharness/internal/config"
	"github.com/roach88/lockharness/internal/harness"
)

// scenarioExts are the file extensions the test command picks up.
var scenarioExts = []string{".yaml", ".yml", ".cue"}

// resolveScenario treats arg as a file path when one exists, otherwise as
// the name of a built-in scenario.
func resolveScenario(arg string) (*harness.Scenario, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return harness.LoadScenario(arg)
	}
	sc, err := harness.Builtin(arg)
	if err != nil {
		return nil, fmt.Errorf("scenario %q is neither a file nor a built-in (see `lockharness list`)", arg)
	}
	return sc, nil
}

// findScenarioFiles walks dir for scenario files whose base name matches
// filter. An empty filter matches everything. Files under golden/ are skipped.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !slices.Contains(scenarioExts, ext) {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if ok, _ := filepath.Match(filter, name); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// goldenFilePath places a scenario's golden file in a golden/ directory
// next to it.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// backendFlags selects the locking backend. Unset flags fall back to the
// LOCKHARNESS_* environment.
type backendFlags struct {
	Name       string
	SQLitePath string
	RemoteURL  string
}

func (b *backendFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.Name, "backend", "", "locking backend ("+strings.Join(config.Backends, "|")+"), default from LOCKHARNESS_BACKEND or memory")
	cmd.Flags().StringVar(&b.SQLitePath, "sqlite-path", "", "sqlite database for the sqlite backend")
	cmd.Flags().StringVar(&b.RemoteURL, "remote-url", "", "lockd base URL for the remote backend")
}

// config loads the environment and applies the flags over it.
func (b *backendFlags) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if b.Name != "" {
		cfg.Backend.Name = strings.ToLower(b.Name)
	}
	if b.SQLitePath != "" {
		cfg.Backend.SQLitePath = b.SQLitePath
	}
	if b.RemoteURL != "" {
		cfg.Backend.RemoteURL = b.RemoteURL
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (b *backendFlags) open(ctx context.Context, logger *slog.Logger) (*backend.Backend, config.Config, error) {
	cfg, err := b.config()
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	be, err := backend.Open(ctx, cfg.Backend, backend.WithLogger(logger))
	if err != nil {
		return nil, config.Config{}, WrapExitError(ExitCommandError, "failed to open backend", err)
	}
	return be, cfg, nil
}

// ScenarioReport is the outcome of one scenario in run and test output.
type ScenarioReport struct {
	Name     string                `json:"name"`
	File     string                `json:"file,omitempty"`
	Pass     bool                  `json:"pass"`
	Errors   []string              `json:"errors,omitempty"`
	Actors   []harness.ActorResult `json:"actors,omitempty"`
	Trace    []harness.TraceEvent  `json:"trace,omitempty"`
	Duration string                `json:"duration"`
}

func newReport(name string, res *harness.Result, elapsed time.Duration) ScenarioReport {
	r := ScenarioReport{Name: name, Duration: elapsed.Round(time.Millisecond).String()}
	if res == nil {
		return r
	}
	r.Pass = res.Pass
	r.Errors = res.Errors
	r.Actors = res.Actors
	r.Trace = res.Trace
	return r
}

func (r *ScenarioReport) fail(msg string) {
	r.Pass = false
	r.Errors = append(r.Errors, msg)
}

// writeDiagnostics prints each actor's final state and executed steps,
// then the collected errors.
func writeDiagnostics(w io.Writer, r ScenarioReport) {
	for _, a := range r.Actors {
		fmt.Fprintf(w, "  %s: %s (%d/%d steps)\n", a.Name, a.State, a.Executed, a.Steps)
		for _, ev := range r.Trace {
			if ev.Actor != a.Name {
				continue
			}
			fmt.Fprintf(w, "    %s\n", harness.FormatEvent(ev))
			if ev.Error != "" {
				fmt.Fprintf(w, "      %s\n", ev.Error)
			}
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where golden snapshots live, relative to a package or a
// scenarios directory.
const GoldenDir = "testdata/golden"

// ErrGoldenMismatch is returned by CompareGolden when the snapshot differs.
var ErrGoldenMismatch = errors.New("trace differs from golden file")

// Snapshot renders a result as canonical JSON lines: one header line with
// the verdict and actor states, then one line per trace event. Error text
// and barrier release records are left out; both can vary between runs
// that are otherwise identical.
func Snapshot(result *Result) ([]byte, error) {
	actors := make([]any, len(result.Actors))
	for i, a := range result.Actors {
		actors[i] = map[string]any{
			"name":     a.Name,
			"state":    a.State.String(),
			"steps":    a.Steps,
			"executed": a.Executed,
		}
	}
	header := map[string]any{
		"scenario": result.Scenario,
		"pass":     result.Pass,
		"actors":   actors,
	}

	var buf bytes.Buffer
	line, err := marshalCanonical(header)
	if err != nil {
		return nil, fmt.Errorf("snapshot header: %w", err)
	}
	buf.Write(line)
	buf.WriteByte('\n')

	for i, ev := range result.Trace {
		line, err := marshalCanonical(eventMap(ev))
		if err != nil {
			return nil, fmt.Errorf("snapshot trace[%d]: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func eventMap(ev TraceEvent) map[string]any {
	m := map[string]any{
		"actor":   ev.Actor,
		"index":   ev.Index,
		"step":    ev.Step,
		"outcome": string(ev.Outcome),
		"pass":    ev.Pass,
	}
	if len(ev.Args) > 0 {
		args := make([]any, len(ev.Args))
		for i, a := range ev.Args {
			args[i] = a
		}
		m["args"] = args
	}
	if ev.Expect != "" {
		m["expect"] = string(ev.Expect)
	}
	if ev.Generation != nil {
		m["generation"] = *ev.Generation
	}
	return m
}

// AssertGolden compares the result's snapshot against
// testdata/golden/<name>.golden. Run the test with -update to rewrite it.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	snap, err := Snapshot(result)
	if err != nil {
		t.Fatalf("snapshot %s: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snap)
}

// GoldenPath returns the golden file for a scenario under dir.
func GoldenPath(dir, name string) string {
	return filepath.Join(dir, GoldenDir, name+".golden")
}

// CompareGolden checks the result's snapshot against the file at path. With
// update set it writes the file instead. A missing file is an error unless
// update is set.
func CompareGolden(path string, result *Result, update bool) error {
	snap, err := Snapshot(result)
	if err != nil {
		return err
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, snap, 0o644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, snap) {
		return fmt.Errorf("%w: %s", ErrGoldenMismatch, path)
	}
	return nil
}

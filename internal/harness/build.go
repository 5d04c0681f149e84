package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/lockharness/internal/locksvc"
)

// DefaultTimeout bounds a scenario run when neither the scenario nor the
// caller sets one.
const DefaultTimeout = 30 * time.Second

// RunOptions override scenario settings for one run. Zero values keep what
// the scenario says.
type RunOptions struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	Lockstep bool
	Jitter   time.Duration
	Seed     uint64
	LogLevel string
}

// Build validates sc and wires a manager whose actors open sessions on svc.
func Build(sc *Scenario, svc locksvc.Service, opts RunOptions) (*Manager, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	ds, _ := locksvc.ParseDatastore(sc.datastore())
	mode, _ := locksvc.ParseConnMode(sc.Connection)
	levelName := sc.LogLevel
	if opts.LogLevel != "" {
		levelName = opts.LogLevel
	}
	level, err := locksvc.ParseLogLevel(levelName)
	if err != nil {
		return nil, err
	}

	mopts := []Option{WithName(sc.Name), WithLogger(opts.Logger)}
	if sc.Lockstep || opts.Lockstep {
		mopts = append(mopts, WithLockstep())
	}
	jitter, _ := sc.JitterDuration()
	seed := sc.Seed
	if opts.Jitter > 0 {
		jitter = opts.Jitter
	}
	if opts.Seed != 0 {
		seed = opts.Seed
	}
	if jitter > 0 {
		mopts = append(mopts, WithJitter(jitter, seed))
	}

	m := NewManager(mopts...)
	setup := SessionSetup(svc, mode, ds, level)
	for _, spec := range sc.Actors {
		a, err := m.NewActor(spec.Name, setup)
		if err != nil {
			return nil, err
		}
		for _, st := range spec.Steps {
			step, err := st.build()
			if err != nil {
				return nil, fmt.Errorf("actor %q: %w", spec.Name, err)
			}
			a.Register(step, st.Args...)
		}
	}
	return m, nil
}

// RunScenario builds sc, runs it under its timeout and evaluates its
// assertions. An error means the run itself could not finish; a failing
// verdict is reported through Result.Pass.
func RunScenario(ctx context.Context, sc *Scenario, svc locksvc.Service, opts RunOptions) (*Result, error) {
	m, err := Build(sc, svc, opts)
	if err != nil {
		return nil, err
	}

	timeout, _ := sc.TimeoutDuration()
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := m.Run(runCtx)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
	}

	ds, _ := locksvc.ParseDatastore(sc.datastore())
	mode, _ := locksvc.ParseConnMode(sc.Connection)
	actx := &AssertionContext{Ctx: ctx, Service: svc, Mode: mode, Datastore: ds}
	for _, msg := range EvaluateAssertions(res, sc.Assertions, actx) {
		res.AddError(msg)
	}
	return res, nil
}

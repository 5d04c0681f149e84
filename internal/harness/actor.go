package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/roach88/lockharness/internal/locksvc"
)

// Teardown releases what a Setup acquired.
type Teardown func(ctx context.Context) error

// Setup prepares an actor's private session. It runs once, on the actor's
// goroutine, before the first step.
type Setup func(ctx context.Context, actor string) (locksvc.Session, Teardown, error)

// SessionSetup opens a connection named after the actor, sets the service
// log level and opens one session on ds. Teardown closes the session and then
// the connection.
func SessionSetup(svc locksvc.Service, mode locksvc.ConnMode, ds locksvc.Datastore, level locksvc.LogLevel) Setup {
	return func(ctx context.Context, actor string) (locksvc.Session, Teardown, error) {
		svc.SetLogLevel(level)
		conn, err := svc.Open(ctx, actor, mode)
		if err != nil {
			return nil, nil, fmt.Errorf("open connection: %w", err)
		}
		sess, err := conn.OpenSession(ctx, ds)
		if err != nil {
			_ = conn.Close(ctx)
			return nil, nil, fmt.Errorf("open session on %s: %w", ds, err)
		}
		teardown := func(ctx context.Context) error {
			serr := sess.Close(ctx)
			cerr := conn.Close(ctx)
			if serr != nil {
				return fmt.Errorf("close session: %w", serr)
			}
			if cerr != nil {
				return fmt.Errorf("close connection: %w", cerr)
			}
			return nil
		}
		return sess, teardown, nil
	}
}

// Actor runs a fixed list of steps on its own goroutine.
//
// Everything but state is touched only by the actor's goroutine while it
// runs; the manager reads the rest after joining it.
type Actor struct {
	name    string
	barrier *Barrier
	setup   Setup

	steps []boundStep
	state atomic.Int32

	lockstep bool
	jitter   time.Duration
	rng      *rand.Rand
	logger   *slog.Logger

	cursor  int
	trace   []TraceEvent
	failure *StepError
}

// NewActor creates an actor in the Created state. barrier must be the one
// owned by the manager the actor will be added to.
func NewActor(name string, barrier *Barrier, setup Setup) *Actor {
	return &Actor{
		name:    name,
		barrier: barrier,
		setup:   setup,
		logger:  discardLogger(),
		cursor:  -1,
	}
}

// Name returns the actor's name.
func (a *Actor) Name() string {
	return a.name
}

// State returns the actor's current state. Safe to call from any goroutine.
func (a *Actor) State() State {
	return State(a.state.Load())
}

// Register appends a step bound to args. It panics once the actor is running.
func (a *Actor) Register(step Step, args ...string) *Actor {
	if a.State() != StateCreated {
		panic(fmt.Sprintf("harness: register on actor %q in state %s", a.name, a.State()))
	}
	bound := boundStep{Step: step}
	if len(args) > 0 {
		bound.args = append([]string(nil), args...)
	}
	a.steps = append(a.steps, bound)
	return a
}

// Len returns the number of registered steps.
func (a *Actor) Len() int {
	return len(a.steps)
}

// configure applies run-wide settings. Called by the manager before start.
func (a *Actor) configure(lockstep bool, jitter time.Duration, seed uint64, index int, logger *slog.Logger) {
	a.lockstep = lockstep
	a.jitter = jitter
	if jitter > 0 {
		a.rng = rand.New(rand.NewPCG(seed, uint64(index)))
	}
	if logger != nil {
		a.logger = logger.With("actor", a.name)
	}
}

// run executes setup, every step in order and teardown. The first failing
// step stops the actor.
func (a *Actor) run(ctx context.Context) {
	a.state.Store(int32(StateRunning))
	a.logger.Debug("actor started", "steps", len(a.steps))

	sess, teardown, err := a.setup(ctx, a.name)
	if err != nil {
		a.fail(&StepError{Actor: a.name, Index: -1, Step: "setup", Kind: Classify(err), Err: err})
		return
	}
	defer func() {
		if teardown == nil {
			return
		}
		if err := teardown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("teardown failed", "error", err)
		}
	}()

	env := &Env{Actor: a.name, Session: sess, Logger: a.logger}
	for i, st := range a.steps {
		a.cursor = i
		var round *uint64
		if a.lockstep {
			gen := a.barrier.Wait()
			round = &gen
		}
		a.sleepJitter(ctx)

		ev, stepErr := a.exec(ctx, env, i, st, round)
		a.trace = append(a.trace, ev)
		if stepErr != nil {
			a.fail(stepErr)
			return
		}
	}

	a.state.Store(int32(StateCompleted))
	a.logger.Debug("actor completed")
}

// exec runs one step. In lockstep mode round is the generation the actor
// just passed, and a barrier step takes that round instead of waiting again.
func (a *Actor) exec(ctx context.Context, env *Env, i int, st boundStep, round *uint64) (TraceEvent, *StepError) {
	ev := TraceEvent{Actor: a.name, Index: i, Step: st.Name, Args: st.args, Outcome: KindNone, Pass: true}

	switch st.Kind {
	case StepBarrier:
		var gen uint64
		if round != nil {
			gen = *round
		} else {
			gen = a.barrier.Wait()
		}
		ev.Generation = &gen
		a.logger.Debug("barrier passed", "step", i, "generation", gen)
		return ev, nil

	case StepEffect:
		err := st.action(ctx, env, st.args)
		ev.Outcome = Classify(err)
		if err == nil {
			a.logger.Debug("step ok", "step", i, "name", st.Name)
			return ev, nil
		}
		ev.Pass = false
		ev.Error = err.Error()
		return ev, &StepError{
			Actor:    a.name,
			Index:    i,
			Step:     st.Name,
			Kind:     ev.Outcome,
			Observed: ev.Outcome,
			Err:      err,
		}

	case StepExpectFailure:
		err := st.action(ctx, env, st.args)
		ev.Expect = st.Expect
		ev.Outcome = Classify(err)
		if err != nil {
			ev.Error = err.Error()
		}
		if ev.Outcome == st.Expect {
			a.logger.Debug("expected failure observed", "step", i, "name", st.Name, "kind", ev.Outcome)
			return ev, nil
		}
		ev.Pass = false
		return ev, &StepError{
			Actor:    a.name,
			Index:    i,
			Step:     st.Name,
			Kind:     KindAssertionMismatch,
			Expected: st.Expect,
			Observed: ev.Outcome,
			Err:      &MismatchError{Expected: st.Expect, Observed: ev.Outcome, Err: err},
		}
	}

	panic(fmt.Sprintf("harness: unknown step kind %d", st.Kind))
}

func (a *Actor) sleepJitter(ctx context.Context) {
	if a.jitter <= 0 || a.rng == nil {
		return
	}
	d := time.Duration(a.rng.Int64N(int64(a.jitter) + 1))
	if d == 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (a *Actor) fail(err *StepError) {
	a.failure = err
	a.state.Store(int32(StateFailed))
	a.logger.Info("actor failed", "step", err.Index, "name", err.Step, "kind", err.Kind, "error", err.Err)
}

// recoverPanic turns a panic in a step into an actor failure.
func (a *Actor) recoverPanic(r any) {
	name := "setup"
	if a.cursor >= 0 && a.cursor < len(a.steps) {
		name = a.steps[a.cursor].Name
	}
	a.fail(&StepError{
		Actor: a.name,
		Index: a.cursor,
		Step:  name,
		Kind:  KindUnhandledExternal,
		Err:   fmt.Errorf("panic: %v", r),
	})
}

func (a *Actor) result() ActorResult {
	return ActorResult{
		Name:     a.name,
		State:    a.State(),
		Steps:    len(a.steps),
		Executed: len(a.trace),
		Failure:  a.failure,
	}
}

package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/lockharness/internal/locksvc"
)

// StepKind distinguishes the three things a step can be.
type StepKind int

const (
	// StepEffect calls one primitive on the locking service.
	StepEffect StepKind = iota

	// StepExpectFailure runs an effect and requires a specific error kind.
	StepExpectFailure

	// StepBarrier waits at the shared barrier. It never touches the service.
	StepBarrier
)

func (k StepKind) String() string {
	switch k {
	case StepEffect:
		return "effect"
	case StepExpectFailure:
		return "expect-failure"
	case StepBarrier:
		return "barrier"
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Env is what a running step can reach. Session belongs to the actor alone.
type Env struct {
	Actor   string
	Session locksvc.Session
	Logger  *slog.Logger
}

// Action is the body of an effect step. args are the values bound when the
// step was registered.
type Action func(ctx context.Context, env *Env, args []string) error

// Step is one entry of an actor's script. Steps are values; registering one
// copies it.
type Step struct {
	Name   string
	Kind   StepKind
	Expect Kind
	action Action
}

// Effect builds a step that calls fn.
func Effect(name string, fn Action) Step {
	return Step{Name: name, Kind: StepEffect, action: fn}
}

// ExpectFailure wraps an effect step so that it passes only when the effect
// fails with want. Success, or any other kind, fails the step.
func ExpectFailure(want Kind, inner Step) Step {
	if inner.Kind != StepEffect {
		panic(fmt.Sprintf("harness: ExpectFailure wraps effect steps, got %s step %q", inner.Kind, inner.Name))
	}
	return Step{Name: inner.Name, Kind: StepExpectFailure, Expect: want, action: inner.action}
}

// Wait builds a barrier step.
func Wait() Step {
	return Step{Name: ActionWait, Kind: StepBarrier}
}

// Built-in action names, as used in scenario files.
const (
	ActionLockDatastore   = "lock_datastore"
	ActionUnlockDatastore = "unlock_datastore"
	ActionLockModule      = "lock_module"
	ActionUnlockModule    = "unlock_module"
	ActionCommit          = "commit"
	ActionWait            = "wait"
)

// LockDatastore takes the whole-datastore lock.
func LockDatastore() Step {
	return Effect(ActionLockDatastore, func(ctx context.Context, env *Env, _ []string) error {
		return env.Session.LockDatastore(ctx)
	})
}

// UnlockDatastore releases the whole-datastore lock.
func UnlockDatastore() Step {
	return Effect(ActionUnlockDatastore, func(ctx context.Context, env *Env, _ []string) error {
		return env.Session.UnlockDatastore(ctx)
	})
}

// LockModule locks the module named by the first bound argument.
func LockModule() Step {
	return Effect(ActionLockModule, func(ctx context.Context, env *Env, args []string) error {
		return env.Session.LockModule(ctx, firstArg(args))
	})
}

// UnlockModule unlocks the module named by the first bound argument.
func UnlockModule() Step {
	return Effect(ActionUnlockModule, func(ctx context.Context, env *Env, args []string) error {
		return env.Session.UnlockModule(ctx, firstArg(args))
	})
}

// Commit commits the session's datastore.
func Commit() Step {
	return Effect(ActionCommit, func(ctx context.Context, env *Env, _ []string) error {
		return env.Session.Commit(ctx)
	})
}

// ActionSpec describes a built-in action for scenario files.
type ActionSpec struct {
	Name  string
	Arity int
	Build func() Step
}

var actions = map[string]ActionSpec{
	ActionLockDatastore:   {Name: ActionLockDatastore, Arity: 0, Build: LockDatastore},
	ActionUnlockDatastore: {Name: ActionUnlockDatastore, Arity: 0, Build: UnlockDatastore},
	ActionLockModule:      {Name: ActionLockModule, Arity: 1, Build: LockModule},
	ActionUnlockModule:    {Name: ActionUnlockModule, Arity: 1, Build: UnlockModule},
	ActionCommit:          {Name: ActionCommit, Arity: 0, Build: Commit},
	ActionWait:            {Name: ActionWait, Arity: 0, Build: Wait},
}

// LookupAction returns the built-in action with the given name.
func LookupAction(name string) (ActionSpec, bool) {
	spec, ok := actions[name]
	return spec, ok
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// boundStep is a registered step plus its arguments.
type boundStep struct {
	Step
	args []string
}

package harness

import (
	"fmt"
	"io"
	"log/slog"
)

// State is where an actor is in its lifecycle.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText renders the state by name in traces and reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateCreated, StateRunning, StateCompleted, StateFailed} {
		if string(b) == st.String() {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown actor state %q", b)
}

// Terminal reports whether the actor has stopped for good.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TraceEvent records one executed step.
type TraceEvent struct {
	Actor string   `json:"actor"`
	Index int      `json:"index"`
	Step  string   `json:"step"`
	Args  []string `json:"args,omitempty"`

	// Expect is the kind an expect-failure step was waiting for.
	Expect Kind `json:"expect,omitempty"`

	// Outcome is what the step observed. KindNone on success.
	Outcome Kind `json:"outcome"`

	// Generation is set for barrier steps.
	Generation *uint64 `json:"generation,omitempty"`

	Pass bool `json:"pass"`

	// Error is the adapter error text. It can carry session ids, so golden
	// files leave it out.
	Error string `json:"-"`
}

// ActorResult is the final report of one actor.
type ActorResult struct {
	Name     string     `json:"name"`
	State    State      `json:"state"`
	Steps    int        `json:"steps"`
	Executed int        `json:"executed"`
	Failure  *StepError `json:"-"`
}

// Result is the outcome of one run.
type Result struct {
	Scenario string `json:"scenario,omitempty"`

	// Pass is true when every actor completed and every assertion held.
	Pass bool `json:"pass"`

	// Actors are listed in registration order.
	Actors []ActorResult `json:"actors"`

	// Trace holds every executed step, actor by actor in registration order.
	Trace []TraceEvent `json:"trace"`

	// Releases is the barrier history.
	Releases []Release `json:"releases"`

	// Errors holds actor failures and assertion failures as text.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Actors:   []ActorResult{},
		Trace:    []TraceEvent{},
		Releases: []Release{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ActorTrace returns the events of one actor.
func (r *Result) ActorTrace(name string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Actor == name {
			out = append(out, ev)
		}
	}
	return out
}

// Actor returns the named actor's report.
func (r *Result) Actor(name string) (ActorResult, bool) {
	for _, a := range r.Actors {
		if a.Name == name {
			return a, true
		}
	}
	return ActorResult{}, false
}

// Failures returns the step errors of failed actors.
func (r *Result) Failures() []*StepError {
	var out []*StepError
	for _, a := range r.Actors {
		if a.Failure != nil {
			out = append(out, a.Failure)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

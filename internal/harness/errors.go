package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/lockharness/internal/locksvc"
)

// Kind classifies the outcome of a step.
type Kind string

const (
	// KindNone means the step succeeded.
	KindNone Kind = "NONE"

	// KindExternalConflict means the lock was already held.
	KindExternalConflict Kind = "CONFLICT"

	// KindExternalNotHeld means an unlock of something the caller does not hold.
	KindExternalNotHeld Kind = "NOT_HELD"

	// KindAssertionMismatch means an expect-failure step saw success or the wrong kind.
	KindAssertionMismatch Kind = "ASSERTION_MISMATCH"

	// KindUnhandledExternal covers every other adapter error.
	KindUnhandledExternal Kind = "UNHANDLED_EXTERNAL"
)

// ParseKind maps scenario spellings onto the kinds an expect-failure step may name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CONFLICT", "EXTERNAL_CONFLICT":
		return KindExternalConflict, nil
	case "NOT_HELD", "EXTERNAL_NOT_HELD":
		return KindExternalNotHeld, nil
	}
	return "", fmt.Errorf("unknown expected error kind %q: must be CONFLICT or NOT_HELD", s)
}

// Classify maps an adapter error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var mm *MismatchError
	if errors.As(err, &mm) {
		return KindAssertionMismatch
	}
	switch locksvc.CodeOf(err) {
	case locksvc.CodeConflict:
		return KindExternalConflict
	case locksvc.CodeNotHeld:
		return KindExternalNotHeld
	}
	return KindUnhandledExternal
}

// MismatchError is returned by an expect-failure step that did not observe
// the error kind it was waiting for.
type MismatchError struct {
	Expected Kind
	Observed Kind
	Err      error // what the wrapped step returned, nil on success
}

func (e *MismatchError) Error() string {
	if e.Observed == KindNone {
		return fmt.Sprintf("expected %s, observed success", e.Expected)
	}
	return fmt.Sprintf("expected %s, observed %s: %v", e.Expected, e.Observed, e.Err)
}

func (e *MismatchError) Unwrap() error {
	return e.Err
}

// StepError reports the step that failed an actor.
type StepError struct {
	Actor    string
	Index    int
	Step     string
	Kind     Kind
	Expected Kind // set for expect-failure steps
	Observed Kind // what the adapter actually produced
	Err      error
}

func (e *StepError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "actor %q step %d (%s)", e.Actor, e.Index, e.Step)
	if e.Expected != "" || e.Err == nil || !strings.HasPrefix(e.Err.Error(), string(e.Kind)+": ") {
		fmt.Fprintf(&buf, ": %s", e.Kind)
	}
	if e.Expected != "" {
		observed := string(e.Observed)
		if e.Observed == KindNone {
			observed = "success"
		}
		fmt.Fprintf(&buf, ": expected %s, observed %s", e.Expected, observed)
	}
	if e.Err != nil && e.Kind != KindAssertionMismatch {
		fmt.Fprintf(&buf, ": %v", e.Err)
	}
	return buf.String()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ErrRunTimeout is returned by Manager.Run when the context ends before
// every actor has terminated.
var ErrRunTimeout = errors.New("run did not finish before the deadline")

// TimeoutError names the actors still running when the deadline passed.
type TimeoutError struct {
	Running []string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: actors still running: %s", ErrRunTimeout, strings.Join(e.Running, ", "))
}

func (e *TimeoutError) Unwrap() []error {
	return []error{ErrRunTimeout, e.Err}
}

// ErrManagerStarted is returned when actors are added after Run.
var ErrManagerStarted = errors.New("manager already started")

// IsTimeout reports whether err came from a run deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrRunTimeout)
}

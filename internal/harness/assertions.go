package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/lockharness/internal/locksvc"
)

// probeActor is the connection name unheld assertions open.
const probeActor = "assert-probe"

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", FormatEvent(ev))
		}
	}
	return buf.String()
}

// FormatEvent renders one trace event on a single line.
func FormatEvent(ev TraceEvent) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s[%d] %s", ev.Actor, ev.Index, ev.Step)
	if len(ev.Args) > 0 {
		fmt.Fprintf(&buf, " %s", strings.Join(ev.Args, " "))
	}
	if ev.Generation != nil {
		fmt.Fprintf(&buf, " gen=%d", *ev.Generation)
	}
	if ev.Expect != "" {
		fmt.Fprintf(&buf, " expect=%s", ev.Expect)
	}
	fmt.Fprintf(&buf, " -> %s", ev.Outcome)
	if !ev.Pass {
		buf.WriteString(" FAIL")
	}
	return buf.String()
}

func matchEvent(ev TraceEvent, a Assertion) bool {
	if ev.Step != a.Action {
		return false
	}
	if a.Actor != "" && ev.Actor != a.Actor {
		return false
	}
	if a.Outcome != "" {
		want, err := parseOutcome(a.Outcome)
		if err != nil || ev.Outcome != want {
			return false
		}
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{a.Action}
	if a.Actor != "" {
		parts = append(parts, "by "+a.Actor)
	}
	if a.Outcome != "" {
		parts = append(parts, "with outcome "+strings.ToUpper(a.Outcome))
	}
	return strings.Join(parts, " ")
}

// assertTraceContains checks that at least one event matches.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matchEvent(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks the exact number of matching events.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matchEvent(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertUnheld proves a lock is free by taking and releasing it from a
// fresh session.
func assertUnheld(ctx context.Context, svc locksvc.Service, mode locksvc.ConnMode, ds locksvc.Datastore, module string) (err error) {
	target := locksvc.Key{Datastore: ds, Module: module}.String()
	fail := func(actual string) error {
		return &AssertionError{
			Type:     AssertUnheld,
			Expected: target + " acquirable by a new session",
			Actual:   actual,
		}
	}

	conn, err := svc.Open(ctx, probeActor, mode)
	if err != nil {
		return fmt.Errorf("unheld probe: open connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("unheld probe: close connection: %w", cerr)
		}
	}()
	sess, err := conn.OpenSession(ctx, ds)
	if err != nil {
		return fmt.Errorf("unheld probe: open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("unheld probe: close session: %w", cerr)
		}
	}()

	if module == "" {
		if lerr := sess.LockDatastore(ctx); lerr != nil {
			return fail(fmt.Sprintf("lock failed: %v", lerr))
		}
		if uerr := sess.UnlockDatastore(ctx); uerr != nil {
			return fail(fmt.Sprintf("unlock failed: %v", uerr))
		}
		return nil
	}
	if lerr := sess.LockModule(ctx, module); lerr != nil {
		return fail(fmt.Sprintf("lock failed: %v", lerr))
	}
	if uerr := sess.UnlockModule(ctx, module); uerr != nil {
		return fail(fmt.Sprintf("unlock failed: %v", uerr))
	}
	return nil
}

// AssertionContext gives unheld assertions a way to reach the service.
type AssertionContext struct {
	Ctx       context.Context
	Service   locksvc.Service
	Mode      locksvc.ConnMode
	Datastore locksvc.Datastore
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages. unheld assertions fail when actx has no service.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertUnheld:
			if actx == nil || actx.Service == nil {
				err = fmt.Errorf("assertion[%d]: unheld requires a service", i)
				break
			}
			ds := actx.Datastore
			if a.Datastore != "" {
				ds, err = locksvc.ParseDatastore(a.Datastore)
				if err != nil {
					break
				}
			}
			ctx := actx.Ctx
			if ctx == nil {
				ctx = context.Background()
			}
			err = assertUnheld(ctx, actx.Service, actx.Mode, ds, a.Module)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}

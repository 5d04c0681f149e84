package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockharness/internal/locksvc"
)

func gen(g uint64) *uint64 { return &g }

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Actor: "First", Index: 0, Step: ActionLockDatastore, Outcome: KindNone, Pass: true},
		{Actor: "First", Index: 1, Step: ActionWait, Outcome: KindNone, Generation: gen(0), Pass: true},
		{Actor: "Second", Index: 0, Step: ActionWait, Outcome: KindNone, Generation: gen(0), Pass: true},
		{Actor: "Second", Index: 1, Step: ActionLockDatastore, Expect: KindExternalConflict, Outcome: KindExternalConflict, Pass: true},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionLockDatastore}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionLockDatastore, Actor: "Second", Outcome: "conflict"}))

	err := assertTraceContains(trace, Assertion{Type: AssertTraceContains, Action: ActionLockDatastore, Actor: "First", Outcome: "CONFLICT"})
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Equal(t, "lock_datastore by First with outcome CONFLICT", ae.Expected)
	assert.Equal(t, "not found in trace", ae.Actual)
	assert.Contains(t, ae.Error(), "Second[1] lock_datastore expect=CONFLICT -> CONFLICT")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Action: ActionWait, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Action: ActionCommit, Count: 0}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Action: ActionLockDatastore, Outcome: "NONE", Count: 1}))

	err := assertTraceCount(trace, Assertion{Type: AssertTraceCount, Action: ActionWait, Actor: "First", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 2 occurrences of wait by First")
	assert.Contains(t, err.Error(), "Actual: 1 occurrences")
}

func TestFormatEvent(t *testing.T) {
	assert.Equal(t, "First[1] wait gen=0 -> NONE", FormatEvent(sampleTrace()[1]))
	assert.Equal(t,
		"Second[2] unlock_module example-module -> NOT_HELD FAIL",
		FormatEvent(TraceEvent{Actor: "Second", Index: 2, Step: ActionUnlockModule, Args: []string{exampleModule}, Outcome: KindExternalNotHeld}),
	)
}

func TestAssertUnheld(t *testing.T) {
	ctx := testContext(t)
	svc := newMemoryService()

	require.NoError(t, assertUnheld(ctx, svc, locksvc.ConnDefault, locksvc.DatastoreRunning, ""))
	require.NoError(t, assertUnheld(ctx, svc, locksvc.ConnDefault, locksvc.DatastoreRunning, exampleModule))

	conn, err := svc.Open(ctx, "holder", locksvc.ConnDefault)
	require.NoError(t, err)
	sess, err := conn.OpenSession(ctx, locksvc.DatastoreRunning)
	require.NoError(t, err)
	require.NoError(t, sess.LockModule(ctx, exampleModule))

	err = assertUnheld(ctx, svc, locksvc.ConnDefault, locksvc.DatastoreRunning, exampleModule)
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "running/example-module acquirable by a new session", ae.Expected)
	assert.Contains(t, ae.Actual, "lock failed")

	// Other datastores and the whole-datastore lock are unaffected.
	assert.NoError(t, assertUnheld(ctx, svc, locksvc.ConnDefault, locksvc.DatastoreStartup, exampleModule))
	assert.NoError(t, assertUnheld(ctx, svc, locksvc.ConnDefault, locksvc.DatastoreRunning, ""))

	require.NoError(t, conn.Close(ctx))
	assert.NoError(t, assertUnheld(ctx, svc, locksvc.ConnDefault, locksvc.DatastoreRunning, exampleModule))
}

func TestEvaluateAssertions(t *testing.T) {
	res := NewResult("sample")
	res.Trace = sampleTrace()

	assertions := []Assertion{
		{Type: AssertTraceContains, Action: ActionLockDatastore},
		{Type: AssertTraceCount, Action: ActionWait, Count: 3},
		{Type: AssertUnheld},
		{Type: "bogus"},
	}

	errs := EvaluateAssertions(res, assertions, nil)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "trace_count")
	assert.Contains(t, errs[1], "unheld requires a service")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)

	errs = EvaluateAssertions(res, assertions[2:3], &AssertionContext{
		Ctx:       context.Background(),
		Service:   newMemoryService(),
		Mode:      locksvc.ConnDefault,
		Datastore: locksvc.DatastoreCandidate,
	})
	assert.Empty(t, errs)
}

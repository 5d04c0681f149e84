// Package harness drives concurrent actors against a datastore locking
// service and forces specific interleavings with a shared barrier.
//
// A Manager owns one Barrier and a set of Actors. Each Actor runs an ordered
// list of Steps on its own goroutine against its own session:
//
//	m := harness.NewManager()
//	first, _ := m.NewActor("First", setup)
//	first.Register(harness.LockDatastore()).
//		Register(harness.Wait()).
//		Register(harness.UnlockDatastore())
//	second, _ := m.NewActor("Second", setup)
//	second.Register(harness.Wait()).
//		Register(harness.ExpectFailure(harness.KindExternalConflict, harness.LockDatastore()))
//	res, err := m.Run(ctx)
//
// # Barrier
//
// Nobody declares how many actors take part in a round. The population is
// the set of actors that have not terminated, and it shrinks as actors
// complete or fail. A round releases when every live actor has arrived, or
// when the last missing actor terminates instead of arriving.
//
// # Scenario Format
//
// Scenarios are YAML or CUE files:
//
//	name: datastore-locking
//	description: "What this scenario proves"
//	datastore: startup          # startup | running | candidate
//	connection: default         # default | daemon-required | local
//	log_level: info
//	lockstep: false             # wait at the barrier before every step
//	jitter: 2ms                 # random pause before every step
//	seed: 7
//	timeout: 10s
//	actors:
//	  - name: First
//	    steps:
//	      - lock_datastore
//	      - wait
//	      - action: unlock_module
//	        args: [example-module]
//	        expect: NOT_HELD
//	assertions:
//	  - type: trace_contains
//	    actor: First
//	    action: lock_datastore
//	    outcome: NONE
//	  - type: trace_count
//	    action: wait
//	    count: 1
//	  - type: unheld
//	    module: example-module
//
// Built-in actions are lock_datastore, unlock_datastore, lock_module,
// unlock_module, commit and wait.
//
// # Golden Files
//
// Snapshot renders a result deterministically. AssertGolden compares it
// against testdata/golden/<name>.golden; regenerate with:
//
//	go test ./internal/harness -update
package harness

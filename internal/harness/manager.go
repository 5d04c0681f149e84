package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns one barrier and a set of actors, and runs them all at once.
type Manager struct {
	name     string
	barrier  *Barrier
	logger   *slog.Logger
	lockstep bool
	jitter   time.Duration
	seed     uint64

	mu      sync.Mutex
	actors  []*Actor
	names   map[string]struct{}
	started bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithName labels the result.
func WithName(name string) Option {
	return func(m *Manager) { m.name = name }
}

// WithLogger sets the logger for the manager, its barrier and its actors.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithLockstep makes every actor wait at the barrier before each step, so
// the actors advance one step per round and drop out as they run dry.
func WithLockstep() Option {
	return func(m *Manager) { m.lockstep = true }
}

// MaxJitter bounds the pause WithJitter may insert before a step.
const MaxJitter = time.Minute

// WithJitter adds a random pause of up to max before every step. Each actor
// draws from its own source seeded by seed and its registration index.
// Values above MaxJitter are clamped.
func WithJitter(max time.Duration, seed uint64) Option {
	return func(m *Manager) {
		m.jitter = min(max, MaxJitter)
		m.seed = seed
	}
}

// NewManager creates a manager with a fresh barrier.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		barrier: NewBarrier(),
		logger:  discardLogger(),
		names:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.barrier.SetLogger(m.logger)
	return m
}

// Barrier returns the barrier actors must be created with.
func (m *Manager) Barrier() *Barrier {
	return m.barrier
}

// NewActor creates an actor on the manager's barrier and adds it.
func (m *Manager) NewActor(name string, setup Setup) (*Actor, error) {
	a := NewActor(name, m.barrier, setup)
	if err := m.AddActor(a); err != nil {
		return nil, err
	}
	return a, nil
}

// AddActor adds a. It fails once Run has started, for duplicate names and
// for actors built on another barrier.
func (m *Manager) AddActor(a *Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("add actor %q: %w", a.Name(), ErrManagerStarted)
	}
	if a.Name() == "" {
		return errors.New("add actor: name is required")
	}
	if _, dup := m.names[a.Name()]; dup {
		return fmt.Errorf("add actor %q: duplicate name", a.Name())
	}
	if a.barrier != m.barrier {
		return fmt.Errorf("add actor %q: actor uses a different barrier", a.Name())
	}
	if a.setup == nil {
		return fmt.Errorf("add actor %q: setup is required", a.Name())
	}
	m.names[a.Name()] = struct{}{}
	m.actors = append(m.actors, a)
	return nil
}

// Actors returns the registered actors in order.
func (m *Manager) Actors() []*Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Actor(nil), m.actors...)
}

// Run starts every actor concurrently and waits for all of them to terminate.
//
// Actor failures do not make Run fail; they are reported in the result. Run
// returns an error only when it cannot start or when ctx ends first, in which
// case the error is a *TimeoutError naming the actors still running and no
// result is returned.
func (m *Manager) Run(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil, ErrManagerStarted
	}
	m.started = true
	actors := append([]*Actor(nil), m.actors...)
	m.mu.Unlock()

	m.logger.Info("run started", "scenario", m.name, "actors", len(actors), "lockstep", m.lockstep)

	m.barrier.Add(len(actors))
	var wg sync.WaitGroup
	for i, a := range actors {
		a.configure(m.lockstep, m.jitter, m.seed, i, m.logger)
		wg.Add(1)
		go func(a *Actor) {
			defer wg.Done()
			defer m.barrier.Leave()
			defer func() {
				if r := recover(); r != nil {
					a.recoverPanic(r)
				}
			}()
			a.run(ctx)
		}(a)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
			return m.collect(actors), nil
		default:
		}
		var running []string
		for _, a := range actors {
			if !a.State().Terminal() {
				running = append(running, a.Name())
			}
		}
		m.logger.Error("run timed out", "scenario", m.name, "running", running)
		return nil, &TimeoutError{Running: running, Err: ctx.Err()}
	}

	return m.collect(actors), nil
}

func (m *Manager) collect(actors []*Actor) *Result {
	res := NewResult(m.name)
	for _, a := range actors {
		ar := a.result()
		res.Actors = append(res.Actors, ar)
		res.Trace = append(res.Trace, a.trace...)
		if ar.Failure != nil {
			res.AddError(ar.Failure.Error())
		}
	}
	res.Releases = m.barrier.History()

	m.logger.Info("run finished", "scenario", m.name, "pass", res.Pass, "releases", len(res.Releases))
	return res
}

package harness

import (
	"log/slog"
	"sync"
)

// Release records one barrier round.
type Release struct {
	// Generation is the round that was released.
	Generation uint64 `json:"generation"`

	// Released is how many waiters the round woke.
	Released int `json:"released"`

	// Live is the population the round was measured against.
	Live int `json:"live"`

	// ByLeave is true when the round was completed by an actor terminating
	// rather than by a final arrival.
	ByLeave bool `json:"by_leave,omitempty"`
}

// Barrier is a rendezvous point for a shrinking population of actors.
//
// Nobody declares the population up front: the manager calls Add once per
// actor before starting them and each actor calls Leave when it terminates.
// A round releases when every live actor has arrived. An actor that
// terminates while others wait is dropped from the population, and if the
// remaining waiters now account for every live actor the round releases
// without it.
//
// Every round has its own channel; closing it wakes exactly the waiters of
// that generation. A waiter that was released and arrives again lands in the
// next generation's channel, so a late wake-up can never leak across rounds.
//
// All counters are read and written under mu.
type Barrier struct {
	mu         sync.Mutex
	live       int
	arrived    int
	generation uint64
	release    chan struct{}
	history    []Release
	logger     *slog.Logger
}

// NewBarrier creates an empty barrier at generation 0.
func NewBarrier() *Barrier {
	return &Barrier{
		release: make(chan struct{}),
		logger:  discardLogger(),
	}
}

// SetLogger sets the logger used for release records.
func (b *Barrier) SetLogger(l *slog.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l != nil {
		b.logger = l
	}
}

// Add grows the live population by n.
func (b *Barrier) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live += n
}

// Wait arrives at the current generation and blocks until it releases.
// It returns the generation it waited on.
func (b *Barrier) Wait() uint64 {
	b.mu.Lock()
	gen := b.generation
	ch := b.release
	b.arrived++
	if b.arrived >= b.live {
		b.releaseLocked(false)
		b.mu.Unlock()
		return gen
	}
	b.mu.Unlock()

	<-ch
	return gen
}

// Leave removes one actor from the live population. If the actors already
// waiting now make up the whole population, the current generation releases.
func (b *Barrier) Leave() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.live > 0 {
		b.live--
	}
	if b.arrived > 0 && b.arrived >= b.live {
		b.releaseLocked(true)
	}
}

// releaseLocked wakes the current generation and opens the next one.
func (b *Barrier) releaseLocked(byLeave bool) {
	rec := Release{
		Generation: b.generation,
		Released:   b.arrived,
		Live:       b.live,
		ByLeave:    byLeave,
	}
	b.history = append(b.history, rec)
	b.logger.Debug("barrier released",
		"generation", rec.Generation,
		"released", rec.Released,
		"live", rec.Live,
		"by_leave", rec.ByLeave,
	)

	close(b.release)
	b.release = make(chan struct{})
	b.arrived = 0
	b.generation++
}

// Generation returns the id of the round currently collecting arrivals.
func (b *Barrier) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.generation
}

// Live returns the current live population.
func (b *Barrier) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Arrived returns how many actors are waiting in the current generation.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// History returns a copy of every release so far, oldest first.
func (b *Barrier) History() []Release {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Release, len(b.history))
	copy(out, b.history)
	return out
}

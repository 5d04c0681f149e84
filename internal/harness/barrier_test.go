package harness

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrier_ReleasesWhenAllArrive(t *testing.T) {
	b := NewBarrier()
	b.Add(3)

	gens := make([]uint64, 3)
	var wg sync.WaitGroup
	for i := range gens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gens[i] = b.Wait()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []uint64{0, 0, 0}, gens)
	assert.Equal(t, uint64(1), b.Generation())
	assert.Equal(t, 0, b.Arrived())
	assert.Equal(t, []Release{{Generation: 0, Released: 3, Live: 3}}, b.History())
}

func TestBarrier_SingleActorNeverBlocks(t *testing.T) {
	b := NewBarrier()
	b.Add(1)

	assert.Equal(t, uint64(0), b.Wait())
	assert.Equal(t, uint64(1), b.Wait())
	assert.Len(t, b.History(), 2)
}

func TestBarrier_EveryGenerationReleasesOnce(t *testing.T) {
	const actors, rounds = 5, 40

	b := NewBarrier()
	b.Add(actors)

	var arrivals atomic.Int64
	seen := make([][]uint64, actors)
	var wg sync.WaitGroup
	for i := 0; i < actors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				arrivals.Add(1)
				gen := b.Wait()
				// Every arrival of this round happened before the release.
				if got := arrivals.Load(); got < int64(actors*(r+1)) {
					t.Errorf("actor %d released from round %d after only %d arrivals", i, r, got)
				}
				seen[i] = append(seen[i], gen)
			}
		}(i)
	}
	wg.Wait()

	want := make([]uint64, rounds)
	for r := range want {
		want[r] = uint64(r)
	}
	for i := range seen {
		assert.Equal(t, want, seen[i], "actor %d", i)
	}

	history := b.History()
	require.Len(t, history, rounds)
	for r, rel := range history {
		assert.Equal(t, uint64(r), rel.Generation)
		assert.Equal(t, actors, rel.Released)
		assert.Equal(t, actors, rel.Live)
		assert.False(t, rel.ByLeave)
	}
}

func TestBarrier_LeaveReleasesWaiters(t *testing.T) {
	b := NewBarrier()
	b.Add(2)

	done := make(chan uint64)
	go func() { done <- b.Wait() }()

	require.Eventually(t, func() bool { return b.Arrived() == 1 }, time.Second, time.Millisecond)
	b.Leave()

	select {
	case gen := <-done:
		assert.Equal(t, uint64(0), gen)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released when the other actor left")
	}

	assert.Equal(t, 1, b.Live())
	assert.Equal(t, []Release{{Generation: 0, Released: 1, Live: 1, ByLeave: true}}, b.History())
}

func TestBarrier_LeaveWithoutWaitersDoesNotRelease(t *testing.T) {
	b := NewBarrier()
	b.Add(2)

	b.Leave()
	assert.Empty(t, b.History())
	assert.Equal(t, uint64(0), b.Generation())
	assert.Equal(t, 1, b.Live())

	// The survivor now makes up the whole population.
	assert.Equal(t, uint64(0), b.Wait())
}

func TestBarrier_LeaveBelowZero(t *testing.T) {
	b := NewBarrier()
	b.Leave()
	assert.Equal(t, 0, b.Live())
	assert.Empty(t, b.History())
}

func TestBarrier_ShrinkingPopulation(t *testing.T) {
	const actors = 4

	b := NewBarrier()
	b.Add(actors)

	var wg sync.WaitGroup
	for i := 0; i < actors; i++ {
		wg.Add(1)
		go func(waits int) {
			defer wg.Done()
			defer b.Leave()
			for w := 0; w < waits; w++ {
				b.Wait()
			}
		}(i + 1)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("barrier deadlocked while actors were leaving")
	}

	history := b.History()
	require.Len(t, history, actors)
	for r, rel := range history {
		assert.Equal(t, uint64(r), rel.Generation)
		assert.Equal(t, actors-r, rel.Released, "round %d", r)
		assert.Equal(t, actors-r, rel.Live, "round %d", r)
	}
	assert.Equal(t, 0, b.Live())
}

package testutil

import (
	"context"
	"sync"

	"github.com/roach88/lockharness/internal/locksvc"
)

// HangingTable wraps a table and blocks Acquire until Unblock is called,
// whatever the context says. It models an external call that never returns
// on its own.
type HangingTable struct {
	locksvc.Table
	Entered chan struct{}

	once    sync.Once
	release chan struct{}
}

// NewHangingTable wraps inner.
func NewHangingTable(inner locksvc.Table) *HangingTable {
	return &HangingTable{
		Table:   inner,
		Entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

// Acquire signals Entered and blocks until Unblock.
func (h *HangingTable) Acquire(_ context.Context, _ locksvc.Key, _ string) error {
	select {
	case h.Entered <- struct{}{}:
	default:
	}
	<-h.release
	return locksvc.Errorf(locksvc.CodeInternal, "acquire abandoned")
}

// Unblock releases every pending and future Acquire.
func (h *HangingTable) Unblock() {
	h.once.Do(func() { close(h.release) })
}

// FailingTable returns Err from every operation.
type FailingTable struct {
	Err error
}

func (f FailingTable) Acquire(context.Context, locksvc.Key, string) error { return f.Err }

func (f FailingTable) Release(context.Context, locksvc.Key, string) error { return f.Err }

func (f FailingTable) ReleaseAll(context.Context, string) error { return f.Err }

func (f FailingTable) HeldByOthers(context.Context, locksvc.Datastore, string) (bool, error) {
	return false, f.Err
}

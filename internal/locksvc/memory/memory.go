// Package memory provides an in-process lock table.
package memory

import (
	"context"
	"sync"

	"github.com/roach88/lockharness/internal/locksvc"
)

// Table keeps lock ownership in a map guarded by a mutex.
type Table struct {
	mu    sync.Mutex
	owner map[locksvc.Key]string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{owner: make(map[locksvc.Key]string)}
}

// NewService returns a locking service backed by a fresh in-process table.
func NewService(opts ...locksvc.Option) locksvc.Service {
	return locksvc.NewService(NewTable(), opts...)
}

func (t *Table) Acquire(_ context.Context, key locksvc.Key, owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.owner[key]; held {
		return locksvc.Errorf(locksvc.CodeConflict, "%s is already locked", key)
	}
	t.owner[key] = owner
	return nil
}

func (t *Table) Release(_ context.Context, key locksvc.Key, owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if holder, held := t.owner[key]; !held || holder != owner {
		return locksvc.Errorf(locksvc.CodeNotHeld, "%s is not locked by this session", key)
	}
	delete(t.owner, key)
	return nil
}

func (t *Table) ReleaseAll(_ context.Context, owner string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, holder := range t.owner {
		if holder == owner {
			delete(t.owner, key)
		}
	}
	return nil
}

func (t *Table) HeldByOthers(_ context.Context, ds locksvc.Datastore, owner string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, holder := range t.owner {
		if key.Datastore == ds && holder != owner {
			return true, nil
		}
	}
	return false, nil
}

// Held returns the number of keys currently held.
func (t *Table) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.owner)
}

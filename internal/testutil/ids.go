package testutil

import (
	"fmt"
	"time"
)

// SequentialIDs generates "prefix-1", "prefix-2", ... so session IDs in
// traces and golden files are reproducible.
//
// Implements locksvc.IDGenerator.
type SequentialIDs struct {
	prefix string
	clock  *Clock
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "session".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "session"
	}
	return &SequentialIDs{prefix: prefix, clock: NewClock(time.Time{})}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.clock.Tick())
}

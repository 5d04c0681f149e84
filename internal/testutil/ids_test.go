package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	g := NewSequentialIDs("")
	assert.Equal(t, "session-1", g.Generate())
	assert.Equal(t, "session-2", g.Generate())
}

func TestSequentialIDs_Reproducible(t *testing.T) {
	a := NewSequentialIDs("s")
	b := NewSequentialIDs("s")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

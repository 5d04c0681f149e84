package locksvc_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/lockharness/internal/locksvc"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, locksvc.Code(""), locksvc.CodeOf(nil))
	assert.Equal(t, locksvc.CodeInternal, locksvc.CodeOf(errors.New("plain")))

	wrapped := fmt.Errorf("step 1: %w", locksvc.Errorf(locksvc.CodeConflict, "held"))
	assert.Equal(t, locksvc.CodeConflict, locksvc.CodeOf(wrapped))
	assert.True(t, locksvc.IsConflict(wrapped))
	assert.False(t, locksvc.IsNotHeld(wrapped))
}

func TestParseCode(t *testing.T) {
	c, err := locksvc.ParseCode("NOT_HELD")
	assert.NoError(t, err)
	assert.Equal(t, locksvc.CodeNotHeld, c)

	_, err = locksvc.ParseCode("NOPE")
	assert.Error(t, err)
}

func TestParseDatastoreAndMode(t *testing.T) {
	ds, err := locksvc.ParseDatastore(" Running ")
	assert.NoError(t, err)
	assert.Equal(t, locksvc.DatastoreRunning, ds)

	mode, err := locksvc.ParseConnMode("")
	assert.NoError(t, err)
	assert.Equal(t, locksvc.ConnDefault, mode)

	_, err = locksvc.ParseConnMode("tcp")
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "startup", locksvc.Key{Datastore: locksvc.DatastoreStartup}.String())
	assert.Equal(t, "startup/example-module", locksvc.Key{Datastore: locksvc.DatastoreStartup, Module: "example-module"}.String())
}

package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockharness/internal/harness"
)

func TestList(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	for _, name := range harness.BuiltinNames() {
		assert.Contains(t, out, name)
	}
}

func TestList_JSON(t *testing.T) {
	out, err := execute(t, "list", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data []BuiltinInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, len(harness.BuiltinNames()))
	for _, info := range resp.Data {
		assert.NotEmpty(t, info.Description)
		assert.Equal(t, 2, info.Actors, info.Name)
	}
}

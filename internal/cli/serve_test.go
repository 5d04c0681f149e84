package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_RequiresSecret(t *testing.T) {
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "LOCKD_JWT_SECRET")
}

func TestServe_RejectsRemoteBackend(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LOCKD_JWT_SECRET", "s3cret")

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--backend", "remote", "--remote-url", "http://localhost:7070"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot serve the remote backend")
}

func TestServe_StopsWithContext(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LOCKD_JWT_SECRET", "s3cret")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	stderr := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{"serve", "--addr", "127.0.0.1:0"})

	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, stderr.String(), "lockd stopped")
}

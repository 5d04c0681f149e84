package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: quick-lock
description: "One actor locks and unlocks the candidate datastore"
datastore: candidate
actors:
  - name: First
    steps:
      - lock_datastore
      - unlock_datastore
assertions:
  - type: unheld
`

const failingScenario = `
name: missing-conflict
description: "Second waits for a refusal that never comes"
actors:
  - name: First
    steps:
      - wait
  - name: Second
    steps:
      - wait
      - action: lock_datastore
        expect: conflict
`

// isolateEnv clears every variable the config loader reads.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOCKHARNESS_BACKEND", "LOCKHARNESS_SQLITE_PATH", "LOCKHARNESS_POSTGRES_DSN",
		"LOCKHARNESS_REDIS_ADDR", "LOCKHARNESS_REDIS_PASSWORD", "LOCKHARNESS_REDIS_DB",
		"LOCKHARNESS_REDIS_PREFIX", "LOCKHARNESS_REMOTE_URL", "LOCKHARNESS_TIMEOUT",
		"LOCKD_ADDR", "LOCKD_JWT_SECRET", "LOCKD_JWT_ISSUER", "LOCKD_SESSION_TTL",
	} {
		t.Setenv(k, "")
	}
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	isolateEnv(t)

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

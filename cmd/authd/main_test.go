package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authd/cmd/internal/auth/session"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "sweep", "stats"})
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("AUTHD_DATABASE_URL", "")
	_, err := execute(t, "migrate", "up")
	require.Error(t, err)
}

func TestSweep_RejectsUnknownJob(t *testing.T) {
	t.Setenv("AUTHD_JWT_SECRET", "0123456789abcdef0123456789abcdef-cli")
	t.Setenv("AUTHD_LOG_LEVEL", "error")
	t.Setenv("AUTHD_DATABASE_URL", "")
	t.Setenv("AUTHD_REDIS_ADDR", "")
	_, err := execute(t, "sweep", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

func TestSweep_RunsInMemory(t *testing.T) {
	t.Setenv("AUTHD_JWT_SECRET", "0123456789abcdef0123456789abcdef-cli")
	t.Setenv("AUTHD_LOG_LEVEL", "error")
	t.Setenv("AUTHD_DATABASE_URL", "")
	t.Setenv("AUTHD_REDIS_ADDR", "")
	out, err := execute(t, "sweep", session.JobExpiredTokens)
	require.NoError(t, err)
	assert.Equal(t, "expired_tokens: 0\n", out)
}

func TestStats_PrintsJSON(t *testing.T) {
	t.Setenv("AUTHD_JWT_SECRET", "0123456789abcdef0123456789abcdef-cli")
	t.Setenv("AUTHD_LOG_LEVEL", "error")
	t.Setenv("AUTHD_DATABASE_URL", "")
	t.Setenv("AUTHD_REDIS_ADDR", "")
	out, err := execute(t, "stats")
	require.NoError(t, err)

	var st session.TokenStats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Zero(t, st.Active)
}

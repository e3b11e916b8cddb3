package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reconcilor/internal/account"
	"github.com/roach88/reconcilor/internal/config"
	"github.com/roach88/reconcilor/internal/directory"
	"github.com/roach88/reconcilor/internal/store"
)

func newRunCommand(buf *bytes.Buffer, args ...string) func(context.Context) error {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return cmd.ExecuteContext
}

func TestRunMissingConfigFlag(t *testing.T) {
	execute := newRunCommand(&bytes.Buffer{})
	err := execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "config")
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, "reconcile_interval: soon\ndirectory:\n  endpoint: http://x\n")

	execute := newRunCommand(&bytes.Buffer{}, "--config", path)
	err := execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRunMissingConfigFile(t *testing.T) {
	execute := newRunCommand(&bytes.Buffer{}, "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	err := execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunBadDatabasePath(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf("database: %s\ndirectory:\n  endpoint: http://x\n",
		filepath.Join(t.TempDir(), "missing", "dir", "r.db")))

	execute := newRunCommand(&bytes.Buffer{}, "--config", path)
	err := execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunReconcilesOnStartup(t *testing.T) {
	provider := directory.NewMemory()
	provider.SetSessions(account.RemoteSessionList{{ID: "alice", Valid: true}})
	srv := httptest.NewServer(directory.NewHandler(provider))
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "reconcilor.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = st.AddAccount(ctx, "alice", directory.RefreshTokenFor("alice"))
	require.NoError(t, err)
	require.NoError(t, st.SetPrimary(ctx, "alice"))
	require.NoError(t, st.Close())

	path := writeConfig(t, fmt.Sprintf(`database: %s
reconcile_interval: 0s
directory:
  endpoint: %s
  http2: false
probe:
  retry_delay: 1ms
`, dbPath, srv.URL))

	buf := &bytes.Buffer{}
	execute := newRunCommand(buf, "--config", path)

	runCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	require.NoError(t, execute(runCtx))
	assert.Contains(t, buf.String(), "Reconcilor started")

	st, err = store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	cycles, err := st.Cycles(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, cycles)
	first := cycles[len(cycles)-1]
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, "signed_in", first.Trigger)
	assert.Equal(t, "noop", first.Outcome)

	assert.Contains(t, strings.Join(provider.Calls(), " "), "list")
}

func TestNewLogger(t *testing.T) {
	var jsonBuf bytes.Buffer
	newLogger(&jsonBuf, config.Log{Level: "info", Format: "json"}, false).Info("hello", "k", "v")
	assert.True(t, strings.HasPrefix(jsonBuf.String(), "{"))
	assert.Contains(t, jsonBuf.String(), `"msg":"hello"`)

	var textBuf bytes.Buffer
	logger := newLogger(&textBuf, config.Log{Level: "warn", Format: "text"}, false)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, textBuf.String(), "hidden")
	assert.Contains(t, textBuf.String(), "msg=shown")

	var verboseBuf bytes.Buffer
	newLogger(&verboseBuf, config.Log{Level: "error", Format: "text"}, true).Debug("debugging")
	assert.Contains(t, verboseBuf.String(), "msg=debugging")
}

func TestRunHelp(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "--config")
	assert.Contains(t, buf.String(), "reconcile daemon")
}

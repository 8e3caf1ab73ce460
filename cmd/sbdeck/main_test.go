package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/action"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot"
	"github.com/thebranchdriftcatalyst/sbdeck/internal/streamerbot/sbtest"
)

const shoutoutID = "0b6e2c1a-6a0f-4a51-9d3c-6f2f4f0f7a11"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SB_HOST", "SB_PORT", "SB_ENDPOINT", "SB_PASSWORD", "SB_PASSWORD_SECRET", "SB_ACTION", "SB_IGNORE_CASE", "LOG_FORMAT", "REQUEST_TIMEOUT"} {
		t.Setenv(k, "")
	}
}

func newServer(t *testing.T) *sbtest.Server {
	t.Helper()
	srv := sbtest.NewServer(
		streamerbot.Action{ID: shoutoutID, Name: "Shoutout", Group: "Chat", Enabled: true},
		streamerbot.Action{ID: "7c9e6679-7425-40de-944b-e07fc1f90ae7", Name: "Scene Switch"},
	)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, srv *sbtest.Server, args ...string) (string, error) {
	t.Helper()
	opts := srv.Options()
	full := append([]string{"--host", opts.Host, "--port", strconv.Itoa(opts.Port), "--log-level", "error"}, args...)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(full)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"version"})
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "sbdeck dev")
	assert.Contains(t, out.String(), "git commit: unknown")
}

func TestActionsCmd(t *testing.T) {
	clearEnv(t)
	srv := newServer(t)

	out, err := execute(t, srv, "actions")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Shoutout")
	assert.Contains(t, lines[1], "Chat")

	out, err = execute(t, srv, "actions", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Scene Switch"`)
}

func TestDoCmd(t *testing.T) {
	clearEnv(t)
	srv := newServer(t)

	out, err := execute(t, srv, "do", "shoutout", "--ignore-case", "--payload", `{"user":"sb"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)

	reqs := srv.Requests(streamerbot.RequestDoAction)
	require.Len(t, reqs, 1)
	assert.Equal(t, shoutoutID, reqs[0].Action.ID)
	assert.Equal(t, `{"user":"sb"}`, reqs[0].Args[action.PayloadArg])
}

func TestDoCmd_ActionFromEnvAndPayloadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("SB_ACTION", shoutoutID)
	srv := newServer(t)

	path := filepath.Join(t.TempDir(), "payload.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"n": 2}`), 0644))

	_, err := execute(t, srv, "do", "--payload-file", path)
	require.NoError(t, err)

	assert.Empty(t, srv.Requests(streamerbot.RequestGetActions), "canonical id needs no lookup")
	reqs := srv.Requests(streamerbot.RequestDoAction)
	require.Len(t, reqs, 1)
	assert.Equal(t, `{"n":2}`, reqs[0].Args[action.PayloadArg])
}

func TestDoCmd_Failures(t *testing.T) {
	clearEnv(t)
	srv := newServer(t)

	_, err := execute(t, srv, "do", "Shoutout", "--payload", `[1,2]`)
	assert.ErrorIs(t, err, action.ErrInvalidPayload)

	_, err = execute(t, srv, "do", "shoutout")
	assert.ErrorIs(t, err, action.ErrActionNotFound, "name match is case-sensitive by default")

	_, err = execute(t, srv, "do", "Shoutout", "--payload", "{}", "--payload-file", "x.json")
	assert.Error(t, err)

	assert.Empty(t, srv.Requests(streamerbot.RequestDoAction))
}

func TestDoCmd_RejectedActionFails(t *testing.T) {
	clearEnv(t)
	srv := newServer(t)
	srv.SetDoActionError("Action is disabled")

	out, err := execute(t, srv, "do", shoutoutID)
	var serverErr *streamerbot.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.NotContains(t, out, "raw frame")
	assert.Len(t, srv.Requests(streamerbot.RequestDoAction), 1)
}

func TestLoad_FlagsOverrideConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("SB_PASSWORD_SECRET", "streaming/streamerbot")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--host", " ", "--port", "9000", "--password", "pw", "--timeout", "2s", "version"})
	require.NoError(t, cmd.Execute())

	versionCmd, _, err := cmd.Find([]string{"version"})
	require.NoError(t, err)

	opts := &rootOptions{}
	flags := versionCmd.InheritedFlags()
	opts.host, _ = flags.GetString("host")
	opts.port, _ = flags.GetInt("port")
	opts.password, _ = flags.GetString("password")
	opts.timeout, _ = flags.GetDuration("timeout")

	cfg, _, err := opts.load(versionCmd)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host, "blank host falls back to the default")
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "pw", cfg.Password)
	assert.Empty(t, cfg.PasswordSecret, "an explicit password replaces the secret")
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
}

func TestFlagsResolveConfigConflicts(t *testing.T) {
	clearEnv(t)
	t.Setenv("SB_PASSWORD_SECRET", "streaming/streamerbot")
	srv := newServer(t)

	path := filepath.Join(t.TempDir(), "sbdeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 70000\npassword: from-file\n"), 0644))

	// execute passes --port; the password conflict is still unresolved
	_, err := execute(t, srv, "--config", path, "actions")
	assert.ErrorContains(t, err, "mutually exclusive")

	out, err := execute(t, srv, "--config", path, "--password", "", "actions")
	require.NoError(t, err)
	assert.Contains(t, out, "Shoutout")
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	var buf bytes.Buffer
	logger := setupLogging("warn", "json", &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"sbdeck"`)

	buf.Reset()
	logger = setupLogging("bogus", "console", &buf)
	logger.Info().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.NotContains(t, buf.String(), `"message"`)
}

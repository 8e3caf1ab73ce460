package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"SB_HOST", "SB_PORT", "SB_ENDPOINT", "SB_SECURE", "SB_PASSWORD", "SB_PASSWORD_SECRET",
	"REQUEST_TIMEOUT", "RECONNECT_DELAY", "KUBECONFIG", "IN_CLUSTER", "SB_ACTION",
	"SB_IGNORE_CASE", "API_PORT", "METRICS_PORT", "HEALTH_PORT", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/", cfg.Endpoint)
	assert.Equal(t, "ws", cfg.Scheme())
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Password)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SB_HOST", "obs.lan")
	t.Setenv("SB_PORT", "9001")
	t.Setenv("SB_SECURE", "true")
	t.Setenv("SB_PASSWORD", "hunter2")
	t.Setenv("SB_IGNORE_CASE", "yes")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "obs.lan", cfg.Host)
	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, "wss", cfg.Scheme())
	assert.Equal(t, "hunter2", cfg.Password)
	assert.True(t, cfg.IgnoreCase)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("SB_HOST", "   ")
	t.Setenv("SB_PORT", "not-a-port")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "sbdeck.yaml", `
host: stream-pc.lan
port: 7474
password: from-file
request_timeout: 2s
action: Shoutout
ignore_case: true
`)
	t.Setenv("SB_PORT", "7575")

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)
	assert.Equal(t, "stream-pc.lan", cfg.Host)
	assert.Equal(t, 7575, cfg.Port, "environment wins over file")
	assert.Equal(t, "from-file", cfg.Password)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "Shoutout", cfg.Action)
	assert.True(t, cfg.IgnoreCase)
	assert.Equal(t, 9090, cfg.MetricsPort, "unset fields keep defaults")
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("SB_HOST")
	os.Unsetenv("SB_PASSWORD")
	t.Cleanup(func() {
		os.Unsetenv("SB_HOST")
		os.Unsetenv("SB_PASSWORD")
	})
	path := writeFile(t, ".env", "SB_HOST=10.0.0.5\nSB_PASSWORD=dotenv-secret\n")

	cfg, err := Load(Options{EnvFile: path})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, "dotenv-secret", cfg.Password)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts func(t *testing.T) Options
		env  map[string]string
	}{
		{
			name: "missing file",
			opts: func(t *testing.T) Options { return Options{File: filepath.Join(t.TempDir(), "nope.yaml")} },
		},
		{
			name: "malformed yaml",
			opts: func(t *testing.T) Options { return Options{File: writeFile(t, "bad.yaml", "host: [unclosed")} },
		},
		{
			name: "missing env file",
			opts: func(t *testing.T) Options { return Options{EnvFile: filepath.Join(t.TempDir(), ".env")} },
		},
		{
			name: "port out of range",
			opts: func(t *testing.T) Options { return Options{} },
			env:  map[string]string{"SB_PORT": "70000"},
		},
		{
			name: "unknown log format",
			opts: func(t *testing.T) Options { return Options{} },
			env:  map[string]string{"LOG_FORMAT": "xml"},
		},
		{
			name: "password and secret",
			opts: func(t *testing.T) Options { return Options{} },
			env:  map[string]string{"SB_PASSWORD": "x", "SB_PASSWORD_SECRET": "default/sb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.opts(t))
			assert.Error(t, err)
		})
	}
}

func TestRead_LeavesValidationToCaller(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "sbdeck.yaml", "port: 70000\npassword: x\n")
	t.Setenv("SB_PASSWORD_SECRET", "streaming/streamerbot")

	_, err := Load(Options{File: path})
	assert.Error(t, err)

	cfg, err := Read(Options{File: path})
	require.NoError(t, err)
	cfg.Port = 8080
	cfg.PasswordSecret = ""
	assert.NoError(t, cfg.Validate())
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"no", true, false},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		if got := parseBool(tt.value, tt.def); got != tt.want {
			t.Errorf("parseBool(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

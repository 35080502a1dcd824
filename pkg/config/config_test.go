package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "serial", cfg.Store.Executor)
	assert.NoError(t, cfg.Validate())
}

func TestMerge_OnlyNonZero(t *testing.T) {
	cfg := Default()
	cfg.Merge(&Config{Log: LogConfig{Level: "debug"}, Tracing: TracingConfig{Stdout: true}})

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Tracing.Stdout)

	cfg.Merge(nil)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "statehub.yaml", `
server:
  addr: 127.0.0.1:9000
store:
  executor: immediate
tracing:
  stdout: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "immediate", cfg.Store.Executor)
	assert.True(t, cfg.Tracing.Stdout)
	assert.Equal(t, "info", cfg.Log.Level, "defaults fill the rest")
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeFile(t, dir, "broken.yaml", "server: [\n"))
	assert.ErrorContains(t, err, "parse config")

	_, err = Load(writeFile(t, dir, "bad.yaml", "store:\n  executor: threads\n"))
	assert.ErrorContains(t, err, "invalid executor")
}

func TestApplyEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STATEHUB_ADDR", ":9999")
	t.Setenv("STATEHUB_LOG_FORMAT", "json")
	t.Setenv("STATEHUB_TRACE_STDOUT", "true")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Tracing.Stdout)
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "STATEHUB_STORE_NAME=from-dotenv\n")
	t.Chdir(dir)
	t.Setenv("STATEHUB_STORE_NAME", "")
	require.NoError(t, os.Unsetenv("STATEHUB_STORE_NAME"))

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "from-dotenv", cfg.Store.Name)
}

func TestApplyEnv_BadBool(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STATEHUB_TRACE_STDOUT", "maybe")

	cfg := Default()
	assert.ErrorContains(t, cfg.ApplyEnv(), "STATEHUB_TRACE_STDOUT")
}

func TestNewLogger(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}

	var buf bytes.Buffer
	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	cfg.Log.Level = "loud"
	_, err = cfg.NewLogger(&buf)
	assert.Error(t, err)
}

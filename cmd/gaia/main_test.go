package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gaia/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHalls = `
halls:
  - slug: loft
    name: Лофт
    rate:
      kind: flat
      hourly: "1000"
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	hallsPath := filepath.Join(dir, "halls.yaml")
	require.NoError(t, os.WriteFile(hallsPath, []byte(testHalls), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	doc := "log:\n  level: error\ndatabase:\n  driver: memory\nhalls_file: " + hallsPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	return cfgPath
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSlotsCommand(t *testing.T) {
	cfgPath := writeTestConfig(t)

	out, err := runRoot(t, "slots", "-c", cfgPath, "loft", "2030-03-12")
	require.NoError(t, err)
	assert.Equal(t, "2030-03-12 09:00-21:00\n", out)

	out, err = runRoot(t, "slots", "-c", cfgPath, "--all", "loft", "2030-03-12")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 12)
	assert.Equal(t, "09:00-10:00 free", lines[0])
	assert.Equal(t, "20:00-21:00 free", lines[11])
}

func TestSlotsCommand_Errors(t *testing.T) {
	cfgPath := writeTestConfig(t)

	_, err := runRoot(t, "slots", "-c", cfgPath, "loft", "12.03.2030")
	assert.ErrorContains(t, err, "invalid date")

	_, err = runRoot(t, "slots", "-c", cfgPath, "missing", "2030-03-12")
	assert.Error(t, err)

	_, err = runRoot(t, "slots", "-c", filepath.Join(t.TempDir(), "nope.yaml"), "loft", "2030-03-12")
	assert.ErrorContains(t, err, "load config")
}

func TestExportCommand_MemoryDriver(t *testing.T) {
	cfgPath := writeTestConfig(t)
	_, err := runRoot(t, "export", "-c", cfgPath)
	assert.ErrorContains(t, err, "not supported by the memory driver")
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{}
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"
	assert.Equal(t, zerolog.WarnLevel, newLogger(cfg).GetLevel())

	cfg.Log.Level = "bogus"
	assert.Equal(t, zerolog.InfoLevel, newLogger(cfg).GetLevel())
}

func TestEnvOr(t *testing.T) {
	t.Setenv("GAIA_TEST_ENV_OR", "x")
	assert.Equal(t, "x", envOr("GAIA_TEST_ENV_OR", "d"))
	assert.Equal(t, "d", envOr("GAIA_TEST_ENV_OR_UNSET", "d"))
}

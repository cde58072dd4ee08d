package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/oodb/internal/storage/engine"
	"github.com/KilimcininKorOglu/oodb/internal/storage/index"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunNoArgs(t *testing.T) {
	code, _, _ := runCLI(t)
	assert.NotEqual(t, 0, code)
}

func TestRunHelp(t *testing.T) {
	code, out, _ := runCLI(t, "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "bench")
	assert.Contains(t, out, "restore")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, _ := runCLI(t, "serve")
	assert.Equal(t, 1, code)
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "oodb version "+version)

	code, out, _ = runCLI(t, "version", "--short")
	assert.Equal(t, 0, code)
	assert.Equal(t, version+"\n", out)
}

func TestStoreDisabledByDefault(t *testing.T) {
	code, _, errOut := runCLI(t, "inspect")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "disabled")
}

func TestLegacyConfig(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "legacy.odb")
	ini := filepath.Join(dir, "application.ini")
	content := "PerstEnabled = true\nPerstDatabasePath = " + store + "\nPerstPagePoolSize = 1048576\n"
	require.NoError(t, os.WriteFile(ini, []byte(content), 0o644))

	code, out, errOut := runCLI(t, "--config", ini, "init", "--users")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, store)

	code, out, errOut = runCLI(t, "--config", ini, "inspect")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "users")

	require.NoError(t, os.WriteFile(ini, []byte("PerstEnabled = false\nPerstDatabasePath = "+store+"\n"), 0o644))
	code, _, errOut = runCLI(t, "--config", ini, "inspect")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "disabled")
}

func TestYAMLConfig(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "yaml.odb")
	cfgPath := filepath.Join(dir, "oodb.yaml")
	content := "store:\n  enabled: true\n  path: " + store + "\n  pagePoolSize: 2MiB\n  syncOnCommit: false\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	code, _, errOut := runCLI(t, "--config", cfgPath, "init")
	require.Equal(t, 0, code, errOut)

	code, _, errOut = runCLI(t, "--config", cfgPath, "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")
}

func TestInspectMissingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.odb")
	code, _, _ := runCLI(t, "--path", path, "inspect")
	assert.Equal(t, 1, code)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "inspect does not create stores")
}

func TestBenchHistoryBackupRestore(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "bench.odb")
	common := []string{"--path", store, "--pool", "4MiB", "--log-level", "error"}

	args := append(append([]string{}, common...), "bench", "--users", "50", "--target", "25", "--workers", "2", "--deposits", "10")
	code, out, errOut := runCLI(t, args...)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Loaded 50 accounts (50 new)")
	assert.Contains(t, out, "balance 10.00, 2 versions")
	assert.Contains(t, out, "Committed 20 deposits from 2 handles")
	assert.Contains(t, out, "Change feed: 20 events")

	args = append(append([]string{}, common...), "history", "user25")
	code, out, errOut = runCLI(t, args...)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, `"Username":"user25"`)

	args = append(append([]string{}, common...), "history", "nobody")
	code, _, errOut = runCLI(t, args...)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no object")

	archive := filepath.Join(dir, "bench.odbk")
	args = append(append([]string{}, common...), "backup", "-o", archive, "-z")
	code, out, errOut = runCLI(t, args...)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Compressed:")

	code, out, errOut = runCLI(t, "restore", "-i", archive, "--verify-only")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "is valid")

	restored := filepath.Join(dir, "restored.odb")
	code, _, errOut = runCLI(t, "--path", restored, "--log-level", "error", "restore", "-i", archive)
	require.Equal(t, 0, code, errOut)

	code, out, errOut = runCLI(t, "--path", restored, "--log-level", "error", "inspect")
	require.Equal(t, 0, code, errOut)
	assert.True(t, strings.Contains(out, "Accounts:") && strings.Contains(out, "50"), out)

	code, _, errOut = runCLI(t, "--path", restored, "restore", "-i", archive)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")
}

func TestParseKey(t *testing.T) {
	v, err := parseKey(index.KeyString, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = parseKey(index.KeyInt, "x")
	assert.Error(t, err)
	v, err = parseKey(index.KeyInt, "-3")
	require.NoError(t, err)
	assert.Equal(t, int64(-3), v)
}

func TestCloseIntoReportsCloseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "close.odb")
	s, err := engine.Open(path, 1<<20, engine.WithSyncOnCommit(false))
	require.NoError(t, err)

	var got error
	closeInto(s, &got)
	assert.NoError(t, got)

	closeInto(s, &got)
	assert.ErrorIs(t, got, engine.ErrStoreClosed, "close errors are not dropped")

	first := errors.New("command failed")
	got = first
	closeInto(s, &got)
	assert.Same(t, first, got)
}

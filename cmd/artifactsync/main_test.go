package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/openmined/artifactsync/internal/server"
	"github.com/openmined/artifactsync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stripANSI(out.String()), err
}

func writeConfig(t *testing.T, workspace, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "workspace: " + workspace + "\n" +
		"retry_wait: 1ms\n" +
		"retry_max_wait: 2ms\n" +
		"instances:\n" +
		"  - id: design\n" +
		"    url: " + url + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCommand_PrintsDetailedVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Detailed())
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := runCmd(t, "version", "--log-level", "loud")
	assert.Error(t, err)
}

func TestSync_RequiresPatterns(t *testing.T) {
	_, err := runCmd(t, "sync", "--config", writeConfig(t, t.TempDir(), "http://127.0.0.1:1"))
	assert.ErrorContains(t, err, "nothing to sync")
}

func TestSync_InvalidConfig(t *testing.T) {
	_, err := runCmd(t, "sync", "--config", writeConfig(t, t.TempDir(), "ftp://nowhere"), "plugin:*")
	assert.ErrorContains(t, err, "config")
}

func TestStatusSyncAndConflictMarkers(t *testing.T) {
	srv, err := server.New(&server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	require.NoError(t, srv.Store().WriteFile("plugin", "geo", "plugin.json", []byte(`{"id":"geo"}`)))

	ws := t.TempDir()
	cfg := writeConfig(t, ws, ts.URL)
	localFile := filepath.Join(ws, "design", "plugins", "geo", "plugin.json")

	out, err := runCmd(t, "status", "--config", cfg, "plugin:*")
	require.NoError(t, err)
	assert.Contains(t, out, "PullNew")
	assert.Contains(t, out, "plugin:geo/plugin.json")
	assert.NoFileExists(t, localFile, "status changes nothing")

	out, err = runCmd(t, "sync", "--config", cfg, "--log-level", "warn", "plugin:*")
	require.NoError(t, err)
	assert.Contains(t, out, "pulled")
	assert.FileExists(t, localFile)
	assert.FileExists(t, filepath.Join(ws, ".artifactsync", "design.json"))
	assert.NoFileExists(t, filepath.Join(ws, ".artifactsync", "session.lock"))

	out, err = runCmd(t, "sync", "--config", cfg, "--log-level", "warn", "plugin:*")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	require.NoError(t, os.WriteFile(localFile, []byte("mine"), 0o644))
	require.NoError(t, srv.Store().WriteFile("plugin", "geo", "plugin.json", []byte("theirs")))

	out, err = runCmd(t, "sync", "--config", cfg, "--log-level", "warn", "plugin:geo")
	require.NoError(t, err, "conflicts are not failures")
	assert.Contains(t, out, "conflicted")
	remoteSide, err := os.ReadFile(localFile + ".remote")
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(remoteSide))

	out, err = runCmd(t, "sync", "--config", cfg, "--log-level", "warn", "--resolve", "remote", "plugin:geo")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")
	data, err := os.ReadFile(localFile)
	require.NoError(t, err)
	assert.Equal(t, "theirs", string(data))
	assert.NoFileExists(t, localFile+".remote")
}

func TestSync_DryRun(t *testing.T) {
	srv, err := server.New(&server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	srv.Store().WriteRecipe("PROJ", "compute", "python", []byte("print(1)"))

	ws := t.TempDir()
	out, err := runCmd(t, "sync", "--config", writeConfig(t, ws, ts.URL), "--dry-run", "recipe:PROJ.*")
	require.NoError(t, err)
	assert.Contains(t, out, "recipe:PROJ.compute")
	assert.NoFileExists(t, filepath.Join(ws, "design", "recipes", "PROJ", "compute.py"))
}

func TestSync_LogFileCapturesDebug(t *testing.T) {
	srv, err := server.New(&server.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	require.NoError(t, srv.Store().WriteFile("plugin", "geo", "plugin.json", []byte(`{"id":"geo"}`)))

	logPath := filepath.Join(t.TempDir(), "logs", "sync.log")
	out, err := runCmd(t, "sync", "--config", writeConfig(t, t.TempDir(), ts.URL),
		"--log-level", "error", "--log-file", logPath, "plugin:*")
	require.NoError(t, err)
	assert.NotContains(t, out, "op=plan")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "op=plan")
	assert.Contains(t, string(data), "op=done")
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/taskboard/taskboard/internal/config"
	"github.com/taskboard/taskboard/pkg/errutil"
)

func executeConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	t.Cleanup(func() { configFile = "" })

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"config"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommand_PrintsRedactedYAML(t *testing.T) {
	t.Setenv("TASKBOARD_AUTH__SESSION_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TASKBOARD_REDIS__PASSWORD", "hunter2")

	out, err := executeConfig(t, "--addr", ":8080", "--store", "postgres",
		"--postgres-dsn", "postgres://app:s3cret@db:5432/taskboard")
	require.NoError(t, err)

	assert.NotContains(t, out, "0123456789abcdef")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, ":8080", got.Server.Addr)
	assert.Equal(t, config.DriverPostgres, got.Store.Driver)
	assert.Equal(t, "[redacted]", got.Auth.SessionSecret)
	assert.Equal(t, "postgres://[redacted]@db:5432/taskboard", got.Store.PostgresDSN)
}

func TestConfigCommand_ReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7000\"\nlog:\n  level: debug\n"), 0o600))

	out, err := executeConfig(t, "--config", path)
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, ":7000", got.Server.Addr)
	assert.Equal(t, "debug", got.Log.Level)
}

func TestConfigCommand_MissingFile(t *testing.T) {
	_, err := executeConfig(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}

func TestConfigCommand_Validate(t *testing.T) {
	t.Setenv("TASKBOARD_AUTH__SESSION_SECRET", "too-short")

	_, err := executeConfig(t, "--validate")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "auth.session_secret")
}

func TestConfigCommand_UsesXDGConfigFile(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)
	dir := filepath.Join(base, "taskboard")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  addr: \":6000\"\n"), 0o600))

	out, err := executeConfig(t)
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, ":6000", got.Server.Addr)
}

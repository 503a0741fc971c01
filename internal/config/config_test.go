package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	return path
}

func TestLoadFilesystemXFS(t *testing.T) {
	path := writeConfig(t, `
user_id = "alice"

[repository]
kind = "filesystem_xfs"
path = "/srv/dsg/repo"
`)

	c, err := Load(path, EnvOverrides{}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, KindFilesystemXFS, c.Repository.Kind)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, defaultConcurrency, c.Concurrency)
	assert.True(t, c.IsLocalRemote())
}

func TestLoadMissingUserID(t *testing.T) {
	path := writeConfig(t, `
[repository]
kind = "filesystem_xfs"
path = "/srv/dsg/repo"
`)

	_, err := Load(path, EnvOverrides{}, CLIOverrides{})
	assert.Error(t, err)
}

func TestCLIOverridesLogLevel(t *testing.T) {
	path := writeConfig(t, `
user_id = "alice"
log_level = "error"

[repository]
kind = "snapshot_zfs"
pool = "tank"
dataset = "tank/dsg"
`)

	c, err := Load(path, EnvOverrides{}, CLIOverrides{LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestResolveConfigPathPrecedence(t *testing.T) {
	got := ResolveConfigPath("/repo/.dsg", EnvOverrides{ConfigPath: "/env/cfg.toml"}, CLIOverrides{ConfigPath: "/cli/cfg.toml"})
	assert.Equal(t, "/cli/cfg.toml", got)

	got = ResolveConfigPath("/repo/.dsg", EnvOverrides{ConfigPath: "/env/cfg.toml"}, CLIOverrides{})
	assert.Equal(t, "/env/cfg.toml", got)

	got = ResolveConfigPath("/repo/.dsg", EnvOverrides{}, CLIOverrides{})
	assert.Equal(t, "/repo/.dsg/config.toml", got)
}

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// EnvOverrides mirrors the teacher's ReadEnvOverrides: the second
// layer of the four-layer chain, read from environment variables so
// scripted invocations don't need a CLI flag for every setting.
type EnvOverrides struct {
	ConfigPath string
	LogLevel   string
}

// ReadEnvOverrides reads DSG_CONFIG and DSG_LOG_LEVEL.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv("DSG_CONFIG"),
		LogLevel:   os.Getenv("DSG_LOG_LEVEL"),
	}
}

// CLIOverrides is the highest-priority layer, populated from parsed
// command-line flags.
type CLIOverrides struct {
	ConfigPath string
	LogLevel   string
}

// Load resolves the effective configuration from the four-layer chain:
// CLI flags, then environment, then the TOML config file, then
// built-in defaults. configPath must name an existing file; it is
// resolved by the caller using env/CLI overrides before Load is
// called (mirroring the teacher's loadConfig/ResolveDrive split).
func Load(configPath string, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	var c Config

	if _, err := toml.DecodeFile(configPath, &c); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", configPath, err)
	}

	applyDefaults(&c)

	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}

	if cli.LogLevel != "" {
		c.LogLevel = cli.LogLevel
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// ResolveConfigPath applies the override chain to decide which config
// file to load: CLI flag wins, then environment, then the
// conventional <repoRoot>/.dsg/config.toml.
func ResolveConfigPath(repoMetaDir string, env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return repoMetaDir + "/config.toml"
}

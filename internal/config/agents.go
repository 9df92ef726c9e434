// ABOUTME: Optional TOML overrides for per-variant agent launch configuration
// ABOUTME: Loads an agents file with environment variable expansion, merging over YAML values

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// agentsFile is the TOML shape of the optional per-variant overrides file:
//
//	[claude]
//	model = "claude-sonnet-4"
//
//	[custom]
//	command = "mytool-server"
//	args = ["--port", "3284"]
//	api_key_env = "MYTOOL_API_KEY"
type agentsFile map[string]AgentConfig

// loadAgentsFile reads cfg.Agent.AgentsFile and merges its entries over
// any variants already present in the config.
func loadAgentsFile(cfg *Config) error {
	data, err := os.ReadFile(cfg.Agent.AgentsFile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", cfg.Agent.AgentsFile, err)
	}

	expanded := expandEnvVars(string(data))

	var overrides agentsFile
	if _, err := toml.Decode(expanded, &overrides); err != nil {
		return fmt.Errorf("parsing %s: %w", cfg.Agent.AgentsFile, err)
	}

	if cfg.Agent.Variants == nil {
		cfg.Agent.Variants = make(map[string]AgentConfig, len(overrides))
	}
	for name, override := range overrides {
		merged := cfg.Agent.Variants[name]
		if override.Model != "" {
			merged.Model = override.Model
		}
		if override.Command != "" {
			merged.Command = override.Command
		}
		if len(override.Args) > 0 {
			merged.Args = override.Args
		}
		if override.APIKeyEnv != "" {
			merged.APIKeyEnv = override.APIKeyEnv
		}
		cfg.Agent.Variants[name] = merged
	}

	return nil
}

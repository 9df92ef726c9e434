// ABOUTME: Tests for configuration loading, env expansion, and credential checks
// ABOUTME: Covers YAML parsing, duration fields, TOML agent overrides, and key format validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
agent_api_url: http://localhost:3284
agent:
  active: claude
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.Agent.Active)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Agent.StartTimeout)
	assert.Equal(t, 5, cfg.Stream.MaxReconnects)
	assert.Equal(t, 8, cfg.Stream.BufferWindow)
}

func TestLoadDurationsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_AGENT_URL", "http://agent.internal:9999")

	path := writeFile(t, "bridge.yaml", `
agent_api_url: ${TEST_AGENT_URL}
agent:
  active: goose
  start_timeout: 45s
  stop_grace: 3s
retry:
  initial_delay: 250ms
  max_delay: 10s
stream:
  watchdog: 1m
health:
  interval: 15s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://agent.internal:9999", cfg.AgentAPIURL)
	assert.Equal(t, 45*time.Second, cfg.Agent.StartTimeout)
	assert.Equal(t, 3*time.Second, cfg.Agent.StopGrace)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, time.Minute, cfg.Stream.Watchdog)
	assert.Equal(t, 15*time.Second, cfg.Health.Interval)
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeFile(t, "bridge.yaml", `
agent_api_url: http://localhost:3284
agent:
  active: claude
  start_timeout: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.start_timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing url", func(c *Config) { c.AgentAPIURL = "" }, "agent_api_url"},
		{"missing active", func(c *Config) { c.Agent.Active = "" }, "agent.active"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"bad factor", func(c *Config) { c.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
		{"bad jitter", func(c *Config) { c.Retry.Jitter = 1.5 }, "jitter"},
		{"bad window", func(c *Config) { c.Stream.BufferWindow = 0 }, "buffer_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAgentsFileOverrides(t *testing.T) {
	dir := t.TempDir()
	agentsPath := filepath.Join(dir, "agents.toml")
	require.NoError(t, os.WriteFile(agentsPath, []byte(`
[claude]
model = "claude-sonnet-4"

[custom]
command = "mytool-server"
args = ["--port", "3284"]
api_key_env = "MYTOOL_API_KEY"
`), 0644))

	cfgPath := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
agent_api_url: http://localhost:3284
agent:
  active: claude
  agents_file: `+agentsPath+`
  variants:
    claude:
      args: ["--verbose"]
`), 0644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	claude := cfg.Variant("claude")
	assert.Equal(t, "claude-sonnet-4", claude.Model)
	assert.Equal(t, []string{"--verbose"}, claude.Args, "YAML values survive the merge")

	custom := cfg.Variant("custom")
	assert.Equal(t, "mytool-server", custom.Command)
	assert.Equal(t, []string{"--port", "3284"}, custom.Args)
	assert.Equal(t, "MYTOOL_API_KEY", custom.APIKeyEnv)
}

func TestCheckCredential(t *testing.T) {
	t.Run("no env var required", func(t *testing.T) {
		st := CheckCredential("")
		assert.True(t, st.Present)
		assert.True(t, st.Valid)
		assert.NoError(t, st.Err)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("TEST_MISSING_KEY", "")
		st := CheckCredential("TEST_MISSING_KEY")
		assert.False(t, st.Present)
		assert.False(t, st.Valid)
		assert.ErrorIs(t, st.Err, ErrCredentialMissing)
	})

	t.Run("malformed anthropic key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "not-a-real-key")
		st := CheckCredential("ANTHROPIC_API_KEY")
		assert.True(t, st.Present)
		assert.False(t, st.Valid)
		assert.ErrorIs(t, st.Err, ErrCredentialMalformed)
	})

	t.Run("valid anthropic key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")
		st := CheckCredential("ANTHROPIC_API_KEY")
		assert.True(t, st.Present)
		assert.True(t, st.Valid)
		assert.NoError(t, st.Err)
	})

	t.Run("generic provider for unknown env", func(t *testing.T) {
		assert.Equal(t, "generic", ProviderForEnv("MYTOOL_API_KEY"))
		t.Setenv("MYTOOL_API_KEY", "abcdefghijklmnop")
		st := CheckCredential("MYTOOL_API_KEY")
		assert.True(t, st.Valid)
	})
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "not set", MaskKey(""))
	assert.Equal(t, "***", MaskKey("short"))
	assert.Equal(t, "sk-a...hhhh", MaskKey("sk-ant-REDACTED"))
}

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default returns the baseline configuration with every spec-named
// threshold set to its documented default.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:             "anthropic",
			Model:                "claude-sonnet-4-5-20250929",
			MaxTokens:            8192,
			Temperature:          0.7,
			MaxToolIterations:    10,
			ContextWindow:        200_000,
			ContextBudgetPct:     0.80,
			LLMTimeoutSeconds:    120,
			MaxQueueSize:         10,
			MessageMergeWindowMs: 500,
			MaxAudioBytes:        25 * 1024 * 1024,
			MaxImageBytes:        20 * 1024 * 1024,
			DoomLoopWindow:       3,
		},
		Tools: ToolsConfig{
			Autonomy:           "supervised",
			SandboxRoots:       FlexibleStringSlice{"~/.aeon/workspace"},
			ShellTimeoutSec:    30,
			MaxToolOutputChars: 4000,
			OverflowDir:        "~/.aeon/tool_output",
		},
		Memory: MemoryConfig{
			SummarizationThreshold: 100,
			RecallLimit:            5,
			HistoryLimit:           50,
			VectorStore:            "memory",
		},
		Skills: SkillsConfig{
			Dirs:                    FlexibleStringSlice{"~/.aeon/skills"},
			MaxActiveSkills:         3,
			DisambiguationThreshold: 0.05,
			RollbackThreshold:       0.5,
			MinEvaluations:          5,
			ImproveThreshold:        0.5,
			MaxVersions:             5,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{Enabled: true},
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: "~/.aeon/aeon.db",
		},
	}
}

// Load reads a config file at path, falling back to Default() when the
// file does not exist. Env overrides are always applied on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	loaded := Default()
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	loaded.ApplyEnvOverrides()
	return loaded, nil
}

// Save writes cfg to path as indented JSON with owner-only permissions.
// Secrets (json:"-") are never serialized.
func Save(path string, cfg *Config) error {
	expanded := ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(expanded), 0700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(expanded, data, 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", expanded, err)
	}
	return nil
}

// Hash returns a short, stable fingerprint of cfg's serialized form, used
// to detect on-disk config drift between process restarts.
func (c *Config) Hash() string {
	snap := c.Snapshot()
	data, err := json.Marshal(&snap)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// envStr overlays *dst with the named environment variable when set.
func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ApplyEnvOverrides overlays secret and deployment-specific values from
// the environment. Secrets are never read from the config file.
func (c *Config) ApplyEnvOverrides() {
	envStr("AEON_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AEON_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AEON_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("AEON_DASHSCOPE_API_KEY", &c.Providers.DashScope.APIKey)

	envStr("AEON_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AEON_DISCORD_TOKEN", &c.Channels.Discord.Token)

	envStr("AEON_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" {
		c.Database.Driver = "postgres"
	}
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

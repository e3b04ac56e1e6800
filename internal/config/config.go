// Package config loads and holds the runtime configuration for the agent
// core: agent loop thresholds, tool policy, memory and skill settings,
// channel credentials, and provider backends.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the agent core.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Tools     ToolsConfig     `json:"tools"`
	Memory    MemoryConfig    `json:"memory"`
	Skills    SkillsConfig    `json:"skills"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Database  DatabaseConfig  `json:"database,omitempty"`

	mu sync.RWMutex
}

// DatabaseConfig configures the durable-log backend.
// PostgresDSN is NEVER read from the config file (secret) — env only.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // from env AEON_POSTGRES_DSN only
}

// AgentConfig controls the agent control loop (spec.md §4.1).
type AgentConfig struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"` // default 10
	ContextWindow     int     `json:"context_window"`      // token budget for the context guard; 0 disables it (provider.ContextWindow() is not consulted)
	ContextBudgetPct  float64 `json:"context_budget_pct"`  // default 0.80
	LLMTimeoutSeconds int     `json:"llm_timeout_seconds"` // default 120

	MaxQueueSize       int `json:"max_queue_size"`        // default 10
	MessageMergeWindowMs int `json:"message_merge_window_ms"` // default 500

	MaxAudioBytes int64 `json:"max_audio_bytes"` // default 25 MiB
	MaxImageBytes int64 `json:"max_image_bytes"` // default 20 MiB

	DoomLoopWindow int `json:"doom_loop_window"` // default 3
}

// ToolsConfig controls the tool dispatcher (spec.md §4.2).
type ToolsConfig struct {
	Autonomy         string               `json:"autonomy"` // "readonly", "supervised" (default), "full"
	PermissionRules  []PermissionRuleSpec `json:"permission_rules,omitempty"`
	SandboxRoots     FlexibleStringSlice  `json:"sandbox_roots"` // allowlisted canonicalized base directories
	ShellTimeoutSec  int                  `json:"shell_timeout_sec"`  // default 30
	ShellAllow       FlexibleStringSlice  `json:"shell_allow,omitempty"` // exemptions from baseline blocklist
	ShellDeny        FlexibleStringSlice  `json:"shell_deny,omitempty"`  // additions to baseline blocklist
	MaxToolOutputChars int                `json:"max_tool_output_chars"` // default 4000
	OverflowDir      string               `json:"overflow_dir,omitempty"`
	WebScrapeRenderJS bool                `json:"web_scrape_render_js,omitempty"`
	RedactSecrets    *bool                `json:"redact_secrets,omitempty"` // default true
}

// PermissionRuleSpec is the config-file form of a PermissionRule.
type PermissionRuleSpec struct {
	ToolID  string `json:"tool_id"`
	Pattern string `json:"pattern"`
	Action  string `json:"action"` // "allow", "ask", "deny"
}

// MemoryConfig controls the memory subsystem (spec.md §4.3).
type MemoryConfig struct {
	Enabled                 *bool   `json:"enabled,omitempty"` // default true
	SummarizationThreshold  int     `json:"summarization_threshold"`  // default 100
	RecallLimit             int     `json:"recall_limit"`             // default 5
	HistoryLimit            int     `json:"history_limit"`            // default 50
	EmbeddingProvider       string  `json:"embedding_provider,omitempty"`
	VectorStore             string  `json:"vector_store,omitempty"` // only the in-memory store exists; cmd/chat.go does not read this field
	VectorStoreURL          string  `json:"vector_store_url,omitempty"`
}

// SkillsConfig controls the skill subsystem (spec.md §4.4).
type SkillsConfig struct {
	Dirs                    FlexibleStringSlice `json:"dirs,omitempty"`
	MaxActiveSkills         int     `json:"max_active_skills"`         // default 3
	DisambiguationThreshold float64 `json:"disambiguation_threshold"`  // default 0.05
	RollbackThreshold       float64 `json:"rollback_threshold"`        // default 0.5
	MinEvaluations          int     `json:"min_evaluations"`           // default 5
	ImproveThreshold        float64 `json:"improve_threshold"`         // default 0.5
	MaxVersions             int     `json:"max_versions"`              // default 5
	SelfLearningEnabled     bool    `json:"self_learning_enabled,omitempty"`
}

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env AEON_TELEGRAM_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env AEON_DISCORD_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// CLIConfig configures the local stdin/stdout development channel.
type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	DashScope  ProviderConfig `json:"dashscope"`
}

// ProviderConfig is the per-provider connection configuration.
type ProviderConfig struct {
	APIKey  string `json:"-"` // from env only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agent = src.Agent
	c.Tools = src.Tools
	c.Memory = src.Memory
	c.Skills = src.Skills
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Database = src.Database
}

// Snapshot returns a copy of the config safe to read without holding the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

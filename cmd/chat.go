package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aeon/internal/agent"
	"github.com/nextlevelbuilder/aeon/internal/channels"
	clichannel "github.com/nextlevelbuilder/aeon/internal/channels/cli"
	"github.com/nextlevelbuilder/aeon/internal/channels/discord"
	"github.com/nextlevelbuilder/aeon/internal/channels/telegram"
	"github.com/nextlevelbuilder/aeon/internal/config"
	"github.com/nextlevelbuilder/aeon/internal/memory"
	"github.com/nextlevelbuilder/aeon/internal/providers"
	"github.com/nextlevelbuilder/aeon/internal/skills"
	"github.com/nextlevelbuilder/aeon/internal/tools"
)

var chatChannelFlag string

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run the agent loop against a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runChat(cfg, chatChannelFlag)
		},
	}
	cmd.Flags().StringVar(&chatChannelFlag, "channel", "cli", "channel to run: cli, telegram, or discord")
	return cmd
}

// resolveProvider builds the configured chat provider from cfg. The same
// provider doubles as the embedder for memory/skill semantic search;
// providers without embedding support (e.g. Anthropic) simply degrade
// those features to log-only behavior.
func resolveProvider(cfg *config.Config) (providers.Provider, error) {
	switch cfg.Agent.Provider {
	case "anthropic":
		var opts []providers.AnthropicOption
		if cfg.Agent.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.Agent.Model))
		}
		if cfg.Providers.Anthropic.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.Providers.Anthropic.APIBase))
		}
		return providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, opts...), nil
	case "openai":
		return providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Agent.Model), nil
	case "openrouter":
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		return providers.NewOpenAIProvider("openrouter", cfg.Providers.OpenRouter.APIKey, base, cfg.Agent.Model), nil
	case "dashscope":
		return providers.NewDashScopeProvider(cfg.Providers.DashScope.APIKey, cfg.Providers.DashScope.APIBase, cfg.Agent.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
}

func openStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return memory.OpenPostgresStore(context.Background(), cfg.Database.PostgresDSN)
	default:
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		return memory.OpenSQLiteStore(path)
	}
}

func resolveChannel(cfg *config.Config, name string) (channels.Channel, func(ctx context.Context) error, func(), error) {
	switch name {
	case "telegram":
		ch, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			return nil, nil, nil, err
		}
		return ch, ch.Start, func() { ch.Stop() }, nil
	case "discord":
		ch, err := discord.New(cfg.Channels.Discord)
		if err != nil {
			return nil, nil, nil, err
		}
		return ch, ch.Start, func() { ch.Stop() }, nil
	default:
		ch := clichannel.New()
		noop := func(ctx context.Context) error { return nil }
		return ch, noop, func() {}, nil
	}
}

func runChat(cfg *config.Config, channelName string) error {
	provider, err := resolveProvider(cfg)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer store.Close()

	vectors := memory.NewInMemoryVectorStore()
	mem := &memory.Semantic{
		Store:                  store,
		Vectors:                vectors,
		Embedder:               provider,
		SummarizationThreshold: cfg.Memory.SummarizationThreshold,
		EmbeddingModel:         cfg.Agent.Model,
	}

	workspace := config.ExpandHome(firstNonEmpty(cfg.Tools.SandboxRoots, "~/.aeon/workspace"))
	if err := os.MkdirAll(workspace, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	policy := tools.NewPermissionPolicy(tools.ParseAutonomyLevel(cfg.Tools.Autonomy), buildPermissionRules(cfg.Tools.PermissionRules), nil)

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(workspace, true))
	registry.Register(tools.NewWriteFileTool(workspace, true))
	registry.Register(tools.NewEditFileTool(workspace, true))
	registry.Register(tools.NewGlobTool(workspace, true))
	registry.Register(tools.NewGrepTool(workspace, true))
	registry.Register(tools.NewWebScrapeTool(cfg.Tools.WebScrapeRenderJS))
	shellTimeout := time.Duration(cfg.Tools.ShellTimeoutSec) * time.Second
	registry.Register(tools.NewExecTool(workspace, shellTimeout, policy, []string(cfg.Tools.ShellDeny), []string(cfg.Tools.ShellAllow)))

	skillRegistry := skills.NewRegistry(vectors, provider)
	var loaded []skills.Skill
	for _, dir := range cfg.Skills.Dirs {
		found, loadErrs := skills.LoadDir(config.ExpandHome(dir))
		for _, e := range loadErrs {
			fmt.Fprintf(os.Stderr, "skill load warning: %v\n", e)
		}
		loaded = append(loaded, found...)
	}
	if len(loaded) > 0 {
		if _, err := skillRegistry.Load(context.Background(), loaded); err != nil {
			fmt.Fprintf(os.Stderr, "skill sync warning: %v\n", err)
		}
	}
	registry.Register(tools.NewSkillSearchTool(skillRegistry))

	dispatcher := tools.NewDispatcher(registry, policy)

	channel, start, stop, err := resolveChannel(cfg, channelName)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	defer stop()

	loopCfg := agent.Config{
		MaxToolIterations:    cfg.Agent.MaxToolIterations,
		ContextWindow:        cfg.Agent.ContextWindow,
		ContextBudgetPct:     cfg.Agent.ContextBudgetPct,
		LLMTimeoutSeconds:    cfg.Agent.LLMTimeoutSeconds,
		MaxQueueSize:         cfg.Agent.MaxQueueSize,
		MessageMergeWindowMs: cfg.Agent.MessageMergeWindowMs,
		MaxAudioBytes:        cfg.Agent.MaxAudioBytes,
		MaxImageBytes:        cfg.Agent.MaxImageBytes,
		DoomLoopWindow:       cfg.Agent.DoomLoopWindow,
		SystemPrompt:         "You are a capable, direct assistant with access to tools. Use them when they help; otherwise just answer.",
	}

	loop := agent.NewLoop("local", provider, channel, registry, dispatcher, mem, loopCfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := start(ctx); err != nil {
		return fmt.Errorf("start channel: %w", err)
	}

	fmt.Fprintf(os.Stderr, "aeon: running on %s (provider %s, model %s)\n", channelName, provider.Name(), cfg.Agent.Model)
	return loop.Run(ctx)
}

func buildPermissionRules(specs []config.PermissionRuleSpec) []tools.PermissionRule {
	var rules []tools.PermissionRule
	for _, s := range specs {
		action := tools.ActionAsk
		switch s.Action {
		case "allow":
			action = tools.ActionAllow
		case "deny":
			action = tools.ActionDeny
		}
		rule := tools.PermissionRule{ToolID: s.ToolID, Action: action}
		if s.Pattern != "" {
			if re, err := regexp.Compile(s.Pattern); err == nil {
				rule.Pattern = re
			}
		}
		rules = append(rules, rule)
	}
	return rules
}

func firstNonEmpty(list config.FlexibleStringSlice, fallback string) string {
	if len(list) > 0 && list[0] != "" {
		return list[0]
	}
	return fallback
}

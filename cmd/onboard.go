package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/aeon/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactively create a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath())
		},
	}
}

func runOnboard(path string) error {
	cfg := config.Default()

	var provider, autonomy, channel string
	var workspace string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which LLM provider will drive the agent?").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("DashScope (Qwen)", "dashscope"),
				).
				Value(&provider),
			huh.NewSelect[string]().
				Title("How much autonomy should the agent have over tools?").
				Options(
					huh.NewOption("Read-only (safe default)", "readonly"),
					huh.NewOption("Supervised (ask before mutating actions)", "supervised"),
					huh.NewOption("Full (never ask)", "full"),
				).
				Value(&autonomy),
			huh.NewInput().
				Title("Sandbox workspace directory").
				Placeholder("~/.aeon/workspace").
				Value(&workspace),
			huh.NewSelect[string]().
				Title("Which channel should be enabled by default?").
				Options(
					huh.NewOption("Local CLI", "cli"),
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
				).
				Value(&channel),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("onboard: %w", err)
	}

	cfg.Agent.Provider = provider
	cfg.Tools.Autonomy = autonomy
	if workspace != "" {
		cfg.Tools.SandboxRoots = config.FlexibleStringSlice{workspace}
	}

	cfg.Channels.CLI.Enabled = channel == "cli"
	cfg.Channels.Telegram.Enabled = channel == "telegram"
	cfg.Channels.Discord.Enabled = channel == "discord"

	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("onboard: save config: %w", err)
	}

	fmt.Printf("Configuration written to %s\n", path)
	switch provider {
	case "anthropic":
		fmt.Println("Set AEON_ANTHROPIC_API_KEY before running 'aeon chat'.")
	case "openai":
		fmt.Println("Set AEON_OPENAI_API_KEY before running 'aeon chat'.")
	case "openrouter":
		fmt.Println("Set AEON_OPENROUTER_API_KEY before running 'aeon chat'.")
	case "dashscope":
		fmt.Println("Set AEON_DASHSCOPE_API_KEY before running 'aeon chat'.")
	}
	if channel == "telegram" {
		fmt.Println("Set AEON_TELEGRAM_TOKEN before running 'aeon chat'.")
	}
	if channel == "discord" {
		fmt.Println("Set AEON_DISCORD_TOKEN before running 'aeon chat'.")
	}
	return nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

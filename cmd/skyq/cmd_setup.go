package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/skyq/internal/config"
	"github.com/user/skyq/internal/providers"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("skyq Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		provider := strings.ToLower(prompt(scanner, "LLM provider (groq, openai, ollama, gemini)", cfg.LLM.Provider))
		if _, ok := providers.DefaultModels[provider]; !ok {
			return &providers.UnsupportedError{Provider: provider}
		}
		cfg.LLM.Provider = provider

		switch provider {
		case config.ProviderGroq:
			cfg.LLM.GroqAPIKey = prompt(scanner, "Groq API key", cfg.LLM.GroqAPIKey)
		case config.ProviderOpenAI:
			cfg.LLM.OpenAIAPIKey = prompt(scanner, "OpenAI API key", cfg.LLM.OpenAIAPIKey)
		case config.ProviderGemini:
			cfg.LLM.GeminiAPIKey = prompt(scanner, "Gemini API key", cfg.LLM.GeminiAPIKey)
		case config.ProviderOllama:
			cfg.LLM.OllamaBaseURL = prompt(scanner, "Ollama base URL", cfg.LLM.OllamaBaseURL)
		}
		cfg.LLM.SetActiveModel(prompt(scanner, "Model", providers.Model(cfg.LLM)))

		cfg.Trino.User = prompt(scanner, "OpenSky Trino user", cfg.Trino.User)
		cfg.Trino.Token = prompt(scanner, "OpenSky Trino token", cfg.Trino.Token)

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.HTTP.Addr = prompt(scanner, "HTTP listen address", cfg.HTTP.Addr)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

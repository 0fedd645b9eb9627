package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/concordlabs/caucus/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View the effective caucus configuration.

Configuration is stored at ~/.config/caucus/config.yaml and can be
overridden by CAUCUS_* environment variables. "caucus config init" writes
a config file with the current effective values.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayConfig(cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the config file with current effective values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Printf("wrote %s\n", config.GetUserConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

// displayConfig prints all configuration values, masking the API key.
func displayConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}
	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = config.DefaultStorePath() + " (default)"
	}

	fmt.Printf("server.addr: %s\n", cfg.Server.Addr)
	fmt.Printf("server.allowed_origins: %v\n", cfg.Server.AllowedOrigins)
	fmt.Printf("store.path: %s\n", storePath)
	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", valueOrDefault(cfg.Anthropic.Model))
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("anthropic.aws_region: %s\n", valueOrDefault(cfg.Anthropic.AWSRegion))
	fmt.Printf("mediation.candidates: %d\n", cfg.Mediation.Candidates)
	fmt.Printf("mediation.critique_rounds: %d\n", cfg.Mediation.CritiqueRounds)
	fmt.Printf("mediation.max_retries: %d\n", cfg.Mediation.MaxRetries)
	fmt.Printf("mediation.call_timeout: %s\n", cfg.Mediation.CallTimeout)
	fmt.Printf("mediation.retry_backoff: %s\n", cfg.Mediation.RetryBackoff)
	fmt.Printf("mediation.predict_rankings: %t\n", cfg.Mediation.PredictRankings)
}

func valueOrDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

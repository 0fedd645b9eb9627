package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/concordlabs/caucus/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up caucus configuration and storage",
	Long: `Initialize caucus for first use.

This command sets up everything needed to run the server:
  - Checks Anthropic credentials (API key or Bedrock)
  - Writes the config file with default values
  - Creates the data directory for the deliberation store

Examples:
  caucus init          # Set up config and data directories
  caucus init --force  # Rewrite the config file even if it exists`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Rewrite the config file even if it exists")
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Printf("Initializing caucus...\n\n")

	cfg, err := config.Load()
	if err != nil {
		printStep("✗", "Could not load configuration", color.FgRed)
		return err
	}

	if cfg.Anthropic.UseAWSBedrock {
		printStep("✓", "AWS Bedrock routing enabled", color.FgGreen)
	} else if cfg.Anthropic.APIKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		printStep("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
	} else {
		printStep("⚠", "ANTHROPIC_API_KEY not set (mock mode still works: caucus serve --mock)", color.FgYellow)
	}

	configPath := config.GetUserConfigPath()
	if _, err := os.Stat(configPath); err == nil && !initForce {
		printStep("✓", fmt.Sprintf("Config exists at %s (use --force to rewrite)", configPath), color.FgGreen)
	} else {
		if err := config.Save(cfg); err != nil {
			printStep("✗", "Could not write config file", color.FgRed)
			return err
		}
		printStep("✓", fmt.Sprintf("Wrote config to %s", configPath), color.FgGreen)
	}

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = config.DefaultStorePath()
	}
	if err := os.MkdirAll(filepath.Dir(storePath), 0700); err != nil {
		printStep("✗", "Could not create data directory", color.FgRed)
		return err
	}
	printStep("✓", fmt.Sprintf("Data directory ready for %s", storePath), color.FgGreen)

	fmt.Printf("\n%s caucus is ready. Start the server with: caucus serve\n", color.GreenString("✓"))
	return nil
}

// printStep prints a status line with color
func printStep(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

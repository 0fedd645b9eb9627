package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/concordlabs/caucus/internal/config"
	"github.com/concordlabs/caucus/internal/machine"
	"github.com/concordlabs/caucus/internal/orchestrator"
	"github.com/concordlabs/caucus/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [deliberation-id]",
	Short: "Show deliberation status",
	Long: `Status lists all deliberations in the store, or details one by ID:
current stage, round, submission progress, and any recorded mediation
failure.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		storePath := cfg.Store.Path
		if storePath == "" {
			storePath = config.DefaultStorePath()
		}
		if _, err := os.Stat(storePath); err != nil {
			return fmt.Errorf("no store at %s; has the server run yet?", storePath)
		}

		db, err := store.Open(storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}

		// Status queries never invoke the mediation backends.
		m := machine.New(db, orchestrator.New(db, nil, nil, orchestrator.Config{}))
		defer m.Stop()

		if len(args) == 1 {
			return printStatus(m, args[0])
		}

		list, err := m.List()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("no deliberations")
			return nil
		}
		for _, d := range list {
			if err := printStatus(m, d.ID); err != nil {
				return err
			}
		}
		return nil
	},
}

func printStatus(m *machine.Machine, id string) error {
	s, err := m.Status(id)
	if err != nil {
		return err
	}
	fmt.Printf("%s  stage=%s round=%d submitted=%d/%d", s.ID, s.Stage, s.Round, s.Submitted, s.Capacity)
	if s.GenerationFailed {
		fmt.Printf("  FAILED: %s", s.Failure)
		if s.Retryable {
			fmt.Print(" (retryable)")
		}
	}
	fmt.Printf("\n  %s\n", s.Question)
	return nil
}

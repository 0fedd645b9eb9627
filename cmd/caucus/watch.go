package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/concordlabs/caucus/internal/config"
	"github.com/concordlabs/caucus/internal/machine"
	"github.com/concordlabs/caucus/internal/orchestrator"
	"github.com/concordlabs/caucus/internal/store"
	"github.com/concordlabs/caucus/internal/tui"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <deliberation-id>",
	Short: "Watch a deliberation live in the terminal",
	Long: `Watch renders a live view of one deliberation: current stage, round,
submission progress, and the round winner once rankings have been
aggregated. It reads the same store the server writes, so it can run
next to "caucus serve".`,
	Args: cobra.ExactArgs(1),
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

		// Watching never invokes the mediation backends.
		m := machine.New(db, orchestrator.New(db, nil, nil, orchestrator.Config{}))
		defer m.Stop()

		id := args[0]
		if _, err := m.Get(id); err != nil {
			return err
		}

		fetch := func() tui.Snapshot {
			status, err := m.Status(id)
			if err != nil {
				return tui.Snapshot{Err: err}
			}
			winner, err := m.Winner(id)
			if err != nil {
				return tui.Snapshot{Err: err}
			}
			return tui.Snapshot{Status: status, Winner: winner}
		}

		_, err = tui.NewMonitorProgram(fetch, watchInterval).Run()
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "poll interval")
}

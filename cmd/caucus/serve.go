package main

import (
	"fmt"
	"log"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/concordlabs/caucus/internal/config"
	"github.com/concordlabs/caucus/internal/llm"
	"github.com/concordlabs/caucus/internal/machine"
	"github.com/concordlabs/caucus/internal/orchestrator"
	"github.com/concordlabs/caucus/internal/server"
	"github.com/concordlabs/caucus/internal/store"
)

var serveMock bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deliberation HTTP API",
	Long: `Serve exposes the deliberation coordinator over HTTP: creating
deliberations, accepting submissions, and reporting status to polling
clients. Candidate statements are generated with the configured Anthropic
model; with --mock, deterministic offline models are used instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A .env file is optional; environment variables win either way.
		_ = godotenv.Load()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Mediation.PredictRankings && cfg.Mediation.Candidates > llm.MaxRankableStatements {
			return fmt.Errorf("mediation.candidates is %d, but predict_rankings supports at most %d candidates",
				cfg.Mediation.Candidates, llm.MaxRankableStatements)
		}

		storePath := cfg.Store.Path
		if storePath == "" {
			storePath = config.DefaultStorePath()
		}
		db, err := store.Open(storePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		log.Printf("[serve] store at %s", storePath)

		generator, predictor, err := buildBackends(cfg)
		if err != nil {
			return err
		}

		orch := orchestrator.New(db, generator, predictor, orchestrator.Config{
			Candidates:   cfg.Mediation.Candidates,
			MaxRetries:   cfg.Mediation.MaxRetries,
			CallTimeout:  cfg.Mediation.CallTimeout,
			RetryBackoff: cfg.Mediation.RetryBackoff,
		})
		go logEvents(orch.Events())

		m := machine.New(db, orch)
		defer m.Stop()

		return server.New(m, server.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}).Run(cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMock, "mock", false, "Use deterministic offline models instead of the Anthropic API")
}

// buildBackends selects the generation and prediction backends from
// configuration. The predictor is only wired when the deployment ranks on
// behalf of participants.
func buildBackends(cfg *config.Config) (llm.CandidateGenerator, llm.PreferencePredictor, error) {
	if serveMock {
		log.Printf("[serve] using mock models")
		var predictor llm.PreferencePredictor
		if cfg.Mediation.PredictRankings {
			predictor = &llm.MockPredictor{}
		}
		return &llm.MockGenerator{}, predictor, nil
	}

	client, err := llm.NewClient(llm.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("anthropic client: %w", err)
	}
	log.Printf("[serve] model %s", client.Model())

	var predictor llm.PreferencePredictor
	if cfg.Mediation.PredictRankings {
		predictor = llm.NewPredictor(client)
	}
	return llm.NewGenerator(client), predictor, nil
}

// logEvents mirrors orchestrator progress into the server log.
func logEvents(events <-chan orchestrator.Event) {
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventCycleFailed, orchestrator.EventPredictionFallback:
			log.Printf("[serve] %s deliberation=%s round=%d: %v", ev.Type, ev.DeliberationID, ev.Round, ev.Error)
		default:
			log.Printf("[serve] %s deliberation=%s round=%d %s", ev.Type, ev.DeliberationID, ev.Round, ev.Message)
		}
	}
}

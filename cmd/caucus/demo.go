package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/concordlabs/caucus/internal/llm"
	"github.com/concordlabs/caucus/internal/machine"
	"github.com/concordlabs/caucus/internal/orchestrator"
	"github.com/concordlabs/caucus/internal/store"
	"github.com/concordlabs/caucus/pkg/models"
)

var (
	demoScenarioPath string
	demoCandidates   int
)

// demoScenario is the YAML shape of a scripted deliberation.
type demoScenario struct {
	Question       string            `yaml:"question"`
	CritiqueRounds int               `yaml:"critique_rounds"`
	Participants   []demoParticipant `yaml:"participants"`
}

type demoParticipant struct {
	ID string `yaml:"id"`
	// Opinion is the participant's scripted initial position.
	Opinion string `yaml:"opinion"`
	// Critiques holds one critique per round, in order. Rounds beyond the
	// list get a synthesized critique.
	Critiques []string `yaml:"critiques"`
	// Agreement is the final 1-5 score; out-of-range defaults to 4.
	Agreement int `yaml:"agreement"`
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a scripted deliberation offline",
	Long: `Demo runs a complete deliberation in-process against deterministic
mock models: opinions in, candidate statements generated, rankings
predicted, a winner selected per round, critiques folded into revisions,
and the final statement printed. No API key or network access is needed.

A YAML scenario file can script the question, participants, opinions, and
per-round critiques; without one a built-in scenario runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, err := loadScenario(demoScenarioPath)
		if err != nil {
			return err
		}

		dir, err := os.MkdirTemp("", "caucus-demo-*")
		if err != nil {
			return fmt.Errorf("temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		db, err := store.Open(filepath.Join(dir, "demo.db"))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}

		orch := orchestrator.New(db, &llm.MockGenerator{}, &llm.MockPredictor{}, orchestrator.Config{
			Candidates: demoCandidates,
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range orch.Events() {
				printEvent(ev)
			}
		}()

		m := machine.New(db, orch)
		err = runScenario(m, scenario)
		m.Stop()
		orch.Close()
		<-done
		return err
	},
}

func init() {
	demoCmd.Flags().StringVar(&demoScenarioPath, "scenario", "", "Path to a YAML scenario file")
	demoCmd.Flags().IntVar(&demoCandidates, "candidates", 8, "Candidate statements generated per round")
}

// loadScenario reads the scenario file, or returns the built-in scenario.
func loadScenario(path string) (*demoScenario, error) {
	if path == "" {
		return builtinScenario(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s demoScenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Question == "" || len(s.Participants) < 2 {
		return nil, fmt.Errorf("scenario needs a question and at least 2 participants")
	}
	if s.CritiqueRounds < 1 {
		s.CritiqueRounds = 1
	}
	return &s, nil
}

func builtinScenario() *demoScenario {
	s := &demoScenario{
		Question:       "Should the town convert Main Street into a pedestrian zone?",
		CritiqueRounds: 2,
	}
	s.Participants = []demoParticipant{
		{ID: "ada", Opinion: "Yes. Foot traffic helps shops and the street is dangerous for cyclists.", Critiques: []string{"The statement ignores delivery access for businesses."}, Agreement: 5},
		{ID: "ben", Opinion: "Only on weekends. Commuters still need the route on weekdays.", Critiques: []string{"It should name the weekday compromise explicitly."}, Agreement: 4},
		{ID: "cam", Opinion: "No. Parking is already scarce and closures push traffic into side streets.", Critiques: []string{"Side-street traffic is still not addressed."}, Agreement: 3},
	}
	return s
}

// runScenario drives the deliberation through the machine the same way
// HTTP clients would, waiting out each mediation cycle.
func runScenario(m *machine.Machine, s *demoScenario) error {
	d, err := m.CreateDeliberation(s.Question, len(s.Participants), s.CritiqueRounds)
	if err != nil {
		return err
	}
	fmt.Printf("deliberation %s\nquestion: %s\n\n", d.ID, s.Question)

	for _, p := range s.Participants {
		if err := m.SubmitOpinion(d.ID, p.ID, p.Opinion); err != nil {
			return fmt.Errorf("opinion from %s: %w", p.ID, err)
		}
		fmt.Printf("opinion    %-4s %s\n", p.ID, p.Opinion)
	}
	m.Wait()

	for {
		status, err := m.Status(d.ID)
		if err != nil {
			return err
		}
		if status.GenerationFailed {
			return fmt.Errorf("mediation cycle failed: %s", status.Failure)
		}
		if status.Stage != models.StageCritique {
			break
		}

		winner, err := m.Winner(d.ID)
		if err != nil {
			return err
		}
		fmt.Printf("\nround %d winner:\n  %s\n\n", status.Round, winner.Text)

		for _, p := range s.Participants {
			critique := fmt.Sprintf("%s finds the round %d statement incomplete.", p.ID, status.Round)
			if status.Round < len(p.Critiques) {
				critique = p.Critiques[status.Round]
			}
			if err := m.SubmitCritique(d.ID, p.ID, status.Round, critique); err != nil {
				return fmt.Errorf("critique from %s: %w", p.ID, err)
			}
			fmt.Printf("critique   %-4s %s\n", p.ID, critique)
		}
		m.Wait()
	}

	status, err := m.Status(d.ID)
	if err != nil {
		return err
	}
	if status.Stage != models.StageConcluded {
		return fmt.Errorf("deliberation ended in unexpected stage %s", status.Stage)
	}

	for _, p := range s.Participants {
		agreement := p.Agreement
		if agreement < 1 || agreement > 5 {
			agreement = 4
		}
		if err := m.SubmitFeedback(d.ID, p.ID, agreement, ""); err != nil {
			return fmt.Errorf("feedback from %s: %w", p.ID, err)
		}
	}

	final, err := m.Winner(d.ID)
	if err != nil {
		return err
	}
	fmt.Printf("\nfinal consensus statement:\n  %s\n", final.Text)
	fmt.Println("\ndeliberation finalized")
	return nil
}

func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventCandidatesReady:
		fmt.Printf("mediator    round %d: %s\n", ev.Round, ev.Message)
	case orchestrator.EventRoundAggregated:
		fmt.Printf("mediator    round %d: %s\n", ev.Round, ev.Message)
	case orchestrator.EventPredictionFallback:
		fmt.Printf("mediator    round %d: fallback ranking for %s\n", ev.Round, ev.ParticipantID)
	}
}

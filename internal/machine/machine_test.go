package machine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/concordlabs/caucus/internal/llm"
	"github.com/concordlabs/caucus/internal/orchestrator"
	"github.com/concordlabs/caucus/internal/store"
	"github.com/concordlabs/caucus/pkg/models"
)

func setupTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testOrchestrator(db *store.DB, gen llm.CandidateGenerator, pred llm.PreferencePredictor) *orchestrator.Orchestrator {
	return orchestrator.New(db, gen, pred, orchestrator.Config{
		Candidates:   4,
		MaxRetries:   2,
		CallTimeout:  5 * time.Second,
		RetryBackoff: time.Millisecond,
	})
}

// countingCycler records cycle invocations without doing any work.
type countingCycler struct {
	mu   sync.Mutex
	runs int
	aggs int
}

func (c *countingCycler) RunCycle(ctx context.Context, d *models.Deliberation, round int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return nil
}

func (c *countingCycler) AggregateRound(d *models.Deliberation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggs++
	return nil
}

func (c *countingCycler) runCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestSubmitOpinionWrongStageBeforeCreate(t *testing.T) {
	db := setupTestStore(t)
	m := New(db, &countingCycler{})
	defer m.Stop()

	err := m.SubmitOpinion("no-such-id", "p1", "text")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SubmitOpinion() error = %v, want ErrNotFound", err)
	}
}

func TestSubmitRankingRejectedInOpinionStage(t *testing.T) {
	db := setupTestStore(t)
	m := New(db, &countingCycler{})
	defer m.Stop()

	d, err := m.CreateDeliberation("Q", 3, 1)
	if err != nil {
		t.Fatalf("CreateDeliberation() error = %v", err)
	}
	err = m.SubmitRanking(d.ID, "p1", 0, []string{"a", "b"})
	if !errors.Is(err, ErrWrongStage) {
		t.Errorf("SubmitRanking() error = %v, want ErrWrongStage", err)
	}
}

func TestSubmitOpinionDuplicate(t *testing.T) {
	db := setupTestStore(t)
	m := New(db, &countingCycler{})
	defer m.Stop()

	d, _ := m.CreateDeliberation("Q", 3, 1)
	if err := m.SubmitOpinion(d.ID, "p1", "first"); err != nil {
		t.Fatalf("SubmitOpinion() error = %v", err)
	}
	err := m.SubmitOpinion(d.ID, "p1", "second")
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("SubmitOpinion() error = %v, want ErrDuplicateSubmission", err)
	}
}

func TestExactlyOnceTrigger(t *testing.T) {
	db := setupTestStore(t)
	cycler := &countingCycler{}
	m := New(db, cycler)
	defer m.Stop()

	const capacity = 8
	d, err := m.CreateDeliberation("Q", capacity, 1)
	if err != nil {
		t.Fatalf("CreateDeliberation() error = %v", err)
	}

	// All submissions arrive concurrently; the capacity-th, whichever it
	// is, must trigger exactly one cycle.
	var wg sync.WaitGroup
	for i := 0; i < capacity; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.SubmitOpinion(d.ID, fmt.Sprintf("p%d", i), "opinion"); err != nil {
				t.Errorf("SubmitOpinion(p%d) error = %v", i, err)
			}
		}()
	}
	wg.Wait()
	m.Wait()

	if got := cycler.runCount(); got != 1 {
		t.Errorf("cycle triggered %d times, want exactly 1", got)
	}
}

func TestFullScenarioManualRanking(t *testing.T) {
	db := setupTestStore(t)
	orch := testOrchestrator(db, &llm.MockGenerator{}, nil)
	m := New(db, orch)
	defer m.Stop()

	d, err := m.CreateDeliberation("Should the town build a new pool?", 3, 1)
	if err != nil {
		t.Fatalf("CreateDeliberation() error = %v", err)
	}
	participants := []string{"ada", "ben", "cam"}

	for _, p := range participants {
		if err := m.SubmitOpinion(d.ID, p, "opinion from "+p); err != nil {
			t.Fatalf("SubmitOpinion(%s) error = %v", p, err)
		}
	}
	m.Wait()

	status, err := m.Status(d.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Stage != models.StageRanking {
		t.Fatalf("stage = %s after opinions, want %s (failure: %s)", status.Stage, models.StageRanking, status.Failure)
	}

	candidates, err := m.Candidates(d.ID)
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	if len(candidates) != 4 {
		t.Fatalf("len(candidates) = %d, want configured 4", len(candidates))
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	for _, p := range participants {
		if err := m.SubmitRanking(d.ID, p, 0, ids); err != nil {
			t.Fatalf("SubmitRanking(%s) error = %v", p, err)
		}
	}

	status, _ = m.Status(d.ID)
	if status.Stage != models.StageCritique {
		t.Fatalf("stage = %s after rankings, want %s", status.Stage, models.StageCritique)
	}
	winner, err := m.Winner(d.ID)
	if err != nil {
		t.Fatalf("Winner() error = %v", err)
	}
	if winner == nil || winner.Rank != 1 {
		t.Fatalf("winner = %+v, want a rank-1 statement", winner)
	}
	// Unanimous ballots: the first-listed candidate must win.
	if winner.ID != ids[0] {
		t.Errorf("winner = %s, want unanimous choice %s", winner.ID, ids[0])
	}

	for _, p := range participants {
		if err := m.SubmitCritique(d.ID, p, 0, "critique from "+p); err != nil {
			t.Fatalf("SubmitCritique(%s) error = %v", p, err)
		}
	}
	m.Wait()

	status, _ = m.Status(d.ID)
	if status.Stage != models.StageConcluded {
		t.Fatalf("stage = %s after critiques, want %s", status.Stage, models.StageConcluded)
	}

	for _, p := range participants {
		if err := m.SubmitFeedback(d.ID, p, 4, "ok"); err != nil {
			t.Fatalf("SubmitFeedback(%s) error = %v", p, err)
		}
	}
	status, _ = m.Status(d.ID)
	if status.Stage != models.StageFinalized {
		t.Errorf("stage = %s after feedback, want %s", status.Stage, models.StageFinalized)
	}

	got, err := m.Get(d.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StartedAt == nil || got.ConcludedAt == nil || got.FinalizedAt == nil {
		t.Errorf("lifecycle timestamps incomplete: %+v", got)
	}
}

func TestGenerationFailureLeavesOpinionStage(t *testing.T) {
	db := setupTestStore(t)
	gen := &llm.MockGenerator{FailuresRemaining: 10}
	orch := testOrchestrator(db, gen, &llm.MockPredictor{})
	m := New(db, orch)
	defer m.Stop()

	d, _ := m.CreateDeliberation("Q", 2, 1)
	for _, p := range []string{"p1", "p2"} {
		if err := m.SubmitOpinion(d.ID, p, "opinion"); err != nil {
			t.Fatalf("SubmitOpinion(%s) error = %v", p, err)
		}
	}
	m.Wait()

	status, err := m.Status(d.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Stage != models.StageOpinion {
		t.Errorf("stage = %s after failed cycle, want %s", status.Stage, models.StageOpinion)
	}
	if !status.GenerationFailed {
		t.Error("status does not report the failed cycle")
	}
	if !status.Retryable {
		t.Error("failed cycle not reported retryable")
	}
	n, err := db.CountStatements(d.ID, 0)
	if err != nil {
		t.Fatalf("CountStatements() error = %v", err)
	}
	if n != 0 {
		t.Errorf("statement count = %d after failed cycle, want 0", n)
	}

	// Retrying once the backend recovers completes the round without
	// resubmitting opinions. FailuresRemaining is exhausted by now.
	gen.FailuresRemaining = 0
	if err := m.RetryCycle(d.ID); err != nil {
		t.Fatalf("RetryCycle() error = %v", err)
	}
	m.Wait()

	status, _ = m.Status(d.ID)
	if status.Stage != models.StageCritique {
		t.Errorf("stage = %s after retry, want %s (failure: %s)", status.Stage, models.StageCritique, status.Failure)
	}
	if status.GenerationFailed {
		t.Error("failure marker not cleared by successful retry")
	}
}

func TestRetryCycleRequiresFailure(t *testing.T) {
	db := setupTestStore(t)
	m := New(db, &countingCycler{})
	defer m.Stop()

	d, _ := m.CreateDeliberation("Q", 3, 1)
	if err := m.RetryCycle(d.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("RetryCycle() error = %v, want ErrNotRetryable", err)
	}
}

func TestSubmitRankingValidation(t *testing.T) {
	db := setupTestStore(t)
	orch := testOrchestrator(db, &llm.MockGenerator{}, nil)
	m := New(db, orch)
	defer m.Stop()

	d, _ := m.CreateDeliberation("Q", 2, 1)
	for _, p := range []string{"p1", "p2"} {
		if err := m.SubmitOpinion(d.ID, p, "opinion"); err != nil {
			t.Fatalf("SubmitOpinion(%s) error = %v", p, err)
		}
	}
	m.Wait()

	candidates, err := m.Candidates(d.ID)
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	if err := m.SubmitRanking(d.ID, "p1", 3, ids); !errors.Is(err, ErrWrongRound) {
		t.Errorf("wrong round error = %v, want ErrWrongRound", err)
	}
	if err := m.SubmitRanking(d.ID, "p1", 0, ids[:len(ids)-1]); !errors.Is(err, ErrInvalidRanking) {
		t.Errorf("short ranking error = %v, want ErrInvalidRanking", err)
	}
	dup := append([]string{ids[0]}, ids[:len(ids)-1]...)
	if err := m.SubmitRanking(d.ID, "p1", 0, dup); !errors.Is(err, ErrInvalidRanking) {
		t.Errorf("duplicated entry error = %v, want ErrInvalidRanking", err)
	}
	unknown := append([]string{"nope"}, ids[1:]...)
	if err := m.SubmitRanking(d.ID, "p1", 0, unknown); !errors.Is(err, ErrInvalidRanking) {
		t.Errorf("unknown candidate error = %v, want ErrInvalidRanking", err)
	}

	if err := m.SubmitRanking(d.ID, "p1", 0, ids); err != nil {
		t.Fatalf("valid ranking error = %v", err)
	}
	if err := m.SubmitRanking(d.ID, "p1", 0, ids); !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("repeat ranking error = %v, want ErrDuplicateSubmission", err)
	}
}

func TestCritiqueLoopbackStartsRevisionCycle(t *testing.T) {
	db := setupTestStore(t)
	orch := testOrchestrator(db, &llm.MockGenerator{}, &llm.MockPredictor{})
	m := New(db, orch)
	defer m.Stop()

	// Two critique rounds: the first critique stage loops back into a
	// revision cycle, the second concludes.
	d, _ := m.CreateDeliberation("Q", 2, 2)
	participants := []string{"p1", "p2"}
	for _, p := range participants {
		if err := m.SubmitOpinion(d.ID, p, "opinion from "+p); err != nil {
			t.Fatalf("SubmitOpinion(%s) error = %v", p, err)
		}
	}
	m.Wait()

	status, _ := m.Status(d.ID)
	if status.Stage != models.StageCritique || status.Round != 0 {
		t.Fatalf("stage = %s round %d, want %s round 0", status.Stage, status.Round, models.StageCritique)
	}

	for _, p := range participants {
		if err := m.SubmitCritique(d.ID, p, 0, "critique from "+p); err != nil {
			t.Fatalf("SubmitCritique(%s) error = %v", p, err)
		}
	}
	m.Wait()

	status, _ = m.Status(d.ID)
	if status.Stage != models.StageCritique || status.Round != 1 {
		t.Fatalf("stage = %s round %d after loopback, want %s round 1 (failure: %s)",
			status.Stage, status.Round, models.StageCritique, status.Failure)
	}
	n, err := db.CountStatements(d.ID, 1)
	if err != nil {
		t.Fatalf("CountStatements() error = %v", err)
	}
	if n != 4 {
		t.Errorf("revision round candidates = %d, want 4", n)
	}

	for _, p := range participants {
		if err := m.SubmitCritique(d.ID, p, 1, "second critique"); err != nil {
			t.Fatalf("SubmitCritique(%s) error = %v", p, err)
		}
	}
	m.Wait()
	status, _ = m.Status(d.ID)
	if status.Stage != models.StageConcluded {
		t.Errorf("stage = %s after final critiques, want %s", status.Stage, models.StageConcluded)
	}
}

func TestSubmitFeedbackValidatesAgreement(t *testing.T) {
	db := setupTestStore(t)
	orch := testOrchestrator(db, &llm.MockGenerator{}, &llm.MockPredictor{})
	m := New(db, orch)
	defer m.Stop()

	d, _ := m.CreateDeliberation("Q", 1, 1)
	if err := m.SubmitOpinion(d.ID, "solo", "opinion"); err != nil {
		t.Fatalf("SubmitOpinion() error = %v", err)
	}
	m.Wait()
	if err := m.SubmitCritique(d.ID, "solo", 0, "critique"); err != nil {
		t.Fatalf("SubmitCritique() error = %v", err)
	}
	m.Wait()

	if err := m.SubmitFeedback(d.ID, "solo", 0, ""); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("agreement 0 error = %v, want ErrInvalidFeedback", err)
	}
	if err := m.SubmitFeedback(d.ID, "solo", 6, ""); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("agreement 6 error = %v, want ErrInvalidFeedback", err)
	}
	if err := m.SubmitFeedback(d.ID, "solo", 5, "endorse"); err != nil {
		t.Errorf("valid feedback error = %v", err)
	}
}

// rankCommitFailStore injects transient failures into the aggregation
// commit.
type rankCommitFailStore struct {
	*store.DB
	mu       sync.Mutex
	failures int
}

func (s *rankCommitFailStore) SetCandidateRanks(d *models.Deliberation, round int, orderedIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("disk full")
	}
	return s.DB.SetCandidateRanks(d, round, orderedIDs)
}

func TestRetryAfterAggregationCommitFailure(t *testing.T) {
	db := setupTestStore(t)
	st := &rankCommitFailStore{DB: db}
	orch := orchestrator.New(st, &llm.MockGenerator{}, nil, orchestrator.Config{
		Candidates:   4,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	m := New(st, orch)
	defer m.Stop()

	d, err := m.CreateDeliberation("Q", 2, 1)
	if err != nil {
		t.Fatalf("CreateDeliberation() error = %v", err)
	}
	for _, p := range []string{"ada", "ben"} {
		if err := m.SubmitOpinion(d.ID, p, "opinion from "+p); err != nil {
			t.Fatalf("SubmitOpinion(%s) error = %v", p, err)
		}
	}
	m.Wait()

	candidates, err := m.Candidates(d.ID)
	if err != nil {
		t.Fatalf("Candidates() error = %v", err)
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	st.failures = 1
	if err := m.SubmitRanking(d.ID, "ada", 0, ids); err != nil {
		t.Fatalf("SubmitRanking(ada) error = %v", err)
	}
	if err := m.SubmitRanking(d.ID, "ben", 0, ids); err == nil {
		t.Fatal("capacity-th SubmitRanking succeeded despite failing aggregation commit")
	}

	status, err := m.Status(d.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Stage != models.StageRanking {
		t.Fatalf("stage = %s after failed aggregation, want %s", status.Stage, models.StageRanking)
	}
	if !status.GenerationFailed || !status.Retryable {
		t.Fatalf("status = %+v, want failed and retryable", status)
	}

	// The collected rankings must survive the failure: retrying the cycle
	// aggregates them without any resubmission.
	if err := m.RetryCycle(d.ID); err != nil {
		t.Fatalf("RetryCycle() error = %v", err)
	}
	m.Wait()

	status, err = m.Status(d.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Stage != models.StageCritique {
		t.Fatalf("stage = %s after retry, want %s (failure: %s)", status.Stage, models.StageCritique, status.Failure)
	}
	if status.GenerationFailed || status.Failure != "" {
		t.Errorf("failure marker not cleared by successful retry: %+v", status)
	}
	winner, err := m.Winner(d.ID)
	if err != nil {
		t.Fatalf("Winner() error = %v", err)
	}
	if winner == nil || winner.Rank != 1 {
		t.Fatalf("winner = %+v, want a rank-1 statement", winner)
	}
	if winner.ID != ids[0] {
		t.Errorf("winner = %s, want unanimous choice %s", winner.ID, ids[0])
	}
}

func TestRetryCannotEraseFailureWithoutCommit(t *testing.T) {
	db := setupTestStore(t)
	st := &rankCommitFailStore{DB: db}
	orch := orchestrator.New(st, &llm.MockGenerator{}, nil, orchestrator.Config{
		Candidates:   4,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	})
	m := New(st, orch)
	defer m.Stop()

	d, _ := m.CreateDeliberation("Q", 2, 1)
	for _, p := range []string{"ada", "ben"} {
		if err := m.SubmitOpinion(d.ID, p, "opinion from "+p); err != nil {
			t.Fatalf("SubmitOpinion(%s) error = %v", p, err)
		}
	}
	m.Wait()

	candidates, _ := m.Candidates(d.ID)
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}

	// Two consecutive commit failures: the first wedges the round, the
	// second makes the retry fail as well.
	st.failures = 2
	m.SubmitRanking(d.ID, "ada", 0, ids)
	m.SubmitRanking(d.ID, "ben", 0, ids)

	if err := m.RetryCycle(d.ID); err != nil {
		t.Fatalf("RetryCycle() error = %v", err)
	}
	m.Wait()

	status, err := m.Status(d.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Stage != models.StageRanking {
		t.Fatalf("stage = %s after failed retry, want %s", status.Stage, models.StageRanking)
	}
	if !status.GenerationFailed || !status.Retryable || status.Failure == "" {
		t.Fatalf("failed retry erased the failure marker: %+v", status)
	}
}

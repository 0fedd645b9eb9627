// Package machine owns the deliberation lifecycle: it gates which
// submission types are accepted per stage, detects stage completion, and
// triggers the mediation cycle exactly once per stage boundary.
package machine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concordlabs/caucus/internal/store"
	"github.com/concordlabs/caucus/pkg/models"
)

// Cycler runs the long external mediation work. It is satisfied by
// orchestrator.Orchestrator and by counting fakes in tests.
type Cycler interface {
	// RunCycle generates (and, when configured, ranks) candidates for the
	// given round. Idempotent per (deliberation, round).
	RunCycle(ctx context.Context, d *models.Deliberation, round int) error
	// AggregateRound folds the current round's collected rankings into
	// candidate ranks and advances the stage.
	AggregateRound(d *models.Deliberation) error
}

// Machine is the deliberation state machine. All stage and round writes for
// one deliberation go through its per-deliberation critical section;
// different deliberations never share a lock. The long external calls run
// outside the lock: the critical section only flips the deliberation to the
// generating marker and hands the cycle to a goroutine.
type Machine struct {
	store  store.Store
	cycler Cycler

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Machine over the given store and cycle runner.
func New(st store.Store, cycler Cycler) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Machine{
		store:  st,
		cycler: cycler,
		locks:  make(map[string]*sync.Mutex),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Stop cancels in-flight cycles and waits for them to finish.
func (m *Machine) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until all in-flight cycles have finished.
func (m *Machine) Wait() {
	m.wg.Wait()
}

// lockFor returns the mutex serializing one deliberation's critical section.
func (m *Machine) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// CreateDeliberation registers a new deliberation in the opinion stage.
func (m *Machine) CreateDeliberation(question string, capacity, critiqueRounds int) (*models.Deliberation, error) {
	if question == "" {
		return nil, fmt.Errorf("question must not be empty")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	if critiqueRounds < 1 {
		return nil, fmt.Errorf("critique rounds must be at least 1, got %d", critiqueRounds)
	}

	d := &models.Deliberation{
		ID:             uuid.New().String(),
		Question:       question,
		Stage:          models.StageOpinion,
		Capacity:       capacity,
		CritiqueRounds: critiqueRounds,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.CreateDeliberation(d); err != nil {
		return nil, fmt.Errorf("create deliberation: %w", err)
	}
	log.Printf("[machine] created deliberation %s (capacity %d, %d critique rounds)", d.ID, capacity, critiqueRounds)
	return d, nil
}

// Get returns the deliberation, or ErrNotFound.
func (m *Machine) Get(id string) (*models.Deliberation, error) {
	d, err := m.store.GetDeliberation(id)
	if err != nil {
		return nil, fmt.Errorf("get deliberation: %w", err)
	}
	if d == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return d, nil
}

// List returns all deliberations.
func (m *Machine) List() ([]models.Deliberation, error) {
	return m.store.ListDeliberations()
}

// SubmitOpinion stores a participant's opinion. The capacity-th opinion
// triggers the first mediation cycle.
func (m *Machine) SubmitOpinion(deliberationID, participantID, text string) error {
	if text == "" {
		return fmt.Errorf("opinion text must not be empty")
	}

	l := m.lockFor(deliberationID)
	l.Lock()
	defer l.Unlock()

	d, err := m.Get(deliberationID)
	if err != nil {
		return err
	}
	if d.Stage != models.StageOpinion {
		return fmt.Errorf("stage is %s: %w", d.Stage, ErrWrongStage)
	}
	has, err := m.store.HasOpinion(d.ID, participantID)
	if err != nil {
		return fmt.Errorf("check opinion: %w", err)
	}
	if has {
		return fmt.Errorf("participant %s: %w", participantID, ErrDuplicateSubmission)
	}

	err = m.store.AppendOpinion(&models.Opinion{
		ID:             uuid.New().String(),
		DeliberationID: d.ID,
		ParticipantID:  participantID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store opinion: %w", err)
	}

	count, err := m.store.CountOpinions(d.ID)
	if err != nil {
		return fmt.Errorf("count opinions: %w", err)
	}
	if count == d.Capacity {
		return m.trigger(d, 0)
	}
	return nil
}

// SubmitRanking stores a participant's ranking over the current round's
// candidate set. The capacity-th ranking aggregates the round.
func (m *Machine) SubmitRanking(deliberationID, participantID string, round int, ordered []string) error {
	l := m.lockFor(deliberationID)
	l.Lock()
	defer l.Unlock()

	d, err := m.Get(deliberationID)
	if err != nil {
		return err
	}
	if d.Stage != models.StageRanking {
		return fmt.Errorf("stage is %s: %w", d.Stage, ErrWrongStage)
	}
	if round != d.Round {
		return fmt.Errorf("round %d, current is %d: %w", round, d.Round, ErrWrongRound)
	}
	has, err := m.store.HasRanking(d.ID, participantID, round)
	if err != nil {
		return fmt.Errorf("check ranking: %w", err)
	}
	if has {
		return fmt.Errorf("participant %s: %w", participantID, ErrDuplicateSubmission)
	}

	statements, err := m.store.ListStatements(d.ID, round)
	if err != nil {
		return fmt.Errorf("list statements: %w", err)
	}
	if err := validatePermutation(ordered, statements); err != nil {
		return err
	}

	err = m.store.AppendRanking(&models.Ranking{
		ID:             uuid.New().String(),
		DeliberationID: d.ID,
		ParticipantID:  participantID,
		Round:          round,
		Ordered:        ordered,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store ranking: %w", err)
	}

	count, err := m.store.CountRankings(d.ID, round)
	if err != nil {
		return fmt.Errorf("count rankings: %w", err)
	}
	if count == d.Capacity {
		// Aggregation is pure and fast, so it runs inside the critical
		// section; only generator and predictor calls go outside it.
		if err := m.cycler.AggregateRound(d); err != nil {
			m.recordFailure(d.ID, err)
			return fmt.Errorf("aggregate round %d: %w", round, err)
		}
	}
	return nil
}

// SubmitCritique stores a participant's critique of the round winner. The
// capacity-th critique either starts a revision cycle or concludes the
// deliberation, depending on the configured number of critique rounds.
func (m *Machine) SubmitCritique(deliberationID, participantID string, round int, text string) error {
	if text == "" {
		return fmt.Errorf("critique text must not be empty")
	}

	l := m.lockFor(deliberationID)
	l.Lock()
	defer l.Unlock()

	d, err := m.Get(deliberationID)
	if err != nil {
		return err
	}
	if d.Stage != models.StageCritique {
		return fmt.Errorf("stage is %s: %w", d.Stage, ErrWrongStage)
	}
	if round != d.Round {
		return fmt.Errorf("round %d, current is %d: %w", round, d.Round, ErrWrongRound)
	}
	has, err := m.store.HasCritique(d.ID, participantID, round)
	if err != nil {
		return fmt.Errorf("check critique: %w", err)
	}
	if has {
		return fmt.Errorf("participant %s: %w", participantID, ErrDuplicateSubmission)
	}

	err = m.store.AppendCritique(&models.Critique{
		ID:             uuid.New().String(),
		DeliberationID: d.ID,
		ParticipantID:  participantID,
		Round:          round,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("store critique: %w", err)
	}

	count, err := m.store.CountCritiques(d.ID, round)
	if err != nil {
		return fmt.Errorf("count critiques: %w", err)
	}
	if count != d.Capacity {
		return nil
	}

	if d.Round+1 < d.CritiqueRounds {
		return m.trigger(d, d.Round+1)
	}

	now := time.Now().UTC()
	d.Stage = models.StageConcluded
	d.ConcludedAt = &now
	if err := m.store.UpdateDeliberation(d); err != nil {
		return fmt.Errorf("conclude deliberation: %w", err)
	}
	log.Printf("[machine] deliberation %s concluded after round %d", d.ID, d.Round)
	return nil
}

// SubmitFeedback stores a participant's final agreement score. The
// capacity-th feedback finalizes the deliberation.
func (m *Machine) SubmitFeedback(deliberationID, participantID string, agreement int, text string) error {
	l := m.lockFor(deliberationID)
	l.Lock()
	defer l.Unlock()

	d, err := m.Get(deliberationID)
	if err != nil {
		return err
	}
	if d.Stage != models.StageConcluded {
		return fmt.Errorf("stage is %s: %w", d.Stage, ErrWrongStage)
	}

	f := &models.Feedback{
		ID:             uuid.New().String(),
		DeliberationID: d.ID,
		ParticipantID:  participantID,
		Agreement:      agreement,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if !f.ValidAgreement() {
		return fmt.Errorf("agreement %d: %w", agreement, ErrInvalidFeedback)
	}
	has, err := m.store.HasFeedback(d.ID, participantID)
	if err != nil {
		return fmt.Errorf("check feedback: %w", err)
	}
	if has {
		return fmt.Errorf("participant %s: %w", participantID, ErrDuplicateSubmission)
	}
	if err := m.store.AppendFeedback(f); err != nil {
		return fmt.Errorf("store feedback: %w", err)
	}

	count, err := m.store.CountFeedback(d.ID)
	if err != nil {
		return fmt.Errorf("count feedback: %w", err)
	}
	if count == d.Capacity {
		now := time.Now().UTC()
		d.Stage = models.StageFinalized
		d.FinalizedAt = &now
		if err := m.store.UpdateDeliberation(d); err != nil {
			return fmt.Errorf("finalize deliberation: %w", err)
		}
		log.Printf("[machine] deliberation %s finalized", d.ID)
	}
	return nil
}

// Candidates returns the current round's candidate statements, for the
// ranking surface.
func (m *Machine) Candidates(deliberationID string) ([]models.Statement, error) {
	d, err := m.Get(deliberationID)
	if err != nil {
		return nil, err
	}
	return m.store.ListStatements(d.ID, d.Round)
}

// Winner returns the deliberation's current winning statement, or nil if no
// round has been aggregated yet.
func (m *Machine) Winner(deliberationID string) (*models.Statement, error) {
	d, err := m.Get(deliberationID)
	if err != nil {
		return nil, err
	}
	for round := d.Round; round >= 0; round-- {
		w, err := m.store.GetWinner(d.ID, round)
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
	}
	return nil, nil
}

// RetryCycle re-triggers a failed mediation cycle for the same round. Fails
// with ErrNotRetryable unless the last cycle failed.
func (m *Machine) RetryCycle(deliberationID string) error {
	l := m.lockFor(deliberationID)
	l.Lock()
	defer l.Unlock()

	d, err := m.Get(deliberationID)
	if err != nil {
		return err
	}
	if !d.GenerationFailed() || d.Stage == models.StageGenerating {
		return ErrNotRetryable
	}

	round := d.Round
	switch d.Stage {
	case models.StageOpinion:
		round = 0
	case models.StageCritique:
		round = d.Round + 1
	}
	log.Printf("[machine] retrying cycle for %s round %d", d.ID, round)
	return m.trigger(d, round)
}

// Status reports the externally observable state of a deliberation.
func (m *Machine) Status(deliberationID string) (*models.Status, error) {
	d, err := m.Get(deliberationID)
	if err != nil {
		return nil, err
	}

	status := &models.Status{
		ID:               d.ID,
		Question:         d.Question,
		Stage:            d.Stage,
		Round:            d.Round,
		Capacity:         d.Capacity,
		GenerationFailed: d.GenerationFailed(),
		Retryable:        d.GenerationFailed() && d.Stage != models.StageGenerating,
		Failure:          d.Failure,
	}

	switch d.Stage {
	case models.StageOpinion, models.StageRanking, models.StageCritique, models.StageConcluded:
		n, err := m.store.CountDistinctParticipants(d.ID, d.Stage, d.Round)
		if err != nil {
			return nil, fmt.Errorf("count participants: %w", err)
		}
		status.Submitted = n
	case models.StageGenerating, models.StageFinalized:
		// The prior stage was full when the cycle started, and a
		// finalized deliberation has everyone's feedback.
		status.Submitted = d.Capacity
	}
	return status, nil
}

// trigger flips the deliberation to the generating marker and hands the
// cycle for the target round to a goroutine. Must be called while holding
// the deliberation's lock; the trigger is therefore exactly-once per stage
// boundary, because the capacity-th submission is stored under the same
// lock that performs the flip.
func (m *Machine) trigger(d *models.Deliberation, round int) error {
	d.PriorStage = d.Stage
	d.Stage = models.StageGenerating
	// Failure is not cleared here: only a successful cycle commit clears
	// it, so a retry that has nothing to commit cannot erase the marker.
	if err := m.store.UpdateDeliberation(d); err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}

	snapshot := *d
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runCycle(&snapshot, round)
	}()
	return nil
}

// recordFailure stores a failure message on the deliberation. Must be
// called while holding the deliberation's lock.
func (m *Machine) recordFailure(deliberationID string, cause error) {
	d, err := m.store.GetDeliberation(deliberationID)
	if err != nil || d == nil {
		log.Printf("[machine] cannot reload %s to record failure: %v", deliberationID, err)
		return
	}
	d.Failure = cause.Error()
	if err := m.store.UpdateDeliberation(d); err != nil {
		log.Printf("[machine] cannot record failure for %s: %v", deliberationID, err)
	}
}

// runCycle executes one mediation cycle outside any lock and re-enters the
// critical section only to record failure. Success commits happen inside
// the orchestrator's transactional writes.
func (m *Machine) runCycle(d *models.Deliberation, round int) {
	err := m.cycler.RunCycle(m.ctx, d, round)

	l := m.lockFor(d.ID)
	l.Lock()
	defer l.Unlock()

	current, gerr := m.store.GetDeliberation(d.ID)
	if gerr != nil || current == nil {
		log.Printf("[machine] cannot reload %s after cycle: %v", d.ID, gerr)
		return
	}

	if err != nil {
		log.Printf("[machine] cycle for %s round %d failed: %v", d.ID, round, err)
		if current.Stage == models.StageGenerating {
			current.Stage = current.PriorStage
			current.PriorStage = ""
		}
		current.Failure = err.Error()
		if uerr := m.store.UpdateDeliberation(current); uerr != nil {
			log.Printf("[machine] cannot record cycle failure for %s: %v", d.ID, uerr)
		}
		return
	}

	// A cycle that returns success without advancing the stage means the
	// runner had nothing to commit; restore the prior stage.
	if current.Stage == models.StageGenerating {
		current.Stage = current.PriorStage
		current.PriorStage = ""
		if uerr := m.store.UpdateDeliberation(current); uerr != nil {
			log.Printf("[machine] cannot restore stage for %s: %v", d.ID, uerr)
		}
	}
}

// validatePermutation checks that ordered covers the candidate set exactly
// once with no ties, omissions, or unknown IDs.
func validatePermutation(ordered []string, statements []models.Statement) error {
	if len(ordered) != len(statements) {
		return fmt.Errorf("ranking has %d entries for %d candidates: %w", len(ordered), len(statements), ErrInvalidRanking)
	}
	known := make(map[string]bool, len(statements))
	for _, s := range statements {
		known[s.ID] = true
	}
	seen := make(map[string]bool, len(ordered))
	for _, id := range ordered {
		if !known[id] {
			return fmt.Errorf("unknown candidate %s: %w", id, ErrInvalidRanking)
		}
		if seen[id] {
			return fmt.Errorf("candidate %s ranked twice: %w", id, ErrInvalidRanking)
		}
		seen[id] = true
	}
	return nil
}

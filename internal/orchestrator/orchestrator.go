package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/concordlabs/caucus/internal/llm"
	"github.com/concordlabs/caucus/internal/social"
	"github.com/concordlabs/caucus/internal/store"
	"github.com/concordlabs/caucus/pkg/models"
)

// Store is the persistence surface the orchestrator needs. Deliberation
// stage advances happen only through the transactional cycle commits in
// StatementStore.
type Store interface {
	store.OpinionStore
	store.RankingStore
	store.CritiqueStore
	store.StatementStore
}

// Config contains tuning knobs for the mediation cycle.
type Config struct {
	// Candidates is the number of candidate statements requested per round.
	Candidates int
	// MaxRetries bounds retries of a failed external call.
	MaxRetries int
	// CallTimeout bounds each external call.
	CallTimeout time.Duration
	// RetryBackoff is the base delay between retries; the delay grows
	// linearly with the attempt number.
	RetryBackoff time.Duration
}

// withDefaults fills zero fields with production defaults.
func (c Config) withDefaults() Config {
	if c.Candidates <= 0 {
		c.Candidates = 16
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Orchestrator runs mediation cycles. A cycle generates candidate
// statements for a round and, when a preference predictor is configured,
// predicts every participant's ranking and aggregates them to pick the
// round winner. Without a predictor the cycle stops after generation and
// participants rank the candidates themselves.
//
// RunCycle is idempotent per (deliberation, round): a round whose
// candidates are already ranked is a no-op, so a duplicate trigger cannot
// rank a round twice.
type Orchestrator struct {
	store     Store
	generator llm.CandidateGenerator
	predictor llm.PreferencePredictor
	cfg       Config
	emitter   *EventEmitter
}

// New creates an Orchestrator. predictor may be nil; rankings are then
// collected from participants instead of predicted.
func New(st Store, generator llm.CandidateGenerator, predictor llm.PreferencePredictor, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:     st,
		generator: generator,
		predictor: predictor,
		cfg:       cfg.withDefaults(),
		emitter:   NewEventEmitter(64),
	}
}

// Events returns the channel of cycle progress events.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Close closes the event channel. Call only after all cycles finished.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

// RunCycle executes the mediation cycle for the given round. d carries the
// deliberation as of the trigger; round is the round being produced (0 at
// opinion completion, previous round + 1 at critique completion). Failed
// generation returns a *llm.GenerationError and writes nothing.
func (o *Orchestrator) RunCycle(ctx context.Context, d *models.Deliberation, round int) error {
	o.emitter.Emit(Event{Type: EventCycleStarted, DeliberationID: d.ID, Round: round})

	statements, err := o.store.ListStatements(d.ID, round)
	if err != nil {
		return fmt.Errorf("list statements: %w", err)
	}

	if anyRanked(statements) {
		// Duplicate trigger for an already-processed round.
		log.Printf("[orchestrator] %s round %d already aggregated, skipping", d.ID, round)
		return nil
	}

	if len(statements) == 0 {
		statements, err = o.generate(ctx, d, round)
		if err != nil {
			o.emitter.Emit(Event{Type: EventCycleFailed, DeliberationID: d.ID, Round: round, Error: err})
			return err
		}
		o.emitter.Emit(Event{
			Type:           EventCandidatesReady,
			DeliberationID: d.ID,
			Round:          round,
			Message:        fmt.Sprintf("%d candidate statements", len(statements)),
		})
	}

	if o.predictor == nil {
		// Participants rank directly; aggregation normally runs when the
		// last ranking arrives. A retried cycle can find the round fully
		// ranked already, with only the aggregation commit outstanding.
		count, err := o.store.CountRankings(d.ID, round)
		if err != nil {
			return fmt.Errorf("count rankings: %w", err)
		}
		if count < d.Capacity {
			return nil
		}
	} else if err := o.predictRankings(ctx, d, round, statements); err != nil {
		o.emitter.Emit(Event{Type: EventCycleFailed, DeliberationID: d.ID, Round: round, Error: err})
		return err
	}

	ranking := *d
	ranking.Stage = models.StageRanking
	ranking.Round = round
	if err := o.aggregate(&ranking, round, statements); err != nil {
		o.emitter.Emit(Event{Type: EventCycleFailed, DeliberationID: d.ID, Round: round, Error: err})
		return err
	}
	return nil
}

// AggregateRound folds the round's collected rankings into candidate ranks
// and advances the deliberation to the critique stage. It is called when
// the last participant ranking arrives, and is idempotent: an already
// ranked round is a no-op.
func (o *Orchestrator) AggregateRound(d *models.Deliberation) error {
	statements, err := o.store.ListStatements(d.ID, d.Round)
	if err != nil {
		return fmt.Errorf("list statements: %w", err)
	}
	if len(statements) == 0 {
		return fmt.Errorf("aggregate round %d of %s: no candidate statements", d.Round, d.ID)
	}
	if anyRanked(statements) {
		return nil
	}
	return o.aggregate(d, d.Round, statements)
}

// generate calls the candidate generator and commits the resulting
// statements together with the advance to the ranking stage. The external
// call is retried with backoff; exhaustion returns a *llm.GenerationError
// and leaves no statement rows behind.
func (o *Orchestrator) generate(ctx context.Context, d *models.Deliberation, round int) ([]models.Statement, error) {
	req, err := o.buildGenerateRequest(d, round)
	if err != nil {
		return nil, &llm.GenerationError{Cause: err}
	}

	var candidates []llm.Candidate
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		candidates, err = o.generator.Generate(callCtx, req, o.cfg.Candidates)
		cancel()
		if err == nil && len(candidates) < 2 {
			err = fmt.Errorf("only %d usable candidates, need at least 2", len(candidates))
		}
		if err == nil {
			break
		}
		if attempt >= o.cfg.MaxRetries {
			return nil, &llm.GenerationError{Cause: err}
		}
		log.Printf("[orchestrator] generation attempt %d/%d for %s round %d failed: %v",
			attempt, o.cfg.MaxRetries, d.ID, round, err)
		if err := o.backoff(ctx, attempt); err != nil {
			return nil, &llm.GenerationError{Cause: err}
		}
	}

	now := time.Now().UTC()
	statements := make([]models.Statement, len(candidates))
	for i, c := range candidates {
		statements[i] = models.Statement{
			ID:             uuid.New().String(),
			DeliberationID: d.ID,
			Round:          round,
			Text:           c.Text,
			Ordinal:        i,
			Model:          c.Model,
			Explanation:    c.Explanation,
			CreatedAt:      now,
		}
	}

	next := *d
	next.Stage = models.StageRanking
	next.Round = round
	next.Failure = ""
	next.PriorStage = ""
	if next.StartedAt == nil {
		next.StartedAt = &now
	}
	if err := o.store.CommitCycle(&next, statements); err != nil {
		return nil, fmt.Errorf("commit candidates: %w", err)
	}
	return statements, nil
}

// buildGenerateRequest assembles the generation inputs: all opinions and,
// past round zero, the previous winner with its critiques aligned to the
// opinion order.
func (o *Orchestrator) buildGenerateRequest(d *models.Deliberation, round int) (llm.GenerateRequest, error) {
	opinions, err := o.store.ListOpinions(d.ID)
	if err != nil {
		return llm.GenerateRequest{}, fmt.Errorf("list opinions: %w", err)
	}
	if len(opinions) == 0 {
		return llm.GenerateRequest{}, fmt.Errorf("no opinions recorded for %s", d.ID)
	}

	req := llm.GenerateRequest{Question: d.Question}
	for _, op := range opinions {
		req.Opinions = append(req.Opinions, op.Text)
	}

	if round > 0 {
		winner, err := o.store.GetWinner(d.ID, round-1)
		if err != nil {
			return llm.GenerateRequest{}, fmt.Errorf("previous winner: %w", err)
		}
		if winner == nil {
			return llm.GenerateRequest{}, fmt.Errorf("round %d has no winner for %s", round-1, d.ID)
		}
		req.PreviousWinner = winner.Text

		critiques, err := o.store.ListCritiques(d.ID, round-1)
		if err != nil {
			return llm.GenerateRequest{}, fmt.Errorf("list critiques: %w", err)
		}
		byParticipant := make(map[string]string, len(critiques))
		for _, c := range critiques {
			byParticipant[c.ParticipantID] = c.Text
		}
		req.Critiques = make([]string, len(opinions))
		for i, op := range opinions {
			req.Critiques[i] = byParticipant[op.ParticipantID]
		}
	}
	return req, nil
}

// predictRankings obtains one ranking per participant from the preference
// predictor and stores them. Statements are shown to each predictor call in
// a per-participant shuffled order to avoid position bias, and the returned
// permutation is mapped back. A participant whose retries exhaust gets a
// neutral ranking in presentation order, flagged as a fallback; only
// context cancellation aborts the whole fan-out.
func (o *Orchestrator) predictRankings(ctx context.Context, d *models.Deliberation, round int, statements []models.Statement) error {
	opinions, err := o.store.ListOpinions(d.ID)
	if err != nil {
		return fmt.Errorf("list opinions: %w", err)
	}

	var previousWinner string
	critiques := make(map[string]string)
	if round > 0 {
		winner, err := o.store.GetWinner(d.ID, round-1)
		if err != nil {
			return fmt.Errorf("previous winner: %w", err)
		}
		if winner == nil {
			return fmt.Errorf("round %d has no winner for %s", round-1, d.ID)
		}
		previousWinner = winner.Text
		list, err := o.store.ListCritiques(d.ID, round-1)
		if err != nil {
			return fmt.Errorf("list critiques: %w", err)
		}
		for _, c := range list {
			critiques[c.ParticipantID] = c.Text
		}
	}

	baseSeed := social.Seed(d.ID, round, statementIDs(statements))
	results := make([]*models.Ranking, len(opinions))

	g, gctx := errgroup.WithContext(ctx)
	for i, op := range opinions {
		has, err := o.store.HasRanking(d.ID, op.ParticipantID, round)
		if err != nil {
			return fmt.Errorf("has ranking: %w", err)
		}
		if has {
			continue
		}

		g.Go(func() error {
			r, err := o.predictOne(gctx, d, round, baseSeed, statements, llm.RankRequest{
				Question:       d.Question,
				Opinion:        op.Text,
				PreviousWinner: previousWinner,
				Critique:       critiques[op.ParticipantID],
			}, op.ParticipantID)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		if r == nil {
			continue
		}
		if err := o.store.AppendRanking(r); err != nil {
			return fmt.Errorf("store predicted ranking: %w", err)
		}
	}
	return nil
}

// predictOne predicts a single participant's ranking with bounded retries.
// It only errors on context cancellation; any other failure falls back to a
// neutral ranking.
func (o *Orchestrator) predictOne(ctx context.Context, d *models.Deliberation, round int, baseSeed int64, statements []models.Statement, req llm.RankRequest, participantID string) (*models.Ranking, error) {
	rng := rand.New(rand.NewSource(participantSeed(baseSeed, participantID)))
	perm := rng.Perm(len(statements))
	req.Statements = make([]string, len(statements))
	for pos, idx := range perm {
		req.Statements[pos] = statements[idx].Text
	}

	var ordered []string
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		indices, err := o.predictor.Rank(callCtx, req)
		cancel()
		if err == nil {
			// The predictor contract is a permutation over the presented
			// statements; a backend violating it must not take down the
			// cycle, so malformed output joins the retry/fallback path.
			err = validIndexPermutation(indices, len(statements))
		}
		if err == nil {
			ordered = make([]string, len(indices))
			for pos, idx := range indices {
				ordered[pos] = statements[perm[idx]].ID
			}
			break
		}
		lastErr = &llm.PredictionError{Participant: participantID, Cause: err}
		log.Printf("[orchestrator] prediction attempt %d/%d for %s in %s round %d failed: %v",
			attempt, o.cfg.MaxRetries, participantID, d.ID, round, err)
		if err := o.backoff(ctx, attempt); err != nil {
			return nil, lastErr
		}
	}

	fallback := ordered == nil
	if fallback {
		// Neutral ranking in presentation order keeps the round able to
		// complete; the flag preserves the failure in the record.
		ordered = statementIDs(statements)
		log.Printf("[orchestrator] falling back to neutral ranking for %s in %s round %d: %v",
			participantID, d.ID, round, lastErr)
		o.emitter.Emit(Event{
			Type:           EventPredictionFallback,
			DeliberationID: d.ID,
			Round:          round,
			ParticipantID:  participantID,
			Error:          lastErr,
		})
	} else {
		o.emitter.Emit(Event{
			Type:           EventPredictionDone,
			DeliberationID: d.ID,
			Round:          round,
			ParticipantID:  participantID,
		})
	}

	return &models.Ranking{
		ID:             uuid.New().String(),
		DeliberationID: d.ID,
		ParticipantID:  participantID,
		Round:          round,
		Ordered:        ordered,
		Predicted:      true,
		Fallback:       fallback,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// aggregate folds the round's rankings into candidate ranks and commits
// them together with the advance to the critique stage. An aggregation
// error signals malformed ballots reaching the aggregator, which is a bug;
// it is logged loudly and propagated, never swallowed.
func (o *Orchestrator) aggregate(d *models.Deliberation, round int, statements []models.Statement) error {
	rankings, err := o.store.ListRankings(d.ID, round)
	if err != nil {
		return fmt.Errorf("list rankings: %w", err)
	}

	ballots := make([]social.Ballot, len(rankings))
	for i, r := range rankings {
		ballots[i] = social.Ballot{ParticipantID: r.ParticipantID, Ordered: r.Ordered}
	}

	ids := statementIDs(statements)
	result, err := social.Aggregate(ids, ballots, social.Seed(d.ID, round, ids))
	if err != nil {
		log.Printf("[orchestrator] FATAL: aggregation invariant violated for %s round %d: %v", d.ID, round, err)
		return fmt.Errorf("aggregate round %d of %s: %w", round, d.ID, err)
	}

	next := *d
	next.Stage = models.StageCritique
	next.Round = round
	next.Failure = ""
	next.PriorStage = ""
	if err := o.store.SetCandidateRanks(&next, round, result.Ordered); err != nil {
		return fmt.Errorf("commit ranks: %w", err)
	}

	o.emitter.Emit(Event{
		Type:           EventRoundAggregated,
		DeliberationID: d.ID,
		Round:          round,
		Message:        fmt.Sprintf("winner %s from %d ballots", result.Ordered[0], len(ballots)),
	})
	return nil
}

// backoff sleeps before the next retry attempt, honoring cancellation.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(time.Duration(attempt) * o.cfg.RetryBackoff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validIndexPermutation checks that indices covers 0..n-1 exactly once.
func validIndexPermutation(indices []int, n int) error {
	if len(indices) != n {
		return fmt.Errorf("predicted ranking has %d entries for %d statements", len(indices), n)
	}
	seen := make([]bool, n)
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return fmt.Errorf("predicted ranking index %d out of range [0,%d)", idx, n)
		}
		if seen[idx] {
			return fmt.Errorf("predicted ranking index %d repeated", idx)
		}
		seen[idx] = true
	}
	return nil
}

func statementIDs(statements []models.Statement) []string {
	ids := make([]string, len(statements))
	for i, s := range statements {
		ids[i] = s.ID
	}
	return ids
}

func anyRanked(statements []models.Statement) bool {
	for _, s := range statements {
		if s.Ranked() {
			return true
		}
	}
	return false
}

// participantSeed derives a per-participant shuffle seed from the round
// seed so presentation order differs between participants but is stable
// across retries.
func participantSeed(base int64, participantID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(participantID))
	return base ^ int64(h.Sum64())
}

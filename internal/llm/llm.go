// Package llm provides the external model boundary for caucus: candidate
// statement generation and per-participant preference prediction. The
// orchestrator is written against the interfaces only; production backends
// call the Anthropic API and test doubles are deterministic.
package llm

import (
	"context"
	"fmt"
)

// GenerateRequest carries the inputs for one round of candidate generation.
type GenerateRequest struct {
	// Question is the deliberation question.
	Question string
	// Opinions are the participants' original opinions.
	Opinions []string
	// PreviousWinner is the prior round's winning statement. Empty in the
	// opinion round.
	PreviousWinner string
	// Critiques are the participants' critiques of the previous winner.
	// Nil in the opinion round; otherwise parallel to Opinions.
	Critiques []string
}

// Revision returns true if this request revises a previous winner.
func (r GenerateRequest) Revision() bool {
	return r.PreviousWinner != ""
}

// Candidate is one generated consensus statement.
type Candidate struct {
	// Text is the statement body.
	Text string
	// Explanation is the model's reasoning, if the backend captures it.
	Explanation string
	// Model identifies the backend model that produced the text.
	Model string
}

// CandidateGenerator produces candidate consensus statements.
type CandidateGenerator interface {
	// Generate produces up to n candidate statements for the request.
	// Backends may return fewer than n if individual completions fail;
	// it returns an error only if no usable candidate was produced.
	Generate(ctx context.Context, req GenerateRequest, n int) ([]Candidate, error)
}

// MaxRankableStatements is the largest candidate set the ranking prompt
// can label; statements are presented to the model as letters A through Z.
const MaxRankableStatements = 26

// RankRequest carries the inputs for predicting one participant's ranking.
type RankRequest struct {
	// Question is the deliberation question.
	Question string
	// Opinion is this participant's original opinion.
	Opinion string
	// PreviousWinner is the prior round's winning statement, if any.
	PreviousWinner string
	// Critique is this participant's critique of the previous winner.
	Critique string
	// Statements are the candidate texts in presentation order.
	Statements []string
}

// PreferencePredictor predicts a participant's full strict ranking over a
// candidate set.
type PreferencePredictor interface {
	// Rank returns indices into req.Statements, most preferred first.
	// The result must be a permutation covering every statement exactly
	// once; malformed model output is returned as an error.
	Rank(ctx context.Context, req RankRequest) ([]int, error)
}

// GenerationError wraps a failure of the candidate generation backend.
// It is transient from the deliberation's point of view: the cycle can be
// retried without losing collected submissions.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("candidate generation failed: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// PredictionError wraps a failure to obtain one participant's predicted
// ranking.
type PredictionError struct {
	// Participant identifies whose prediction failed.
	Participant string
	Cause       error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("preference prediction failed for %s: %v", e.Participant, e.Cause)
}

func (e *PredictionError) Unwrap() error {
	return e.Cause
}

// Package models defines the core domain types shared across the caucus
// coordination core: deliberations, submissions, and candidate statements.
package models

import "time"

// Deliberation is the aggregate root. All opinions, rankings, critiques,
// candidate statements, and feedback belong to exactly one deliberation.
type Deliberation struct {
	// ID is the unique identifier for this deliberation.
	ID string `json:"id"`
	// Question is the question being deliberated.
	Question string `json:"question"`
	// Stage is the current lifecycle phase.
	Stage Stage `json:"stage"`
	// Capacity is the fixed number of participants.
	Capacity int `json:"capacity"`
	// CritiqueRounds is the configured number of critique rounds.
	CritiqueRounds int `json:"critique_rounds"`
	// Round is the current round counter. Round 0 is the opinion round;
	// each critique round increments it. Never exceeds CritiqueRounds.
	Round int `json:"round"`
	// Failure holds the last mediation cycle failure message, if any.
	// Empty while healthy; cleared when a retried cycle commits.
	Failure string `json:"failure,omitempty"`
	// PriorStage is the stage to restore if an in-flight cycle fails.
	// Only meaningful while Stage is StageGenerating.
	PriorStage Stage `json:"prior_stage,omitempty"`
	// CreatedAt is when the deliberation was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the first mediation cycle committed, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// ConcludedAt is when the deliberation reached StageConcluded.
	ConcludedAt *time.Time `json:"concluded_at,omitempty"`
	// FinalizedAt is when the deliberation reached StageFinalized.
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// GenerationFailed returns true if the last mediation cycle for this
// deliberation failed and has not yet been successfully retried.
func (d *Deliberation) GenerationFailed() bool {
	return d.Failure != ""
}

// Status is the externally observable state of a deliberation, served to
// polling clients. A stalled stage alone never implies failure; clients
// must check GenerationFailed.
type Status struct {
	// ID is the deliberation identifier.
	ID string `json:"id"`
	// Question is the deliberation question.
	Question string `json:"question"`
	// Stage is the current lifecycle phase.
	Stage Stage `json:"stage"`
	// Round is the current round counter.
	Round int `json:"round"`
	// Capacity is the configured participant count.
	Capacity int `json:"capacity"`
	// Submitted is the number of distinct participants who have submitted
	// in the current stage and round.
	Submitted int `json:"submitted"`
	// GenerationFailed is true if the last mediation cycle failed.
	GenerationFailed bool `json:"generation_failed"`
	// Retryable is true if a failed cycle can be re-triggered.
	Retryable bool `json:"retryable"`
	// Failure is the failure message, when GenerationFailed is true.
	Failure string `json:"failure,omitempty"`
}

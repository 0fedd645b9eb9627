package models

import "time"

// Statement is one machine-generated candidate consensus text proposed
// during a round. Rank is assigned exactly once by aggregation; the
// candidate holding rank 1 is the round winner.
type Statement struct {
	// ID is the unique identifier for this statement.
	ID string `json:"id"`
	// DeliberationID is the owning deliberation.
	DeliberationID string `json:"deliberation_id"`
	// Round is the round this statement was generated for.
	Round int `json:"round"`
	// Text is the statement body.
	Text string `json:"text"`
	// Rank is the group-assigned position, 1 being the winner. Zero until
	// aggregation has run for the round.
	Rank int `json:"rank,omitempty"`
	// Ordinal is the statement's position within its generation batch.
	Ordinal int `json:"ordinal"`
	// Model identifies the model that produced the statement.
	Model string `json:"model,omitempty"`
	// Explanation is the model's reasoning for the statement, if captured.
	Explanation string `json:"explanation,omitempty"`
	// CreatedAt is when the statement was stored.
	CreatedAt time.Time `json:"created_at"`
}

// Ranked returns true once aggregation has assigned this statement a rank.
func (s *Statement) Ranked() bool {
	return s.Rank > 0
}

// Winner returns true if this statement won its round.
func (s *Statement) Winner() bool {
	return s.Rank == 1
}

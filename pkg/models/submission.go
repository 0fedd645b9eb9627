package models

import "time"

// Opinion is a participant's initial free-text position on the question.
// At most one per (deliberation, participant); immutable once stored.
type Opinion struct {
	// ID is the unique identifier for this opinion.
	ID string `json:"id"`
	// DeliberationID is the owning deliberation.
	DeliberationID string `json:"deliberation_id"`
	// ParticipantID identifies the submitting participant.
	ParticipantID string `json:"participant_id"`
	// Text is the opinion body.
	Text string `json:"text"`
	// CreatedAt is when the opinion was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Ranking is a participant's full strict ordering over one round's
// candidate set. Ordered holds candidate IDs from most to least preferred;
// it must cover the round's candidates exactly once.
type Ranking struct {
	// ID is the unique identifier for this ranking.
	ID string `json:"id"`
	// DeliberationID is the owning deliberation.
	DeliberationID string `json:"deliberation_id"`
	// ParticipantID identifies the participant the ranking belongs to.
	ParticipantID string `json:"participant_id"`
	// Round is the round this ranking applies to.
	Round int `json:"round"`
	// Ordered lists candidate IDs from most to least preferred.
	Ordered []string `json:"ordered"`
	// Predicted is true if the ranking was produced by the preference
	// predictor rather than submitted directly by the participant.
	Predicted bool `json:"predicted"`
	// Fallback is true if the predictor failed repeatedly and a neutral
	// ranking was substituted so the round could complete.
	Fallback bool `json:"fallback"`
	// CreatedAt is when the ranking was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Critique is a participant's free-text response to a round's winning
// statement. One per (deliberation, participant, round).
type Critique struct {
	// ID is the unique identifier for this critique.
	ID string `json:"id"`
	// DeliberationID is the owning deliberation.
	DeliberationID string `json:"deliberation_id"`
	// ParticipantID identifies the submitting participant.
	ParticipantID string `json:"participant_id"`
	// Round is the round whose winner is being critiqued.
	Round int `json:"round"`
	// Text is the critique body.
	Text string `json:"text"`
	// CreatedAt is when the critique was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a participant's final assessment of the concluding statement.
// One per (deliberation, participant); accepted only while concluded.
type Feedback struct {
	// ID is the unique identifier for this feedback.
	ID string `json:"id"`
	// DeliberationID is the owning deliberation.
	DeliberationID string `json:"deliberation_id"`
	// ParticipantID identifies the submitting participant.
	ParticipantID string `json:"participant_id"`
	// Agreement is an ordinal agreement score, 1 (reject) to 5 (endorse).
	Agreement int `json:"agreement"`
	// Text is optional free-text feedback.
	Text string `json:"text,omitempty"`
	// CreatedAt is when the feedback was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// ValidAgreement returns true if the agreement score is in range.
func (f *Feedback) ValidAgreement() bool {
	return f.Agreement >= 1 && f.Agreement <= 5
}

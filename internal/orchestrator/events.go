// Package orchestrator drives the mediation cycle for a deliberation round:
// candidate generation, per-participant preference prediction, and rank
// aggregation, committed back to the store as one transactional unit.
package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventCycleStarted indicates a mediation cycle has started for a round.
	EventCycleStarted EventType = "cycle_started"
	// EventCandidatesReady indicates candidate statements were generated
	// and stored for a round.
	EventCandidatesReady EventType = "candidates_ready"
	// EventPredictionDone indicates a participant's ranking was predicted.
	EventPredictionDone EventType = "prediction_done"
	// EventPredictionFallback indicates prediction retries were exhausted
	// for a participant and a neutral ranking was substituted.
	EventPredictionFallback EventType = "prediction_fallback"
	// EventRoundAggregated indicates the round's rankings were aggregated
	// and its winner recorded.
	EventRoundAggregated EventType = "round_aggregated"
	// EventCycleFailed indicates the cycle failed; the deliberation keeps
	// its prior stage with a failure marker.
	EventCycleFailed EventType = "cycle_failed"
)

// Event is emitted by the orchestrator as a cycle progresses. Events feed
// the CLI progress output and tests; dropping one never affects state.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// DeliberationID is the deliberation the event belongs to.
	DeliberationID string
	// Round is the round the cycle is processing.
	Round int
	// ParticipantID is set on prediction events.
	ParticipantID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

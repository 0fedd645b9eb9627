package models

// Stage represents the lifecycle phase of a deliberation.
type Stage string

const (
	// StageOpinion indicates the deliberation is collecting initial opinions.
	StageOpinion Stage = "opinion"
	// StageGenerating indicates a mediation cycle is running and no
	// submissions are accepted until it commits or fails.
	StageGenerating Stage = "generating"
	// StageRanking indicates participants are ranking candidate statements.
	StageRanking Stage = "ranking"
	// StageCritique indicates participants are critiquing the round winner.
	StageCritique Stage = "critique"
	// StageConcluded indicates deliberation is over and feedback is collected.
	StageConcluded Stage = "concluded"
	// StageFinalized indicates all feedback is in; the deliberation is closed.
	StageFinalized Stage = "finalized"
)

// Valid returns true if the stage is a known value.
func (s Stage) Valid() bool {
	switch s {
	case StageOpinion, StageGenerating, StageRanking, StageCritique, StageConcluded, StageFinalized:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further submissions or transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageFinalized
}

// AcceptsSubmissions returns true if any submission type is accepted in this stage.
func (s Stage) AcceptsSubmissions() bool {
	switch s {
	case StageOpinion, StageRanking, StageCritique, StageConcluded:
		return true
	default:
		return false
	}
}

package machine

import "errors"

// Client-input errors, rejected synchronously and never retried. They are
// returned to the submitting caller and never change deliberation state.
var (
	// ErrNotFound indicates the deliberation does not exist.
	ErrNotFound = errors.New("deliberation not found")
	// ErrWrongStage indicates the submission type is not accepted in the
	// deliberation's current stage.
	ErrWrongStage = errors.New("submission not accepted in current stage")
	// ErrWrongRound indicates the submission targets a round other than
	// the current one.
	ErrWrongRound = errors.New("submission targets wrong round")
	// ErrDuplicateSubmission indicates the participant already submitted
	// in this stage and round.
	ErrDuplicateSubmission = errors.New("participant already submitted")
	// ErrInvalidRanking indicates the ranking is not an exact permutation
	// of the round's candidate set.
	ErrInvalidRanking = errors.New("ranking does not cover the candidate set exactly once")
	// ErrInvalidFeedback indicates an out-of-range agreement score.
	ErrInvalidFeedback = errors.New("agreement score out of range")
	// ErrNotRetryable indicates a retry was requested but the last cycle
	// did not fail.
	ErrNotRetryable = errors.New("no failed cycle to retry")
)

// Package store provides SQLite-based persistence for caucus.
package store

import (
	"io"

	"github.com/concordlabs/caucus/pkg/models"
)

// DeliberationStore handles deliberation aggregate persistence.
type DeliberationStore interface {
	CreateDeliberation(d *models.Deliberation) error
	GetDeliberation(id string) (*models.Deliberation, error)
	ListDeliberations() ([]models.Deliberation, error)
	UpdateDeliberation(d *models.Deliberation) error
}

// OpinionStore handles opinion submissions.
type OpinionStore interface {
	AppendOpinion(o *models.Opinion) error
	ListOpinions(deliberationID string) ([]models.Opinion, error)
	HasOpinion(deliberationID, participantID string) (bool, error)
	CountOpinions(deliberationID string) (int, error)
}

// RankingStore handles ranking submissions.
type RankingStore interface {
	AppendRanking(r *models.Ranking) error
	ListRankings(deliberationID string, round int) ([]models.Ranking, error)
	HasRanking(deliberationID, participantID string, round int) (bool, error)
	CountRankings(deliberationID string, round int) (int, error)
}

// CritiqueStore handles critique submissions.
type CritiqueStore interface {
	AppendCritique(c *models.Critique) error
	ListCritiques(deliberationID string, round int) ([]models.Critique, error)
	HasCritique(deliberationID, participantID string, round int) (bool, error)
	CountCritiques(deliberationID string, round int) (int, error)
}

// FeedbackStore handles final feedback submissions.
type FeedbackStore interface {
	AppendFeedback(f *models.Feedback) error
	ListFeedback(deliberationID string) ([]models.Feedback, error)
	HasFeedback(deliberationID, participantID string) (bool, error)
	CountFeedback(deliberationID string) (int, error)
}

// StatementStore handles candidate statements and cycle commits. Candidate
// ranks and the stage advance are written as one transactional unit.
type StatementStore interface {
	InsertStatements(statements []models.Statement) error
	ListStatements(deliberationID string, round int) ([]models.Statement, error)
	CountStatements(deliberationID string, round int) (int, error)
	GetWinner(deliberationID string, round int) (*models.Statement, error)
	CommitCycle(d *models.Deliberation, statements []models.Statement) error
	SetCandidateRanks(d *models.Deliberation, round int, orderedIDs []string) error
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store defines the full persistence contract the coordination core needs.
// It composes focused sub-interfaces so components can depend on only the
// operations they use, without the concrete SQLite implementation.
type Store interface {
	io.Closer
	Migrator
	DeliberationStore
	OpinionStore
	RankingStore
	CritiqueStore
	FeedbackStore
	StatementStore
	CountDistinctParticipants(deliberationID string, stage models.Stage, round int) (int, error)
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store             = (*DB)(nil)
	_ Migrator          = (*DB)(nil)
	_ DeliberationStore = (*DB)(nil)
	_ OpinionStore      = (*DB)(nil)
	_ RankingStore      = (*DB)(nil)
	_ CritiqueStore     = (*DB)(nil)
	_ FeedbackStore     = (*DB)(nil)
	_ StatementStore    = (*DB)(nil)
)

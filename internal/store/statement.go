package store

import (
	"database/sql"
	"fmt"

	"github.com/concordlabs/caucus/pkg/models"
)

// InsertStatements stores a round's candidate statements in one transaction.
func (db *DB) InsertStatements(statements []models.Statement) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for _, s := range statements {
			_, err := tx.Exec(`
				INSERT INTO statements (id, deliberation_id, round, text, rank, ordinal, model, explanation, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, s.ID, s.DeliberationID, s.Round, s.Text, s.Rank, s.Ordinal, s.Model, s.Explanation, formatTime(s.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert statement %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// ListStatements returns a round's candidate statements. Once aggregation
// has run they come back in rank order, winner first; before that, in
// generation order.
func (db *DB) ListStatements(deliberationID string, round int) ([]models.Statement, error) {
	rows, err := db.Query(`
		SELECT id, deliberation_id, round, text, rank, ordinal, model, explanation, created_at
		FROM statements WHERE deliberation_id = ? AND round = ?
		ORDER BY CASE WHEN rank > 0 THEN rank ELSE ordinal END, ordinal
	`, deliberationID, round)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()

	var out []models.Statement
	for rows.Next() {
		var s models.Statement
		var createdAt string
		if err := rows.Scan(&s.ID, &s.DeliberationID, &s.Round, &s.Text, &s.Rank,
			&s.Ordinal, &s.Model, &s.Explanation, &createdAt); err != nil {
			return nil, fmt.Errorf("scan statement: %w", err)
		}
		s.CreatedAt, _ = parseTime(createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountStatements returns the number of statements stored for a round.
func (db *DB) CountStatements(deliberationID string, round int) (int, error) {
	return db.count(`SELECT COUNT(1) FROM statements WHERE deliberation_id = ? AND round = ?`,
		deliberationID, round)
}

// GetWinner returns the rank-1 statement for a round, or nil if aggregation
// has not run.
func (db *DB) GetWinner(deliberationID string, round int) (*models.Statement, error) {
	row := db.QueryRow(`
		SELECT id, deliberation_id, round, text, rank, ordinal, model, explanation, created_at
		FROM statements WHERE deliberation_id = ? AND round = ? AND rank = 1
	`, deliberationID, round)

	var s models.Statement
	var createdAt string
	err := row.Scan(&s.ID, &s.DeliberationID, &s.Round, &s.Text, &s.Rank,
		&s.Ordinal, &s.Model, &s.Explanation, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get winner: %w", err)
	}
	s.CreatedAt, _ = parseTime(createdAt)
	return &s, nil
}

// CommitCycle atomically records the outcome of a mediation cycle: the
// round's candidate statements with their aggregated ranks, and the
// deliberation's new stage, round, and timestamps. Candidate ranks and the
// stage advance are a single transactional unit so a crash cannot leave a
// ranked round behind an unadvanced stage or vice versa.
func (db *DB) CommitCycle(d *models.Deliberation, statements []models.Statement) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for _, s := range statements {
			_, err := tx.Exec(`
				INSERT INTO statements (id, deliberation_id, round, text, rank, ordinal, model, explanation, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, s.ID, s.DeliberationID, s.Round, s.Text, s.Rank, s.Ordinal, s.Model, s.Explanation, formatTime(s.CreatedAt))
			if err != nil {
				return fmt.Errorf("insert statement %s: %w", s.ID, err)
			}
		}
		return updateDeliberationTx(tx, d)
	})
}

// SetCandidateRanks assigns ranks to an already stored round, ordered IDs
// winner first, together with the deliberation's stage advance.
func (db *DB) SetCandidateRanks(d *models.Deliberation, round int, orderedIDs []string) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for pos, id := range orderedIDs {
			res, err := tx.Exec(`
				UPDATE statements SET rank = ? WHERE id = ? AND deliberation_id = ? AND round = ?
			`, pos+1, id, d.ID, round)
			if err != nil {
				return fmt.Errorf("set rank for %s: %w", id, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("set rank: statement %s not in round %d", id, round)
			}
		}
		return updateDeliberationTx(tx, d)
	})
}

func updateDeliberationTx(tx *sql.Tx, d *models.Deliberation) error {
	res, err := tx.Exec(`
		UPDATE deliberations
		SET stage = ?, round = ?, failure = ?, prior_stage = ?, started_at = ?, concluded_at = ?, finalized_at = ?
		WHERE id = ?
	`, string(d.Stage), d.Round, d.Failure, string(d.PriorStage),
		formatNullableTime(d.StartedAt), formatNullableTime(d.ConcludedAt), formatNullableTime(d.FinalizedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update deliberation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update deliberation: %s not found", d.ID)
	}
	return nil
}

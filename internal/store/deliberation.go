package store

import (
	"database/sql"
	"fmt"

	"github.com/concordlabs/caucus/pkg/models"
)

const deliberationColumns = `id, question, stage, capacity, critique_rounds, round,
	failure, prior_stage, created_at, started_at, concluded_at, finalized_at`

// CreateDeliberation persists a new deliberation.
func (db *DB) CreateDeliberation(d *models.Deliberation) error {
	_, err := db.Exec(`
		INSERT INTO deliberations (id, question, stage, capacity, critique_rounds, round, failure, prior_stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Question, string(d.Stage), d.Capacity, d.CritiqueRounds, d.Round,
		d.Failure, string(d.PriorStage), formatTime(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("create deliberation: %w", err)
	}
	return nil
}

// GetDeliberation retrieves a deliberation by ID. Returns nil without error
// if it does not exist.
func (db *DB) GetDeliberation(id string) (*models.Deliberation, error) {
	row := db.QueryRow(`
		SELECT `+deliberationColumns+`
		FROM deliberations WHERE id = ?
	`, id)
	d, err := scanDeliberation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deliberation: %w", err)
	}
	return d, nil
}

// ListDeliberations lists all deliberations, newest first.
func (db *DB) ListDeliberations() ([]models.Deliberation, error) {
	rows, err := db.Query(`
		SELECT ` + deliberationColumns + `
		FROM deliberations ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list deliberations: %w", err)
	}
	defer rows.Close()

	var out []models.Deliberation
	for rows.Next() {
		d, err := scanDeliberation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deliberation: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateDeliberation writes the mutable fields of a deliberation: stage,
// round, failure marker, and lifecycle timestamps.
func (db *DB) UpdateDeliberation(d *models.Deliberation) error {
	res, err := db.Exec(`
		UPDATE deliberations
		SET stage = ?, round = ?, failure = ?, prior_stage = ?, started_at = ?, concluded_at = ?, finalized_at = ?
		WHERE id = ?
	`, string(d.Stage), d.Round, d.Failure, string(d.PriorStage),
		formatNullableTime(d.StartedAt), formatNullableTime(d.ConcludedAt), formatNullableTime(d.FinalizedAt), d.ID)
	if err != nil {
		return fmt.Errorf("update deliberation: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update deliberation: %s not found", d.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliberation(row rowScanner) (*models.Deliberation, error) {
	var d models.Deliberation
	var stage, priorStage, createdAt string
	var startedAt, concludedAt, finalizedAt sql.NullString

	err := row.Scan(&d.ID, &d.Question, &stage, &d.Capacity, &d.CritiqueRounds, &d.Round,
		&d.Failure, &priorStage, &createdAt, &startedAt, &concludedAt, &finalizedAt)
	if err != nil {
		return nil, err
	}

	d.Stage = models.Stage(stage)
	d.PriorStage = models.Stage(priorStage)
	d.CreatedAt, _ = parseTime(createdAt)
	d.StartedAt = parseNullableTime(startedAt)
	d.ConcludedAt = parseNullableTime(concludedAt)
	d.FinalizedAt = parseNullableTime(finalizedAt)
	return &d, nil
}

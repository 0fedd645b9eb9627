package store

import (
	"encoding/json"
	"fmt"

	"github.com/concordlabs/caucus/pkg/models"
)

// AppendOpinion stores a participant's opinion. The unique index on
// (deliberation, participant) makes double submission a constraint error.
func (db *DB) AppendOpinion(o *models.Opinion) error {
	_, err := db.Exec(`
		INSERT INTO opinions (id, deliberation_id, participant_id, text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, o.ID, o.DeliberationID, o.ParticipantID, o.Text, formatTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("append opinion: %w", err)
	}
	return nil
}

// ListOpinions returns all opinions for a deliberation in submission order.
func (db *DB) ListOpinions(deliberationID string) ([]models.Opinion, error) {
	rows, err := db.Query(`
		SELECT id, deliberation_id, participant_id, text, created_at
		FROM opinions WHERE deliberation_id = ? ORDER BY created_at, id
	`, deliberationID)
	if err != nil {
		return nil, fmt.Errorf("list opinions: %w", err)
	}
	defer rows.Close()

	var out []models.Opinion
	for rows.Next() {
		var o models.Opinion
		var createdAt string
		if err := rows.Scan(&o.ID, &o.DeliberationID, &o.ParticipantID, &o.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan opinion: %w", err)
		}
		o.CreatedAt, _ = parseTime(createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// HasOpinion reports whether the participant already submitted an opinion.
func (db *DB) HasOpinion(deliberationID, participantID string) (bool, error) {
	return db.exists(`SELECT COUNT(1) FROM opinions WHERE deliberation_id = ? AND participant_id = ?`,
		deliberationID, participantID)
}

// CountOpinions returns the number of distinct participants with an opinion.
func (db *DB) CountOpinions(deliberationID string) (int, error) {
	return db.count(`SELECT COUNT(DISTINCT participant_id) FROM opinions WHERE deliberation_id = ?`,
		deliberationID)
}

// AppendRanking stores a participant's ranking for a round. The ordered
// candidate IDs are serialized as a JSON array.
func (db *DB) AppendRanking(r *models.Ranking) error {
	ordered, err := json.Marshal(r.Ordered)
	if err != nil {
		return fmt.Errorf("marshal ranking order: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO rankings (id, deliberation_id, participant_id, round, ordered, predicted, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.DeliberationID, r.ParticipantID, r.Round, string(ordered),
		boolToInt(r.Predicted), boolToInt(r.Fallback), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("append ranking: %w", err)
	}
	return nil
}

// ListRankings returns all rankings for a deliberation round.
func (db *DB) ListRankings(deliberationID string, round int) ([]models.Ranking, error) {
	rows, err := db.Query(`
		SELECT id, deliberation_id, participant_id, round, ordered, predicted, fallback, created_at
		FROM rankings WHERE deliberation_id = ? AND round = ? ORDER BY created_at, id
	`, deliberationID, round)
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	defer rows.Close()

	var out []models.Ranking
	for rows.Next() {
		var r models.Ranking
		var ordered, createdAt string
		var predicted, fallback int
		if err := rows.Scan(&r.ID, &r.DeliberationID, &r.ParticipantID, &r.Round,
			&ordered, &predicted, &fallback, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		if err := json.Unmarshal([]byte(ordered), &r.Ordered); err != nil {
			return nil, fmt.Errorf("unmarshal ranking order: %w", err)
		}
		r.Predicted = predicted != 0
		r.Fallback = fallback != 0
		r.CreatedAt, _ = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// HasRanking reports whether the participant already ranked this round.
func (db *DB) HasRanking(deliberationID, participantID string, round int) (bool, error) {
	return db.exists(`SELECT COUNT(1) FROM rankings WHERE deliberation_id = ? AND participant_id = ? AND round = ?`,
		deliberationID, participantID, round)
}

// CountRankings returns the distinct participants who ranked this round.
func (db *DB) CountRankings(deliberationID string, round int) (int, error) {
	return db.count(`SELECT COUNT(DISTINCT participant_id) FROM rankings WHERE deliberation_id = ? AND round = ?`,
		deliberationID, round)
}

// AppendCritique stores a participant's critique of a round winner.
func (db *DB) AppendCritique(c *models.Critique) error {
	_, err := db.Exec(`
		INSERT INTO critiques (id, deliberation_id, participant_id, round, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.DeliberationID, c.ParticipantID, c.Round, c.Text, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("append critique: %w", err)
	}
	return nil
}

// ListCritiques returns all critiques for a deliberation round.
func (db *DB) ListCritiques(deliberationID string, round int) ([]models.Critique, error) {
	rows, err := db.Query(`
		SELECT id, deliberation_id, participant_id, round, text, created_at
		FROM critiques WHERE deliberation_id = ? AND round = ? ORDER BY created_at, id
	`, deliberationID, round)
	if err != nil {
		return nil, fmt.Errorf("list critiques: %w", err)
	}
	defer rows.Close()

	var out []models.Critique
	for rows.Next() {
		var c models.Critique
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DeliberationID, &c.ParticipantID, &c.Round, &c.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan critique: %w", err)
		}
		c.CreatedAt, _ = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// HasCritique reports whether the participant already critiqued this round.
func (db *DB) HasCritique(deliberationID, participantID string, round int) (bool, error) {
	return db.exists(`SELECT COUNT(1) FROM critiques WHERE deliberation_id = ? AND participant_id = ? AND round = ?`,
		deliberationID, participantID, round)
}

// CountCritiques returns the distinct participants who critiqued this round.
func (db *DB) CountCritiques(deliberationID string, round int) (int, error) {
	return db.count(`SELECT COUNT(DISTINCT participant_id) FROM critiques WHERE deliberation_id = ? AND round = ?`,
		deliberationID, round)
}

// AppendFeedback stores a participant's final feedback.
func (db *DB) AppendFeedback(f *models.Feedback) error {
	_, err := db.Exec(`
		INSERT INTO feedback (id, deliberation_id, participant_id, agreement, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.DeliberationID, f.ParticipantID, f.Agreement, f.Text, formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// ListFeedback returns all feedback for a deliberation.
func (db *DB) ListFeedback(deliberationID string) ([]models.Feedback, error) {
	rows, err := db.Query(`
		SELECT id, deliberation_id, participant_id, agreement, text, created_at
		FROM feedback WHERE deliberation_id = ? ORDER BY created_at, id
	`, deliberationID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []models.Feedback
	for rows.Next() {
		var f models.Feedback
		var createdAt string
		if err := rows.Scan(&f.ID, &f.DeliberationID, &f.ParticipantID, &f.Agreement, &f.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.CreatedAt, _ = parseTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// HasFeedback reports whether the participant already submitted feedback.
func (db *DB) HasFeedback(deliberationID, participantID string) (bool, error) {
	return db.exists(`SELECT COUNT(1) FROM feedback WHERE deliberation_id = ? AND participant_id = ?`,
		deliberationID, participantID)
}

// CountFeedback returns the distinct participants who submitted feedback.
func (db *DB) CountFeedback(deliberationID string) (int, error) {
	return db.count(`SELECT COUNT(DISTINCT participant_id) FROM feedback WHERE deliberation_id = ?`,
		deliberationID)
}

// CountDistinctParticipants returns how many distinct participants have
// submitted for the given stage and round.
func (db *DB) CountDistinctParticipants(deliberationID string, stage models.Stage, round int) (int, error) {
	switch stage {
	case models.StageOpinion:
		return db.CountOpinions(deliberationID)
	case models.StageRanking:
		return db.CountRankings(deliberationID, round)
	case models.StageCritique:
		return db.CountCritiques(deliberationID, round)
	case models.StageConcluded:
		return db.CountFeedback(deliberationID)
	default:
		return 0, fmt.Errorf("stage %q has no submissions", stage)
	}
}

func (db *DB) count(query string, args ...any) (int, error) {
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (db *DB) exists(query string, args ...any) (bool, error) {
	n, err := db.count(query, args...)
	return n > 0, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

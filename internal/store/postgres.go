package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Profiles (JSONB documents) ---

func (s *PostgresStore) upsertDoc(ctx context.Context, table, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", table, id, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+table+` (id, doc, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		id, data,
	)
	return err
}

// getDoc returns false when no row exists.
func (s *PostgresStore) getDoc(ctx context.Context, table, id string, out interface{}) (bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM `+table+` WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", table, id, err)
	}
	return true, nil
}

func (s *PostgresStore) UpsertStudent(ctx context.Context, p *StudentProfile) error {
	return s.upsertDoc(ctx, "students", p.ID, p)
}

func (s *PostgresStore) GetStudent(ctx context.Context, id string) (*StudentProfile, error) {
	p := &StudentProfile{}
	found, err := s.getDoc(ctx, "students", id, p)
	if err != nil || !found {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) UpsertScribe(ctx context.Context, p *ScribeProfile) error {
	return s.upsertDoc(ctx, "scribes", p.ID, p)
}

func (s *PostgresStore) GetScribe(ctx context.Context, id string) (*ScribeProfile, error) {
	p := &ScribeProfile{}
	found, err := s.getDoc(ctx, "scribes", id, p)
	if err != nil || !found {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListScribes(ctx context.Context, filter ScribeFilter) ([]ScribeProfile, error) {
	query := `SELECT doc FROM scribes`
	if filter.VerifiedOnly {
		query += ` WHERE (doc->>'is_verified')::boolean`
	}
	query += ` ORDER BY id`
	args := []interface{}{}
	if filter.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scribes []ScribeProfile
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p ScribeProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode scribe: %w", err)
		}
		scribes = append(scribes, p)
	}
	return scribes, rows.Err()
}

func (s *PostgresStore) UpsertExam(ctx context.Context, e *ExamRegistration) error {
	if e.Status == "" {
		e.Status = ExamStatusRegistered
	}
	return s.upsertDoc(ctx, "exams", e.ID, e)
}

func (s *PostgresStore) GetExam(ctx context.Context, id string) (*ExamRegistration, error) {
	e := &ExamRegistration{}
	found, err := s.getDoc(ctx, "exams", id, e)
	if err != nil || !found {
		return nil, err
	}
	return e, nil
}

func (s *PostgresStore) AppendMatchHistory(ctx context.Context, examID string, attemptIDs []uuid.UUID, status ExamStatus) error {
	if attemptIDs == nil {
		attemptIDs = []uuid.UUID{}
	}
	ids, err := json.Marshal(attemptIDs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE exams SET
			doc = jsonb_set(
				jsonb_set(doc, '{match_history}', COALESCE(doc->'match_history', '[]'::jsonb) || $2::jsonb),
				'{status}', to_jsonb($3::text)),
			updated_at = now()
		WHERE id = $1`,
		examID, ids, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exam %s: %w", examID, ErrNotFound)
	}
	return nil
}

// --- Match attempts ---

const matchColumns = `id, student_id, scribe_id, exam_id, match_score, factors,
	status, proposed_at, responded_at, notes,
	score_source, distance_km, rank, alternative, emergency`

func (s *PostgresStore) CreateMatchAttempts(ctx context.Context, attempts []*MatchAttempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, a := range attempts {
		factorsJSON, _ := json.Marshal(a.Factors)
		batch.Queue(`
			INSERT INTO match_attempts (`+matchColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			a.ID, a.StudentID, a.ScribeID, a.ExamID, a.MatchScore, factorsJSON,
			a.Status, a.ProposedAt, a.RespondedAt, a.Notes,
			a.ScoreSource, a.DistanceKm, a.Rank, a.Alternative, a.Emergency,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert match attempts: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetMatchAttempt(ctx context.Context, id uuid.UUID) (*MatchAttempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+matchColumns+` FROM match_attempts WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attempts, err := scanMatchAttempts(rows)
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return attempts[0], nil
}

func (s *PostgresStore) ListMatchAttempts(ctx context.Context, filter MatchFilter) ([]*MatchAttempt, error) {
	query := `SELECT ` + matchColumns + ` FROM match_attempts WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.StudentID != "" {
		n++
		query += fmt.Sprintf(" AND student_id = $%d", n)
		args = append(args, filter.StudentID)
	}
	if filter.ScribeID != "" {
		n++
		query += fmt.Sprintf(" AND scribe_id = $%d", n)
		args = append(args, filter.ScribeID)
	}
	if filter.ExamID != "" {
		n++
		query += fmt.Sprintf(" AND exam_id = $%d", n)
		args = append(args, filter.ExamID)
	}
	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*filter.Status))
	}

	query += " ORDER BY proposed_at DESC, rank ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatchAttempts(rows)
}

func (s *PostgresStore) UpdateMatchStatus(ctx context.Context, id uuid.UUID, status MatchStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE match_attempts SET
			status = $2,
			responded_at = CASE WHEN $2 IN ('accepted', 'declined') THEN now() ELSE responded_at END
		WHERE id = $1 AND status = 'proposed'`,
		id, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("match %s: %w", id, ErrNotProposed)
	}
	return nil
}

// AcceptMatch holds a row lock on the exam for the whole transaction, so two
// accepts for the same exam serialize and the second sees ErrNotProposed.
func (s *PostgresStore) AcceptMatch(ctx context.Context, id uuid.UUID) ([]*MatchAttempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var examID string
	err = tx.QueryRow(ctx, `SELECT exam_id FROM match_attempts WHERE id = $1`, id).Scan(&examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var locked string
	err = tx.QueryRow(ctx, `SELECT id FROM exams WHERE id = $1 FOR UPDATE`, examID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("exam %s: %w", examID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock exam %s: %w", examID, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE match_attempts SET status = 'accepted', responded_at = now()
		WHERE id = $1 AND status = 'proposed'`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotProposed)
	}

	rows, err := tx.Query(ctx, `
		UPDATE match_attempts SET status = 'expired'
		WHERE exam_id = $1 AND status = 'proposed' AND id <> $2
		RETURNING `+matchColumns, examID, id)
	if err != nil {
		return nil, fmt.Errorf("expire siblings: %w", err)
	}
	siblings, err := scanMatchAttempts(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE exams SET doc = jsonb_set(doc, '{status}', to_jsonb($2::text)), updated_at = now()
		WHERE id = $1`, examID, string(ExamStatusMatched)); err != nil {
		return nil, fmt.Errorf("mark exam matched: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return siblings, nil
}

func (s *PostgresStore) GetStaleProposals(ctx context.Context, proposedBefore time.Time) ([]*MatchAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+matchColumns+`
		FROM match_attempts WHERE status = 'proposed' AND proposed_at < $1
		ORDER BY proposed_at ASC`, proposedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMatchAttempts(rows)
}

// CountOpenProposals counts distinct exams for which the student still has
// an unanswered proposal.
func (s *PostgresStore) CountOpenProposals(ctx context.Context, studentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT exam_id) FROM match_attempts
		WHERE student_id = $1 AND status = 'proposed'`, studentID,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) GetStats(ctx context.Context) (*MatchStats, error) {
	stats := &MatchStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'proposed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'accepted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'declined' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'expired' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(match_score), 0),
			COALESCE(AVG(CASE WHEN score_source = 'oracle' THEN 1.0 ELSE 0.0 END), 0)
		FROM match_attempts`,
	).Scan(&stats.TotalProposed, &stats.TotalAccepted, &stats.TotalDeclined, &stats.TotalExpired, &stats.AvgScore, &stats.OracleShare)
	return stats, err
}

func scanMatchAttempts(rows pgx.Rows) ([]*MatchAttempt, error) {
	var out []*MatchAttempt
	for rows.Next() {
		a := &MatchAttempt{}
		var factorsJSON []byte
		if err := rows.Scan(
			&a.ID, &a.StudentID, &a.ScribeID, &a.ExamID, &a.MatchScore, &factorsJSON,
			&a.Status, &a.ProposedAt, &a.RespondedAt, &a.Notes,
			&a.ScoreSource, &a.DistanceKm, &a.Rank, &a.Alternative, &a.Emergency,
		); err != nil {
			return nil, err
		}
		if err := decodeFactors(a.ID, factorsJSON, &a.Factors); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func decodeFactors(id uuid.UUID, data []byte, out *MatchingFactors) error {
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode factors for match %s: %w", id, err)
	}
	return nil
}

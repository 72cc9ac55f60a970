package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okian/sugang/internal/domain/model"
)

const attemptColumns = `session_id, subject_id, actor_id, seq, classification, latency_ms, rank,
	percentile, success, scale, shape, competitors, capacity, created_at`

// InsertAttempt stores a ranked attempt and assigns its sequence number.
// A second attempt for the same (session, subject) returns ErrAlreadyExists.
func (s *Store) InsertAttempt(ctx context.Context, a model.Attempt) (model.Attempt, error) {
	defer observe("insert_attempt", time.Now())
	if a.SessionID == "" || a.SubjectID == "" || a.ActorID == "" {
		return model.Attempt{}, model.NewInvalidInput("attempt requires session, subject and actor ids")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = fromMillis(s.now())
	}

	// seq is computed inside the insert so concurrent writers can't share one.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attempts (`+attemptColumns+`)
		SELECT ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		FROM attempts WHERE session_id = ?
		RETURNING seq`,
		a.SessionID, a.SubjectID, a.ActorID,
		a.Classification, a.LatencyMs, a.Rank, a.Percentile, a.Success,
		a.Scale, a.Shape, a.Competitors, a.Capacity, toMillis(a.CreatedAt),
		a.SessionID,
	)
	if err := row.Scan(&a.Seq); err != nil {
		if isUniqueViolation(err) {
			return model.Attempt{}, fmt.Errorf("attempt %s/%s: %w", a.SessionID, a.SubjectID, ErrAlreadyExists)
		}
		return model.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	return a, nil
}

// GetAttempt returns the stored attempt for (session, subject).
func (s *Store) GetAttempt(ctx context.Context, sessionID, subjectID string) (model.Attempt, error) {
	defer observe("get_attempt", time.Now())
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE session_id = ? AND subject_id = ?`,
		sessionID, subjectID,
	)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Attempt{}, fmt.Errorf("attempt %s/%s: %w", sessionID, subjectID, ErrNotFound)
	}
	if err != nil {
		return model.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns a session's attempts ordered by sequence.
func (s *Store) ListAttempts(ctx context.Context, sessionID string) ([]model.Attempt, error) {
	defer observe("list_attempts", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

// CountAttempts returns how many attempts a session has.
func (s *Store) CountAttempts(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE session_id = ?`, sessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

// HistoricalLatencies returns up to limit of the most recent positive
// attempt latencies.
func (s *Store) HistoricalLatencies(ctx context.Context, limit int) ([]int64, error) {
	defer observe("historical_latencies", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT latency_ms FROM attempts WHERE latency_ms > 0 ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("historical latencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]int64, 0, 256)
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan latency: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (model.Attempt, error) {
	var (
		a         model.Attempt
		success   int
		createdAt int64
	)
	if err := row.Scan(
		&a.SessionID, &a.SubjectID, &a.ActorID, &a.Seq, &a.Classification,
		&a.LatencyMs, &a.Rank, &a.Percentile, &success, &a.Scale, &a.Shape,
		&a.Competitors, &a.Capacity, &createdAt,
	); err != nil {
		return model.Attempt{}, err
	}
	a.Success = success != 0
	a.CreatedAt = fromMillis(createdAt)
	return a, nil
}

// InsertEarlyClick records a click that arrived before the window opened.
func (s *Store) InsertEarlyClick(ctx context.Context, c model.EarlyClick) error {
	defer observe("insert_early_click", time.Now())
	if c.CreatedAt.IsZero() {
		c.CreatedAt = fromMillis(s.now())
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO early_clicks (session_id, actor_id, subject_id, latency_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.SessionID, c.ActorID, c.SubjectID, c.LatencyMs, toMillis(c.CreatedAt),
	); err != nil {
		return fmt.Errorf("insert early click: %w", err)
	}
	return nil
}

// ListEarlyClicks returns a session's early clicks in arrival order.
func (s *Store) ListEarlyClicks(ctx context.Context, sessionID string) ([]model.EarlyClick, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, actor_id, subject_id, latency_ms, created_at FROM early_clicks WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list early clicks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.EarlyClick
	for rows.Next() {
		var (
			c         model.EarlyClick
			createdAt int64
		)
		if err := rows.Scan(&c.SessionID, &c.ActorID, &c.SubjectID, &c.LatencyMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan early click: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

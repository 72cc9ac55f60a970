package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/okian/sugang/internal/domain/model"
)

// MergeFunc folds a session's candidates into the current record. It
// returns the new record and whether anything changed.
type MergeFunc func(current model.LeaderboardRecord) (model.LeaderboardRecord, bool)

// ReconcileSession marks sessionID as reconciled and applies merge to the
// actor's record in one transaction. When the session was already marked,
// merge is not called and first is false.
func (s *Store) ReconcileSession(ctx context.Context, actorID, sessionID string, merge MergeFunc) (first, changed bool, err error) {
	defer observe("reconcile_session", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO reconciled_sessions (session_id, actor_id, reconciled_at) VALUES (?, ?, ?)`,
		sessionID, actorID, now,
	)
	if err != nil {
		return false, false, fmt.Errorf("mark session reconciled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("mark session reconciled: %w", err)
	}
	if n == 0 {
		err = tx.Commit()
		return false, false, err
	}

	current, err := getRecord(ctx, tx, actorID)
	if errors.Is(err, ErrNotFound) {
		current = model.LeaderboardRecord{ActorID: actorID}
		err = nil
	} else if err != nil {
		return false, false, err
	}

	next, changed := merge(current)
	if changed {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO leaderboard_records (actor_id, best_first_latency_ms, best_second_latency_ms, best_success_ratio, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(actor_id) DO UPDATE SET
				best_first_latency_ms = excluded.best_first_latency_ms,
				best_second_latency_ms = excluded.best_second_latency_ms,
				best_success_ratio = excluded.best_success_ratio,
				updated_at = excluded.updated_at`,
			actorID, nullInt(next.BestFirstLatencyMs), nullInt(next.BestSecondLatencyMs), nullFloat(next.BestSuccessRatio), now,
		); err != nil {
			return false, false, fmt.Errorf("upsert leaderboard record: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return false, false, fmt.Errorf("commit reconcile: %w", err)
	}
	return true, changed, nil
}

// IsReconciled reports whether a session has been folded into the leaderboard.
func (s *Store) IsReconciled(ctx context.Context, sessionID string) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM reconciled_sessions WHERE session_id = ?`, sessionID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check reconciled: %w", err)
	}
	return true, nil
}

// ForgetReconciled drops the reconciled marker of sessionID so a later
// ReconcileSession for it runs the merge again.
func (s *Store) ForgetReconciled(ctx context.Context, sessionID string) error {
	defer observe("forget_reconciled", time.Now())
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reconciled_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("forget reconciled: %w", err)
	}
	return nil
}

// GetLeaderboard returns an actor's record.
func (s *Store) GetLeaderboard(ctx context.Context, actorID string) (model.LeaderboardRecord, error) {
	return getRecord(ctx, s.db, actorID)
}

// TopLeaderboard returns up to n records ordered best-first by metric.
func (s *Store) TopLeaderboard(ctx context.Context, metric model.LeaderboardMetric, n int) ([]model.LeaderboardRecord, error) {
	defer observe("top_leaderboard", time.Now())
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	var column, dir string
	switch metric {
	case model.MetricFirstLatency:
		column, dir = "best_first_latency_ms", "ASC"
	case model.MetricSecondLatency:
		column, dir = "best_second_latency_ms", "ASC"
	case model.MetricSuccessRatio:
		column, dir = "best_success_ratio", "DESC"
	default:
		return nil, model.NewInvalidInput("unknown leaderboard metric %q", metric)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, best_first_latency_ms, best_second_latency_ms, best_success_ratio, updated_at
		FROM leaderboard_records
		WHERE `+column+` IS NOT NULL
		ORDER BY `+column+` `+dir+`, actor_id ASC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("top leaderboard: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.LeaderboardRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaderboard record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResetLeaderboard clears all records and returns how many were removed.
// Reconciled markers are kept so old sessions are never applied again.
func (s *Store) ResetLeaderboard(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leaderboard_records`)
	if err != nil {
		return 0, fmt.Errorf("reset leaderboard: %w", err)
	}
	return res.RowsAffected()
}

// CountLeaderboard returns the number of actors with a record.
func (s *Store) CountLeaderboard(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leaderboard: %w", err)
	}
	return n, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q queryer, actorID string) (model.LeaderboardRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT actor_id, best_first_latency_ms, best_second_latency_ms, best_success_ratio, updated_at
		FROM leaderboard_records WHERE actor_id = ?`, actorID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LeaderboardRecord{}, fmt.Errorf("leaderboard %s: %w", actorID, ErrNotFound)
	}
	if err != nil {
		return model.LeaderboardRecord{}, fmt.Errorf("get leaderboard record: %w", err)
	}
	return rec, nil
}

func scanRecord(row scanner) (model.LeaderboardRecord, error) {
	var (
		rec       model.LeaderboardRecord
		first     sql.NullInt64
		second    sql.NullInt64
		ratio     sql.NullFloat64
		updatedAt int64
	)
	if err := row.Scan(&rec.ActorID, &first, &second, &ratio, &updatedAt); err != nil {
		return model.LeaderboardRecord{}, err
	}
	if first.Valid {
		rec.BestFirstLatencyMs = &first.Int64
	}
	if second.Valid {
		rec.BestSecondLatencyMs = &second.Int64
	}
	if ratio.Valid {
		rec.BestSuccessRatio = &ratio.Float64
	}
	rec.UpdatedAt = fromMillis(updatedAt)
	return rec, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

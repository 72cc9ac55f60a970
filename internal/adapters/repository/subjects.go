package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/okian/sugang/internal/domain/model"
)

// UpsertSubject inserts or replaces a catalog entry.
func (s *Store) UpsertSubject(ctx context.Context, subj model.Subject) error {
	if err := subj.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, name, classification, capacity, competitors)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			classification = excluded.classification,
			capacity = excluded.capacity,
			competitors = excluded.competitors`,
		subj.ID, subj.Name, subj.Classification, subj.Capacity, subj.Competitors,
	); err != nil {
		return fmt.Errorf("upsert subject %s: %w", subj.ID, err)
	}
	return nil
}

// Lookup returns a subject or an error wrapping model.ErrSubjectNotFound.
func (s *Store) Lookup(ctx context.Context, id string) (model.Subject, error) {
	var subj model.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, classification, capacity, competitors FROM subjects WHERE id = ?`, id,
	).Scan(&subj.ID, &subj.Name, &subj.Classification, &subj.Capacity, &subj.Competitors)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subject{}, fmt.Errorf("subject %s: %w", id, model.ErrSubjectNotFound)
	}
	if err != nil {
		return model.Subject{}, fmt.Errorf("lookup subject: %w", err)
	}
	return subj, nil
}

// ListSubjects returns the catalog ordered by id.
func (s *Store) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, classification, capacity, competitors FROM subjects ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Subject
	for rows.Next() {
		var subj model.Subject
		if err := rows.Scan(&subj.ID, &subj.Name, &subj.Classification, &subj.Capacity, &subj.Competitors); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, subj)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// SubjectStore implements contracts.SubjectRepository.
type SubjectStore struct {
	db *sql.DB
}

func NewSubjectStore(db *sql.DB) *SubjectStore {
	return &SubjectStore{db: db}
}

func (s *SubjectStore) ByIDAndTenant(ctx context.Context, subjectID, tenantID string) (*contracts.Subject, error) {
	query := `SELECT id, tenant_id, created_at FROM subjects WHERE id = $1 AND tenant_id = $2`
	var subj contracts.Subject
	err := s.db.QueryRowContext(ctx, query, subjectID, tenantID).
		Scan(&subj.ID, &subj.TenantID, &subj.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return &subj, nil
}

func (s *SubjectStore) ByTenant(ctx context.Context, tenantID string, offset, limit int) ([]contracts.Subject, error) {
	query := `SELECT id, tenant_id, created_at FROM subjects
		WHERE tenant_id = $1 ORDER BY created_at ASC, id ASC LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.Subject, 0)
	for rows.Next() {
		var subj contracts.Subject
		if err := rows.Scan(&subj.ID, &subj.TenantID, &subj.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateSubject registers a subject. Subject administration mostly lives
// outside this core; creation is kept here for bootstrap and tests.
func (s *SubjectStore) CreateSubject(ctx context.Context, subj contracts.Subject) error {
	query := `INSERT INTO subjects (id, tenant_id, created_at) VALUES ($1, $2, $3)`
	_, err := s.db.ExecContext(ctx, query, subj.ID, subj.TenantID, subj.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

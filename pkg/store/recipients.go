package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RecipientStore implements contracts.RecipientResolver against the users,
// roles and user_roles tables.
type RecipientStore struct {
	db *sql.DB
}

func NewRecipientStore(db *sql.DB) *RecipientStore {
	return &RecipientStore{db: db}
}

func (s *RecipientStore) EmailsForRole(ctx context.Context, tenantID, roleCode string) ([]string, error) {
	query := `SELECT u.email FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		JOIN roles r ON r.id = ur.role_id
		WHERE u.tenant_id = $1 AND r.code = $2 AND u.is_active = TRUE
		ORDER BY u.email ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID, roleCode)
	if err != nil {
		return nil, fmt.Errorf("query role recipients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return emails, nil
}

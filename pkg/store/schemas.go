package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// SchemaStore implements contracts.SchemaRepository.
type SchemaStore struct {
	db *sql.DB
}

func NewSchemaStore(db *sql.DB) *SchemaStore {
	return &SchemaStore{db: db}
}

func (s *SchemaStore) ByVersion(ctx context.Context, tenantID, eventType string, schemaVersion int) (*contracts.EventSchema, error) {
	query := `SELECT id, tenant_id, event_type, schema_version, definition, is_active
		FROM event_schemas WHERE tenant_id = $1 AND event_type = $2 AND schema_version = $3`
	var (
		row        contracts.EventSchema
		definition string
	)
	err := s.db.QueryRowContext(ctx, query, tenantID, eventType, schemaVersion).
		Scan(&row.ID, &row.TenantID, &row.EventType, &row.SchemaVersion, &definition, &row.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query event schema: %w", err)
	}
	row.Definition = []byte(definition)
	return &row, nil
}

// Register installs a schema version. Used by bootstrap tooling and tests.
func (s *SchemaStore) Register(ctx context.Context, schema contracts.EventSchema) error {
	query := `INSERT INTO event_schemas (id, tenant_id, event_type, schema_version, definition, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		schema.ID, schema.TenantID, schema.EventType, schema.SchemaVersion,
		string(schema.Definition), schema.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert event schema: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// RuleStore implements contracts.TransitionRuleRepository. List-valued rule
// fields are stored as JSON text columns.
type RuleStore struct {
	db *sql.DB
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) RuleForEventType(ctx context.Context, tenantID, eventType string) (*contracts.TransitionRule, error) {
	query := `SELECT id, tenant_id, event_type, required_prior_event_types,
			prior_event_payload_conditions, max_occurrences_per_stream,
			fresh_prior_event_type, description
		FROM event_transition_rules WHERE tenant_id = $1 AND event_type = $2`
	var (
		rule        contracts.TransitionRule
		required    sql.NullString
		conditions  sql.NullString
		maxOcc      sql.NullInt64
		freshPrior  sql.NullString
		description sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, tenantID, eventType).
		Scan(&rule.ID, &rule.TenantID, &rule.EventType, &required, &conditions,
			&maxOcc, &freshPrior, &description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query transition rule: %w", err)
	}

	if required.Valid && required.String != "" {
		if err := json.Unmarshal([]byte(required.String), &rule.RequiredPriorEventTypes); err != nil {
			return nil, fmt.Errorf("decode required prior types of rule %s: %w", rule.ID, err)
		}
	}
	if conditions.Valid && conditions.String != "" {
		if err := json.Unmarshal([]byte(conditions.String), &rule.PriorEventPayloadConditions); err != nil {
			return nil, fmt.Errorf("decode payload conditions of rule %s: %w", rule.ID, err)
		}
	}
	rule.MaxOccurrencesPerStream = intPtr(maxOcc)
	rule.FreshPriorEventType = stringPtr(freshPrior)
	if description.Valid {
		rule.Description = description.String
	}
	return &rule, nil
}

// PutRule inserts or replaces the rule for its (tenant, event type) pair.
func (s *RuleStore) PutRule(ctx context.Context, rule contracts.TransitionRule) error {
	required, err := json.Marshal(rule.RequiredPriorEventTypes)
	if err != nil {
		return fmt.Errorf("encode required prior types: %w", err)
	}
	conditions, err := json.Marshal(rule.PriorEventPayloadConditions)
	if err != nil {
		return fmt.Errorf("encode payload conditions: %w", err)
	}

	del := `DELETE FROM event_transition_rules WHERE tenant_id = $1 AND event_type = $2`
	ins := `INSERT INTO event_transition_rules (id, tenant_id, event_type,
			required_prior_event_types, prior_event_payload_conditions,
			max_occurrences_per_stream, fresh_prior_event_type, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rule upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, del, rule.TenantID, rule.EventType); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete prior rule: %w", err)
	}
	_, err = tx.ExecContext(ctx, ins,
		rule.ID, rule.TenantID, rule.EventType,
		string(required), string(conditions),
		nullInt(rule.MaxOccurrencesPerStream), nullString(rule.FreshPriorEventType),
		rule.Description,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert rule: %w", err)
	}
	return tx.Commit()
}

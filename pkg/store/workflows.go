package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// WorkflowStore implements contracts.WorkflowRepository. Trigger conditions
// and the action list are stored as JSON text columns.
type WorkflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

func (s *WorkflowStore) ByTrigger(ctx context.Context, tenantID, eventType string) ([]contracts.WorkflowDefinition, error) {
	query := `SELECT id, tenant_id, name, trigger_event_type, trigger_conditions,
			trigger_expression, actions, max_executions_per_day, execution_order, is_active
		FROM workflows
		WHERE tenant_id = $1 AND trigger_event_type = $2 AND is_active = TRUE
		ORDER BY execution_order ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.WorkflowDefinition, 0)
	for rows.Next() {
		var (
			wf         contracts.WorkflowDefinition
			name       sql.NullString
			conditions sql.NullString
			expression sql.NullString
			actions    string
			maxPerDay  sql.NullInt64
		)
		err := rows.Scan(&wf.ID, &wf.TenantID, &name, &wf.TriggerEventType, &conditions,
			&expression, &actions, &maxPerDay, &wf.ExecutionOrder, &wf.IsActive)
		if err != nil {
			return nil, err
		}
		if name.Valid {
			wf.Name = name.String
		}
		if conditions.Valid && conditions.String != "" {
			if err := json.Unmarshal([]byte(conditions.String), &wf.TriggerConditions); err != nil {
				return nil, fmt.Errorf("decode trigger conditions of workflow %s: %w", wf.ID, err)
			}
		}
		if expression.Valid {
			wf.TriggerExpression = expression.String
		}
		if err := json.Unmarshal([]byte(actions), &wf.Actions); err != nil {
			return nil, fmt.Errorf("decode actions of workflow %s: %w", wf.ID, err)
		}
		wf.MaxExecutionsPerDay = intPtr(maxPerDay)
		result = append(result, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PutWorkflow installs a workflow definition. Used by bootstrap tooling and
// tests; workflow administration beyond this lives outside the core.
func (s *WorkflowStore) PutWorkflow(ctx context.Context, wf contracts.WorkflowDefinition) error {
	conditions, err := json.Marshal(wf.TriggerConditions)
	if err != nil {
		return fmt.Errorf("encode trigger conditions: %w", err)
	}
	actions, err := json.Marshal(wf.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}
	query := `INSERT INTO workflows (id, tenant_id, name, trigger_event_type, trigger_conditions,
			trigger_expression, actions, max_executions_per_day, execution_order, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, query,
		wf.ID, wf.TenantID, wf.Name, wf.TriggerEventType, string(conditions),
		wf.TriggerExpression, string(actions), nullInt(wf.MaxExecutionsPerDay),
		wf.ExecutionOrder, wf.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// ExecutionStore implements contracts.ExecutionRepository.
type ExecutionStore struct {
	db *sql.DB
}

func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

func (s *ExecutionStore) Insert(ctx context.Context, exec *contracts.WorkflowExecution) error {
	log, err := json.Marshal(exec.ExecutionLog)
	if err != nil {
		return fmt.Errorf("encode execution log: %w", err)
	}
	query := `INSERT INTO workflow_executions (id, tenant_id, workflow_id, triggered_by_event_id,
			triggered_by_subject_id, status, started_at, completed_at, actions_executed,
			actions_failed, execution_log, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, query,
		exec.ID, exec.TenantID, exec.WorkflowID, exec.TriggeredByEventID,
		exec.TriggeredBySubjectID, string(exec.Status), exec.StartedAt,
		nullTime(exec.CompletedAt), exec.ActionsExecuted, exec.ActionsFailed,
		string(log), exec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) Update(ctx context.Context, exec *contracts.WorkflowExecution) error {
	log, err := json.Marshal(exec.ExecutionLog)
	if err != nil {
		return fmt.Errorf("encode execution log: %w", err)
	}
	query := `UPDATE workflow_executions
		SET status = $1, completed_at = $2, actions_executed = $3, actions_failed = $4,
			execution_log = $5, error_message = $6
		WHERE id = $7 AND tenant_id = $8`
	_, err = s.db.ExecContext(ctx, query,
		string(exec.Status), nullTime(exec.CompletedAt), exec.ActionsExecuted,
		exec.ActionsFailed, string(log), exec.ErrorMessage,
		exec.ID, exec.TenantID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (s *ExecutionStore) CountForDay(ctx context.Context, workflowID, tenantID string, day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	query := `SELECT COUNT(*) FROM workflow_executions
		WHERE workflow_id = $1 AND tenant_id = $2 AND started_at >= $3 AND started_at < $4`
	var n int
	err := s.db.QueryRowContext(ctx, query, workflowID, tenantID, dayStart, dayEnd).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return n, nil
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

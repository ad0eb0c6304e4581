package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// TaskStore implements contracts.TaskRepository.
type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Create(ctx context.Context, task contracts.Task) (contracts.Task, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO tasks (id, tenant_id, title, description, subject_id,
			assigned_role, assigned_user_id, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.TenantID, task.Title, task.Description,
		nullString(task.SubjectID), nullString(task.AssignedRole),
		nullString(task.AssignedUserID), nullTime(task.DueAt), task.CreatedAt,
	)
	if err != nil {
		return contracts.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

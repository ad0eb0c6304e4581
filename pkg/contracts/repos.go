package contracts

import (
	"context"
	"time"
)

// ChronologicalQuery scopes a chronological event fetch.
type ChronologicalQuery struct {
	SubjectID string
	TenantID  string
	// AsOf bounds the fetch to events with event_time <= AsOf.
	AsOf *time.Time
	// AfterEventID skips events up to and including the given event. Used
	// for snapshot tail replay.
	AfterEventID *string
	// WorkflowInstanceID restricts the fetch to one workflow sub-stream.
	WorkflowInstanceID *string
}

// EventRepository is the append-only event store. Implementations must never
// expose update or delete operations.
type EventRepository interface {
	Insert(ctx context.Context, tenantID string, row EventToPersist) (Event, error)
	InsertBulk(ctx context.Context, tenantID string, rows []EventToPersist) ([]Event, error)

	ByID(ctx context.Context, id, tenantID string) (*Event, error)
	// LastEvent returns the subject's most recent event by event_time, or
	// nil when the stream is empty.
	LastEvent(ctx context.Context, subjectID, tenantID string) (*Event, error)
	// LastEvents returns the most recent event per subject in one query.
	// Subjects with no events map to nil.
	LastEvents(ctx context.Context, tenantID string, subjectIDs []string) (map[string]*Event, error)

	// Chronological returns events oldest-first within the query scope.
	Chronological(ctx context.Context, q ChronologicalQuery) ([]Event, error)

	// BySubject and ByTenant page newest-first for verification sweeps.
	BySubject(ctx context.Context, subjectID, tenantID string, offset, limit int) ([]Event, error)
	ByTenant(ctx context.Context, tenantID string, offset, limit int) ([]Event, error)
	CountByTenant(ctx context.Context, tenantID string) (int64, error)
}

// SubjectRepository resolves subject existence and pages tenant subjects.
type SubjectRepository interface {
	ByIDAndTenant(ctx context.Context, subjectID, tenantID string) (*Subject, error)
	ByTenant(ctx context.Context, tenantID string, offset, limit int) ([]Subject, error)
}

// SchemaRepository resolves versioned, tenant-scoped event schemas.
type SchemaRepository interface {
	ByVersion(ctx context.Context, tenantID, eventType string, schemaVersion int) (*EventSchema, error)
}

// TransitionRuleRepository resolves the single rule gating an event type.
type TransitionRuleRepository interface {
	RuleForEventType(ctx context.Context, tenantID, eventType string) (*TransitionRule, error)
}

// WorkflowRepository resolves active workflows by trigger event type,
// ordered by execution order.
type WorkflowRepository interface {
	ByTrigger(ctx context.Context, tenantID, eventType string) ([]WorkflowDefinition, error)
}

// ExecutionRepository persists workflow execution audit records.
type ExecutionRepository interface {
	Insert(ctx context.Context, exec *WorkflowExecution) error
	Update(ctx context.Context, exec *WorkflowExecution) error
	// CountForDay counts executions started within the UTC day containing
	// the given instant.
	CountForDay(ctx context.Context, workflowID, tenantID string, day time.Time) (int, error)
}

// SnapshotRepository persists the single live snapshot per subject.
type SnapshotRepository interface {
	LatestBySubject(ctx context.Context, subjectID, tenantID string) (*Snapshot, error)
	// Replace installs snap as the subject's live snapshot, discarding any
	// prior one.
	Replace(ctx context.Context, snap Snapshot) (Snapshot, error)
}

// TaskRepository creates task records for create_task workflow actions.
type TaskRepository interface {
	Create(ctx context.Context, task Task) (Task, error)
}

// RecipientResolver resolves notification recipients by role code.
type RecipientResolver interface {
	EmailsForRole(ctx context.Context, tenantID, roleCode string) ([]string, error)
}

// NotificationSink delivers workflow notifications.
type NotificationSink interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// LockManager provides named mutual exclusion. The daily workflow quota is
// checked-and-incremented under a lock scoped to (workflow, tenant, day).
type LockManager interface {
	// Acquire blocks until the named lock is held or ctx is done. The
	// returned release function must be called exactly once.
	Acquire(ctx context.Context, name string) (release func(), err error)
}

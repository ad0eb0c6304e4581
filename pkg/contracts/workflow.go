package contracts

import "time"

// Action type constants for WorkflowAction.Type.
const (
	ActionCreateEvent = "create_event"
	ActionNotify      = "notify"
	ActionCreateTask  = "create_task"
)

// WorkflowAction is one step of a workflow's ordered action list.
type WorkflowAction struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// WorkflowDefinition is tenant-defined automation fired by an event type.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type WorkflowDefinition struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`

	TriggerEventType string `json:"trigger_event_type"`

	// TriggerConditions maps "payload.<field>" to a required value.
	// Empty means the workflow fires unconditionally on its trigger type.
	TriggerConditions map[string]any `json:"trigger_conditions,omitempty"`

	// TriggerExpression is an optional CEL expression over the variables
	// `event` and `payload`; when set it must also evaluate to true.
	TriggerExpression string `json:"trigger_expression,omitempty"`

	Actions []WorkflowAction `json:"actions"`

	// MaxExecutionsPerDay bounds executions per UTC day. Nil means unbounded.
	MaxExecutionsPerDay *int `json:"max_executions_per_day,omitempty"`

	// ExecutionOrder breaks ties when multiple workflows match one event.
	ExecutionOrder int  `json:"execution_order"`
	IsActive       bool `json:"is_active"`
}

// ExecutionStatus are the lifecycle states of a WorkflowExecution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ActionOutcome records the result of one executed action.
type ActionOutcome struct {
	Action string `json:"action"`
	Status string `json:"status"` // "success", "failed" or "skipped"
	Detail string `json:"detail,omitempty"`
	// EventID is set when a create_event action appended an event.
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Action outcome status constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// WorkflowExecution is the audit record of one (workflow, triggering event)
// run. Immutable once completed or failed.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type WorkflowExecution struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenant_id"`
	WorkflowID           string          `json:"workflow_id"`
	TriggeredByEventID   string          `json:"triggered_by_event_id"`
	TriggeredBySubjectID string          `json:"triggered_by_subject_id"`
	Status               ExecutionStatus `json:"status"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	ActionsExecuted      int             `json:"actions_executed"`
	ActionsFailed        int             `json:"actions_failed"`
	ExecutionLog         []ActionOutcome `json:"execution_log,omitempty"`
	ErrorMessage         string          `json:"error_message,omitempty"`
}

// Task is a work item created by a create_task workflow action. Task
// management beyond creation lives outside this core.
type Task struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	SubjectID      *string    `json:"subject_id,omitempty"`
	AssignedRole   *string    `json:"assigned_role,omitempty"`
	AssignedUserID *string    `json:"assigned_user_id,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

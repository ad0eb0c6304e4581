package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// ActionContext carries the triggering event into action handlers.
type ActionContext struct {
	TenantID string
	Event    contracts.Event
}

// ActionHandler executes one workflow action kind. Handlers report their
// outcome rather than returning errors: the engine records outcomes per
// action and continues with the remainder of the list.
type ActionHandler interface {
	Execute(ctx context.Context, action contracts.WorkflowAction, ac ActionContext) contracts.ActionOutcome
}

// Appender is the slice of the ledger the create_event action needs.
type Appender interface {
	Append(ctx context.Context, tenantID string, cmd contracts.CreateEventCommand, triggerWorkflows bool) (contracts.Event, error)
}

// TemplateRenderer renders a named notification template with the
// triggering event, its payload, and action-supplied data.
type TemplateRenderer interface {
	Render(key string, event contracts.Event, payload, data map[string]any) (subject, body string, err error)
}

// CreateEventHandler appends a follow-up event to the triggering subject's
// stream. It re-enters the ledger with triggering disabled, which is what
// keeps workflow-driven write amplification bounded.
type CreateEventHandler struct {
	appender Appender
	clock    func() time.Time
}

// NewCreateEventHandler wires the ledger slice. clock may be nil.
func NewCreateEventHandler(appender Appender, clock func() time.Time) *CreateEventHandler {
	if clock == nil {
		clock = time.Now
	}
	return &CreateEventHandler{appender: appender, clock: clock}
}

func (h *CreateEventHandler) Execute(ctx context.Context, action contracts.WorkflowAction, ac ActionContext) contracts.ActionOutcome {
	eventType, _ := action.Params["event_type"].(string)
	if eventType == "" {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  "create_event requires params.event_type",
		}
	}

	schemaVersion := 1
	if v, ok := numeric(action.Params["schema_version"]); ok {
		schemaVersion = int(v)
	}
	payload, _ := action.Params["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	created, err := h.appender.Append(ctx, ac.TenantID, contracts.CreateEventCommand{
		SubjectID:     ac.Event.SubjectID,
		EventType:     eventType,
		SchemaVersion: schemaVersion,
		EventTime:     h.clock().UTC(),
		Payload:       payload,
		CorrelationID: &ac.Event.ID,
	}, false)
	if err != nil {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  err.Error(),
		}
	}
	return contracts.ActionOutcome{
		Action:  action.Type,
		Status:  contracts.OutcomeSuccess,
		EventID: created.ID,
	}
}

// NotifyHandler resolves recipients by role code, renders a named template
// and hands the message to the notification sink. Missing recipients are a
// skip, not a failure.
type NotifyHandler struct {
	recipients contracts.RecipientResolver
	renderer   TemplateRenderer
	sink       contracts.NotificationSink
	log        *slog.Logger
}

// NewNotifyHandler wires the notify collaborators.
func NewNotifyHandler(
	recipients contracts.RecipientResolver,
	renderer TemplateRenderer,
	sink contracts.NotificationSink,
) *NotifyHandler {
	return &NotifyHandler{
		recipients: recipients,
		renderer:   renderer,
		sink:       sink,
		log:        slog.Default().With("component", "workflow"),
	}
}

func (h *NotifyHandler) Execute(ctx context.Context, action contracts.WorkflowAction, ac ActionContext) contracts.ActionOutcome {
	roleCode, _ := action.Params["role_code"].(string)
	templateKey, _ := action.Params["template"].(string)
	if roleCode == "" || templateKey == "" {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  "notify requires params.role_code and params.template",
		}
	}

	emails, err := h.recipients.EmailsForRole(ctx, ac.TenantID, roleCode)
	if err != nil {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  fmt.Sprintf("resolve recipients: %v", err),
		}
	}
	if len(emails) == 0 {
		h.log.Info("notify action skipped: no recipients",
			"tenant_id", ac.TenantID, "role_code", roleCode)
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeSkipped,
			Detail: fmt.Sprintf("no recipients for role %q", roleCode),
		}
	}

	data, _ := action.Params["data"].(map[string]any)
	subject, body, err := h.renderer.Render(templateKey, ac.Event, ac.Event.Payload, data)
	if err != nil {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  fmt.Sprintf("render template: %v", err),
		}
	}

	if err := h.sink.Send(ctx, emails, subject, body); err != nil {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  fmt.Sprintf("send notification: %v", err),
		}
	}
	return contracts.ActionOutcome{
		Action: action.Type,
		Status: contracts.OutcomeSuccess,
		Detail: fmt.Sprintf("notified %d recipient(s)", len(emails)),
	}
}

// CreateTaskHandler creates a task record assigned to a role or user.
type CreateTaskHandler struct {
	tasks contracts.TaskRepository
	clock func() time.Time
}

// NewCreateTaskHandler wires the task repository. clock may be nil.
func NewCreateTaskHandler(tasks contracts.TaskRepository, clock func() time.Time) *CreateTaskHandler {
	if clock == nil {
		clock = time.Now
	}
	return &CreateTaskHandler{tasks: tasks, clock: clock}
}

func (h *CreateTaskHandler) Execute(ctx context.Context, action contracts.WorkflowAction, ac ActionContext) contracts.ActionOutcome {
	title, _ := action.Params["title"].(string)
	if title == "" {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  "create_task requires params.title",
		}
	}

	task := contracts.Task{
		TenantID:  ac.TenantID,
		Title:     title,
		SubjectID: &ac.Event.SubjectID,
		CreatedAt: h.clock().UTC(),
	}
	if desc, ok := action.Params["description"].(string); ok {
		task.Description = desc
	}
	if role, ok := action.Params["assigned_role"].(string); ok && role != "" {
		task.AssignedRole = &role
	}
	if userID, ok := action.Params["assigned_user_id"].(string); ok && userID != "" {
		task.AssignedUserID = &userID
	}

	created, err := h.tasks.Create(ctx, task)
	if err != nil {
		return contracts.ActionOutcome{
			Action: action.Type,
			Status: contracts.OutcomeFailed,
			Error:  err.Error(),
		}
	}
	return contracts.ActionOutcome{
		Action: action.Type,
		Status: contracts.OutcomeSuccess,
		Detail: fmt.Sprintf("task %s created", created.ID),
	}
}

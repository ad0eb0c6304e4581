package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidentry/evidentry/pkg/contracts"
	"github.com/evidentry/evidentry/pkg/store/memory"
)

// fakeAppender records the append the create_event handler performs.
type fakeAppender struct {
	tenantID  string
	cmd       contracts.CreateEventCommand
	triggered bool
	err       error
}

func (a *fakeAppender) Append(_ context.Context, tenantID string, cmd contracts.CreateEventCommand, triggerWorkflows bool) (contracts.Event, error) {
	a.tenantID = tenantID
	a.cmd = cmd
	a.triggered = triggerWorkflows
	if a.err != nil {
		return contracts.Event{}, a.err
	}
	return contracts.Event{ID: "created-1", SubjectID: cmd.SubjectID, EventType: cmd.EventType}, nil
}

type fakeSink struct {
	recipients []string
	subject    string
	body       string
	err        error
}

func (s *fakeSink) Send(_ context.Context, recipients []string, subject, body string) error {
	s.recipients = recipients
	s.subject = subject
	s.body = body
	return s.err
}

type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(key string, event contracts.Event, _, _ map[string]any) (string, string, error) {
	if r.err != nil {
		return "", "", r.err
	}
	return "subject for " + key, "body about " + event.EventType, nil
}

func actionContext() ActionContext {
	return ActionContext{
		TenantID: wfTenant,
		Event: contracts.Event{
			ID:        "ev-1",
			TenantID:  wfTenant,
			SubjectID: "subj-1",
			EventType: "claim_filed",
			Payload:   map[string]any{"amount": 5000.0},
		},
	}
}

func TestCreateEventHandlerAppendsFollowUp(t *testing.T) {
	appender := &fakeAppender{}
	clock := func() time.Time { return time.Date(2026, 7, 3, 12, 0, 0, 0, time.UTC) }
	h := NewCreateEventHandler(appender, clock)

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type: contracts.ActionCreateEvent,
		Params: map[string]any{
			"event_type":     "claim_flagged",
			"schema_version": float64(2),
			"payload":        map[string]any{"reason": "auto"},
		},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeSuccess, outcome.Status)
	assert.Equal(t, "created-1", outcome.EventID)
	assert.Equal(t, wfTenant, appender.tenantID)
	assert.Equal(t, "subj-1", appender.cmd.SubjectID)
	assert.Equal(t, "claim_flagged", appender.cmd.EventType)
	assert.Equal(t, 2, appender.cmd.SchemaVersion)
	assert.Equal(t, map[string]any{"reason": "auto"}, appender.cmd.Payload)
	require.NotNil(t, appender.cmd.CorrelationID)
	assert.Equal(t, "ev-1", *appender.cmd.CorrelationID)
	// Follow-up events must never trigger further workflows.
	assert.False(t, appender.triggered)
}

func TestCreateEventHandlerRequiresEventType(t *testing.T) {
	h := NewCreateEventHandler(&fakeAppender{}, nil)
	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionCreateEvent,
		Params: map[string]any{},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "event_type")
}

func TestCreateEventHandlerReportsAppendFailure(t *testing.T) {
	appender := &fakeAppender{err: errors.New("stream rejected")}
	h := NewCreateEventHandler(appender, nil)

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionCreateEvent,
		Params: map[string]any{"event_type": "claim_flagged"},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "stream rejected")
}

func TestNotifyHandlerSendsToRole(t *testing.T) {
	recipients := memory.NewRecipientStore()
	recipients.SetRole(wfTenant, "adjuster", []string{"a@example.com", "b@example.com"})
	sink := &fakeSink{}
	h := NewNotifyHandler(recipients, &fakeRenderer{}, sink)

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionNotify,
		Params: map[string]any{"role_code": "adjuster", "template": "high_value_claim"},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeSuccess, outcome.Status)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sink.recipients)
	assert.Equal(t, "subject for high_value_claim", sink.subject)
	assert.Equal(t, "body about claim_filed", sink.body)
}

func TestNotifyHandlerSkipsWhenNoRecipients(t *testing.T) {
	sink := &fakeSink{}
	h := NewNotifyHandler(memory.NewRecipientStore(), &fakeRenderer{}, sink)

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionNotify,
		Params: map[string]any{"role_code": "ghost", "template": "high_value_claim"},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeSkipped, outcome.Status)
	assert.Empty(t, sink.recipients)
}

func TestNotifyHandlerRequiresParams(t *testing.T) {
	h := NewNotifyHandler(memory.NewRecipientStore(), &fakeRenderer{}, &fakeSink{})

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionNotify,
		Params: map[string]any{"role_code": "adjuster"},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeFailed, outcome.Status)
}

func TestNotifyHandlerReportsRenderFailure(t *testing.T) {
	recipients := memory.NewRecipientStore()
	recipients.SetRole(wfTenant, "adjuster", []string{"a@example.com"})
	h := NewNotifyHandler(recipients, &fakeRenderer{err: errors.New("no such template")}, &fakeSink{})

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionNotify,
		Params: map[string]any{"role_code": "adjuster", "template": "missing"},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "no such template")
}

func TestCreateTaskHandlerCreatesAssignedTask(t *testing.T) {
	tasks := memory.NewTaskStore()
	clock := func() time.Time { return time.Date(2026, 7, 3, 12, 0, 0, 0, time.UTC) }
	h := NewCreateTaskHandler(tasks, clock)

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type: contracts.ActionCreateTask,
		Params: map[string]any{
			"title":         "Review claim",
			"description":   "Flagged by automation",
			"assigned_role": "adjuster",
		},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeSuccess, outcome.Status)
	all := tasks.All()
	require.Len(t, all, 1)
	task := all[0]
	assert.Equal(t, "Review claim", task.Title)
	assert.Equal(t, "Flagged by automation", task.Description)
	require.NotNil(t, task.SubjectID)
	assert.Equal(t, "subj-1", *task.SubjectID)
	require.NotNil(t, task.AssignedRole)
	assert.Equal(t, "adjuster", *task.AssignedRole)
	assert.Equal(t, clock(), task.CreatedAt)
}

func TestCreateTaskHandlerRequiresTitle(t *testing.T) {
	tasks := memory.NewTaskStore()
	h := NewCreateTaskHandler(tasks, nil)

	outcome := h.Execute(context.Background(), contracts.WorkflowAction{
		Type:   contracts.ActionCreateTask,
		Params: map[string]any{},
	}, actionContext())

	assert.Equal(t, contracts.OutcomeFailed, outcome.Status)
	assert.Empty(t, tasks.All())
}

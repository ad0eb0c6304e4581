package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidentry/evidentry/pkg/contracts"
	"github.com/evidentry/evidentry/pkg/store"
	"github.com/evidentry/evidentry/pkg/store/memory"
)

const wfTenant = "tenant-1"

type engineFixture struct {
	workflows  *memory.WorkflowStore
	executions *memory.ExecutionStore
	engine     *Engine
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		workflows:  memory.NewWorkflowStore(),
		executions: memory.NewExecutionStore(),
	}
	engine, err := NewEngine(f.workflows, f.executions, store.NewMemoryLockManager(), opts...)
	require.NoError(t, err)
	f.engine = engine
	return f
}

func triggeringEvent(eventType string, payload map[string]any) contracts.Event {
	return contracts.Event{
		ID:            "ev-1",
		TenantID:      wfTenant,
		SubjectID:     "subj-1",
		EventType:     eventType,
		SchemaVersion: 1,
		EventTime:     time.Date(2026, 7, 3, 8, 0, 0, 0, time.UTC),
		Payload:       payload,
	}
}

func baseWorkflow(id string) contracts.WorkflowDefinition {
	return contracts.WorkflowDefinition{
		ID:               id,
		TenantID:         wfTenant,
		Name:             "wf " + id,
		TriggerEventType: "claim_filed",
		IsActive:         true,
	}
}

// recordingHandler counts executions and returns a fixed outcome.
type recordingHandler struct {
	calls   int
	actions []contracts.WorkflowAction
	outcome contracts.ActionOutcome
}

func (h *recordingHandler) Execute(_ context.Context, action contracts.WorkflowAction, _ ActionContext) contracts.ActionOutcome {
	h.calls++
	h.actions = append(h.actions, action)
	out := h.outcome
	out.Action = action.Type
	if out.Status == "" {
		out.Status = contracts.OutcomeSuccess
	}
	return out
}

type panickingHandler struct{}

func (panickingHandler) Execute(context.Context, contracts.WorkflowAction, ActionContext) contracts.ActionOutcome {
	panic("handler exploded")
}

func TestProcessEventTriggersNoMatches(t *testing.T) {
	f := newEngineFixture(t)
	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestMatchingWorkflowRunsActionsInOrder(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("create_task", handler))

	wf := baseWorkflow("wf-1")
	wf.Actions = []contracts.WorkflowAction{
		{Type: "create_task", Params: map[string]any{"title": "first"}},
		{Type: "create_task", Params: map[string]any{"title": "second"}},
	}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, contracts.ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, exec.ActionsExecuted)
	assert.Zero(t, exec.ActionsFailed)
	require.NotNil(t, exec.CompletedAt)
	require.Equal(t, 2, handler.calls)
	assert.Equal(t, "first", handler.actions[0].Params["title"])
	assert.Equal(t, "second", handler.actions[1].Params["title"])
}

func TestWorkflowsRunInExecutionOrder(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("create_task", handler))

	second := baseWorkflow("wf-late")
	second.ExecutionOrder = 10
	second.Actions = []contracts.WorkflowAction{{Type: "create_task", Params: map[string]any{"title": "late"}}}
	first := baseWorkflow("wf-early")
	first.ExecutionOrder = 1
	first.Actions = []contracts.WorkflowAction{{Type: "create_task", Params: map[string]any{"title": "early"}}}
	f.workflows.Add(second)
	f.workflows.Add(first)

	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, "wf-early", execs[0].WorkflowID)
	assert.Equal(t, "wf-late", execs[1].WorkflowID)
}

func TestPayloadConditionsGateMatching(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("create_task", handler))

	wf := baseWorkflow("wf-1")
	wf.TriggerConditions = map[string]any{"payload.severity": "high"}
	wf.Actions = []contracts.WorkflowAction{{Type: "create_task"}}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(),
		triggeringEvent("claim_filed", map[string]any{"severity": "low"}), wfTenant)
	require.NoError(t, err)
	assert.Empty(t, execs)

	execs, err = f.engine.ProcessEventTriggers(context.Background(),
		triggeringEvent("claim_filed", map[string]any{"severity": "high"}), wfTenant)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestNumericConditionsNormalize(t *testing.T) {
	f := newEngineFixture(t)
	wf := baseWorkflow("wf-1")
	// Stored as int in the definition, arrives as float64 after a JSON
	// round-trip.
	wf.TriggerConditions = map[string]any{"payload.priority": 3}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(),
		triggeringEvent("claim_filed", map[string]any{"priority": float64(3)}), wfTenant)
	require.NoError(t, err)
	assert.Len(t, execs, 1)
}

func TestUnknownConditionKeyFailsClosed(t *testing.T) {
	f := newEngineFixture(t)
	wf := baseWorkflow("wf-1")
	wf.TriggerConditions = map[string]any{"header.severity": "high"}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(),
		triggeringEvent("claim_filed", map[string]any{"severity": "high"}), wfTenant)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestTriggerExpression(t *testing.T) {
	cases := []struct {
		name    string
		expr    string
		payload map[string]any
		fires   bool
	}{
		{"true", `payload.amount > 1000.0`, map[string]any{"amount": 5000.0}, true},
		{"false", `payload.amount > 1000.0`, map[string]any{"amount": 10.0}, false},
		{"non-boolean fails closed", `payload.amount`, map[string]any{"amount": 10.0}, false},
		{"compile error fails closed", `payload.amount >`, map[string]any{"amount": 10.0}, false},
		{"missing key fails closed", `payload.amount > 1000.0`, map[string]any{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEngineFixture(t)
			wf := baseWorkflow("wf-1")
			wf.TriggerExpression = tc.expr
			f.workflows.Add(wf)

			execs, err := f.engine.ProcessEventTriggers(context.Background(),
				triggeringEvent("claim_filed", tc.payload), wfTenant)
			require.NoError(t, err)
			if tc.fires {
				assert.Len(t, execs, 1)
			} else {
				assert.Empty(t, execs)
			}
		})
	}
}

func TestUnknownActionTypeIsSkipped(t *testing.T) {
	f := newEngineFixture(t)
	wf := baseWorkflow("wf-1")
	wf.Actions = []contracts.WorkflowAction{{Type: "launch_rocket"}}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, contracts.ExecutionCompleted, exec.Status)
	assert.Zero(t, exec.ActionsExecuted)
	require.Len(t, exec.ExecutionLog, 1)
	assert.Equal(t, contracts.OutcomeSkipped, exec.ExecutionLog[0].Status)
}

func TestFailedActionDoesNotAbortRemainder(t *testing.T) {
	failing := &recordingHandler{outcome: contracts.ActionOutcome{Status: contracts.OutcomeFailed, Error: "boom"}}
	succeeding := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("notify", failing), WithHandler("create_task", succeeding))

	wf := baseWorkflow("wf-1")
	wf.Actions = []contracts.WorkflowAction{{Type: "notify"}, {Type: "create_task"}}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, contracts.ExecutionCompleted, exec.Status)
	assert.Equal(t, 1, exec.ActionsExecuted)
	assert.Equal(t, 1, exec.ActionsFailed)
	assert.Equal(t, 1, succeeding.calls)
}

func TestPanickingActionFailsExecutionKeepingLog(t *testing.T) {
	before := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("create_task", before), WithHandler("notify", panickingHandler{}))

	wf := baseWorkflow("wf-1")
	wf.Actions = []contracts.WorkflowAction{{Type: "create_task"}, {Type: "notify"}}
	f.workflows.Add(wf)

	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, contracts.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "handler exploded")
	require.NotNil(t, exec.CompletedAt)
	// Work done before the panic stays on the record.
	require.Len(t, exec.ExecutionLog, 1)
	assert.Equal(t, 1, exec.ActionsExecuted)
}

func TestDailyQuotaLimitsExecutions(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("create_task", handler))

	maxPerDay := 2
	wf := baseWorkflow("wf-1")
	wf.MaxExecutionsPerDay = &maxPerDay
	wf.Actions = []contracts.WorkflowAction{{Type: "create_task"}}
	f.workflows.Add(wf)

	event := triggeringEvent("claim_filed", nil)
	for i := 0; i < 2; i++ {
		execs, err := f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
		require.NoError(t, err)
		require.Len(t, execs, 1)
		assert.Equal(t, contracts.ExecutionCompleted, execs[0].Status)
	}

	execs, err := f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.Equal(t, contracts.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "rate limit exceeded")
	assert.Empty(t, exec.ExecutionLog)
	assert.Equal(t, 2, handler.calls)

	// The refusal itself is audited.
	all := f.executions.All()
	assert.Len(t, all, 3)
}

func TestDefaultDailyQuotaAppliesWhenWorkflowSetsNone(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t,
		WithHandler("create_task", handler),
		WithDefaultDailyQuota(1))

	wf := baseWorkflow("wf-1")
	wf.Actions = []contracts.WorkflowAction{{Type: "create_task"}}
	f.workflows.Add(wf)

	event := triggeringEvent("claim_filed", nil)
	execs, err := f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
	require.NoError(t, err)
	require.Equal(t, contracts.ExecutionCompleted, execs[0].Status)

	execs, err = f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionFailed, execs[0].Status)
	assert.Contains(t, execs[0].ErrorMessage, "rate limit exceeded")
	assert.Equal(t, 1, handler.calls)
}

func TestWorkflowQuotaOverridesEngineDefault(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t,
		WithHandler("create_task", handler),
		WithDefaultDailyQuota(1))

	maxPerDay := 2
	wf := baseWorkflow("wf-1")
	wf.MaxExecutionsPerDay = &maxPerDay
	wf.Actions = []contracts.WorkflowAction{{Type: "create_task"}}
	f.workflows.Add(wf)

	event := triggeringEvent("claim_filed", nil)
	for i := 0; i < 2; i++ {
		execs, err := f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
		require.NoError(t, err)
		assert.Equal(t, contracts.ExecutionCompleted, execs[0].Status)
	}
	assert.Equal(t, 2, handler.calls)
}

func TestQuotaCountsResetAcrossDays(t *testing.T) {
	handler := &recordingHandler{}
	now := time.Date(2026, 7, 3, 23, 0, 0, 0, time.UTC)
	f := newEngineFixture(t,
		WithHandler("create_task", handler),
		WithClock(func() time.Time { return now }))

	maxPerDay := 1
	wf := baseWorkflow("wf-1")
	wf.MaxExecutionsPerDay = &maxPerDay
	wf.Actions = []contracts.WorkflowAction{{Type: "create_task"}}
	f.workflows.Add(wf)

	event := triggeringEvent("claim_filed", nil)
	execs, err := f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
	require.NoError(t, err)
	require.Equal(t, contracts.ExecutionCompleted, execs[0].Status)

	now = now.Add(2 * time.Hour) // past midnight UTC
	execs, err = f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
	require.NoError(t, err)
	assert.Equal(t, contracts.ExecutionCompleted, execs[0].Status)
}

func TestTenantIsolation(t *testing.T) {
	handler := &recordingHandler{}
	f := newEngineFixture(t, WithHandler("create_task", handler))

	other := baseWorkflow("wf-other")
	other.TenantID = "tenant-2"
	other.Actions = []contracts.WorkflowAction{{Type: "create_task"}}
	f.workflows.Add(other)

	execs, err := f.engine.ProcessEventTriggers(context.Background(), triggeringEvent("claim_filed", nil), wfTenant)
	require.NoError(t, err)
	assert.Empty(t, execs)
	assert.Zero(t, handler.calls)
}

func TestExecutionRecordIdentifiesTrigger(t *testing.T) {
	f := newEngineFixture(t)
	wf := baseWorkflow("wf-1")
	f.workflows.Add(wf)

	event := triggeringEvent("claim_filed", nil)
	execs, err := f.engine.ProcessEventTriggers(context.Background(), event, wfTenant)
	require.NoError(t, err)
	require.Len(t, execs, 1)

	exec := execs[0]
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, wf.ID, exec.WorkflowID)
	assert.Equal(t, event.ID, exec.TriggeredByEventID)
	assert.Equal(t, event.SubjectID, exec.TriggeredBySubjectID)
	assert.Equal(t, wfTenant, exec.TenantID)
}

// Package workflow matches newly appended events against tenant-defined
// triggers and executes their action lists. Executions are fire-and-forget
// from the appending caller's point of view but fully recorded for audit.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// EngineMetrics receives execution outcomes. Implementations must not block.
type EngineMetrics interface {
	WorkflowExecuted(tenantID string, status contracts.ExecutionStatus)
}

// Engine finds and runs workflows for an event.
type Engine struct {
	workflows  contracts.WorkflowRepository
	executions contracts.ExecutionRepository
	locks      contracts.LockManager
	handlers   map[string]ActionHandler
	conditions *conditionEvaluator
	metrics    EngineMetrics // optional
	clock      func() time.Time
	log        *slog.Logger

	// defaultDailyQuota caps executions per UTC day for workflows that set
	// no MaxExecutionsPerDay of their own. Zero leaves them unbounded.
	defaultDailyQuota int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithHandler registers an action handler for the given action type.
func WithHandler(actionType string, h ActionHandler) EngineOption {
	return func(e *Engine) { e.handlers[actionType] = h }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithEngineMetrics attaches an execution metrics sink.
func WithEngineMetrics(m EngineMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithDefaultDailyQuota applies a fallback daily execution cap to workflows
// that define none.
func WithDefaultDailyQuota(n int) EngineOption {
	return func(e *Engine) { e.defaultDailyQuota = n }
}

// NewEngine constructs an Engine. Handlers for the built-in action types
// are registered via WithHandler; events carrying unregistered action types
// are skipped, never failed.
func NewEngine(
	workflows contracts.WorkflowRepository,
	executions contracts.ExecutionRepository,
	locks contracts.LockManager,
	opts ...EngineOption,
) (*Engine, error) {
	conditions, err := newConditionEvaluator()
	if err != nil {
		return nil, fmt.Errorf("init condition evaluator: %w", err)
	}
	e := &Engine{
		workflows:  workflows,
		executions: executions,
		locks:      locks,
		handlers:   make(map[string]ActionHandler),
		conditions: conditions,
		clock:      time.Now,
		log:        slog.Default().With("component", "workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ProcessEventTriggers runs every matching workflow for the event. Matching
// workflows execute independently; one workflow's failure never blocks the
// next.
func (e *Engine) ProcessEventTriggers(
	ctx context.Context,
	event contracts.Event,
	tenantID string,
) ([]contracts.WorkflowExecution, error) {
	matches, err := e.workflows.ByTrigger(ctx, tenantID, event.EventType)
	if err != nil {
		return nil, fmt.Errorf("load workflows: %w", err)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].ExecutionOrder < matches[j].ExecutionOrder
	})

	var executions []contracts.WorkflowExecution
	for _, wf := range matches {
		if !wf.IsActive {
			continue
		}
		if !e.conditions.Matches(wf, event, e.log) {
			continue
		}
		exec := e.executeWorkflow(ctx, wf, event)
		executions = append(executions, exec)
		if e.metrics != nil {
			e.metrics.WorkflowExecuted(tenantID, exec.Status)
		}
	}
	return executions, nil
}

// executeWorkflow enforces the daily quota, then runs the action list and
// finalizes the execution record.
func (e *Engine) executeWorkflow(
	ctx context.Context,
	wf contracts.WorkflowDefinition,
	event contracts.Event,
) contracts.WorkflowExecution {
	now := e.clock().UTC()
	exec := contracts.WorkflowExecution{
		ID:                   uuid.New().String(),
		TenantID:             wf.TenantID,
		WorkflowID:           wf.ID,
		TriggeredByEventID:   event.ID,
		TriggeredBySubjectID: event.SubjectID,
		StartedAt:            now,
	}

	if quota, capped := e.dailyQuota(wf); capped {
		allowed, err := e.admitUnderQuota(ctx, wf, quota, &exec, now)
		if err != nil || !allowed {
			return exec
		}
	} else {
		exec.Status = contracts.ExecutionRunning
		if err := e.executions.Insert(ctx, &exec); err != nil {
			e.failExecution(ctx, &exec, fmt.Sprintf("record execution: %v", err), false)
			return exec
		}
	}

	e.runActions(ctx, wf, event, &exec)
	return exec
}

// dailyQuota resolves the effective execution cap for a workflow. A cap the
// workflow sets itself always wins, even zero; otherwise the engine default
// applies when one is configured.
func (e *Engine) dailyQuota(wf contracts.WorkflowDefinition) (int, bool) {
	if wf.MaxExecutionsPerDay != nil {
		return *wf.MaxExecutionsPerDay, true
	}
	if e.defaultDailyQuota > 0 {
		return e.defaultDailyQuota, true
	}
	return 0, false
}

// admitUnderQuota atomically checks today's execution count and inserts the
// running execution row while holding the named lock. Holding the lock
// across the insert closes the check-then-act race between concurrent
// triggers of the same workflow.
func (e *Engine) admitUnderQuota(
	ctx context.Context,
	wf contracts.WorkflowDefinition,
	quota int,
	exec *contracts.WorkflowExecution,
	now time.Time,
) (bool, error) {
	lockName := fmt.Sprintf("workflow-quota:%s:%s:%s", wf.ID, wf.TenantID, now.Format("2006-01-02"))
	release, err := e.locks.Acquire(ctx, lockName)
	if err != nil {
		e.failExecution(ctx, exec, fmt.Sprintf("acquire quota lock: %v", err), true)
		return false, err
	}
	defer release()

	count, err := e.executions.CountForDay(ctx, wf.ID, wf.TenantID, now)
	if err != nil {
		e.failExecution(ctx, exec, fmt.Sprintf("count executions: %v", err), true)
		return false, err
	}
	if count >= quota {
		msg := fmt.Sprintf("rate limit exceeded: max_executions_per_day (%d) reached for today",
			quota)
		e.failExecution(ctx, exec, msg, true)
		return false, nil
	}

	exec.Status = contracts.ExecutionRunning
	if err := e.executions.Insert(ctx, exec); err != nil {
		e.failExecution(ctx, exec, fmt.Sprintf("record execution: %v", err), false)
		return false, err
	}
	return true, nil
}

// runActions executes the ordered action list. Per-action failures are
// recorded and do not abort the remainder; an unexpected panic marks the
// execution failed while preserving the work already done.
func (e *Engine) runActions(
	ctx context.Context,
	wf contracts.WorkflowDefinition,
	event contracts.Event,
	exec *contracts.WorkflowExecution,
) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("workflow execution panicked",
				"workflow_id", wf.ID, "tenant_id", wf.TenantID, "panic", r)
			exec.Status = contracts.ExecutionFailed
			exec.ErrorMessage = fmt.Sprintf("unexpected error: %v", r)
			e.finalize(ctx, exec)
		}
	}()

	ac := ActionContext{TenantID: wf.TenantID, Event: event}
	for _, action := range wf.Actions {
		handler, ok := e.handlers[action.Type]
		if !ok {
			exec.ExecutionLog = append(exec.ExecutionLog, contracts.ActionOutcome{
				Action: action.Type,
				Status: contracts.OutcomeSkipped,
				Detail: fmt.Sprintf("unknown action type %q", action.Type),
			})
			continue
		}
		outcome := handler.Execute(ctx, action, ac)
		exec.ExecutionLog = append(exec.ExecutionLog, outcome)
		switch outcome.Status {
		case contracts.OutcomeSuccess:
			exec.ActionsExecuted++
		case contracts.OutcomeFailed:
			exec.ActionsFailed++
		}
	}

	exec.Status = contracts.ExecutionCompleted
	e.finalize(ctx, exec)
}

// failExecution records a terminal failed execution. insertRow is false
// when the row was already inserted and only needs updating.
func (e *Engine) failExecution(ctx context.Context, exec *contracts.WorkflowExecution, msg string, insertRow bool) {
	exec.Status = contracts.ExecutionFailed
	exec.ErrorMessage = msg
	completed := e.clock().UTC()
	exec.CompletedAt = &completed
	var err error
	if insertRow {
		err = e.executions.Insert(ctx, exec)
	} else {
		err = e.executions.Update(ctx, exec)
	}
	if err != nil {
		e.log.Error("record failed execution",
			"workflow_id", exec.WorkflowID, "execution_id", exec.ID, "error", err)
	}
}

func (e *Engine) finalize(ctx context.Context, exec *contracts.WorkflowExecution) {
	completed := e.clock().UTC()
	exec.CompletedAt = &completed
	if err := e.executions.Update(ctx, exec); err != nil {
		e.log.Error("finalize execution",
			"workflow_id", exec.WorkflowID, "execution_id", exec.ID, "error", err)
	}
}

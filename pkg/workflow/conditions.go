package workflow

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// conditionEvaluator decides whether a workflow fires for an event. Field
// conditions are exact-match on "payload.<field>" keys; unknown keys fail
// closed. An optional CEL expression over `event` and `payload` must also
// evaluate to true; compile or evaluation errors fail closed as well.
type conditionEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.DynType),
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	return &conditionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

func (c *conditionEvaluator) Matches(wf contracts.WorkflowDefinition, event contracts.Event, log *slog.Logger) bool {
	for key, expected := range wf.TriggerConditions {
		field, ok := strings.CutPrefix(key, "payload.")
		if !ok {
			log.Warn("unknown trigger condition key, failing closed",
				"workflow_id", wf.ID, "key", key)
			return false
		}
		actual, present := event.Payload[field]
		if !present || !conditionEqual(actual, expected) {
			return false
		}
	}

	if wf.TriggerExpression == "" {
		return true
	}
	matched, err := c.evaluate(wf.TriggerExpression, event)
	if err != nil {
		log.Warn("trigger expression error, failing closed",
			"workflow_id", wf.ID, "error", err)
		return false
	}
	return matched
}

func (c *conditionEvaluator) evaluate(expr string, event contracts.Event) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"event": map[string]any{
			"id":             event.ID,
			"subject_id":     event.SubjectID,
			"event_type":     event.EventType,
			"schema_version": event.SchemaVersion,
		},
		"payload": payloadOrEmpty(event.Payload),
	})
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

func (c *conditionEvaluator) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.programs[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, err
	}
	c.programs[expr] = prg
	return prg, nil
}

// conditionEqual compares payload values structurally; numbers normalize to
// float64 because payloads round-trip through JSON.
func conditionEqual(a, b any) bool {
	if af, ok := numeric(a); ok {
		bf, ok := numeric(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func payloadOrEmpty(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

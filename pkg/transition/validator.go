// Package transition enforces sequencing rules that gate when an event type
// may be appended to a subject's stream.
package transition

import (
	"context"
	"fmt"
	"reflect"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// Validator checks a tenant's transition rule for an event type against the
// subject's chronological history. Rules are read-only here; administration
// lives outside the core.
type Validator struct {
	rules  contracts.TransitionRuleRepository
	events contracts.EventRepository
}

// NewValidator wires the rule and event repositories.
func NewValidator(rules contracts.TransitionRuleRepository, events contracts.EventRepository) *Validator {
	return &Validator{rules: rules, events: events}
}

// ValidateCanEmit returns a TransitionViolationError when the rule for
// eventType blocks an append. workflowInstanceID, when non-nil, scopes the
// history to one workflow sub-stream. No rule configured means the append
// always passes.
func (v *Validator) ValidateCanEmit(
	ctx context.Context,
	tenantID, subjectID, eventType string,
	workflowInstanceID *string,
) error {
	rule, err := v.rules.RuleForEventType(ctx, tenantID, eventType)
	if err != nil {
		return fmt.Errorf("load transition rule: %w", err)
	}
	if rule == nil {
		return nil
	}

	history, err := v.events.Chronological(ctx, contracts.ChronologicalQuery{
		SubjectID:          subjectID,
		TenantID:           tenantID,
		WorkflowInstanceID: workflowInstanceID,
	})
	if err != nil {
		return fmt.Errorf("load subject history: %w", err)
	}

	if err := checkRequiredPriorTypes(rule, history); err != nil {
		return err
	}
	if err := checkPayloadConditions(rule, history); err != nil {
		return err
	}
	if err := checkMaxOccurrences(rule, history); err != nil {
		return err
	}
	return checkFreshPrior(rule, history)
}

func checkRequiredPriorTypes(rule *contracts.TransitionRule, history []contracts.Event) error {
	if len(rule.RequiredPriorEventTypes) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(history))
	for _, e := range history {
		seen[e.EventType] = true
	}
	var missing []string
	for _, t := range rule.RequiredPriorEventTypes {
		if !seen[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &contracts.TransitionViolationError{
			EventType:          rule.EventType,
			Reason:             contracts.ReasonMissingRequiredTypes,
			RequiredPriorTypes: rule.RequiredPriorEventTypes,
			Detail:             fmt.Sprintf("missing prior occurrence(s) of %v", missing),
		}
	}
	return nil
}

// checkPayloadConditions matches expected field values against the *most
// recent* occurrence of each referenced prior type. Equality only.
func checkPayloadConditions(rule *contracts.TransitionRule, history []contracts.Event) error {
	for priorType, conditions := range rule.PriorEventPayloadConditions {
		last := lastOccurrence(history, priorType)
		if last == nil {
			return &contracts.TransitionViolationError{
				EventType: rule.EventType,
				Reason:    contracts.ReasonPayloadConditionFailed,
				Detail:    fmt.Sprintf("no occurrence of prior type %q to check conditions against", priorType),
			}
		}
		for field, expected := range conditions {
			actual, ok := last.Payload[field]
			if !ok || !valuesEqual(actual, expected) {
				return &contracts.TransitionViolationError{
					EventType: rule.EventType,
					Reason:    contracts.ReasonPayloadConditionFailed,
					Detail: fmt.Sprintf("prior type %q field %q: expected %v, got %v",
						priorType, field, expected, actual),
				}
			}
		}
	}
	return nil
}

func checkMaxOccurrences(rule *contracts.TransitionRule, history []contracts.Event) error {
	if rule.MaxOccurrencesPerStream == nil {
		return nil
	}
	count := 0
	for _, e := range history {
		if e.EventType == rule.EventType {
			count++
		}
	}
	if count >= *rule.MaxOccurrencesPerStream {
		return &contracts.TransitionViolationError{
			EventType: rule.EventType,
			Reason:    contracts.ReasonMaxOccurrencesPerStream,
			Detail: fmt.Sprintf("stream already has %d occurrence(s); max is %d",
				count, *rule.MaxOccurrencesPerStream),
		}
	}
	return nil
}

// checkFreshPrior requires a later occurrence of the designated fresh type
// after the last occurrence of the gated type. This prevents re-emitting an
// action without a new upstream trigger.
func checkFreshPrior(rule *contracts.TransitionRule, history []contracts.Event) error {
	if rule.FreshPriorEventType == nil {
		return nil
	}
	lastGated := -1
	for i, e := range history {
		if e.EventType == rule.EventType {
			lastGated = i
		}
	}
	if lastGated < 0 {
		// First emission of the gated type; freshness does not apply.
		return nil
	}
	for _, e := range history[lastGated+1:] {
		if e.EventType == *rule.FreshPriorEventType {
			return nil
		}
	}
	return &contracts.TransitionViolationError{
		EventType: rule.EventType,
		Reason:    contracts.ReasonFreshPriorRequired,
		Detail: fmt.Sprintf("no occurrence of %q after the last %q",
			*rule.FreshPriorEventType, rule.EventType),
	}
}

func lastOccurrence(history []contracts.Event, eventType string) *contracts.Event {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].EventType == eventType {
			return &history[i]
		}
	}
	return nil
}

// valuesEqual compares payload values structurally. Payloads round-trip
// through JSON, so numeric comparison normalizes to float64 first.
func valuesEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

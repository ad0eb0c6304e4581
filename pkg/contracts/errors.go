package contracts

import (
	"fmt"
	"strings"
	"time"
)

// Transition violation reason discriminators.
const (
	ReasonMissingRequiredTypes    = "missing_required_types"
	ReasonPayloadConditionFailed  = "payload_condition_failed"
	ReasonMaxOccurrencesPerStream = "max_occurrences_per_stream"
	ReasonFreshPriorRequired      = "fresh_prior_required"
)

// NotFoundError signals a missing resource or a cross-tenant access attempt.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// SchemaValidationError signals a missing, inactive, or violated event schema.
type SchemaValidationError struct {
	EventType     string
	SchemaVersion int
	Detail        string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for %q v%d: %s",
		e.EventType, e.SchemaVersion, e.Detail)
}

// TransitionViolationError signals that a transition rule blocked an append.
// Reason is one of the Reason* constants.
type TransitionViolationError struct {
	EventType          string
	Reason             string
	RequiredPriorTypes []string
	Detail             string
}

func (e *TransitionViolationError) Error() string {
	msg := fmt.Sprintf("transition violation for %q (%s)", e.EventType, e.Reason)
	if len(e.RequiredPriorTypes) > 0 {
		msg += fmt.Sprintf(": requires prior type(s) %s",
			strings.Join(e.RequiredPriorTypes, ", "))
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// OrderingViolationError signals a non-increasing event_time within a stream.
type OrderingViolationError struct {
	SubjectID    string
	EventTime    time.Time
	PreviousTime time.Time
}

func (e *OrderingViolationError) Error() string {
	return fmt.Sprintf("event_time %s is not after previous event time %s for subject %q",
		e.EventTime.UTC().Format(time.RFC3339Nano),
		e.PreviousTime.UTC().Format(time.RFC3339Nano),
		e.SubjectID)
}

// LimitExceededError redirects a caller from inline verification to the
// asynchronous job path. It is a scale guard, not a fault.
type LimitExceededError struct {
	MaxEvents  int64
	EventCount int64
	Detail     string
}

func (e *LimitExceededError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("verification limit exceeded: %s", e.Detail)
	}
	return fmt.Sprintf("verification limit exceeded: %d events exceeds max %d; run as async job",
		e.EventCount, e.MaxEvents)
}

// ValidationError signals invalid input outside the more specific kinds.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// Package contracts holds the durable domain types and repository contracts
// shared by the ledger core. Persisted row shapes defined here are the
// contract other layers must not violate.
package contracts

import "time"

// Event is an immutable, hash-chained fact in a subject's stream.
// Events are created only through the ledger and never updated or deleted.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Event struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	SubjectID     string         `json:"subject_id"`
	EventType     string         `json:"event_type"`
	SchemaVersion int            `json:"schema_version"`
	EventTime     time.Time      `json:"event_time"`
	Payload       map[string]any `json:"payload"`
	Hash          string         `json:"hash"`
	// PreviousHash is nil for the genesis event of a stream.
	PreviousHash *string `json:"previous_hash"`

	// Optional correlation with a workflow instance; events carrying the
	// same instance id form a sub-stream for scoped validation and replay.
	WorkflowInstanceID *string `json:"workflow_instance_id,omitempty"`
	CorrelationID      *string `json:"correlation_id,omitempty"`
}

// CreateEventCommand is the caller-supplied input for a single append.
type CreateEventCommand struct {
	SubjectID          string         `json:"subject_id"`
	EventType          string         `json:"event_type"`
	SchemaVersion      int            `json:"schema_version"`
	EventTime          time.Time      `json:"event_time"`
	Payload            map[string]any `json:"payload"`
	WorkflowInstanceID *string        `json:"workflow_instance_id,omitempty"`
	CorrelationID      *string        `json:"correlation_id,omitempty"`
}

// EventToPersist is a fully chained event row staged for insertion.
// The hash and previous hash have already been computed by the ledger.
type EventToPersist struct {
	SubjectID          string         `json:"subject_id"`
	EventType          string         `json:"event_type"`
	SchemaVersion      int            `json:"schema_version"`
	EventTime          time.Time      `json:"event_time"`
	Payload            map[string]any `json:"payload"`
	Hash               string         `json:"hash"`
	PreviousHash       *string        `json:"previous_hash"`
	WorkflowInstanceID *string        `json:"workflow_instance_id,omitempty"`
	CorrelationID      *string        `json:"correlation_id,omitempty"`
}

// Subject is the entity whose timeline of events is tracked. Subject CRUD
// lives outside this core; the ledger only checks existence and tenancy.
type Subject struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
}

// EventSchema is a versioned, tenant-scoped JSON Schema for one event type.
type EventSchema struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	EventType     string `json:"event_type"`
	SchemaVersion int    `json:"schema_version"`
	Definition    []byte `json:"definition"`
	IsActive      bool   `json:"is_active"`
}

// StateResult is the outcome of deriving a subject's state by replay.
type StateResult struct {
	State map[string]any `json:"state"`
	// LastEventID is nil when the subject has no events in scope.
	LastEventID *string `json:"last_event_id"`
	EventCount  int     `json:"event_count"`
}

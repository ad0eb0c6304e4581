// Package schema validates event payloads against versioned, tenant-scoped
// JSON Schemas.
package schema

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// Validator validates payload shape against the active schema for
// (tenant, event type, version). Compiled schemas are cached by row ID.
type Validator struct {
	repo contracts.SchemaRepository

	// requireSchemas makes a missing schema version a validation failure.
	// When false, payloads for unregistered versions pass unvalidated.
	requireSchemas bool

	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithRequireSchemas controls whether event types without a registered
// schema version are rejected (the default) or pass unvalidated.
func WithRequireSchemas(require bool) ValidatorOption {
	return func(v *Validator) { v.requireSchemas = require }
}

// NewValidator wires the schema repository.
func NewValidator(repo contracts.SchemaRepository, opts ...ValidatorOption) *Validator {
	v := &Validator{
		repo:           repo,
		requireSchemas: true,
		compiled:       make(map[string]*jsonschema.Schema),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidatePayload returns a SchemaValidationError when the schema is
// missing, inactive, malformed, or the payload does not conform.
func (v *Validator) ValidatePayload(
	ctx context.Context,
	tenantID, eventType string,
	schemaVersion int,
	payload map[string]any,
) error {
	row, err := v.repo.ByVersion(ctx, tenantID, eventType, schemaVersion)
	if err != nil {
		return fmt.Errorf("load event schema: %w", err)
	}
	if row == nil {
		if !v.requireSchemas {
			return nil
		}
		return &contracts.SchemaValidationError{
			EventType:     eventType,
			SchemaVersion: schemaVersion,
			Detail:        "schema version not found",
		}
	}
	if !row.IsActive {
		return &contracts.SchemaValidationError{
			EventType:     eventType,
			SchemaVersion: schemaVersion,
			Detail:        "schema version is not active",
		}
	}

	sch, err := v.compile(row)
	if err != nil {
		return &contracts.SchemaValidationError{
			EventType:     eventType,
			SchemaVersion: schemaVersion,
			Detail:        fmt.Sprintf("invalid schema definition: %v", err),
		}
	}

	// jsonschema validates the generic JSON form; payloads already arrive
	// as map[string]any from JSON decoding.
	if err := sch.Validate(anyPayload(payload)); err != nil {
		return &contracts.SchemaValidationError{
			EventType:     eventType,
			SchemaVersion: schemaVersion,
			Detail:        err.Error(),
		}
	}
	return nil
}

func (v *Validator) compile(row *contracts.EventSchema) (*jsonschema.Schema, error) {
	key := fmt.Sprintf("%s@%d", row.ID, row.SchemaVersion)

	v.mu.RLock()
	sch, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return sch, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok = v.compiled[key]; ok {
		return sch, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "mem://" + key + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(row.Definition)); err != nil {
		return nil, err
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.compiled[key] = sch
	return sch, nil
}

func anyPayload(payload map[string]any) any {
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

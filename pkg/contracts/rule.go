package contracts

// TransitionRule gates when an event type may legally be emitted into a
// subject's stream. At most one rule exists per (tenant, event type); rules
// are administered outside this core and read-only during validation.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TransitionRule struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`

	// RequiredPriorEventTypes must all have occurred somewhere earlier in
	// the stream before the gated type may be emitted.
	RequiredPriorEventTypes []string `json:"required_prior_event_types"`

	// PriorEventPayloadConditions maps a prior event type to field/value
	// pairs that must match exactly on that type's most recent occurrence.
	PriorEventPayloadConditions map[string]map[string]any `json:"prior_event_payload_conditions,omitempty"`

	// MaxOccurrencesPerStream caps how many times the gated type may appear
	// in one stream. Nil means unlimited.
	MaxOccurrencesPerStream *int `json:"max_occurrences_per_stream,omitempty"`

	// FreshPriorEventType, when set, requires an occurrence of that type
	// later than the last occurrence of the gated type before the gated
	// type may be emitted again.
	FreshPriorEventType *string `json:"fresh_prior_event_type,omitempty"`

	Description string `json:"description,omitempty"`
}

// Package ledger appends immutable, hash-chained events to per-subject
// streams. The read-last / compute-hash / write sequence is serialized per
// subject so concurrent appends cannot fork a chain.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/evidentry/evidentry/pkg/chain"
	"github.com/evidentry/evidentry/pkg/contracts"
)

// SchemaValidator validates payload shape against the active schema for
// (tenant, event type, version).
type SchemaValidator interface {
	ValidatePayload(ctx context.Context, tenantID, eventType string, schemaVersion int, payload map[string]any) error
}

// TransitionValidator checks sequencing rules before an append.
type TransitionValidator interface {
	ValidateCanEmit(ctx context.Context, tenantID, subjectID, eventType string, workflowInstanceID *string) error
}

// Triggers reacts to newly appended events. The ledger and the workflow
// engine depend on each other, so the engine is attached after construction
// via SetTriggers (two-phase wiring).
type Triggers interface {
	ProcessEventTriggers(ctx context.Context, event contracts.Event, tenantID string) ([]contracts.WorkflowExecution, error)
}

// Metrics receives append outcomes. Implementations must not block.
type Metrics interface {
	EventAppended(tenantID, eventType string)
	AppendRejected(tenantID, kind string)
}

// Ledger orchestrates subject checks, validation, hash chaining and the
// append itself.
type Ledger struct {
	events      contracts.EventRepository
	subjects    contracts.SubjectRepository
	hasher      *chain.Hasher
	schemas     SchemaValidator     // optional
	transitions TransitionValidator // optional
	metrics     Metrics             // optional
	locks       *keyedMutex
	log         *slog.Logger

	mu       sync.RWMutex
	triggers Triggers
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSchemaValidator enables payload validation on append.
func WithSchemaValidator(v SchemaValidator) Option {
	return func(l *Ledger) { l.schemas = v }
}

// WithTransitionValidator enables sequencing rule checks on append.
func WithTransitionValidator(v TransitionValidator) Option {
	return func(l *Ledger) { l.transitions = v }
}

// WithMetrics attaches an append metrics sink.
func WithMetrics(m Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New constructs a Ledger. Workflow triggering stays disabled until
// SetTriggers is called.
func New(
	events contracts.EventRepository,
	subjects contracts.SubjectRepository,
	hasher *chain.Hasher,
	opts ...Option,
) *Ledger {
	l := &Ledger{
		events:   events,
		subjects: subjects,
		hasher:   hasher,
		locks:    newKeyedMutex(),
		log:      slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetTriggers attaches the workflow engine once both sides exist.
func (l *Ledger) SetTriggers(t Triggers) {
	l.mu.Lock()
	l.triggers = t
	l.mu.Unlock()
}

func (l *Ledger) currentTriggers() Triggers {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.triggers
}

// Append validates and appends one event. Callers only ever see NotFound,
// SchemaValidation, TransitionViolation or OrderingViolation errors (or
// success); workflow failures are logged and never undo the append.
func (l *Ledger) Append(
	ctx context.Context,
	tenantID string,
	cmd contracts.CreateEventCommand,
	triggerWorkflows bool,
) (contracts.Event, error) {
	subject, err := l.subjects.ByIDAndTenant(ctx, cmd.SubjectID, tenantID)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("resolve subject: %w", err)
	}
	if subject == nil {
		l.reject(tenantID, "not_found")
		return contracts.Event{}, &contracts.NotFoundError{Resource: "subject", ID: cmd.SubjectID}
	}

	if l.schemas != nil {
		if err := l.schemas.ValidatePayload(ctx, tenantID, cmd.EventType, cmd.SchemaVersion, cmd.Payload); err != nil {
			l.reject(tenantID, "schema")
			return contracts.Event{}, err
		}
	}

	if l.transitions != nil {
		if err := l.transitions.ValidateCanEmit(ctx, tenantID, cmd.SubjectID, cmd.EventType, cmd.WorkflowInstanceID); err != nil {
			l.reject(tenantID, "transition")
			return contracts.Event{}, err
		}
	}

	created, err := l.appendLocked(ctx, tenantID, cmd)
	if err != nil {
		return contracts.Event{}, err
	}

	if l.metrics != nil {
		l.metrics.EventAppended(tenantID, created.EventType)
	}

	if triggerWorkflows {
		l.fireTriggers(ctx, created, tenantID)
	}
	return created, nil
}

// appendLocked runs the read-last / hash / write sequence under the
// per-subject mutex so concurrent appends to one subject cannot interleave.
// The store may add its own lock (row or advisory) for cross-process safety.
func (l *Ledger) appendLocked(
	ctx context.Context,
	tenantID string,
	cmd contracts.CreateEventCommand,
) (contracts.Event, error) {
	unlock := l.locks.Lock(tenantID + "/" + cmd.SubjectID)
	defer unlock()

	prev, err := l.events.LastEvent(ctx, cmd.SubjectID, tenantID)
	if err != nil {
		return contracts.Event{}, fmt.Errorf("load last event: %w", err)
	}

	var prevHash *string
	if prev != nil {
		if !cmd.EventTime.After(prev.EventTime) {
			l.reject(tenantID, "ordering")
			return contracts.Event{}, &contracts.OrderingViolationError{
				SubjectID:    cmd.SubjectID,
				EventTime:    cmd.EventTime,
				PreviousTime: prev.EventTime,
			}
		}
		prevHash = &prev.Hash
	}

	hash, err := l.hasher.Compute(cmd.SubjectID, cmd.EventType, cmd.SchemaVersion, cmd.EventTime, cmd.Payload, prevHash)
	if err != nil {
		return contracts.Event{}, err
	}

	created, err := l.events.Insert(ctx, tenantID, contracts.EventToPersist{
		SubjectID:          cmd.SubjectID,
		EventType:          cmd.EventType,
		SchemaVersion:      cmd.SchemaVersion,
		EventTime:          cmd.EventTime,
		Payload:            cmd.Payload,
		Hash:               hash,
		PreviousHash:       prevHash,
		WorkflowInstanceID: cmd.WorkflowInstanceID,
		CorrelationID:      cmd.CorrelationID,
	})
	if err != nil {
		return contracts.Event{}, fmt.Errorf("append event: %w", err)
	}
	return created, nil
}

// BulkOptions tunes AppendBulk behavior.
type BulkOptions struct {
	// SkipSchemaValidation bypasses payload validation, e.g. for trusted
	// sync pipelines re-importing already-validated data.
	SkipSchemaValidation bool
	// TriggerWorkflows runs triggers per created event after the batch
	// commits. Off by default.
	TriggerWorkflows bool
}

// AppendBulk appends a pre-sorted batch. Each subject's chain is computed
// sequentially in memory, seeded from its last persisted event, then the
// whole batch is written in one store call. Mixed-subject batches are
// allowed; every targeted subject must exist.
func (l *Ledger) AppendBulk(
	ctx context.Context,
	tenantID string,
	cmds []contracts.CreateEventCommand,
	opts BulkOptions,
) ([]contracts.Event, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	subjectIDs := distinctSubjects(cmds)
	for _, sid := range subjectIDs {
		subject, err := l.subjects.ByIDAndTenant(ctx, sid, tenantID)
		if err != nil {
			return nil, fmt.Errorf("resolve subject: %w", err)
		}
		if subject == nil {
			l.reject(tenantID, "not_found")
			return nil, &contracts.NotFoundError{Resource: "subject", ID: sid}
		}
	}

	unlocks := l.lockSubjects(tenantID, subjectIDs)
	defer unlocks()

	last, err := l.events.LastEvents(ctx, tenantID, subjectIDs)
	if err != nil {
		return nil, fmt.Errorf("load chain state: %w", err)
	}

	type chainState struct {
		hash *string
		time *time.Time
	}
	state := make(map[string]chainState, len(subjectIDs))
	for _, sid := range subjectIDs {
		if prev := last[sid]; prev != nil {
			t := prev.EventTime
			h := prev.Hash
			state[sid] = chainState{hash: &h, time: &t}
		} else {
			state[sid] = chainState{}
		}
	}

	rows := make([]contracts.EventToPersist, 0, len(cmds))
	for _, cmd := range cmds {
		cs := state[cmd.SubjectID]
		if cs.time != nil && !cmd.EventTime.After(*cs.time) {
			l.reject(tenantID, "ordering")
			return nil, &contracts.OrderingViolationError{
				SubjectID:    cmd.SubjectID,
				EventTime:    cmd.EventTime,
				PreviousTime: *cs.time,
			}
		}
		if !opts.SkipSchemaValidation && l.schemas != nil {
			if err := l.schemas.ValidatePayload(ctx, tenantID, cmd.EventType, cmd.SchemaVersion, cmd.Payload); err != nil {
				l.reject(tenantID, "schema")
				return nil, err
			}
		}
		hash, err := l.hasher.Compute(cmd.SubjectID, cmd.EventType, cmd.SchemaVersion, cmd.EventTime, cmd.Payload, cs.hash)
		if err != nil {
			return nil, err
		}
		rows = append(rows, contracts.EventToPersist{
			SubjectID:          cmd.SubjectID,
			EventType:          cmd.EventType,
			SchemaVersion:      cmd.SchemaVersion,
			EventTime:          cmd.EventTime,
			Payload:            cmd.Payload,
			Hash:               hash,
			PreviousHash:       cs.hash,
			WorkflowInstanceID: cmd.WorkflowInstanceID,
			CorrelationID:      cmd.CorrelationID,
		})
		t := cmd.EventTime
		h := hash
		state[cmd.SubjectID] = chainState{hash: &h, time: &t}
	}

	created, err := l.events.InsertBulk(ctx, tenantID, rows)
	if err != nil {
		return nil, fmt.Errorf("append batch: %w", err)
	}

	if l.metrics != nil {
		for _, e := range created {
			l.metrics.EventAppended(tenantID, e.EventType)
		}
	}

	if opts.TriggerWorkflows {
		for _, e := range created {
			l.fireTriggers(ctx, e, tenantID)
		}
	}
	return created, nil
}

// fireTriggers invokes the workflow engine. The event has already committed:
// engine failures are logged for operational visibility and never surfaced
// to the appending caller.
func (l *Ledger) fireTriggers(ctx context.Context, event contracts.Event, tenantID string) {
	triggers := l.currentTriggers()
	if triggers == nil {
		return
	}
	if _, err := triggers.ProcessEventTriggers(ctx, event, tenantID); err != nil {
		l.log.Error("workflow trigger failed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"tenant_id", tenantID,
			"error", err)
	}
}

// lockSubjects acquires per-subject mutexes in sorted order to avoid
// deadlock between overlapping bulk appends.
func (l *Ledger) lockSubjects(tenantID string, subjectIDs []string) func() {
	sorted := append([]string(nil), subjectIDs...)
	sort.Strings(sorted)
	releases := make([]func(), 0, len(sorted))
	for _, sid := range sorted {
		releases = append(releases, l.locks.Lock(tenantID+"/"+sid))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

func (l *Ledger) reject(tenantID, kind string) {
	if l.metrics != nil {
		l.metrics.AppendRejected(tenantID, kind)
	}
}

func distinctSubjects(cmds []contracts.CreateEventCommand) []string {
	seen := make(map[string]bool, len(cmds))
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if !seen[c.SubjectID] {
			seen[c.SubjectID] = true
			out = append(out, c.SubjectID)
		}
	}
	return out
}

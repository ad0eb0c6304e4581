// Package snapshot derives subject state by event replay and maintains
// per-subject replay checkpoints so "current state" queries stay cheap as
// streams grow.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// StateOptions scopes a state derivation.
type StateOptions struct {
	// AsOf bounds replay at a point in time; nil means current state.
	AsOf *time.Time
	// WorkflowInstanceID scopes replay to one workflow sub-stream.
	// Snapshots are subject-scoped and never used for instance queries.
	WorkflowInstanceID *string
}

// Projector answers state queries via snapshot + tail replay, falling back
// to full replay from genesis when no usable snapshot exists.
type Projector struct {
	events    contracts.EventRepository
	subjects  contracts.SubjectRepository
	snapshots contracts.SnapshotRepository // optional; nil disables checkpoints
	log       *slog.Logger
}

// NewProjector wires the repositories. snapshots may be nil, in which case
// every query replays the full stream.
func NewProjector(
	events contracts.EventRepository,
	subjects contracts.SubjectRepository,
	snapshots contracts.SnapshotRepository,
) *Projector {
	return &Projector{
		events:    events,
		subjects:  subjects,
		snapshots: snapshots,
		log:       slog.Default().With("component", "projector"),
	}
}

// CurrentState replays the subject's events into a state map. Each event is
// applied by shallow-merging its payload into the running state; later
// events win on key conflicts.
func (p *Projector) CurrentState(
	ctx context.Context,
	tenantID, subjectID string,
	opts StateOptions,
) (contracts.StateResult, error) {
	subject, err := p.subjects.ByIDAndTenant(ctx, subjectID, tenantID)
	if err != nil {
		return contracts.StateResult{}, fmt.Errorf("resolve subject: %w", err)
	}
	if subject == nil {
		return contracts.StateResult{}, &contracts.NotFoundError{Resource: "subject", ID: subjectID}
	}

	if p.snapshots != nil && opts.WorkflowInstanceID == nil {
		if result, ok, err := p.fromSnapshot(ctx, tenantID, subjectID, opts.AsOf); err != nil {
			return contracts.StateResult{}, err
		} else if ok {
			return result, nil
		}
	}
	return p.fullReplay(ctx, tenantID, subjectID, opts)
}

// fromSnapshot attempts snapshot + tail replay. It reports ok=false when no
// snapshot exists, the anchor event cannot be resolved, or the snapshot is
// newer than the requested as-of bound; the caller then falls back to full
// replay.
func (p *Projector) fromSnapshot(
	ctx context.Context,
	tenantID, subjectID string,
	asOf *time.Time,
) (contracts.StateResult, bool, error) {
	snap, err := p.snapshots.LatestBySubject(ctx, subjectID, tenantID)
	if err != nil {
		return contracts.StateResult{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return contracts.StateResult{}, false, nil
	}

	anchor, err := p.events.ByID(ctx, snap.SnapshotAtEventID, tenantID)
	if err != nil {
		return contracts.StateResult{}, false, fmt.Errorf("resolve snapshot anchor: %w", err)
	}
	if anchor == nil {
		return contracts.StateResult{}, false, nil
	}
	if asOf != nil && anchor.EventTime.After(*asOf) {
		return contracts.StateResult{}, false, nil
	}

	state := cloneState(snap.StateJSON)
	tail, err := p.events.Chronological(ctx, contracts.ChronologicalQuery{
		SubjectID:    subjectID,
		TenantID:     tenantID,
		AsOf:         asOf,
		AfterEventID: &snap.SnapshotAtEventID,
	})
	if err != nil {
		return contracts.StateResult{}, false, fmt.Errorf("load tail events: %w", err)
	}

	for _, e := range tail {
		applyEvent(state, e)
	}

	lastEventID := snap.SnapshotAtEventID
	if len(tail) > 0 {
		lastEventID = tail[len(tail)-1].ID
	}
	return contracts.StateResult{
		State:       state,
		LastEventID: &lastEventID,
		EventCount:  snap.EventCountAtSnapshot + len(tail),
	}, true, nil
}

func (p *Projector) fullReplay(
	ctx context.Context,
	tenantID, subjectID string,
	opts StateOptions,
) (contracts.StateResult, error) {
	events, err := p.events.Chronological(ctx, contracts.ChronologicalQuery{
		SubjectID:          subjectID,
		TenantID:           tenantID,
		AsOf:               opts.AsOf,
		WorkflowInstanceID: opts.WorkflowInstanceID,
	})
	if err != nil {
		return contracts.StateResult{}, fmt.Errorf("load events: %w", err)
	}

	state := make(map[string]any)
	var lastEventID *string
	for i := range events {
		applyEvent(state, events[i])
		lastEventID = &events[i].ID
	}
	return contracts.StateResult{
		State:       state,
		LastEventID: lastEventID,
		EventCount:  len(events),
	}, nil
}

// applyEvent shallow-merges the payload into state. Two event types reusing
// one field name for different meanings will conflate at replay time; that
// is a documented projection assumption, not a defect to patch here.
func applyEvent(state map[string]any, e contracts.Event) {
	for k, v := range e.Payload {
		state[k] = v
	}
}

func cloneState(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

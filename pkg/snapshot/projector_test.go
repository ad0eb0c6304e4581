package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidentry/evidentry/pkg/contracts"
	"github.com/evidentry/evidentry/pkg/store/memory"
)

const projTenant = "tenant-1"

type projFixture struct {
	events    *memory.EventStore
	subjects  *memory.SubjectStore
	snapshots *memory.SnapshotStore
	projector *Projector
}

func newProjFixture(t *testing.T) *projFixture {
	t.Helper()
	f := &projFixture{
		events:    memory.NewEventStore(),
		subjects:  memory.NewSubjectStore(),
		snapshots: memory.NewSnapshotStore(),
	}
	f.projector = NewProjector(f.events, f.subjects, f.snapshots)
	return f
}

func (f *projFixture) addSubject(id string) {
	f.subjects.Add(contracts.Subject{ID: id, TenantID: projTenant})
}

// appendEvent persists a projection-only event; hashes are irrelevant here.
func (f *projFixture) appendEvent(t *testing.T, subjectID string, minute int, payload map[string]any, instanceID *string) contracts.Event {
	t.Helper()
	ev, err := f.events.Insert(context.Background(), projTenant, contracts.EventToPersist{
		SubjectID:          subjectID,
		EventType:          "updated",
		SchemaVersion:      1,
		EventTime:          time.Date(2026, 7, 2, 9, minute, 0, 0, time.UTC),
		Payload:            payload,
		Hash:               fmt.Sprintf("hash-%s-%d", subjectID, minute),
		WorkflowInstanceID: instanceID,
	})
	require.NoError(t, err)
	return ev
}

func TestCurrentStateUnknownSubject(t *testing.T) {
	f := newProjFixture(t)
	_, err := f.projector.CurrentState(context.Background(), projTenant, "nope", StateOptions{})

	var notFound *contracts.NotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestCurrentStateShallowMergeLatestWins(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"status": "open", "amount": 100}, nil)
	f.appendEvent(t, "subj-1", 1, map[string]any{"status": "review"}, nil)
	last := f.appendEvent(t, "subj-1", 2, map[string]any{"assignee": "kim"}, nil)

	result, err := f.projector.CurrentState(context.Background(), projTenant, "subj-1", StateOptions{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": "review", "amount": 100, "assignee": "kim"}, result.State)
	assert.Equal(t, 3, result.EventCount)
	require.NotNil(t, result.LastEventID)
	assert.Equal(t, last.ID, *result.LastEventID)
}

func TestCurrentStateAsOfBoundsReplay(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"status": "open"}, nil)
	f.appendEvent(t, "subj-1", 5, map[string]any{"status": "closed"}, nil)

	asOf := time.Date(2026, 7, 2, 9, 2, 0, 0, time.UTC)
	result, err := f.projector.CurrentState(context.Background(), projTenant, "subj-1", StateOptions{AsOf: &asOf})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": "open"}, result.State)
	assert.Equal(t, 1, result.EventCount)
}

func TestCurrentStateWorkflowInstanceScope(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	inst := "wf-inst-1"
	f.appendEvent(t, "subj-1", 0, map[string]any{"phase": "intake"}, &inst)
	f.appendEvent(t, "subj-1", 1, map[string]any{"phase": "global", "other": true}, nil)

	result, err := f.projector.CurrentState(
		context.Background(), projTenant, "subj-1",
		StateOptions{WorkflowInstanceID: &inst})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"phase": "intake"}, result.State)
	assert.Equal(t, 1, result.EventCount)
}

func TestSnapshotPlusTailEqualsFullReplay(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	for i := 0; i < 4; i++ {
		f.appendEvent(t, "subj-1", i, map[string]any{"step": i, fmt.Sprintf("k%d", i): true}, nil)
	}

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	_, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")
	require.NoError(t, err)

	// Tail events after the checkpoint.
	f.appendEvent(t, "subj-1", 10, map[string]any{"step": 10}, nil)
	last := f.appendEvent(t, "subj-1", 11, map[string]any{"final": "yes"}, nil)

	fromSnap, err := f.projector.CurrentState(context.Background(), projTenant, "subj-1", StateOptions{})
	require.NoError(t, err)

	full, err := NewProjector(f.events, f.subjects, nil).
		CurrentState(context.Background(), projTenant, "subj-1", StateOptions{})
	require.NoError(t, err)

	assert.Equal(t, full.State, fromSnap.State)
	assert.Equal(t, 6, fromSnap.EventCount)
	require.NotNil(t, fromSnap.LastEventID)
	assert.Equal(t, last.ID, *fromSnap.LastEventID)
}

func TestSnapshotNewerThanAsOfFallsBackToFullReplay(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"status": "open"}, nil)
	f.appendEvent(t, "subj-1", 5, map[string]any{"status": "closed"}, nil)

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	_, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")
	require.NoError(t, err)

	// As-of before the snapshot anchor: the checkpoint cannot be used.
	asOf := time.Date(2026, 7, 2, 9, 2, 0, 0, time.UTC)
	result, err := f.projector.CurrentState(context.Background(), projTenant, "subj-1", StateOptions{AsOf: &asOf})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": "open"}, result.State)
	assert.Equal(t, 1, result.EventCount)
}

func TestDanglingSnapshotAnchorFallsBackToFullReplay(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"status": "open"}, nil)

	_, err := f.snapshots.Replace(context.Background(), contracts.Snapshot{
		SubjectID:            "subj-1",
		TenantID:             projTenant,
		SnapshotAtEventID:    "no-such-event",
		StateJSON:            map[string]any{"status": "stale"},
		EventCountAtSnapshot: 99,
	})
	require.NoError(t, err)

	result, err := f.projector.CurrentState(context.Background(), projTenant, "subj-1", StateOptions{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": "open"}, result.State)
	assert.Equal(t, 1, result.EventCount)
}

func TestSnapshotStateIsNotMutatedByTailReplay(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"status": "open"}, nil)

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	snap, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")
	require.NoError(t, err)

	f.appendEvent(t, "subj-1", 1, map[string]any{"status": "closed"}, nil)
	_, err = f.projector.CurrentState(context.Background(), projTenant, "subj-1", StateOptions{})
	require.NoError(t, err)

	stored, err := f.snapshots.LatestBySubject(context.Background(), "subj-1", projTenant)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, snap.StateJSON["status"], stored.StateJSON["status"])
	assert.Equal(t, "open", stored.StateJSON["status"])
}

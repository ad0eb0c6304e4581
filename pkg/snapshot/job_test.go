package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidentry/evidentry/pkg/contracts"
)

func TestCreateSnapshotRequiresEvents(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("empty")

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	_, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "empty")

	var ve *contracts.ValidationError
	require.True(t, errors.As(err, &ve))
}

func TestCreateSnapshotReplacesPrior(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"status": "open"}, nil)

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	_, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")
	require.NoError(t, err)

	last := f.appendEvent(t, "subj-1", 1, map[string]any{"status": "closed"}, nil)
	snap, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")
	require.NoError(t, err)

	assert.Equal(t, last.ID, snap.SnapshotAtEventID)
	assert.Equal(t, 2, snap.EventCountAtSnapshot)
	assert.Equal(t, "closed", snap.StateJSON["status"])

	stored, err := f.snapshots.LatestBySubject(context.Background(), "subj-1", projTenant)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, last.ID, stored.SnapshotAtEventID)
}

func TestCreateSnapshotEnforcesFloor(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"n": 1}, nil)
	f.appendEvent(t, "subj-1", 1, map[string]any{"n": 2}, nil)

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects, WithMinEvents(3))
	_, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")

	var ve *contracts.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Detail, "at least 3")

	f.appendEvent(t, "subj-1", 2, map[string]any{"n": 3}, nil)
	snap, err := snapshotter.CreateSnapshot(context.Background(), projTenant, "subj-1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.EventCountAtSnapshot)
}

func TestRunJobSkipsBelowFloor(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("short")
	f.appendEvent(t, "short", 0, map[string]any{"n": 1}, nil)
	f.addSubject("long")
	f.appendEvent(t, "long", 1, map[string]any{"n": 1}, nil)
	f.appendEvent(t, "long", 2, map[string]any{"n": 2}, nil)

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects, WithMinEvents(2))
	result, err := snapshotter.RunJob(context.Background(), projTenant, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SubjectsProcessed)
	assert.Equal(t, 1, result.SnapshotsCreatedOrUpdated)
	assert.Equal(t, 1, result.SkippedNoEvents)
	assert.Zero(t, result.ErrorCount)
}

func TestRunJobCountsOutcomes(t *testing.T) {
	f := newProjFixture(t)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("subj-%d", i)
		f.addSubject(id)
		f.appendEvent(t, id, i, map[string]any{"n": i}, nil)
	}
	f.addSubject("subj-empty")

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	result, err := snapshotter.RunJob(context.Background(), projTenant, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, result.SubjectsProcessed)
	assert.Equal(t, 3, result.SnapshotsCreatedOrUpdated)
	assert.Equal(t, 1, result.SkippedNoEvents)
	assert.Zero(t, result.ErrorCount)
}

func TestRunJobHonorsLimit(t *testing.T) {
	f := newProjFixture(t)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("subj-%d", i)
		f.addSubject(id)
		f.appendEvent(t, id, i, map[string]any{"n": i}, nil)
	}

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	result, err := snapshotter.RunJob(context.Background(), projTenant, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SubjectsProcessed)
	assert.Equal(t, 2, result.SnapshotsCreatedOrUpdated)
}

func TestRunJobClampsOversizedLimit(t *testing.T) {
	f := newProjFixture(t)
	f.addSubject("subj-1")
	f.appendEvent(t, "subj-1", 0, map[string]any{"n": 1}, nil)

	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)
	result, err := snapshotter.RunJob(context.Background(), projTenant, JobMaxLimit*10)
	require.NoError(t, err)

	// One subject exists; the clamp just bounds the page loop.
	assert.Equal(t, 1, result.SubjectsProcessed)
	assert.Equal(t, 1, result.SnapshotsCreatedOrUpdated)
}

func TestRunJobEmptyTenant(t *testing.T) {
	f := newProjFixture(t)
	snapshotter := NewSnapshotter(f.projector, f.snapshots, f.subjects)

	result, err := snapshotter.RunJob(context.Background(), "ghost-tenant", 10)
	require.NoError(t, err)
	assert.Zero(t, result.SubjectsProcessed)
}

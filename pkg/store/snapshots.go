package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// SnapshotStore implements contracts.SnapshotRepository. At most one live
// snapshot exists per subject; Replace swaps it atomically.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) LatestBySubject(ctx context.Context, subjectID, tenantID string) (*contracts.Snapshot, error) {
	query := `SELECT id, subject_id, tenant_id, snapshot_at_event_id, state_json,
			event_count_at_snapshot, created_at
		FROM subject_snapshots WHERE subject_id = $1 AND tenant_id = $2`
	var (
		snap      contracts.Snapshot
		stateJSON string
	)
	err := s.db.QueryRowContext(ctx, query, subjectID, tenantID).
		Scan(&snap.ID, &snap.SubjectID, &snap.TenantID, &snap.SnapshotAtEventID,
			&stateJSON, &snap.EventCountAtSnapshot, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &snap.StateJSON); err != nil {
		return nil, fmt.Errorf("decode snapshot state of %s: %w", snap.SubjectID, err)
	}
	return &snap, nil
}

func (s *SnapshotStore) Replace(ctx context.Context, snap contracts.Snapshot) (contracts.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	stateJSON, err := json.Marshal(snap.StateJSON)
	if err != nil {
		return contracts.Snapshot{}, fmt.Errorf("encode snapshot state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return contracts.Snapshot{}, fmt.Errorf("begin snapshot replace: %w", err)
	}
	del := `DELETE FROM subject_snapshots WHERE subject_id = $1 AND tenant_id = $2`
	if _, err := tx.ExecContext(ctx, del, snap.SubjectID, snap.TenantID); err != nil {
		_ = tx.Rollback()
		return contracts.Snapshot{}, fmt.Errorf("delete prior snapshot: %w", err)
	}
	ins := `INSERT INTO subject_snapshots (id, subject_id, tenant_id, snapshot_at_event_id,
			state_json, event_count_at_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.ExecContext(ctx, ins,
		snap.ID, snap.SubjectID, snap.TenantID, snap.SnapshotAtEventID,
		string(stateJSON), snap.EventCountAtSnapshot, snap.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return contracts.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return contracts.Snapshot{}, fmt.Errorf("commit snapshot replace: %w", err)
	}
	return snap, nil
}

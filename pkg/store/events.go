package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evidentry/evidentry/pkg/contracts"
)

const eventColumns = `id, tenant_id, subject_id, event_type, schema_version, event_time,
	payload, hash, previous_hash, workflow_instance_id, correlation_id`

// EventStore implements contracts.EventRepository on database/sql.
// Rows are insert-only; the store exposes no update or delete.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Insert(ctx context.Context, tenantID string, row contracts.EventToPersist) (contracts.Event, error) {
	events, err := s.insertTx(ctx, s.db, tenantID, []contracts.EventToPersist{row})
	if err != nil {
		return contracts.Event{}, err
	}
	return events[0], nil
}

func (s *EventStore) InsertBulk(ctx context.Context, tenantID string, rows []contracts.EventToPersist) ([]contracts.Event, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk insert: %w", err)
	}
	events, err := s.insertTx(ctx, tx, tenantID, rows)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk insert: %w", err)
	}
	return events, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *EventStore) insertTx(ctx context.Context, ex execer, tenantID string, rows []contracts.EventToPersist) ([]contracts.Event, error) {
	query := `
		INSERT INTO events (id, tenant_id, subject_id, event_type, schema_version, event_time,
			payload, hash, previous_hash, workflow_instance_id, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	now := time.Now().UTC()
	events := make([]contracts.Event, 0, len(rows))
	for _, row := range rows {
		payloadJSON, err := json.Marshal(orEmptyPayload(row.Payload))
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		ev := contracts.Event{
			ID:                 uuid.New().String(),
			TenantID:           tenantID,
			SubjectID:          row.SubjectID,
			EventType:          row.EventType,
			SchemaVersion:      row.SchemaVersion,
			EventTime:          row.EventTime.UTC(),
			Payload:            orEmptyPayload(row.Payload),
			Hash:               row.Hash,
			PreviousHash:       row.PreviousHash,
			WorkflowInstanceID: row.WorkflowInstanceID,
			CorrelationID:      row.CorrelationID,
		}
		_, err = ex.ExecContext(ctx, query,
			ev.ID, ev.TenantID, ev.SubjectID, ev.EventType, ev.SchemaVersion, ev.EventTime,
			string(payloadJSON), ev.Hash, nullString(ev.PreviousHash),
			nullString(ev.WorkflowInstanceID), nullString(ev.CorrelationID), now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *EventStore) ByID(ctx context.Context, id, tenantID string) (*contracts.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 AND tenant_id = $2`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

func (s *EventStore) LastEvent(ctx context.Context, subjectID, tenantID string) (*contracts.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE subject_id = $1 AND tenant_id = $2
		ORDER BY event_time DESC, id DESC LIMIT 1`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, subjectID, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

// LastEvents loads the newest event of each subject in one query. Subjects
// with no events map to nil.
func (s *EventStore) LastEvents(ctx context.Context, tenantID string, subjectIDs []string) (map[string]*contracts.Event, error) {
	out := make(map[string]*contracts.Event, len(subjectIDs))
	for _, id := range subjectIDs {
		out[id] = nil
	}
	if len(subjectIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(subjectIDs))
	args := make([]any, 0, len(subjectIDs)+1)
	args = append(args, tenantID)
	for i, id := range subjectIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := `SELECT ` + eventColumns + ` FROM (
			SELECT ` + eventColumns + `,
				ROW_NUMBER() OVER (PARTITION BY subject_id ORDER BY event_time DESC, id DESC) AS rn
			FROM events
			WHERE tenant_id = $1 AND subject_id IN (` + strings.Join(placeholders, ", ") + `)
		) ranked WHERE rn = 1`

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range events {
		out[events[i].SubjectID] = &events[i]
	}
	return out, nil
}

func (s *EventStore) Chronological(ctx context.Context, q contracts.ChronologicalQuery) ([]contracts.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE subject_id = $1 AND tenant_id = $2`
	args := []any{q.SubjectID, q.TenantID}
	if q.AsOf != nil {
		args = append(args, q.AsOf.UTC())
		query += fmt.Sprintf(" AND event_time <= $%d", len(args))
	}
	if q.WorkflowInstanceID != nil {
		args = append(args, *q.WorkflowInstanceID)
		query += fmt.Sprintf(" AND workflow_instance_id = $%d", len(args))
	}
	query += " ORDER BY event_time ASC, id ASC"

	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if q.AfterEventID != nil {
		events = tailAfter(events, *q.AfterEventID)
	}
	return events, nil
}

// tailAfter drops events up to and including the anchor event. When the
// anchor is absent the full slice is returned so callers fall back to a
// complete replay instead of silently losing history.
func tailAfter(events []contracts.Event, anchorID string) []contracts.Event {
	for i, ev := range events {
		if ev.ID == anchorID {
			return events[i+1:]
		}
	}
	return events
}

func (s *EventStore) BySubject(ctx context.Context, subjectID, tenantID string, offset, limit int) ([]contracts.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE subject_id = $1 AND tenant_id = $2
		ORDER BY event_time DESC, id DESC LIMIT $3 OFFSET $4`
	return s.queryEvents(ctx, query, subjectID, tenantID, limit, offset)
}

func (s *EventStore) ByTenant(ctx context.Context, tenantID string, offset, limit int) ([]contracts.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE tenant_id = $1
		ORDER BY event_time DESC, id DESC LIMIT $2 OFFSET $3`
	return s.queryEvents(ctx, query, tenantID, limit, offset)
}

func (s *EventStore) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]contracts.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*contracts.Event, error) {
	var (
		ev          contracts.Event
		payloadJSON string
		prevHash    sql.NullString
		instanceID  sql.NullString
		correlation sql.NullString
	)
	err := row.Scan(&ev.ID, &ev.TenantID, &ev.SubjectID, &ev.EventType, &ev.SchemaVersion,
		&ev.EventTime, &payloadJSON, &ev.Hash, &prevHash, &instanceID, &correlation)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of event %s: %w", ev.ID, err)
	}
	ev.EventTime = ev.EventTime.UTC()
	ev.PreviousHash = stringPtr(prevHash)
	ev.WorkflowInstanceID = stringPtr(instanceID)
	ev.CorrelationID = stringPtr(correlation)
	return &ev, nil
}

func orEmptyPayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

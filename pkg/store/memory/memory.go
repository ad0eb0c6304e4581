// Package memory implements the repository contracts in process memory.
// It backs tests and the demo mode of the CLI; behavior mirrors the SQL
// stores, including nil results for missing rows.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// EventStore is an in-memory contracts.EventRepository.
type EventStore struct {
	mu     sync.RWMutex
	events []contracts.Event
	byID   map[string]int
}

func NewEventStore() *EventStore {
	return &EventStore{byID: make(map[string]int)}
}

func (s *EventStore) Insert(ctx context.Context, tenantID string, row contracts.EventToPersist) (contracts.Event, error) {
	events, err := s.InsertBulk(ctx, tenantID, []contracts.EventToPersist{row})
	if err != nil {
		return contracts.Event{}, err
	}
	return events[0], nil
}

func (s *EventStore) InsertBulk(_ context.Context, tenantID string, rows []contracts.EventToPersist) ([]contracts.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]contracts.Event, 0, len(rows))
	for _, row := range rows {
		payload := row.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		ev := contracts.Event{
			ID:                 uuid.New().String(),
			TenantID:           tenantID,
			SubjectID:          row.SubjectID,
			EventType:          row.EventType,
			SchemaVersion:      row.SchemaVersion,
			EventTime:          row.EventTime.UTC(),
			Payload:            payload,
			Hash:               row.Hash,
			PreviousHash:       row.PreviousHash,
			WorkflowInstanceID: row.WorkflowInstanceID,
			CorrelationID:      row.CorrelationID,
		}
		s.byID[ev.ID] = len(s.events)
		s.events = append(s.events, ev)
		inserted = append(inserted, ev)
	}
	return inserted, nil
}

func (s *EventStore) ByID(_ context.Context, id, tenantID string) (*contracts.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok || s.events[idx].TenantID != tenantID {
		return nil, nil
	}
	ev := s.events[idx]
	return &ev, nil
}

func (s *EventStore) LastEvent(_ context.Context, subjectID, tenantID string) (*contracts.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *contracts.Event
	for i := range s.events {
		ev := s.events[i]
		if ev.SubjectID != subjectID || ev.TenantID != tenantID {
			continue
		}
		if last == nil || ev.EventTime.After(last.EventTime) ||
			(ev.EventTime.Equal(last.EventTime) && ev.ID > last.ID) {
			cp := ev
			last = &cp
		}
	}
	return last, nil
}

func (s *EventStore) LastEvents(ctx context.Context, tenantID string, subjectIDs []string) (map[string]*contracts.Event, error) {
	out := make(map[string]*contracts.Event, len(subjectIDs))
	for _, id := range subjectIDs {
		ev, err := s.LastEvent(ctx, id, tenantID)
		if err != nil {
			return nil, err
		}
		out[id] = ev
	}
	return out, nil
}

func (s *EventStore) Chronological(_ context.Context, q contracts.ChronologicalQuery) ([]contracts.Event, error) {
	s.mu.RLock()
	result := make([]contracts.Event, 0)
	for _, ev := range s.events {
		if ev.SubjectID != q.SubjectID || ev.TenantID != q.TenantID {
			continue
		}
		if q.AsOf != nil && ev.EventTime.After(*q.AsOf) {
			continue
		}
		if q.WorkflowInstanceID != nil {
			if ev.WorkflowInstanceID == nil || *ev.WorkflowInstanceID != *q.WorkflowInstanceID {
				continue
			}
		}
		result = append(result, ev)
	}
	s.mu.RUnlock()

	sortChronological(result)
	if q.AfterEventID != nil {
		for i, ev := range result {
			if ev.ID == *q.AfterEventID {
				return result[i+1:], nil
			}
		}
	}
	return result, nil
}

func (s *EventStore) BySubject(_ context.Context, subjectID, tenantID string, offset, limit int) ([]contracts.Event, error) {
	s.mu.RLock()
	matched := make([]contracts.Event, 0)
	for _, ev := range s.events {
		if ev.SubjectID == subjectID && ev.TenantID == tenantID {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()
	return pageNewestFirst(matched, offset, limit), nil
}

func (s *EventStore) ByTenant(_ context.Context, tenantID string, offset, limit int) ([]contracts.Event, error) {
	s.mu.RLock()
	matched := make([]contracts.Event, 0)
	for _, ev := range s.events {
		if ev.TenantID == tenantID {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()
	return pageNewestFirst(matched, offset, limit), nil
}

func (s *EventStore) CountByTenant(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, ev := range s.events {
		if ev.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func sortChronological(events []contracts.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].EventTime.Equal(events[j].EventTime) {
			return events[i].ID < events[j].ID
		}
		return events[i].EventTime.Before(events[j].EventTime)
	})
}

func pageNewestFirst(events []contracts.Event, offset, limit int) []contracts.Event {
	sortChronological(events)
	// reverse to newest-first
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if offset >= len(events) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(events) {
		end = len(events)
	}
	return events[offset:end]
}

// SubjectStore is an in-memory contracts.SubjectRepository.
type SubjectStore struct {
	mu       sync.RWMutex
	subjects []contracts.Subject
}

func NewSubjectStore() *SubjectStore {
	return &SubjectStore{}
}

func (s *SubjectStore) Add(subj contracts.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subj.CreatedAt.IsZero() {
		subj.CreatedAt = time.Now().UTC()
	}
	s.subjects = append(s.subjects, subj)
}

func (s *SubjectStore) ByIDAndTenant(_ context.Context, subjectID, tenantID string) (*contracts.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, subj := range s.subjects {
		if subj.ID == subjectID && subj.TenantID == tenantID {
			cp := subj
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *SubjectStore) ByTenant(_ context.Context, tenantID string, offset, limit int) ([]contracts.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]contracts.Subject, 0)
	for _, subj := range s.subjects {
		if subj.TenantID == tenantID {
			matched = append(matched, subj)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// SchemaStore is an in-memory contracts.SchemaRepository.
type SchemaStore struct {
	mu      sync.RWMutex
	schemas []contracts.EventSchema
}

func NewSchemaStore() *SchemaStore {
	return &SchemaStore{}
}

func (s *SchemaStore) Add(schema contracts.EventSchema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas = append(s.schemas, schema)
}

func (s *SchemaStore) ByVersion(_ context.Context, tenantID, eventType string, schemaVersion int) (*contracts.EventSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, schema := range s.schemas {
		if schema.TenantID == tenantID && schema.EventType == eventType && schema.SchemaVersion == schemaVersion {
			cp := schema
			return &cp, nil
		}
	}
	return nil, nil
}

// RuleStore is an in-memory contracts.TransitionRuleRepository.
type RuleStore struct {
	mu    sync.RWMutex
	rules []contracts.TransitionRule
}

func NewRuleStore() *RuleStore {
	return &RuleStore{}
}

func (s *RuleStore) Add(rule contracts.TransitionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

func (s *RuleStore) RuleForEventType(_ context.Context, tenantID, eventType string) (*contracts.TransitionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules {
		if rule.TenantID == tenantID && rule.EventType == eventType {
			cp := rule
			return &cp, nil
		}
	}
	return nil, nil
}

// WorkflowStore is an in-memory contracts.WorkflowRepository.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows []contracts.WorkflowDefinition
}

func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{}
}

func (s *WorkflowStore) Add(wf contracts.WorkflowDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = append(s.workflows, wf)
}

func (s *WorkflowStore) ByTrigger(_ context.Context, tenantID, eventType string) ([]contracts.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]contracts.WorkflowDefinition, 0)
	for _, wf := range s.workflows {
		if wf.TenantID == tenantID && wf.TriggerEventType == eventType && wf.IsActive {
			matched = append(matched, wf)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ExecutionOrder < matched[j].ExecutionOrder
	})
	return matched, nil
}

// ExecutionStore is an in-memory contracts.ExecutionRepository.
type ExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]contracts.WorkflowExecution
}

func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{executions: make(map[string]contracts.WorkflowExecution)}
}

func (s *ExecutionStore) Insert(_ context.Context, exec *contracts.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = *exec
	return nil
}

func (s *ExecutionStore) Update(_ context.Context, exec *contracts.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = *exec
	return nil
}

func (s *ExecutionStore) CountForDay(_ context.Context, workflowID, tenantID string, day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, exec := range s.executions {
		if exec.WorkflowID != workflowID || exec.TenantID != tenantID {
			continue
		}
		if !exec.StartedAt.Before(dayStart) && exec.StartedAt.Before(dayEnd) {
			n++
		}
	}
	return n, nil
}

// All returns every recorded execution, for test assertions.
func (s *ExecutionStore) All() []contracts.WorkflowExecution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.WorkflowExecution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// SnapshotStore is an in-memory contracts.SnapshotRepository.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]contracts.Snapshot // keyed by tenant+subject
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snapshots: make(map[string]contracts.Snapshot)}
}

func snapshotKey(subjectID, tenantID string) string {
	return tenantID + "/" + subjectID
}

func (s *SnapshotStore) LatestBySubject(_ context.Context, subjectID, tenantID string) (*contracts.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[snapshotKey(subjectID, tenantID)]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *SnapshotStore) Replace(_ context.Context, snap contracts.Snapshot) (contracts.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshotKey(snap.SubjectID, snap.TenantID)] = snap
	return snap, nil
}

// TaskStore is an in-memory contracts.TaskRepository.
type TaskStore struct {
	mu    sync.RWMutex
	tasks []contracts.Task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{}
}

func (s *TaskStore) Create(_ context.Context, task contracts.Task) (contracts.Task, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return task, nil
}

// All returns every created task, for test assertions.
func (s *TaskStore) All() []contracts.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// RecipientStore is an in-memory contracts.RecipientResolver.
type RecipientStore struct {
	mu     sync.RWMutex
	byRole map[string][]string // tenant+role -> emails
}

func NewRecipientStore() *RecipientStore {
	return &RecipientStore{byRole: make(map[string][]string)}
}

func (s *RecipientStore) SetRole(tenantID, roleCode string, emails []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRole[tenantID+"/"+roleCode] = emails
}

func (s *RecipientStore) EmailsForRole(_ context.Context, tenantID, roleCode string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emails := s.byRole[tenantID+"/"+roleCode]
	out := make([]string, len(emails))
	copy(out, emails)
	return out, nil
}

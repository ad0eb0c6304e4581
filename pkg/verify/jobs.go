package verify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// JobStatus are the lifecycle states of an asynchronous verification job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the polled status record of one asynchronous verification run.
type Job struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenant_id"`
	Status    JobStatus    `json:"status"`
	Report    *ChainReport `json:"report,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// JobStore keeps verification job state in memory, keyed by job id. It is
// the single place job status lives; callers poll by id.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

// Put registers a new pending job.
func (s *JobStore) Put(jobID, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = &Job{
		ID:        jobID,
		TenantID:  tenantID,
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Get returns a copy of the job, or nil when unknown.
func (s *JobStore) Get(jobID string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	copied := *job
	return &copied
}

// Update transitions a job's status with an optional report or error.
func (s *JobStore) Update(jobID string, status JobStatus, report *ChainReport, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return
	}
	job.Status = status
	if report != nil {
		job.Report = report
	}
	if errMsg != "" {
		job.Error = errMsg
	}
}

// Service bundles inline verification with the asynchronous job path.
type Service struct {
	verifier *Verifier
	store    *JobStore
	log      *slog.Logger

	wg sync.WaitGroup
}

// NewService wires a verifier and a job store.
func NewService(verifier *Verifier, store *JobStore) *Service {
	return &Service{
		verifier: verifier,
		store:    store,
		log:      slog.Default().With("component", "verify"),
	}
}

// VerifySubject verifies one subject inline. Subject-scoped verification is
// never redirected to the job path.
func (s *Service) VerifySubject(ctx context.Context, tenantID, subjectID string) (*ChainReport, error) {
	return s.verifier.VerifySubject(ctx, tenantID, subjectID)
}

// VerifyTenant verifies a tenant inline, subject to the configured limits.
func (s *Service) VerifyTenant(ctx context.Context, tenantID string) (*ChainReport, error) {
	return s.verifier.VerifyTenant(ctx, tenantID)
}

// StartJob launches tenant-wide verification in the background and returns
// the job id to poll. The job runs the same algorithm with no cap or time
// budget, on its own context, independent of the original caller.
func (s *Service) StartJob(tenantID string) string {
	jobID := uuid.New().String()
	s.store.Put(jobID, tenantID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.store.Update(jobID, JobRunning, nil, "")

		report, err := s.verifier.verifyTenantAll(context.Background(), tenantID)
		if err != nil {
			s.log.Error("verification job failed", "job_id", jobID, "tenant_id", tenantID, "error", err)
			s.store.Update(jobID, JobFailed, nil, err.Error())
			return
		}
		s.verifier.record(report)
		s.store.Update(jobID, JobCompleted, report, "")
	}()
	return jobID
}

// JobStatus returns the job record, or NotFound when the id is unknown.
func (s *Service) JobStatus(jobID string) (*Job, error) {
	job := s.store.Get(jobID)
	if job == nil {
		return nil, &contracts.NotFoundError{Resource: "verification job", ID: jobID}
	}
	return job, nil
}

// Wait blocks until all launched jobs finish. Used by tests and shutdown.
func (s *Service) Wait() { s.wg.Wait() }

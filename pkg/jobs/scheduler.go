// Package jobs runs scheduled maintenance over the ledger: periodic
// snapshot sweeps and chain verification per tenant.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/evidentry/evidentry/pkg/contracts"
	"github.com/evidentry/evidentry/pkg/observability"
	"github.com/evidentry/evidentry/pkg/verify"
)

// Snapshotter is the slice of the snapshot job runner the scheduler needs.
type Snapshotter interface {
	RunJob(ctx context.Context, tenantID string, limit int) (contracts.SnapshotRunResult, error)
}

// Verifier is the slice of the verification service the scheduler needs.
type Verifier interface {
	VerifyTenant(ctx context.Context, tenantID string) (*verify.ChainReport, error)
}

// TenantSchedule describes one tenant's maintenance cadence. Empty cron
// expressions disable the corresponding sweep.
type TenantSchedule struct {
	TenantID string
	// SnapshotSpec and VerifySpec are standard cron expressions.
	SnapshotSpec string
	VerifySpec   string
	// SnapshotLimit bounds subjects per snapshot sweep; 0 uses the default.
	SnapshotLimit int
}

// Scheduler drives snapshot and verification sweeps on cron schedules.
type Scheduler struct {
	cron        *cron.Cron
	snapshotter Snapshotter
	verifier    Verifier
	telemetry   *observability.Provider // optional
	log         *slog.Logger

	mu      sync.Mutex
	entries []cron.EntryID
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTelemetry attaches the OpenTelemetry provider; sweeps then emit span
// and duration telemetry per run.
func WithTelemetry(p *observability.Provider) SchedulerOption {
	return func(s *Scheduler) { s.telemetry = p }
}

func NewScheduler(snapshotter Snapshotter, verifier Verifier, log *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron:        cron.New(),
		snapshotter: snapshotter,
		verifier:    verifier,
		log:         log.With("component", "jobs"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a tenant's sweeps to the schedule.
func (s *Scheduler) Register(schedule TenantSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if schedule.SnapshotSpec != "" {
		id, err := s.cron.AddFunc(schedule.SnapshotSpec, func() {
			s.runSnapshotSweep(schedule.TenantID, schedule.SnapshotLimit)
		})
		if err != nil {
			return err
		}
		s.entries = append(s.entries, id)
	}
	if schedule.VerifySpec != "" {
		id, err := s.cron.AddFunc(schedule.VerifySpec, func() {
			s.runVerifySweep(schedule.TenantID)
		})
		if err != nil {
			return err
		}
		s.entries = append(s.entries, id)
	}
	return nil
}

// Start begins executing scheduled sweeps.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running sweeps to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runSnapshotSweep(tenantID string, limit int) {
	ctx, done := s.observeSweep(context.Background(), "snapshot_sweep", tenantID)

	result, err := s.snapshotter.RunJob(ctx, tenantID, limit)
	done(err)
	if err != nil {
		s.log.Error("snapshot sweep failed", "tenant_id", tenantID, "error", err)
		return
	}
	s.log.Info("snapshot sweep finished",
		"tenant_id", tenantID,
		"subjects_processed", result.SubjectsProcessed,
		"snapshots_written", result.SnapshotsCreatedOrUpdated,
		"errors", result.ErrorCount,
	)
}

func (s *Scheduler) runVerifySweep(tenantID string) {
	ctx, done := s.observeSweep(context.Background(), "verify_sweep", tenantID)

	report, err := s.verifier.VerifyTenant(ctx, tenantID)
	done(err)
	if err != nil {
		s.log.Error("verification sweep failed", "tenant_id", tenantID, "error", err)
		return
	}
	if report.IsChainValid {
		s.log.Info("verification sweep clean",
			"tenant_id", tenantID, "events_checked", report.TotalEvents)
		return
	}
	s.log.Error("verification sweep found invalid events",
		"tenant_id", tenantID,
		"events_checked", report.TotalEvents,
		"invalid_events", report.InvalidEvents,
	)
}

// observeSweep opens a span and gauges the sweep; the returned func records
// the outcome and duration. With no telemetry provider it is a no-op.
func (s *Scheduler) observeSweep(ctx context.Context, name, tenantID string) (context.Context, func(error)) {
	if s.telemetry == nil {
		return ctx, func(error) {}
	}
	attrs := []attribute.KeyValue{
		attribute.String("sweep", name),
		attribute.String("tenant_id", tenantID),
	}
	spanCtx, span := s.telemetry.StartSpan(ctx, name)
	s.telemetry.SweepStarted(spanCtx, attrs...)
	start := time.Now()

	return spanCtx, func(err error) {
		s.telemetry.RecordDuration(spanCtx, time.Since(start), attrs...)
		s.telemetry.SweepEnded(spanCtx, attrs...)
		if err != nil {
			s.telemetry.RecordError(spanCtx, err, attrs...)
		} else {
			s.telemetry.RecordOperation(spanCtx, attrs...)
		}
		span.End()
	}
}

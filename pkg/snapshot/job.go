package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// Batch job tuning. The job pages subjects and retains a bounded list of
// offending subject ids for diagnostics.
const (
	jobPageSize        = 100
	JobDefaultLimit    = 500
	JobMaxLimit        = 2000
	maxErrorSubjectIDs = 50
)

// Snapshotter creates and refreshes replay checkpoints.
type Snapshotter struct {
	projector *Projector
	snapshots contracts.SnapshotRepository
	subjects  contracts.SubjectRepository
	log       *slog.Logger

	// minEvents is the stream length below which a snapshot is refused;
	// replaying a short stream is cheaper than maintaining a checkpoint.
	minEvents int

	// limiter paces per-subject work in batch jobs; nil means unpaced.
	limiter *rate.Limiter
}

// SnapshotterOption configures a Snapshotter.
type SnapshotterOption func(*Snapshotter)

// WithJobRate paces batch snapshot jobs at n subjects per second.
func WithJobRate(n float64) SnapshotterOption {
	return func(s *Snapshotter) {
		if n > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(n), 1)
		}
	}
}

// WithMinEvents refuses snapshots for subjects with fewer than n events.
func WithMinEvents(n int) SnapshotterOption {
	return func(s *Snapshotter) { s.minEvents = n }
}

// NewSnapshotter wires the projector and repositories.
func NewSnapshotter(
	projector *Projector,
	snapshots contracts.SnapshotRepository,
	subjects contracts.SubjectRepository,
	opts ...SnapshotterOption,
) *Snapshotter {
	s := &Snapshotter{
		projector: projector,
		snapshots: snapshots,
		subjects:  subjects,
		log:       slog.Default().With("component", "snapshotter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSnapshot derives current state and installs it as the subject's
// live snapshot, replacing any prior one. A subject with zero events has no
// anchor to snapshot at; that, or a stream below the WithMinEvents floor,
// fails with a ValidationError.
func (s *Snapshotter) CreateSnapshot(ctx context.Context, tenantID, subjectID string) (contracts.Snapshot, error) {
	result, err := s.projector.CurrentState(ctx, tenantID, subjectID, StateOptions{})
	if err != nil {
		return contracts.Snapshot{}, err
	}
	if result.LastEventID == nil {
		return contracts.Snapshot{}, &contracts.ValidationError{
			Detail: "cannot create snapshot: subject has no events",
		}
	}
	if result.EventCount < s.minEvents {
		return contracts.Snapshot{}, &contracts.ValidationError{
			Detail: fmt.Sprintf("cannot create snapshot: subject has %d events, at least %d required",
				result.EventCount, s.minEvents),
		}
	}
	snap, err := s.snapshots.Replace(ctx, contracts.Snapshot{
		SubjectID:            subjectID,
		TenantID:             tenantID,
		SnapshotAtEventID:    *result.LastEventID,
		StateJSON:            result.State,
		EventCountAtSnapshot: result.EventCount,
		CreatedAt:            time.Now().UTC(),
	})
	if err != nil {
		return contracts.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	return snap, nil
}

// RunJob refreshes snapshots for up to limit subjects in the tenant.
// Subjects with no events, or too few to clear the snapshot floor, count as
// skipped; other failures count as errors and never abort the batch.
func (s *Snapshotter) RunJob(ctx context.Context, tenantID string, limit int) (contracts.SnapshotRunResult, error) {
	if limit <= 0 {
		limit = JobDefaultLimit
	}
	if limit > JobMaxLimit {
		limit = JobMaxLimit
	}

	result := contracts.SnapshotRunResult{TenantID: tenantID}
	offset := 0
	for result.SubjectsProcessed < limit {
		pageSize := jobPageSize
		if remaining := limit - result.SubjectsProcessed; remaining < pageSize {
			pageSize = remaining
		}
		subjects, err := s.subjects.ByTenant(ctx, tenantID, offset, pageSize)
		if err != nil {
			return result, fmt.Errorf("page subjects: %w", err)
		}
		if len(subjects) == 0 {
			break
		}

		for _, subject := range subjects {
			if result.SubjectsProcessed >= limit {
				break
			}
			result.SubjectsProcessed++

			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return result, err
				}
			}

			_, err := s.CreateSnapshot(ctx, tenantID, subject.ID)
			switch {
			case err == nil:
				result.SnapshotsCreatedOrUpdated++
			case isValidation(err):
				result.SkippedNoEvents++
			default:
				result.ErrorCount++
				if len(result.ErrorSubjectIDs) < maxErrorSubjectIDs {
					result.ErrorSubjectIDs = append(result.ErrorSubjectIDs, subject.ID)
				}
				s.log.Warn("snapshot job subject failed",
					"tenant_id", tenantID, "subject_id", subject.ID, "error", err)
			}
		}

		if len(subjects) < pageSize {
			break
		}
		offset += len(subjects)
	}
	return result, nil
}

func isValidation(err error) bool {
	var ve *contracts.ValidationError
	return errors.As(err, &ve)
}

// Package verify recomputes event hashes and previous-hash links to detect
// tampering or corruption. Verification is read-only and independent of the
// ingestion path.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/evidentry/evidentry/pkg/chain"
	"github.com/evidentry/evidentry/pkg/contracts"
)

// Finding classifies a per-event verification failure.
type Finding string

const (
	FindingHashMismatch    Finding = "HASH_MISMATCH"
	FindingGenesisError    Finding = "GENESIS_ERROR"
	FindingMissingPrevious Finding = "MISSING_PREVIOUS"
	FindingChainBreak      Finding = "CHAIN_BREAK"
)

// fetchBatchSize pages event reads so verification never issues one
// unbounded query.
const fetchBatchSize = 500

// EventResult is the verification outcome for one event.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type EventResult struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventTime    time.Time `json:"event_time"`
	Sequence     int       `json:"sequence"`
	IsValid      bool      `json:"is_valid"`
	ErrorType    Finding   `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ExpectedHash string    `json:"expected_hash,omitempty"`
	ActualHash   string    `json:"actual_hash,omitempty"`
	PreviousHash *string   `json:"previous_hash,omitempty"`
}

// ChainReport is the outcome of verifying a subject's or tenant's chains.
type ChainReport struct {
	// SubjectID is nil for tenant-wide reports.
	SubjectID     *string       `json:"subject_id"`
	TenantID      string        `json:"tenant_id"`
	TotalEvents   int           `json:"total_events"`
	ValidEvents   int           `json:"valid_events"`
	InvalidEvents int           `json:"invalid_events"`
	IsChainValid  bool          `json:"is_chain_valid"`
	VerifiedAt    time.Time     `json:"verified_at"`
	Events        []EventResult `json:"events"`
}

// Verifier walks event streams and recomputes hashes and links.
type Verifier struct {
	events contracts.EventRepository
	hasher *chain.Hasher
	log    *slog.Logger

	// maxEvents caps inline tenant-wide verification; 0 disables the cap.
	maxEvents int64
	// timeBudget bounds inline tenant-wide verification; 0 disables it.
	timeBudget time.Duration

	metrics VerifyMetrics // optional
}

// VerifyMetrics receives verification outcomes. Implementations must not block.
type VerifyMetrics interface {
	ChainVerified(tenantID string, total, invalid int)
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithMaxEvents caps inline tenant-wide verification at n events.
func WithMaxEvents(n int64) VerifierOption {
	return func(v *Verifier) { v.maxEvents = n }
}

// WithTimeBudget bounds inline tenant-wide verification wall time.
func WithTimeBudget(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.timeBudget = d }
}

// WithMetrics attaches a verification metrics sink.
func WithMetrics(m VerifyMetrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier constructs a Verifier over the given event repository. The
// hasher must match the one used at append time.
func NewVerifier(events contracts.EventRepository, hasher *chain.Hasher, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		events: events,
		hasher: hasher,
		log:    slog.Default().With("component", "verifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifySubject verifies one subject's chain, oldest event first.
func (v *Verifier) VerifySubject(ctx context.Context, tenantID, subjectID string) (*ChainReport, error) {
	var all []contracts.Event
	for offset := 0; ; offset += fetchBatchSize {
		batch, err := v.events.BySubject(ctx, subjectID, tenantID, offset, fetchBatchSize)
		if err != nil {
			return nil, fmt.Errorf("load subject events: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < fetchBatchSize {
			break
		}
	}
	sortByEventTime(all)

	report := v.buildReport(tenantID, &subjectID, all, v.verifyStream(all))
	v.record(report)
	return report, nil
}

// VerifyTenant verifies every subject chain in the tenant. When the tenant
// exceeds the configured event cap or time budget the call fails fast with
// LimitExceeded, directing the caller to the asynchronous job path.
func (v *Verifier) VerifyTenant(ctx context.Context, tenantID string) (*ChainReport, error) {
	if v.maxEvents > 0 {
		count, err := v.events.CountByTenant(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("count tenant events: %w", err)
		}
		if count > v.maxEvents {
			return nil, &contracts.LimitExceededError{MaxEvents: v.maxEvents, EventCount: count}
		}
	}

	if v.timeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeBudget)
		defer cancel()
	}

	report, err := v.verifyTenantAll(ctx, tenantID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &contracts.LimitExceededError{
				MaxEvents: v.maxEvents,
				Detail:    fmt.Sprintf("time budget %s exhausted; run as async job", v.timeBudget),
			}
		}
		return nil, err
	}
	v.record(report)
	return report, nil
}

// verifyTenantAll runs the full tenant algorithm with no cap. The async job
// path calls it directly on a dedicated session.
func (v *Verifier) verifyTenantAll(ctx context.Context, tenantID string) (*ChainReport, error) {
	var all []contracts.Event
	for offset := 0; ; offset += fetchBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := v.events.ByTenant(ctx, tenantID, offset, fetchBatchSize)
		if err != nil {
			return nil, fmt.Errorf("load tenant events: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < fetchBatchSize {
			break
		}
	}

	bySubject := make(map[string][]contracts.Event)
	var order []string
	for _, e := range all {
		if _, seen := bySubject[e.SubjectID]; !seen {
			order = append(order, e.SubjectID)
		}
		bySubject[e.SubjectID] = append(bySubject[e.SubjectID], e)
	}
	sort.Strings(order)

	var results []EventResult
	for _, sid := range order {
		stream := bySubject[sid]
		sortByEventTime(stream)
		results = append(results, v.verifyStream(stream)...)
	}
	return v.buildReport(tenantID, nil, all, results), nil
}

// verifyStream checks one chronologically sorted stream.
func (v *Verifier) verifyStream(stream []contracts.Event) []EventResult {
	results := make([]EventResult, 0, len(stream))
	for i := range stream {
		var prev *contracts.Event
		if i > 0 {
			prev = &stream[i-1]
		}
		results = append(results, v.verifyEvent(&stream[i], prev, i))
	}
	return results
}

func (v *Verifier) verifyEvent(event, prev *contracts.Event, sequence int) EventResult {
	r := EventResult{
		EventID:      event.ID,
		EventType:    event.EventType,
		EventTime:    event.EventTime,
		Sequence:     sequence,
		PreviousHash: event.PreviousHash,
	}

	computed, err := v.hasher.Compute(
		event.SubjectID, event.EventType, event.SchemaVersion,
		event.EventTime, event.Payload, event.PreviousHash)
	if err != nil {
		r.ErrorType = FindingHashMismatch
		r.ErrorMessage = fmt.Sprintf("hash recomputation failed: %v", err)
		return r
	}

	if computed != event.Hash {
		r.ErrorType = FindingHashMismatch
		r.ErrorMessage = "event hash does not match recomputed hash"
		r.ExpectedHash = computed
		r.ActualHash = event.Hash
		return r
	}

	if sequence == 0 {
		if event.PreviousHash != nil {
			r.ErrorType = FindingGenesisError
			r.ErrorMessage = "genesis event must have null previous_hash"
			return r
		}
	} else {
		if prev == nil {
			r.ErrorType = FindingMissingPrevious
			r.ErrorMessage = "previous event not found"
			return r
		}
		if event.PreviousHash == nil || *event.PreviousHash != prev.Hash {
			r.ErrorType = FindingChainBreak
			r.ErrorMessage = "previous_hash does not match previous event"
			r.ExpectedHash = prev.Hash
			if event.PreviousHash != nil {
				r.ActualHash = *event.PreviousHash
			}
			return r
		}
	}

	r.IsValid = true
	r.ExpectedHash = event.Hash
	r.ActualHash = event.Hash
	return r
}

func (v *Verifier) buildReport(tenantID string, subjectID *string, events []contracts.Event, results []EventResult) *ChainReport {
	valid := 0
	for _, r := range results {
		if r.IsValid {
			valid++
		}
	}
	return &ChainReport{
		SubjectID:     subjectID,
		TenantID:      tenantID,
		TotalEvents:   len(events),
		ValidEvents:   valid,
		InvalidEvents: len(results) - valid,
		IsChainValid:  len(results) == valid,
		VerifiedAt:    time.Now().UTC(),
		Events:        results,
	}
}

func (v *Verifier) record(report *ChainReport) {
	if v.metrics != nil {
		v.metrics.ChainVerified(report.TenantID, report.TotalEvents, report.InvalidEvents)
	}
	if !report.IsChainValid {
		v.log.Warn("chain verification found invalid events",
			"tenant_id", report.TenantID,
			"invalid_events", report.InvalidEvents,
			"total_events", report.TotalEvents)
	}
}

func sortByEventTime(events []contracts.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].EventTime.Equal(events[j].EventTime) {
			return events[i].ID < events[j].ID
		}
		return events[i].EventTime.Before(events[j].EventTime)
	})
}

package contracts

import "time"

// Snapshot is a point-in-time replay checkpoint for one subject. At most one
// live snapshot exists per subject; a new snapshot replaces the prior one.
type Snapshot struct {
	ID                   string         `json:"id"`
	SubjectID            string         `json:"subject_id"`
	TenantID             string         `json:"tenant_id"`
	SnapshotAtEventID    string         `json:"snapshot_at_event_id"`
	StateJSON            map[string]any `json:"state_json"`
	EventCountAtSnapshot int            `json:"event_count_at_snapshot"`
	CreatedAt            time.Time      `json:"created_at"`
}

// SnapshotRunResult summarizes one batch snapshot job over a tenant.
type SnapshotRunResult struct {
	TenantID                  string   `json:"tenant_id"`
	SubjectsProcessed         int      `json:"subjects_processed"`
	SnapshotsCreatedOrUpdated int      `json:"snapshots_created_or_updated"`
	SkippedNoEvents           int      `json:"skipped_no_events"`
	ErrorCount                int      `json:"error_count"`
	ErrorSubjectIDs           []string `json:"error_subject_ids,omitempty"`
}

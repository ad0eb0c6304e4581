package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TenantProfile is a per-tenant configuration overlay. Absent fields fall
// back to the service-wide Config defaults.
type TenantProfile struct {
	Name     string `yaml:"name" json:"name"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`

	Ledger    LedgerProfile    `yaml:"ledger" json:"ledger"`
	Snapshots SnapshotProfile  `yaml:"snapshots" json:"snapshots"`
	Verify    VerifyProfile    `yaml:"verify" json:"verify"`
	Workflows WorkflowsProfile `yaml:"workflows" json:"workflows"`
}

// LedgerProfile holds per-tenant append behavior.
type LedgerProfile struct {
	HashAlgorithm string `yaml:"hash_algorithm,omitempty" json:"hash_algorithm,omitempty"`
	// RequireSchemas rejects appends for event types without a registered
	// schema instead of skipping validation. Nil falls back to the service
	// default.
	RequireSchemas *bool `yaml:"require_schemas,omitempty" json:"require_schemas,omitempty"`
}

// SnapshotProfile controls snapshot job thresholds per tenant.
type SnapshotProfile struct {
	MinEventsForSnapshot int `yaml:"min_events_for_snapshot,omitempty" json:"min_events_for_snapshot,omitempty"`
	JobSubjectLimit      int `yaml:"job_subject_limit,omitempty" json:"job_subject_limit,omitempty"`
}

// VerifyProfile bounds synchronous verification per tenant.
type VerifyProfile struct {
	MaxEvents     int    `yaml:"max_events,omitempty" json:"max_events,omitempty"`
	TimeBudget    string `yaml:"time_budget,omitempty" json:"time_budget,omitempty"`
	SweepSchedule string `yaml:"sweep_schedule,omitempty" json:"sweep_schedule,omitempty"`
}

// WorkflowsProfile holds per-tenant workflow engine limits.
type WorkflowsProfile struct {
	DefaultMaxExecutionsPerDay int `yaml:"default_max_executions_per_day,omitempty" json:"default_max_executions_per_day,omitempty"`
}

// ForTenant overlays a tenant profile onto the service defaults and returns
// the adjusted copy. A nil profile leaves the defaults untouched; malformed
// profile durations fall back like malformed environment values do.
func (c *Config) ForTenant(p *TenantProfile) *Config {
	out := *c
	if p == nil {
		return &out
	}
	if p.Ledger.HashAlgorithm != "" {
		out.HashAlgorithm = p.Ledger.HashAlgorithm
	}
	if p.Ledger.RequireSchemas != nil {
		out.RequireSchemas = *p.Ledger.RequireSchemas
	}
	if p.Verify.MaxEvents > 0 {
		out.VerifyMaxEvents = p.Verify.MaxEvents
	}
	if p.Verify.TimeBudget != "" {
		if d, err := time.ParseDuration(p.Verify.TimeBudget); err == nil {
			out.VerifyTimeBudget = d
		}
	}
	if p.Verify.SweepSchedule != "" {
		out.VerifySweepSpec = p.Verify.SweepSchedule
	}
	if p.Snapshots.MinEventsForSnapshot > 0 {
		out.SnapshotMinEvents = p.Snapshots.MinEventsForSnapshot
	}
	if p.Snapshots.JobSubjectLimit > 0 {
		out.SnapshotJobLimit = p.Snapshots.JobSubjectLimit
	}
	if p.Workflows.DefaultMaxExecutionsPerDay > 0 {
		out.WorkflowMaxPerDay = p.Workflows.DefaultMaxExecutionsPerDay
	}
	return &out
}

// LoadProfile loads a tenant profile YAML by tenant id. It searches the
// profiles directory for profile_<tenant>.yaml.
func LoadProfile(profilesDir, tenantID string) (*TenantProfile, error) {
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", strings.ToLower(tenantID)))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", tenantID, err)
	}

	var profile TenantProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", tenantID, err)
	}

	if profile.TenantID == "" {
		profile.TenantID = tenantID
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*TenantProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*TenantProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile TenantProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.TenantID == "" {
			base := filepath.Base(path)
			profile.TenantID = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.TenantID] = &profile
	}
	return profiles, nil
}

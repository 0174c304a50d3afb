package models

import (
	"sort"
	"time"
)

// ChangeKind is the outcome of classifying a corpus document against the catalog.
type ChangeKind int

const (
	// Unchanged means the active catalog checksum equals the content checksum.
	Unchanged ChangeKind = iota
	// New means the id has no active catalog record (never seen, or tombstoned).
	New
	// Updated means the id is active with a different checksum.
	Updated
	// Deleted means the id is active in the catalog but absent from the corpus.
	Deleted
)

// String returns the lower-case name used in logs and reports.
func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case New:
		return "new"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Failure stages.
const (
	StageEmbed   = "embed"
	StageCatalog = "catalog"
)

// DocumentFailure describes a document whose staged change was not applied.
type DocumentFailure struct {
	DocID string `json:"doc_id"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ReconciliationReport lists what one reconciliation run changed.
//
// Restored ids were unchanged in the catalog but missing from the artifact, and
// were re-embedded into it. Dropped ids were in the artifact without an active
// catalog record and were removed from it.
type ReconciliationReport struct {
	RunID      string            `json:"run_id"`
	Version    string            `json:"version"`
	Added      []string          `json:"added"`
	Updated    []string          `json:"updated"`
	Deleted    []string          `json:"deleted"`
	Restored   []string          `json:"restored"`
	Dropped    []string          `json:"dropped"`
	Failed     []DocumentFailure `json:"failed"`
	Unchanged  int               `json:"unchanged"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// NewReport returns an empty report with non-nil id lists so JSON renders [] rather than null.
func NewReport(runID, version string, started time.Time) *ReconciliationReport {
	return &ReconciliationReport{
		RunID:     runID,
		Version:   version,
		Added:     []string{},
		Updated:   []string{},
		Deleted:   []string{},
		Restored:  []string{},
		Dropped:   []string{},
		Failed:    []DocumentFailure{},
		StartedAt: started,
	}
}

// Empty reports whether the run changed nothing and had no failures.
func (r *ReconciliationReport) Empty() bool {
	return len(r.Added) == 0 && len(r.Updated) == 0 && len(r.Deleted) == 0 &&
		len(r.Restored) == 0 && len(r.Dropped) == 0 && len(r.Failed) == 0
}

// ArtifactChanged reports whether the run staged any change to the artifact.
func (r *ReconciliationReport) ArtifactChanged() bool {
	return len(r.Added)+len(r.Updated)+len(r.Deleted)+len(r.Restored)+len(r.Dropped) > 0
}

// Sort orders every id list so reports are stable across runs.
func (r *ReconciliationReport) Sort() {
	sort.Strings(r.Added)
	sort.Strings(r.Updated)
	sort.Strings(r.Deleted)
	sort.Strings(r.Restored)
	sort.Strings(r.Dropped)
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].DocID < r.Failed[j].DocID })
}

// Run converts the report into a persisted run summary.
func (r *ReconciliationReport) Run(runErr error) *RunRecord {
	rec := &RunRecord{
		RunID:      r.RunID,
		Version:    r.Version,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Added:      len(r.Added),
		Updated:    len(r.Updated),
		Deleted:    len(r.Deleted),
		Restored:   len(r.Restored),
		Dropped:    len(r.Dropped),
		Failed:     len(r.Failed),
		Unchanged:  r.Unchanged,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec
}

// RunRecord is the persisted summary of one reconciliation run.
type RunRecord struct {
	RunID      string    `json:"run_id"`
	Version    string    `json:"version"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Added      int       `json:"added"`
	Updated    int       `json:"updated"`
	Deleted    int       `json:"deleted"`
	Restored   int       `json:"restored"`
	Dropped    int       `json:"dropped"`
	Failed     int       `json:"failed"`
	Unchanged  int       `json:"unchanged"`
	Error      string    `json:"error,omitempty"`
}

// Package cli renders reconcile results for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/kaizen/internal/models"
	"github.com/hyperjump/kaizen/internal/reconcile"
	"github.com/hyperjump/kaizen/internal/storage"
	"github.com/hyperjump/kaizen/pkg/utils"
)

// OutputFormat selects text or JSON rendering.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json", or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

const maxErrorLen = 120

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteReport writes a reconciliation report to w in the given format.
func WriteReport(w io.Writer, report *models.ReconciliationReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Reconciled version %s in %s (run %s)\n",
		report.Version, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.RunID)
	fmt.Fprintf(w, "  added %d, updated %d, deleted %d, failed %d, unchanged %d\n",
		len(report.Added), len(report.Updated), len(report.Deleted), len(report.Failed), report.Unchanged)
	if len(report.Restored)+len(report.Dropped) > 0 {
		fmt.Fprintf(w, "  artifact repaired: restored %d, dropped %d\n", len(report.Restored), len(report.Dropped))
	}
	writeIDs(w, "+", report.Added)
	writeIDs(w, "~", report.Updated)
	writeIDs(w, "-", report.Deleted)
	writeIDs(w, "^", report.Restored)
	writeIDs(w, "x", report.Dropped)
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  ! %s [%s] %s\n", f.DocID, f.Stage, utils.Truncate(f.Error, maxErrorLen))
	}
	return nil
}

func writeIDs(w io.Writer, mark string, ids []string) {
	for _, id := range ids {
		fmt.Fprintf(w, "  %s %s\n", mark, id)
	}
}

// WriteVerify writes a verification result.
func WriteVerify(w io.Writer, res *reconcile.VerifyResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	writeVerifyText(w, res)
	return nil
}

func writeVerifyText(w io.Writer, res *reconcile.VerifyResult) {
	state := "consistent"
	if !res.Consistent() {
		state = "INCONSISTENT"
	}
	fmt.Fprintf(w, "Version %s: %s (catalog %d active, artifact %d entries)\n",
		res.Version, state, res.CatalogActive, res.ArtifactEntries)
	for _, id := range res.MissingEntries {
		fmt.Fprintf(w, "  missing from artifact: %s\n", id)
	}
	for _, id := range res.OrphanEntries {
		fmt.Fprintf(w, "  orphan in artifact: %s\n", id)
	}
}

// WriteRepair writes a repair result.
func WriteRepair(w io.Writer, res *reconcile.RepairResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	writeVerifyText(w, &res.VerifyResult)
	fmt.Fprintf(w, "Repair: restored %d, dropped %d, skipped %d\n",
		len(res.Restored), len(res.Dropped), len(res.Skipped))
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped %s: %s\n", s.DocID, utils.Truncate(s.Reason, maxErrorLen))
	}
	return nil
}

// Status is the summary printed by the status command. Documents counts the
// catalog of Version.
type Status struct {
	Version        string                `json:"version"`
	Documents      storage.CatalogCounts `json:"documents"`
	Versions       []string              `json:"versions"`
	Runs           []*models.RunRecord   `json:"runs"`
	DiskUsageBytes int64                 `json:"disk_usage_bytes"`
}

// WriteStatus writes catalog counts, artifact versions and recent runs.
func WriteStatus(w io.Writer, st *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Documents: %s active, %s deleted",
		humanize.Comma(st.Documents.Active), humanize.Comma(st.Documents.Deleted))
	if st.Version != "" {
		fmt.Fprintf(w, " (version %s)", st.Version)
	}
	fmt.Fprintln(w)
	if len(st.Versions) == 0 {
		fmt.Fprintln(w, "Versions:  (none)")
	} else {
		fmt.Fprintf(w, "Versions:  %s\n", strings.Join(st.Versions, ", "))
	}
	fmt.Fprintf(w, "Disk:      %s\n", humanize.Bytes(uint64(st.DiskUsageBytes)))
	if len(st.Runs) == 0 {
		return nil
	}
	fmt.Fprintln(w, "Recent runs:")
	for _, r := range st.Runs {
		fmt.Fprintf(w, "  %s  %-10s +%d ~%d -%d !%d =%d",
			r.StartedAt.Format("2006-01-02 15:04:05"), r.Version,
			r.Added, r.Updated, r.Deleted, r.Failed, r.Unchanged)
		if r.Error != "" {
			fmt.Fprintf(w, "  error: %s", utils.Truncate(r.Error, maxErrorLen))
		}
		fmt.Fprintln(w)
	}
	return nil
}

// Package storage defines the metadata catalog and the index artifact stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/hyperjump/kaizen/internal/models"
)

var (
	// ErrNotFound is returned when a doc_id has never been recorded.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidVersion is returned for version tags that cannot name an artifact.
	ErrInvalidVersion = errors.New("invalid index version")
)

// Catalog is the durable record of every known document, kept separately for
// each index version. Each mutating call is atomic on its own; there are no
// cross-call transactions.
type Catalog interface {
	// GetActive returns doc_id -> checksum for the non-deleted records of version.
	GetActive(ctx context.Context, version string) (map[string]string, error)
	// Get returns the record for docID under version, tombstoned or not.
	Get(ctx context.Context, version, docID string) (*models.DocumentRecord, error)
	// Upsert records checksum for docID under version and clears any tombstone.
	Upsert(ctx context.Context, version, docID, checksum string, ts time.Time) error
	// MarkDeleted tombstones docID under version. Already-deleted and unknown ids
	// are a no-op.
	MarkDeleted(ctx context.Context, version, docID string, ts time.Time) error
	List(ctx context.Context, version string, opts ListOptions) ([]*models.DocumentRecord, error)
	// Count splits the records of version by tombstone state. An empty version
	// counts every version.
	Count(ctx context.Context, version string) (CatalogCounts, error)

	// Run history
	RecordRun(ctx context.Context, run *models.RunRecord) error
	ListRuns(ctx context.Context, version string, limit int) ([]*models.RunRecord, error)

	Close() error
}

// ListOptions filters and pages catalog listings. Limit <= 0 means no limit.
type ListOptions struct {
	IncludeDeleted bool
	Offset         int
	Limit          int
}

// CatalogCounts splits the catalog by tombstone state.
type CatalogCounts struct {
	Active  int64 `json:"active"`
	Deleted int64 `json:"deleted"`
}

// ArtifactStore persists whole index snapshots keyed by version.
type ArtifactStore interface {
	// Load returns the snapshot for version, empty if it was never saved.
	Load(ctx context.Context, version string) (models.Snapshot, error)
	// Save atomically replaces the snapshot for version.
	Save(ctx context.Context, version string, snapshot models.Snapshot) error
	// Versions lists saved versions in ascending order.
	Versions(ctx context.Context) ([]string, error)
	Close() error
}

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidateVersion rejects tags that are unsafe as file or bucket names.
func ValidateVersion(version string) error {
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	return nil
}

// NewArtifactStore opens the artifact backend by name: "json" (directory of
// snapshot files) or "bolt" (single bbolt database file).
func NewArtifactStore(backend, path string) (ArtifactStore, error) {
	switch backend {
	case "", "json":
		return NewFileArtifactStore(path)
	case "bolt":
		return NewBoltArtifactStore(path)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", backend)
	}
}

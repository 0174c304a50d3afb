package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/checksum"
	"github.com/hyperjump/kaizen/internal/models"
	"github.com/hyperjump/kaizen/internal/storage"
)

// VerifyResult compares the active catalog with the artifact of one version.
type VerifyResult struct {
	Version         string   `json:"version"`
	CatalogActive   int      `json:"catalog_active"`
	ArtifactEntries int      `json:"artifact_entries"`
	// MissingEntries are active in the catalog but absent from the artifact.
	MissingEntries []string `json:"missing_entries"`
	// OrphanEntries are in the artifact but not active in the catalog.
	OrphanEntries []string `json:"orphan_entries"`
}

// Consistent reports whether catalog and artifact agree on the id set.
func (r *VerifyResult) Consistent() bool {
	return len(r.MissingEntries) == 0 && len(r.OrphanEntries) == 0
}

// Verify checks that the artifact of version holds exactly the active catalog
// ids of version. It detects the window left by a failed snapshot save.
func Verify(ctx context.Context, catalog storage.Catalog, artifacts storage.ArtifactStore, version string) (*VerifyResult, error) {
	if err := storage.ValidateVersion(version); err != nil {
		return nil, err
	}
	active, err := catalog.GetActive(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogRead, err)
	}
	snapshot, err := artifacts.Load(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactRead, err)
	}
	return compare(version, active, snapshot), nil
}

func compare(version string, active map[string]string, snapshot models.Snapshot) *VerifyResult {
	res := &VerifyResult{
		Version:         version,
		CatalogActive:   len(active),
		ArtifactEntries: len(snapshot),
		MissingEntries:  []string{},
		OrphanEntries:   []string{},
	}
	for id := range active {
		if _, ok := snapshot[id]; !ok {
			res.MissingEntries = append(res.MissingEntries, id)
		}
	}
	for id := range snapshot {
		if _, ok := active[id]; !ok {
			res.OrphanEntries = append(res.OrphanEntries, id)
		}
	}
	sort.Strings(res.MissingEntries)
	sort.Strings(res.OrphanEntries)
	return res
}

// Verify runs Verify against the engine's stores.
func (e *Engine) Verify(ctx context.Context, version string) (*VerifyResult, error) {
	return Verify(ctx, e.catalog, e.artifacts, version)
}

// RepairResult describes what Repair changed in the artifact.
type RepairResult struct {
	VerifyResult
	// Restored entries were re-embedded from the corpus.
	Restored []string `json:"restored"`
	// Dropped orphans were removed from the artifact.
	Dropped []string `json:"dropped"`
	// Skipped entries are missing but the corpus content no longer matches the
	// catalog checksum (or is gone); the next reconcile handles them.
	Skipped []DocumentSkip `json:"skipped"`
}

// DocumentSkip names a missing entry Repair left alone.
type DocumentSkip struct {
	DocID  string `json:"doc_id"`
	Reason string `json:"reason"`
}

// Repair brings the artifact of version back in line with the catalog. The
// catalog is not modified.
func (e *Engine) Repair(ctx context.Context, docs models.Corpus, version string) (*RepairResult, error) {
	if err := storage.ValidateVersion(version); err != nil {
		return nil, err
	}
	unlock, err := e.acquire(ctx, version)
	if err != nil {
		return nil, err
	}
	defer unlock()

	active, err := e.catalog.GetActive(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogRead, err)
	}
	snapshot, err := e.artifacts.Load(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactRead, err)
	}

	res := &RepairResult{
		VerifyResult: *compare(version, active, snapshot),
		Restored:     []string{},
		Dropped:      []string{},
		Skipped:      []DocumentSkip{},
	}
	if res.Consistent() {
		return res, nil
	}

	var pending []*pendingDoc
	for _, id := range res.MissingEntries {
		content, ok := docs[id]
		switch {
		case !ok:
			res.Skipped = append(res.Skipped, DocumentSkip{DocID: id, Reason: "not in corpus"})
		case checksum.Fingerprint(content) != active[id]:
			res.Skipped = append(res.Skipped, DocumentSkip{DocID: id, Reason: "content changed since last reconcile"})
		default:
			pending = append(pending, &pendingDoc{id: id, content: content, checksum: active[id]})
		}
	}
	e.embedAll(ctx, pending)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working := snapshot.Clone()
	ts := e.now()
	for _, doc := range pending {
		if doc.err != nil {
			res.Skipped = append(res.Skipped, DocumentSkip{DocID: doc.id, Reason: "embedding failed: " + doc.err.Error()})
			continue
		}
		working[doc.id] = &models.IndexEntry{DocID: doc.id, Embedding: doc.vector, Content: doc.content, UpdatedAt: ts}
		res.Restored = append(res.Restored, doc.id)
	}
	for _, id := range res.OrphanEntries {
		delete(working, id)
		res.Dropped = append(res.Dropped, id)
	}

	if len(res.Restored)+len(res.Dropped) > 0 {
		if err := e.artifacts.Save(context.WithoutCancel(ctx), version, working); err != nil {
			return res, fmt.Errorf("%w: %w", ErrArtifactWrite, err)
		}
	}
	e.logger.Info("repair finished",
		zap.String("version", version),
		zap.Int("restored", len(res.Restored)),
		zap.Int("dropped", len(res.Dropped)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

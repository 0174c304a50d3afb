// Package reconcile brings the catalog and the index artifact of a version in
// line with the current corpus.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kaizen/internal/checksum"
	"github.com/hyperjump/kaizen/internal/corpus"
	"github.com/hyperjump/kaizen/internal/embedding"
	"github.com/hyperjump/kaizen/internal/models"
	"github.com/hyperjump/kaizen/internal/storage"
)

// DefaultWorkers bounds concurrent embedder calls when no option is given.
const DefaultWorkers = 4

// Engine runs reconciliations against one catalog and one artifact store.
// Runs for the same version are serialized; different versions may run
// concurrently.
type Engine struct {
	catalog   storage.Catalog
	artifacts storage.ArtifactStore
	embedder  embedding.Embedder
	logger    *zap.Logger
	workers   int
	lockDir   string
	lockWait  bool
	now       func() time.Time
	locks     *versionLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithWorkers sets how many documents are embedded concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLockDir enables cross-process locking with one lock file per version in dir.
func WithLockDir(dir string) Option {
	return func(e *Engine) { e.lockDir = dir }
}

// WithLockWait makes a run wait for a busy version instead of failing with
// ErrVersionLocked.
func WithLockWait(wait bool) Option {
	return func(e *Engine) { e.lockWait = wait }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine returns an engine over the given stores and embedder.
func NewEngine(catalog storage.Catalog, artifacts storage.ArtifactStore, embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		catalog:   catalog,
		artifacts: artifacts,
		embedder:  embedder,
		logger:    zap.NewNop(),
		workers:   DefaultWorkers,
		lockWait:  true,
		now:       time.Now,
		locks:     newVersionLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pendingDoc is a document awaiting its embedding: New, Updated, or an
// Unchanged document whose artifact entry is missing (restore).
type pendingDoc struct {
	id       string
	kind     models.ChangeKind
	content  string
	checksum string
	restore  bool
	vector   []float32
	err      error
}

// ReconcileSource lists src and reconciles the result. A listing failure is
// returned as ErrCorpusUnavailable before anything is written.
func (e *Engine) ReconcileSource(ctx context.Context, src corpus.Source, version string) (*models.ReconciliationReport, error) {
	if err := storage.ValidateVersion(version); err != nil {
		return nil, err
	}
	docs, err := src.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorpusUnavailable, err)
	}
	return e.Reconcile(ctx, docs, version)
}

// Reconcile diffs docs against the active catalog of version, embeds new and
// updated documents, tombstones missing ones, and saves the resulting snapshot
// for version. Catalog writes are applied before the snapshot is saved.
//
// The artifact is also brought back in line with the catalog: an unchanged
// document without an artifact entry is re-embedded (Restored) and an entry
// without an active catalog record is removed (Dropped). Rerunning after a
// failed snapshot save therefore repairs the artifact.
//
// Per-document failures do not fail the run; they are listed in the report.
// If the snapshot save fails the report is returned together with an error
// wrapping ErrArtifactWrite. Cancellation is honored until the first write.
func (e *Engine) Reconcile(ctx context.Context, docs models.Corpus, version string) (*models.ReconciliationReport, error) {
	if err := storage.ValidateVersion(version); err != nil {
		return nil, err
	}
	unlock, err := e.acquire(ctx, version)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := models.NewReport(uuid.NewString(), version, e.now())
	logger := e.logger.With(zap.String("version", version), zap.String("run_id", report.RunID))

	active, err := e.catalog.GetActive(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogRead, err)
	}
	snapshot, err := e.artifacts.Load(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactRead, err)
	}

	pending := make([]*pendingDoc, 0)
	for _, id := range sortedIDs(docs) {
		content := docs[id]
		sum := checksum.Fingerprint(content)
		kind := checksum.Classify(id, sum, active)
		if kind == models.Unchanged {
			if _, ok := snapshot[id]; ok {
				report.Unchanged++
				continue
			}
			pending = append(pending, &pendingDoc{id: id, kind: kind, content: content, checksum: sum, restore: true})
			continue
		}
		pending = append(pending, &pendingDoc{id: id, kind: kind, content: content, checksum: sum})
	}

	var deleted []string
	for id := range active {
		if _, ok := docs[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	sort.Strings(deleted)

	var orphans []string
	for id := range snapshot {
		if _, ok := active[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)

	e.embedAll(ctx, pending)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// From here on every staged change is applied even if ctx is canceled.
	wctx := context.WithoutCancel(ctx)
	ts := e.now()
	working := snapshot.Clone()
	for _, id := range orphans {
		delete(working, id)
	}

	for _, doc := range pending {
		if doc.err != nil {
			logger.Warn("embedding failed", zap.String("doc_id", doc.id), zap.Error(doc.err))
			report.Failed = append(report.Failed, models.DocumentFailure{
				DocID: doc.id, Stage: models.StageEmbed, Error: doc.err.Error(),
			})
			continue
		}
		if doc.restore {
			working[doc.id] = &models.IndexEntry{
				DocID:     doc.id,
				Embedding: doc.vector,
				Content:   doc.content,
				UpdatedAt: ts,
			}
			report.Restored = append(report.Restored, doc.id)
			logger.Debug("reconcile restored", zap.String("doc_id", doc.id))
			continue
		}
		if doc.kind == models.New {
			e.logResurrection(wctx, logger, version, doc)
		}
		if err := e.catalog.Upsert(wctx, version, doc.id, doc.checksum, ts); err != nil {
			err = fmt.Errorf("%w: upsert %s: %w", ErrCatalogWrite, doc.id, err)
			logger.Warn("catalog upsert failed", zap.String("doc_id", doc.id), zap.Error(err))
			report.Failed = append(report.Failed, models.DocumentFailure{
				DocID: doc.id, Stage: models.StageCatalog, Error: err.Error(),
			})
			continue
		}
		working[doc.id] = &models.IndexEntry{
			DocID:     doc.id,
			Embedding: doc.vector,
			Content:   doc.content,
			UpdatedAt: ts,
		}
		if doc.kind == models.New {
			report.Added = append(report.Added, doc.id)
		} else {
			report.Updated = append(report.Updated, doc.id)
		}
		logger.Debug("reconcile "+doc.kind.String(), zap.String("doc_id", doc.id))
	}

	for _, id := range deleted {
		if err := e.catalog.MarkDeleted(wctx, version, id, ts); err != nil {
			err = fmt.Errorf("%w: mark deleted %s: %w", ErrCatalogWrite, id, err)
			logger.Warn("catalog tombstone failed", zap.String("doc_id", id), zap.Error(err))
			report.Failed = append(report.Failed, models.DocumentFailure{
				DocID: id, Stage: models.StageCatalog, Error: err.Error(),
			})
			continue
		}
		delete(working, id)
		report.Deleted = append(report.Deleted, id)
		logger.Debug("reconcile deleted", zap.String("doc_id", id))
	}

	for _, id := range orphans {
		if _, ok := working[id]; !ok {
			report.Dropped = append(report.Dropped, id)
			logger.Debug("reconcile dropped", zap.String("doc_id", id))
		}
	}

	var runErr error
	if report.ArtifactChanged() {
		if err := e.artifacts.Save(wctx, version, working); err != nil {
			runErr = fmt.Errorf("%w: %w", ErrArtifactWrite, err)
			logger.Error("artifact save failed; catalog is ahead of the artifact until repaired", zap.Error(err))
		}
	}

	report.FinishedAt = e.now()
	report.Sort()
	e.recordRun(wctx, logger, report, runErr)

	logger.Info("reconcile finished",
		zap.Int("added", len(report.Added)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("deleted", len(report.Deleted)),
		zap.Int("restored", len(report.Restored)),
		zap.Int("dropped", len(report.Dropped)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("unchanged", report.Unchanged),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, runErr
}

// embedAll fills vector or err on every pending document using a bounded pool.
func (e *Engine) embedAll(ctx context.Context, pending []*pendingDoc) {
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, doc := range pending {
		doc := doc
		g.Go(func() error {
			doc.vector, doc.err = e.embed(ctx, doc.content)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) embed(ctx context.Context, content string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	if want := e.embedder.Dimensions(); len(vec) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", embedding.ErrDimensionMismatch, len(vec), want)
	}
	return vec, nil
}

// logResurrection notes when a tombstoned id comes back.
func (e *Engine) logResurrection(ctx context.Context, logger *zap.Logger, version string, doc *pendingDoc) {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	rec, err := e.catalog.Get(ctx, version, doc.id)
	if err != nil || !rec.IsDeleted {
		return
	}
	if rec.Checksum == doc.checksum {
		logger.Debug("document resurrected with identical content", zap.String("doc_id", doc.id))
	} else {
		logger.Debug("document resurrected with new content", zap.String("doc_id", doc.id))
	}
}

func (e *Engine) recordRun(ctx context.Context, logger *zap.Logger, report *models.ReconciliationReport, runErr error) {
	if err := e.catalog.RecordRun(ctx, report.Run(runErr)); err != nil {
		logger.Warn("failed to record run", zap.Error(err))
	}
}

// Runs returns recent run summaries for version, newest first.
func (e *Engine) Runs(ctx context.Context, version string, limit int) ([]*models.RunRecord, error) {
	return e.catalog.ListRuns(ctx, version, limit)
}

func sortedIDs(docs models.Corpus) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

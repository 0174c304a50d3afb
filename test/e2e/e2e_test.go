package e2e

import (
	"context"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kaizen/internal/corpus"
	"github.com/hyperjump/kaizen/internal/embedding"
	"github.com/hyperjump/kaizen/internal/models"
	"github.com/hyperjump/kaizen/internal/reconcile"
	"github.com/hyperjump/kaizen/internal/storage"
)

const (
	e2eDimensions = 32
	e2eDocs       = 45
	e2eVersion    = "v1"
)

// countingEmbedder counts texts sent to the underlying embedder.
type countingEmbedder struct {
	embedding.Embedder
	texts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

type harness struct {
	root      string
	docs      []Document
	catalog   storage.Catalog
	artifacts storage.ArtifactStore
	counter   *countingEmbedder
	engine    *reconcile.Engine
	source    *corpus.DirectorySource
}

func newHarness(t *testing.T, backend string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{root: filepath.Join(dir, "corpus"), docs: BuildCorpus(e2eDocs)}
	for _, d := range h.docs {
		require.NoError(t, WriteDocument(h.root, d))
	}

	catalog, err := storage.NewSQLiteCatalog("sqlite", filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	artifactPath := filepath.Join(dir, "index")
	if backend == "bolt" {
		artifactPath += ".bolt"
	}
	artifacts, err := storage.NewArtifactStore(backend, artifactPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = artifacts.Close()
		_ = catalog.Close()
	})

	h.catalog, h.artifacts = catalog, artifacts
	h.counter = &countingEmbedder{Embedder: embedding.NewMockEmbedder(e2eDimensions)}
	h.engine = reconcile.NewEngine(catalog, artifacts, h.counter,
		reconcile.WithWorkers(8),
		reconcile.WithLockDir(filepath.Join(dir, "locks")),
	)
	h.source = corpus.NewDirectorySource(h.root, corpus.WithExtensions(SupportedFileExtensions))
	return h
}

func (h *harness) reconcile(t *testing.T) *models.ReconciliationReport {
	t.Helper()
	report, err := h.engine.ReconcileSource(context.Background(), h.source, e2eVersion)
	require.NoError(t, err)
	require.Empty(t, report.Failed)
	return report
}

func ids(docs ...Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	sort.Strings(out)
	return out
}

func TestE2E_DirectoryLifecycle(t *testing.T) {
	for _, backend := range []string{"json", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend)
			ctx := context.Background()

			first := h.reconcile(t)
			assert.Equal(t, ids(h.docs...), first.Added)
			assert.Equal(t, int64(e2eDocs), h.counter.texts.Load())

			snap, err := h.artifacts.Load(ctx, e2eVersion)
			require.NoError(t, err)
			require.Len(t, snap, e2eDocs)
			for _, d := range h.docs {
				entry := snap[d.ID]
				require.NotNil(t, entry, d.ID)
				assert.Equal(t, d.Content, entry.Content, "extracted text of %s", d.Path())
				assert.Len(t, entry.Embedding, e2eDimensions)
			}

			second := h.reconcile(t)
			assert.True(t, second.Empty())
			assert.Equal(t, e2eDocs, second.Unchanged)
			assert.Equal(t, int64(e2eDocs), h.counter.texts.Load(), "unchanged documents are not re-embedded")

			updated := h.docs[0:5]
			for i := range updated {
				updated[i].Content += " Revised."
				require.NoError(t, WriteDocument(h.root, updated[i]))
			}
			deleted := h.docs[5:8]
			for _, d := range deleted {
				require.NoError(t, RemoveDocument(h.root, d))
			}
			added := []Document{
				{ID: "inbox/new-a", Ext: ".docx", Content: "A brand new document."},
				{ID: "inbox/new-b", Ext: ".xlsx", Content: "Another new document."},
			}
			for _, d := range added {
				require.NoError(t, WriteDocument(h.root, d))
			}

			third := h.reconcile(t)
			assert.Equal(t, ids(added...), third.Added)
			assert.Equal(t, ids(updated...), third.Updated)
			assert.Equal(t, ids(deleted...), third.Deleted)
			assert.Equal(t, e2eDocs-8, third.Unchanged)
			assert.Equal(t, int64(e2eDocs+7), h.counter.texts.Load())

			snap, err = h.artifacts.Load(ctx, e2eVersion)
			require.NoError(t, err)
			assert.Len(t, snap, e2eDocs-3+2)
			for _, d := range deleted {
				assert.NotContains(t, snap, d.ID)
				rec, err := h.catalog.Get(ctx, e2eVersion, d.ID)
				require.NoError(t, err)
				assert.True(t, rec.IsDeleted, "%s is tombstoned", d.ID)
			}
			assert.Equal(t, updated[0].Content, snap[updated[0].ID].Content)

			// A deleted document restored with identical content is re-added.
			require.NoError(t, WriteDocument(h.root, deleted[0]))
			fourth := h.reconcile(t)
			assert.Equal(t, []string{deleted[0].ID}, fourth.Added)

			res, err := h.engine.Verify(ctx, e2eVersion)
			require.NoError(t, err)
			assert.True(t, res.Consistent(), "missing=%v orphans=%v", res.MissingEntries, res.OrphanEntries)

			runs, err := h.engine.Runs(ctx, e2eVersion, 0)
			require.NoError(t, err)
			assert.Len(t, runs, 4)
		})
	}
}

func TestE2E_UnreadableFileAbortsRun(t *testing.T) {
	h := newHarness(t, "json")
	h.reconcile(t)

	require.NoError(t, writeRaw(h.root, "broken.docx", []byte("not a zip archive")))
	require.NoError(t, RemoveDocument(h.root, h.docs[0]))

	before, err := h.catalog.GetActive(context.Background(), e2eVersion)
	require.NoError(t, err)

	_, err = h.engine.ReconcileSource(context.Background(), h.source, e2eVersion)
	require.ErrorIs(t, err, reconcile.ErrCorpusUnavailable)

	after, err := h.catalog.GetActive(context.Background(), e2eVersion)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a failed listing must not tombstone anything, including the removed file")
}

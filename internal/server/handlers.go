package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/models"
	"github.com/hyperjump/kaizen/internal/reconcile"
	"github.com/hyperjump/kaizen/internal/storage"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
	statusRunLimit  = 5
)

type versionRequest struct {
	Version string `json:"version"`
}

// decodeVersion reads an optional {"version": ...} body and falls back to the
// configured version.
func (s *Server) decodeVersion(r *http.Request) (string, error) {
	var req versionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if req.Version == "" {
		req.Version = s.config.Reconcile.Version
	}
	return req.Version, nil
}

// queryVersion reads the optional ?version= parameter and falls back to the
// configured version.
func (s *Server) queryVersion(r *http.Request) (string, error) {
	version := r.URL.Query().Get("version")
	if version == "" {
		version = s.config.Reconcile.Version
	}
	if err := storage.ValidateVersion(version); err != nil {
		return "", err
	}
	return version, nil
}

// errorStatus maps engine and storage errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrInvalidVersion):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrVersionLocked):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrCorpusUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.respondError(w, http.StatusNotImplemented, "no corpus configured")
		return
	}
	version, err := s.decodeVersion(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("reconcile request", zap.String("version", version))

	report, err := s.engine.ReconcileSource(r.Context(), s.source, version)
	if report != nil {
		s.metrics.ObserveRun(len(report.Added)+len(report.Updated)+len(report.Restored), len(report.Deleted), err != nil)
	}
	if err != nil {
		s.logger.Error("reconcile failed", zap.String("version", version), zap.Error(err))
		if report != nil {
			// catalog changes were applied; the caller needs to know which
			s.respondErrorData(w, errorStatus(err), err.Error(), map[string]any{"report": report})
			return
		}
		s.respondError(w, errorStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	version, err := s.decodeVersion(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.engine.Verify(r.Context(), version)
	if err != nil {
		s.respondError(w, errorStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"result":     res,
		"consistent": res.Consistent(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version := q.Get("version")
	if version != "" {
		if err := storage.ValidateVersion(version); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := s.engine.Runs(r.Context(), version, clamp(limit, 1, maxPageSize))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	version, err := s.queryVersion(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	var opts storage.ListOptions
	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid include_deleted")
			return
		}
		opts.IncludeDeleted = b
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	opts.Offset = offset
	opts.Limit = clamp(limit, 1, maxPageSize)

	ctx := r.Context()
	docs, err := s.catalog.List(ctx, version, opts)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	counts, err := s.catalog.Count(ctx, version)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total := counts.Active
	if opts.IncludeDeleted {
		total += counts.Deleted
	}
	if docs == nil {
		docs = []*models.DocumentRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"version":   version,
		"documents": docs,
		"offset":    opts.Offset,
		"limit":     opts.Limit,
		"total":     total,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	version, err := s.queryVersion(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.catalog.Get(r.Context(), version, id)
	if err != nil {
		s.respondError(w, errorStatus(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.artifacts.Versions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if versions == nil {
		versions = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

type entrySummary struct {
	DocID      string    `json:"doc_id"`
	UpdatedAt  time.Time `json:"updated_at"`
	Dimensions int       `json:"dimensions"`
}

type entryDetail struct {
	DocID string `json:"doc_id"`
	*models.IndexEntry
}

func (s *Server) loadSnapshot(w http.ResponseWriter, r *http.Request) (string, models.Snapshot, bool) {
	version := chi.URLParam(r, "version")
	if err := storage.ValidateVersion(version); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	snap, err := s.artifacts.Load(r.Context(), version)
	if err != nil {
		s.logger.Error("load artifact failed", zap.String("version", version), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return "", nil, false
	}
	return version, snap, true
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	version, snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	ids := snap.IDs()
	sort.Strings(ids)
	entries := make([]entrySummary, 0, len(ids))
	for _, id := range ids {
		e := snap[id]
		entries = append(entries, entrySummary{DocID: id, UpdatedAt: e.UpdatedAt, Dimensions: len(e.Embedding)})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"version": version,
		"entries": entries,
	})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	version, snap, ok := s.loadSnapshot(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	e, found := snap[id]
	if !found {
		s.respondError(w, http.StatusNotFound, "no entry "+id+" in version "+version)
		return
	}
	s.respondJSON(w, http.StatusOK, entryDetail{DocID: id, IndexEntry: e})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	version, err := s.queryVersion(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	counts, err := s.catalog.Count(ctx, version)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	versions, err := s.artifacts.Versions(ctx)
	if err != nil {
		s.logger.Error("status: list versions failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	runs, err := s.engine.Runs(ctx, "", statusRunLimit)
	if err != nil {
		s.logger.Error("status: list runs failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if versions == nil {
		versions = []string{}
	}
	if runs == nil {
		runs = []*models.RunRecord{}
	}
	resp := map[string]any{
		"version":   version,
		"documents": counts,
		"versions":  versions,
		"runs":      runs,
		"config": map[string]any{
			"default_version":    s.config.Reconcile.Version,
			"corpus_directory":   s.config.Corpus.Directory,
			"embedding_provider": s.config.Embedding.Provider,
			"dimensions":         s.config.Embedding.Dimensions,
			"artifact_backend":   s.config.Storage.ArtifactBackend,
		},
	}
	paths := append(storage.CatalogFiles(s.config.Storage.DatabasePath), s.config.Storage.ArtifactPath)
	if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = diskBytes
		resp["disk_usage"] = humanize.Bytes(uint64(diskBytes))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.metrics.Report())
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

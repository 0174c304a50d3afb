// Package integration runs the HTTP API against real stores and a directory corpus.
package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kaizen/internal/config"
	"github.com/hyperjump/kaizen/internal/corpus"
	"github.com/hyperjump/kaizen/internal/embedding"
	"github.com/hyperjump/kaizen/internal/models"
	"github.com/hyperjump/kaizen/internal/reconcile"
	"github.com/hyperjump/kaizen/internal/server"
	"github.com/hyperjump/kaizen/internal/storage"
)

const apiKey = "integration-key"

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, ts *httptest.Server, method, path, body string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(server.APIKeyHeader, apiKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestIntegration_ReconcileOverHTTP(t *testing.T) {
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(corpusDir, 0755))
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(corpusDir, name), []byte(content), 0644))
	}
	write("alpha.txt", "first document")
	write("beta.md", "second document")

	cfg := config.Default()
	cfg.Server.APIKeys = []string{apiKey}
	cfg.Storage.DatabasePath = filepath.Join(dir, "catalog.db")
	cfg.Storage.ArtifactBackend = "bolt"
	cfg.Storage.ArtifactPath = filepath.Join(dir, "index.bolt")
	cfg.Corpus.Directory = corpusDir
	cfg.Embedding.Dimensions = 16

	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.Driver, cfg.Storage.DatabasePath)
	require.NoError(t, err)
	defer catalog.Close()
	artifacts, err := storage.NewArtifactStore(cfg.Storage.ArtifactBackend, cfg.Storage.ArtifactPath)
	require.NoError(t, err)
	defer artifacts.Close()
	embedder, err := embedding.New(cfg.Embedding, nil)
	require.NoError(t, err)
	defer embedder.Close()

	engine := reconcile.NewEngine(catalog, artifacts, embedder)
	source := corpus.NewDirectorySource(corpusDir, corpus.WithExtensions(cfg.Corpus.Extensions))
	srv := server.NewServer(engine, source, catalog, artifacts, cfg, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, env := call(t, ts, http.MethodPost, "/api/v1/reconcile", "")
	require.Equal(t, http.StatusOK, code, env.Error)
	var report models.ReconciliationReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, []string{"alpha", "beta"}, report.Added)

	require.NoError(t, os.Remove(filepath.Join(corpusDir, "alpha.txt")))
	write("beta.md", "second document, edited")
	code, env = call(t, ts, http.MethodPost, "/api/v1/reconcile", `{"version":"v1"}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, []string{"alpha"}, report.Deleted)
	assert.Equal(t, []string{"beta"}, report.Updated)

	code, env = call(t, ts, http.MethodGet, "/api/v1/documents/alpha", "")
	require.Equal(t, http.StatusOK, code)
	var rec models.DocumentRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.IsDeleted)
	assert.Equal(t, "v1", rec.Version)

	code, env = call(t, ts, http.MethodGet, "/api/v1/index/v1/beta", "")
	require.Equal(t, http.StatusOK, code)
	var entry struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &entry))
	assert.Equal(t, "second document, edited", entry.Content)

	code, _ = call(t, ts, http.MethodGet, "/api/v1/index/v1/alpha", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env = call(t, ts, http.MethodPost, "/api/v1/verify", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"consistent":true`)
}

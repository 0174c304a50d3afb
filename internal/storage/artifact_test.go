package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kaizen/internal/models"
)

func artifactStores(t *testing.T) map[string]ArtifactStore {
	t.Helper()
	dir := t.TempDir()
	js, err := NewArtifactStore("json", filepath.Join(dir, "index"))
	require.NoError(t, err)
	bs, err := NewArtifactStore("bolt", filepath.Join(dir, "index.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = js.Close()
		_ = bs.Close()
	})
	return map[string]ArtifactStore{"json": js, "bolt": bs}
}

func TestArtifactStore_SaveLoad(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			snap := models.Snapshot{
				"a": {Embedding: []float32{0.5, -1}, Content: "hello", UpdatedAt: ts},
				"b": {Embedding: []float32{1}, Content: "world", UpdatedAt: ts},
			}
			require.NoError(t, store.Save(ctx, "v1", snap))

			got, err := store.Load(ctx, "v1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got["a"].DocID)
			assert.Equal(t, "hello", got["a"].Content)
			assert.Equal(t, []float32{0.5, -1}, got["a"].Embedding)
			assert.True(t, ts.Equal(got["b"].UpdatedAt))
		})
	}
}

func TestArtifactStore_SaveReplaces(t *testing.T) {
	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "v1", models.Snapshot{
				"a": {Content: "one"}, "b": {Content: "two"},
			}))
			require.NoError(t, store.Save(ctx, "v1", models.Snapshot{"b": {Content: "two again"}}))

			got, err := store.Load(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, got.IDs())
			assert.Equal(t, "two again", got["b"].Content)
		})
	}
}

func TestArtifactStore_MissingVersionIsEmpty(t *testing.T) {
	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := store.Load(context.Background(), "never")
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestArtifactStore_VersionsAreIndependent(t *testing.T) {
	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "v2", models.Snapshot{"x": {Content: "x"}}))
			require.NoError(t, store.Save(ctx, "v1", models.Snapshot{"y": {Content: "y"}}))
			require.NoError(t, store.Save(ctx, "v3", models.Snapshot{}))

			versions, err := store.Versions(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"v1", "v2", "v3"}, versions)

			v1, err := store.Load(ctx, "v1")
			require.NoError(t, err)
			assert.Equal(t, []string{"y"}, v1.IDs())
			v3, err := store.Load(ctx, "v3")
			require.NoError(t, err)
			assert.Empty(t, v3)
		})
	}
}

func TestArtifactStore_InvalidVersion(t *testing.T) {
	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, v := range []string{"", "../etc", "a/b", "v 1"} {
				_, err := store.Load(ctx, v)
				assert.ErrorIs(t, err, ErrInvalidVersion, v)
				assert.ErrorIs(t, store.Save(ctx, v, models.Snapshot{}), ErrInvalidVersion, v)
			}
		})
	}
}

func TestArtifactStore_CanceledContext(t *testing.T) {
	for name, store := range artifactStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.ErrorIs(t, store.Save(ctx, "v1", models.Snapshot{}), context.Canceled)
		})
	}
}

func TestFileArtifactStore_Format(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileArtifactStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "v1", models.Snapshot{
		"a": {Embedding: []float32{1}, Content: "hi"},
	}))

	data, err := os.ReadFile(filepath.Join(dir, "index_v1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"a": {`)
	assert.Contains(t, string(data), `"content": "hi"`)
	assert.NotContains(t, string(data), "DocID")
}

func TestFileArtifactStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileArtifactStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.Path("v1"), []byte("{not json"), 0644))
	_, err = store.Load(context.Background(), "v1")
	assert.Error(t, err)
}

func TestNewArtifactStore_UnknownBackend(t *testing.T) {
	_, err := NewArtifactStore("s3", t.TempDir())
	assert.Error(t, err)
}

func TestValidateVersion(t *testing.T) {
	for _, v := range []string{"v1", "2024.05.01", "release-candidate_2", "A"} {
		assert.NoError(t, ValidateVersion(v), v)
	}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ValidateVersion(string(long)), ErrInvalidVersion)
}

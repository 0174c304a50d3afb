package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"

	"github.com/hyperjump/kaizen/internal/models"
)

const (
	artifactPrefix = "index_"
	artifactSuffix = ".json"
)

// FileArtifactStore keeps one JSON file per version in a directory. Saves go
// through a temp file and rename, so readers see either the old or the new
// snapshot and never a partial one.
type FileArtifactStore struct {
	dir string
}

// NewFileArtifactStore creates dir if needed and returns a store rooted there.
func NewFileArtifactStore(dir string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileArtifactStore{dir: dir}, nil
}

// Path returns the artifact file for version.
func (s *FileArtifactStore) Path(version string) string {
	return filepath.Join(s.dir, artifactPrefix+version+artifactSuffix)
}

// Load reads the snapshot for version. A missing file is an empty snapshot.
func (s *FileArtifactStore) Load(ctx context.Context, version string) (models.Snapshot, error) {
	if err := ValidateVersion(version); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(version))
	if errors.Is(err, fs.ErrNotExist) {
		return models.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", version, err)
	}
	snap := models.Snapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", version, err)
	}
	for id, e := range snap {
		if e == nil {
			delete(snap, id)
			continue
		}
		e.DocID = id
	}
	return snap, nil
}

// Save replaces the artifact for version atomically.
func (s *FileArtifactStore) Save(ctx context.Context, version string, snapshot models.Snapshot) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = models.Snapshot{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s: %w", version, err)
	}
	if err := renameio.WriteFile(s.Path(version), data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", version, err)
	}
	return nil
}

// Versions lists versions that have an artifact file.
func (s *FileArtifactStore) Versions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	var versions []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, artifactPrefix) || !strings.HasSuffix(name, artifactSuffix) {
			continue
		}
		v := strings.TrimSuffix(strings.TrimPrefix(name, artifactPrefix), artifactSuffix)
		if ValidateVersion(v) == nil {
			versions = append(versions, v)
		}
	}
	sort.Strings(versions)
	return versions, nil
}

// Close is a no-op; the store holds no open handles.
func (s *FileArtifactStore) Close() error { return nil }

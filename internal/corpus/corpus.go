// Package corpus supplies the documents a reconciliation run compares against
// the catalog.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/extract"
	"github.com/hyperjump/kaizen/internal/models"
)

// ErrDuplicateID is returned when two files map to the same doc_id.
var ErrDuplicateID = errors.New("duplicate doc_id")

// Source lists the full current corpus. A listing is all-or-nothing: any error
// means the caller must not treat missing ids as deleted.
type Source interface {
	ListDocuments(ctx context.Context) (models.Corpus, error)
}

// MapSource serves a fixed in-memory corpus.
type MapSource models.Corpus

// ListDocuments returns a copy of the map.
func (m MapSource) ListDocuments(ctx context.Context) (models.Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(models.Corpus, len(m))
	for id, content := range m {
		out[id] = content
	}
	return out, nil
}

// DirectorySource reads a directory of files. The doc_id of a file is its path
// relative to the root without the extension, using forward slashes, so a
// top-level notes.txt becomes "notes".
type DirectorySource struct {
	root       string
	extensions map[string]bool
	recursive  bool
	extractor  *extract.Extractor
	logger     *zap.Logger
}

// Option configures a DirectorySource.
type Option func(*DirectorySource)

// WithExtensions limits the source to files with these extensions (".txt", ...).
// An empty list accepts every file.
func WithExtensions(exts []string) Option {
	return func(d *DirectorySource) {
		d.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			d.extensions[e] = true
		}
	}
}

// WithRecursive controls whether subdirectories are walked.
func WithRecursive(recursive bool) Option {
	return func(d *DirectorySource) { d.recursive = recursive }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *DirectorySource) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectorySource returns a source rooted at dir.
func NewDirectorySource(dir string, opts ...Option) *DirectorySource {
	d := &DirectorySource{
		root:      dir,
		recursive: true,
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Root returns the directory being read.
func (d *DirectorySource) Root() string {
	return d.root
}

// Accepts reports whether path would be part of the corpus by name alone.
func (d *DirectorySource) Accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(d.extensions) == 0 {
		return true
	}
	return d.extensions[strings.ToLower(filepath.Ext(base))]
}

// DocID maps a file path under the root to its doc_id.
func (d *DirectorySource) DocID(path string) (string, error) {
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		return "", err
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.ToSlash(rel), nil
}

// ListDocuments walks the directory and extracts every accepted file. A file
// that cannot be read or extracted fails the whole listing.
func (d *DirectorySource) ListDocuments(ctx context.Context) (models.Corpus, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return nil, fmt.Errorf("corpus directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus directory: %s is not a directory", d.root)
	}

	var paths []string
	err = filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if path == d.root {
				return nil
			}
			if !d.recursive || strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Type().IsRegular() && d.Accepts(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	sort.Strings(paths)

	docs := make(models.Corpus, len(paths))
	origin := make(map[string]string, len(paths))
	for _, path := range paths {
		id, err := d.DocID(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := origin[id]; ok {
			return nil, fmt.Errorf("%w %q: %s and %s", ErrDuplicateID, id, prev, path)
		}
		text, err := d.extractor.Extract(path)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		origin[id] = path
		docs[id] = text
	}
	d.logger.Debug("corpus listed", zap.String("root", d.root), zap.Int("documents", len(docs)))
	return docs, nil
}

package reconcile

import "errors"

// Run-level failures. Per-document embedding and catalog write failures are
// reported in ReconciliationReport.Failed instead.
var (
	// ErrCorpusUnavailable means the corpus could not be listed; nothing was written.
	ErrCorpusUnavailable = errors.New("corpus unavailable")
	// ErrCatalogRead means the active catalog could not be loaded; nothing was written.
	ErrCatalogRead = errors.New("catalog read failed")
	// ErrCatalogWrite wraps a failed catalog upsert or tombstone.
	ErrCatalogWrite = errors.New("catalog write failed")
	// ErrArtifactRead means the current snapshot could not be loaded; nothing was written.
	ErrArtifactRead = errors.New("artifact read failed")
	// ErrArtifactWrite means the snapshot save failed after catalog writes were applied.
	ErrArtifactWrite = errors.New("artifact write failed")
	// ErrVersionLocked means another writer holds the version and waiting is disabled.
	ErrVersionLocked = errors.New("index version is locked by another writer")
)

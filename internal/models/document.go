// Package models defines the catalog records, index entries, and reconciliation reports.
package models

import "time"

// DocumentRecord is a catalog row for one index version. Deleted records are kept
// as tombstones so that a reappearing id is detected as a re-creation.
type DocumentRecord struct {
	Version     string    `json:"version"`
	DocID       string    `json:"doc_id"`
	Checksum    string    `json:"checksum"`
	IsDeleted   bool      `json:"is_deleted"`
	LastUpdated time.Time `json:"last_updated"`
}

// IndexEntry is the derived record served from the index artifact for one version.
type IndexEntry struct {
	DocID     string    `json:"-"`
	Embedding []float32 `json:"embedding"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the whole index artifact of one version keyed by doc_id.
type Snapshot map[string]*IndexEntry

// Clone returns a shallow copy of the map; entries are shared until replaced.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, e := range s {
		out[id] = e
	}
	return out
}

// IDs returns the doc ids present in the snapshot.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Corpus is a per-run mapping of doc_id to raw text content. It is never persisted.
type Corpus map[string]string

// Package checksum fingerprints document content and classifies corpus entries
// against the active catalog view.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/hyperjump/kaizen/internal/models"
)

// Size is the length of a fingerprint in hex characters.
const Size = sha256.Size * 2

// Fingerprint returns a stable fixed-length digest of content.
// Same content always yields the same value, across processes.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Classify compares checksum with the active (non-deleted) catalog entry for docID.
// A tombstoned id is absent from active and therefore classifies as New.
func Classify(docID, checksum string, active map[string]string) models.ChangeKind {
	prev, ok := active[docID]
	switch {
	case !ok:
		return models.New
	case prev != checksum:
		return models.Updated
	default:
		return models.Unchanged
	}
}

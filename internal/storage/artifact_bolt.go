package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hyperjump/kaizen/internal/models"
)

const boltBucketPrefix = "index_"

// BoltArtifactStore keeps every version in one bbolt file, one bucket per
// version. A save drops and refills the bucket inside a single write
// transaction.
type BoltArtifactStore struct {
	db *bolt.DB
}

// NewBoltArtifactStore opens or creates the database file at path.
func NewBoltArtifactStore(path string) (*BoltArtifactStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}
	return &BoltArtifactStore{db: db}, nil
}

func bucketName(version string) []byte {
	return []byte(boltBucketPrefix + version)
}

// Load reads every entry in the version's bucket.
func (s *BoltArtifactStore) Load(ctx context.Context, version string) (models.Snapshot, error) {
	if err := ValidateVersion(version); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := models.Snapshot{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(version))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e models.IndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			e.DocID = string(k)
			snap[e.DocID] = &e
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", version, err)
	}
	return snap, nil
}

// Save replaces the version's bucket with snapshot.
func (s *BoltArtifactStore) Save(ctx context.Context, version string, snapshot models.Snapshot) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	name := bucketName(version)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		for id, e := range snapshot {
			if e == nil {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("entry %s: %w", id, err)
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", version, err)
	}
	return nil
}

// Versions lists the versions that have a bucket.
func (s *BoltArtifactStore) Versions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var versions []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			if v, ok := strings.CutPrefix(string(name), boltBucketPrefix); ok {
				versions = append(versions, v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	sort.Strings(versions)
	return versions, nil
}

// Close closes the database file.
func (s *BoltArtifactStore) Close() error {
	return s.db.Close()
}

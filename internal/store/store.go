// Package store opens the bbolt database that backs the artifact registry
// and the run log.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/cleanstep/internal/steperr"
	"go.etcd.io/bbolt"
)

// Top-level buckets.
var (
	ArtifactsBucket = []byte("artifacts")
	AliasesBucket   = []byte("aliases")
	RunsBucket      = []byte("runs")
)

// DefaultFile is the database file name inside a registry root.
const DefaultFile = "registry.db"

// Open opens (creating if needed) the database at path and ensures every
// top-level bucket exists.
func Open(path string) (*bbolt.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, steperr.New(steperr.KindIO, "open store", fmt.Sprintf("failed to create directory %s", dir), err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if isLocked(err) {
			return nil, steperr.New(steperr.KindIO, "open store",
				fmt.Sprintf("database file %s is already in use by another run", path), err)
		}
		return nil, steperr.New(steperr.KindIO, "open store", "failed to open bolt db", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{ArtifactsBucket, AliasesBucket, RunsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, steperr.New(steperr.KindIO, "open store", "failed to create buckets", err)
	}
	return db, nil
}

func isLocked(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "resource temporarily unavailable") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "timeout")
}

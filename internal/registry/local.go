package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/store"
	"go.etcd.io/bbolt"
)

// Local is a Registry kept on the local filesystem: metadata in bbolt,
// content in a sha256-addressed blob directory.
type Local struct {
	db      *bbolt.DB
	blobDir string
	now     func() time.Time
}

var _ Registry = (*Local)(nil)

// NewLocal creates a registry on an open database. Blobs live under root/blobs.
func NewLocal(db *bbolt.DB, root string) *Local {
	return &Local{
		db:      db,
		blobDir: filepath.Join(root, "blobs"),
		now:     time.Now,
	}
}

// Resolve implements Registry.
func (l *Local) Resolve(ctx context.Context, ref string) (Artifact, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return Artifact{}, err
	}

	var a Artifact
	err = l.db.View(func(tx *bbolt.Tx) error {
		version := r.Version
		if version == 0 {
			aliases := tx.Bucket(store.AliasesBucket).Bucket([]byte(r.Name))
			if aliases == nil {
				return steperr.Newf(steperr.KindNotFound, "resolve", "artifact %q does not exist", r.Name)
			}
			raw := aliases.Get([]byte(r.Alias))
			if raw == nil {
				return steperr.Newf(steperr.KindNotFound, "resolve", "artifact %q has no alias %q", r.Name, r.Alias)
			}
			v, err := strconv.Atoi(string(raw))
			if err != nil {
				return steperr.New(steperr.KindIO, "resolve", "corrupt alias record", err)
			}
			version = v
		}

		versions := tx.Bucket(store.ArtifactsBucket).Bucket([]byte(r.Name))
		if versions == nil {
			return steperr.Newf(steperr.KindNotFound, "resolve", "artifact %q does not exist", r.Name)
		}
		data := versions.Get(versionKey(version))
		if data == nil {
			return steperr.Newf(steperr.KindNotFound, "resolve", "artifact %q has no version v%d", r.Name, version)
		}
		if err := json.Unmarshal(data, &a); err != nil {
			return steperr.New(steperr.KindIO, "resolve", "corrupt artifact record", err)
		}
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// Use implements Registry. The blob is re-hashed so a tampered or truncated
// file is reported instead of silently read.
func (l *Local) Use(ctx context.Context, run Run, ref string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	a, err := l.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}

	path := l.blobPath(a.Digest)
	digest, _, err := hashFile(path)
	if err != nil {
		return "", steperr.New(steperr.KindIO, "use", fmt.Sprintf("cannot read blob of %s", a.Ref()), err)
	}
	if digest != a.Digest {
		return "", steperr.Newf(steperr.KindIO, "use", "blob of %s is corrupt: digest %s, want %s", a.Ref(), digest, a.Digest)
	}

	if run != nil {
		if err := run.UseArtifact(ctx, a); err != nil {
			return "", fmt.Errorf("recording usage of %s: %w", a.Ref(), err)
		}
	}
	logger.Debug("Artifact resolved.", "ref", a.Ref().String(), "path", path)
	return path, nil
}

// Register implements Registry.
func (l *Local) Register(ctx context.Context, run Run, path string, meta Metadata) (Artifact, error) {
	logger := ctxlog.FromContext(ctx)

	if err := meta.Validate(); err != nil {
		return Artifact{}, err
	}

	digest, size, err := l.storeBlob(path)
	if err != nil {
		return Artifact{}, err
	}

	a := Artifact{
		Name:        meta.Name,
		Type:        meta.Type,
		Description: meta.Description,
		FileName:    filepath.Base(path),
		Digest:      digest,
		Size:        size,
		Aliases:     meta.aliases(),
		CreatedAt:   l.now().UTC(),
	}
	if run != nil {
		a.CreatedBy = run.ID()
	}

	err = l.db.Update(func(tx *bbolt.Tx) error {
		versions, err := tx.Bucket(store.ArtifactsBucket).CreateBucketIfNotExists([]byte(a.Name))
		if err != nil {
			return err
		}
		aliases, err := tx.Bucket(store.AliasesBucket).CreateBucketIfNotExists([]byte(a.Name))
		if err != nil {
			return err
		}

		// A type is fixed by the first version of a name.
		if k, v := versions.Cursor().First(); k != nil {
			var first Artifact
			if err := json.Unmarshal(v, &first); err != nil {
				return err
			}
			if first.Type != a.Type {
				return steperr.Newf(steperr.KindRegistration, "register",
					"artifact %q has type %q, cannot register type %q", a.Name, first.Type, a.Type)
			}
		}

		seq, err := versions.NextSequence()
		if err != nil {
			return err
		}
		a.Version = int(seq)

		// Moving an alias removes it from the version that held it.
		for _, alias := range a.Aliases {
			if prev := aliases.Get([]byte(alias)); prev != nil {
				if err := dropAlias(versions, prev, alias); err != nil {
					return err
				}
			}
			if err := aliases.Put([]byte(alias), []byte(strconv.Itoa(a.Version))); err != nil {
				return err
			}
		}

		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return versions.Put(versionKey(a.Version), data)
	})
	if err != nil {
		var se *steperr.Error
		if errors.As(err, &se) {
			return Artifact{}, err
		}
		return Artifact{}, steperr.New(steperr.KindRegistration, "register", fmt.Sprintf("failed to store %s", a.Name), err)
	}

	if run != nil {
		if err := run.LogArtifact(ctx, a); err != nil {
			return Artifact{}, fmt.Errorf("recording %s on run: %w", a.Ref(), err)
		}
	}
	logger.Debug("Artifact registered.", "ref", a.Ref().String(), "digest", a.Digest, "size", a.Size)
	return a, nil
}

// Versions implements Registry.
func (l *Local) Versions(ctx context.Context, name string) ([]Artifact, error) {
	var out []Artifact
	err := l.db.View(func(tx *bbolt.Tx) error {
		versions := tx.Bucket(store.ArtifactsBucket).Bucket([]byte(name))
		if versions == nil {
			return steperr.Newf(steperr.KindNotFound, "versions", "artifact %q does not exist", name)
		}
		return versions.ForEach(func(k, v []byte) error {
			var a Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return steperr.New(steperr.KindIO, "versions", "corrupt artifact record", err)
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BlobPath returns where the content of a is stored.
func (l *Local) BlobPath(a Artifact) string {
	return l.blobPath(a.Digest)
}

func (l *Local) blobPath(digest string) string {
	if len(digest) < 2 {
		return filepath.Join(l.blobDir, digest)
	}
	return filepath.Join(l.blobDir, digest[:2], digest)
}

// storeBlob copies the file at path into the blob directory under its
// sha256 and returns the digest and size.
func (l *Local) storeBlob(path string) (string, int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", 0, steperr.New(steperr.KindIO, "register", fmt.Sprintf("cannot open %s", path), err)
	}
	defer src.Close()

	if err := os.MkdirAll(l.blobDir, 0o755); err != nil {
		return "", 0, steperr.New(steperr.KindRegistration, "register", "cannot create blob directory", err)
	}
	tmp, err := os.CreateTemp(l.blobDir, ".upload-*")
	if err != nil {
		return "", 0, steperr.New(steperr.KindRegistration, "register", "cannot create blob", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		tmp.Close()
		return "", 0, steperr.New(steperr.KindIO, "register", fmt.Sprintf("cannot copy %s", path), err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, steperr.New(steperr.KindRegistration, "register", "cannot write blob", err)
	}

	digest := hex.EncodeToString(h.Sum(nil))
	final := l.blobPath(digest)
	if _, err := os.Stat(final); err == nil {
		return digest, size, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", 0, steperr.New(steperr.KindRegistration, "register", "cannot create blob directory", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", 0, steperr.New(steperr.KindRegistration, "register", "cannot move blob into place", err)
	}
	return digest, size, nil
}

func dropAlias(versions *bbolt.Bucket, rawVersion []byte, alias string) error {
	v, err := strconv.Atoi(string(rawVersion))
	if err != nil {
		return err
	}
	key := versionKey(v)
	data := versions.Get(key)
	if data == nil {
		return nil
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	kept := a.Aliases[:0]
	for _, existing := range a.Aliases {
		if existing != alias {
			kept = append(kept, existing)
		}
	}
	a.Aliases = kept
	updated, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return versions.Put(key, updated)
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

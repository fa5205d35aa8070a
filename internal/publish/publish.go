// Package publish serializes a cleaned table and registers it as a new
// artifact version.
package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/table"
)

// DefaultFileName is the fixed local file a run serializes its output to.
const DefaultFileName = "cleaned_data.csv"

// Uploader mirrors a registered blob to a remote location.
type Uploader interface {
	Put(ctx context.Context, path, url string) error
}

// Publisher writes tables into a working directory and registers them.
type Publisher struct {
	Registry registry.Registry
	WorkDir  string
	FileName string

	// Uploader and UploadURL are optional; both must be set to mirror.
	Uploader  Uploader
	UploadURL string
}

// Publish writes t to the working directory and registers it under meta.
// The local file is left in place whether or not registration succeeds.
func (p *Publisher) Publish(ctx context.Context, run registry.Run, t table.Table, meta registry.Metadata) (registry.Ref, error) {
	logger := ctxlog.FromContext(ctx)

	name := p.FileName
	if name == "" {
		name = DefaultFileName
	}
	if p.WorkDir != "" {
		if err := os.MkdirAll(p.WorkDir, 0o755); err != nil {
			return registry.Ref{}, steperr.New(steperr.KindIO, "publish", fmt.Sprintf("failed to create work dir %s", p.WorkDir), err)
		}
	}
	path := filepath.Join(p.WorkDir, name)

	if err := table.WriteFile(path, t); err != nil {
		return registry.Ref{}, err
	}
	logger.Debug("Table serialized.", "path", path, "rows", t.Len())

	a, err := p.Registry.Register(ctx, run, path, meta)
	if err != nil {
		return registry.Ref{}, err
	}

	if p.Uploader != nil && p.UploadURL != "" {
		if err := p.Uploader.Put(ctx, path, p.UploadURL); err != nil {
			return registry.Ref{}, fmt.Errorf("mirroring %s: %w", a.Ref(), err)
		}
	}

	logger.Info("Saved cleaned data", "artifact", a.Ref().String(), "digest", a.Digest, "rows", t.Len())
	return a.Ref(), nil
}

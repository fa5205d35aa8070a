package app

import (
	"context"

	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/vk/cleanstep/internal/tracking"
)

// ImportJobType labels runs that seed the registry from a local file.
const ImportJobType = "import"

// Import registers a local file as a new artifact version, under its own
// tracked run.
func (a *App) Import(ctx context.Context, path string, meta registry.Metadata) (art registry.Artifact, err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	run, err := a.startRun(ctx, ImportJobType)
	if err != nil {
		return registry.Artifact{}, err
	}
	ctx, logger := ctxlog.With(ctx, "run_id", run.ID())
	defer func() {
		if ferr := run.Finish(ctx, err); ferr != nil && err == nil {
			err = ferr
		}
	}()

	art, err = a.registry.Register(ctx, run, path, meta)
	if err != nil {
		return registry.Artifact{}, err
	}
	logger.Info("Imported artifact", "artifact", art.Ref().String(), "digest", art.Digest, "size", art.Size)
	return art, nil
}

// Artifacts lists every version of name, oldest first.
func (a *App) Artifacts(ctx context.Context, name string) ([]registry.Artifact, error) {
	return a.registry.Versions(ctxlog.WithLogger(ctx, a.logger), name)
}

// Runs lists recorded runs, oldest first.
func (a *App) Runs(ctx context.Context) ([]tracking.Record, error) {
	return a.runs.List(ctxlog.WithLogger(ctx, a.logger))
}

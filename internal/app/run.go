package app

import (
	"context"
	"fmt"

	"github.com/vk/cleanstep/internal/clean"
	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/vk/cleanstep/internal/table"
	"github.com/vk/cleanstep/internal/tracking"
)

// JobType labels runs of the cleaning step.
const JobType = "basic_cleaning"

// Phase is a stage of the step. A run moves forward through Resolving,
// Transforming and Publishing, and ends in Done or Failed.
type Phase string

const (
	PhaseResolving    Phase = "resolving"
	PhaseTransforming Phase = "transforming"
	PhasePublishing   Phase = "publishing"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// Run executes the step once: resolve the input artifact, clean it and
// publish the result. The tracked run is finished on every exit path.
func (a *App) Run(ctx context.Context) (ref registry.Ref, err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	run, err := a.startRun(ctx, JobType)
	if err != nil {
		return registry.Ref{}, err
	}
	ctx, logger := ctxlog.With(ctx, "run_id", run.ID())

	defer func() {
		final := PhaseDone
		if err != nil {
			final = PhaseFailed
		}
		a.enter(ctx, run, final)
		if ferr := run.Finish(ctx, err); ferr != nil && err == nil {
			err = ferr
		}
		if err != nil {
			logger.Error("Run failed.", "error", err)
		}
	}()

	a.enter(ctx, run, PhaseResolving)
	path, err := a.registry.Use(ctx, run, a.cfg.InputArtifact)
	if err != nil {
		return registry.Ref{}, err
	}
	input, err := table.ReadFile(path)
	if err != nil {
		return registry.Ref{}, fmt.Errorf("reading %s: %w", a.cfg.InputArtifact, err)
	}
	logger.Info("Downloaded artifact", "ref", a.cfg.InputArtifact, "path", path, "rows", input.Len())

	a.enter(ctx, run, PhaseTransforming)
	res, err := clean.Apply(input, clean.Options{
		MinPrice:    a.cfg.MinPrice,
		MaxPrice:    a.cfg.MaxPrice,
		PriceColumn: a.cfg.PriceColumn,
		DateColumn:  a.cfg.DateColumn,
	})
	if err != nil {
		return registry.Ref{}, err
	}
	logger.Info("Data cleaned",
		"input_rows", res.Stats.InputRows,
		"kept_rows", res.Stats.KeptRows,
		"dropped_rows", res.Stats.DroppedRows,
		"null_dates", res.Stats.NullDates,
	)

	a.enter(ctx, run, PhasePublishing)
	ref, err = a.publisher.Publish(ctx, run, res.Table, registry.Metadata{
		Name:        a.cfg.OutputArtifact,
		Type:        a.cfg.OutputType,
		Description: a.cfg.OutputDescription,
	})
	if err != nil {
		return registry.Ref{}, err
	}

	a.logger.Debug("App.Run method finished.", "artifact", ref.String())
	return ref, nil
}

// enter records a phase change. A failure to persist it is logged and the
// run carries on; the final state is still written by Finish.
func (a *App) enter(ctx context.Context, run *tracking.Run, phase Phase) {
	ctxlog.FromContext(ctx).Debug("Entering phase.", "phase", phase)
	if err := run.SetPhase(ctx, string(phase)); err != nil {
		ctxlog.FromContext(ctx).Warn("Recording phase failed.", "phase", phase, "error", err)
	}
}

// Package tracking owns the Run Context of one invocation: its identity, the
// configuration it ran with, the artifacts it used and logged, and how it
// ended. A Run is created at process start, passed explicitly to every
// component that records lineage, and finished on every exit path.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// State is the lifecycle state of a run record.
type State string

const (
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// ArtifactRecord is one lineage edge between a run and an artifact version.
type ArtifactRecord struct {
	Ref    string    `json:"ref"`
	Type   string    `json:"type"`
	Digest string    `json:"digest"`
	At     time.Time `json:"at"`
}

// Record is the persisted form of a run.
type Record struct {
	ID         string           `json:"id"`
	JobType    string           `json:"job_type"`
	Config     json.RawMessage  `json:"config,omitempty"`
	State      State            `json:"state"`
	Phase      string           `json:"phase,omitempty"`
	Error      string           `json:"error,omitempty"`
	Used       []ArtifactRecord `json:"used,omitempty"`
	Logged     []ArtifactRecord `json:"logged,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Run is a live run. It implements registry.Run.
type Run struct {
	mu       sync.Mutex
	rec      Record
	store    Store
	sink     Sink
	now      func() time.Time
	finished bool
}

var _ registry.Run = (*Run)(nil)

// Option customizes Start.
type Option func(*Run)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Run) { r.now = now }
}

// Start creates and persists a new run. A nil sink means NopSink.
func Start(ctx context.Context, store Store, sink Sink, jobType string, config map[string]cty.Value, opts ...Option) (*Run, error) {
	if sink == nil {
		sink = NopSink{}
	}
	r := &Run{store: store, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	cfg, err := marshalConfig(config)
	if err != nil {
		return nil, err
	}
	r.rec = Record{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Config:    cfg,
		State:     StateRunning,
		StartedAt: r.now().UTC(),
	}

	if err := r.store.Save(ctx, r.rec); err != nil {
		return nil, fmt.Errorf("saving new run: %w", err)
	}
	r.emit(ctx, "run.started", map[string]any{
		"id":       r.rec.ID,
		"job_type": jobType,
		"config":   json.RawMessage(cfg),
	})
	ctxlog.FromContext(ctx).Debug("Run started.", "run_id", r.rec.ID, "job_type", jobType)
	return r, nil
}

// ID implements registry.Run.
func (r *Run) ID() string {
	return r.rec.ID
}

// Record returns a copy of the current record.
func (r *Run) Record() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.rec
	rec.Used = append([]ArtifactRecord(nil), r.rec.Used...)
	rec.Logged = append([]ArtifactRecord(nil), r.rec.Logged...)
	return rec
}

// UseArtifact implements registry.Run.
func (r *Run) UseArtifact(ctx context.Context, a registry.Artifact) error {
	rec := r.artifactRecord(a)
	if err := r.update(ctx, func(x *Record) { x.Used = append(x.Used, rec) }); err != nil {
		return err
	}
	r.emit(ctx, "artifact.used", map[string]any{"run_id": r.rec.ID, "ref": rec.Ref, "digest": rec.Digest})
	return nil
}

// LogArtifact implements registry.Run.
func (r *Run) LogArtifact(ctx context.Context, a registry.Artifact) error {
	rec := r.artifactRecord(a)
	if err := r.update(ctx, func(x *Record) { x.Logged = append(x.Logged, rec) }); err != nil {
		return err
	}
	r.emit(ctx, "artifact.logged", map[string]any{"run_id": r.rec.ID, "ref": rec.Ref, "type": rec.Type, "digest": rec.Digest})
	return nil
}

// SetPhase records which stage of the step is executing.
func (r *Run) SetPhase(ctx context.Context, phase string) error {
	return r.update(ctx, func(x *Record) { x.Phase = phase })
}

// Finish marks the run finished, or failed when runErr is non-nil, and
// closes the sink. Calls after the first are no-ops.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return nil
	}
	r.finished = true
	r.mu.Unlock()

	at := r.now().UTC()
	err := r.update(ctx, func(x *Record) {
		x.State = StateFinished
		if runErr != nil {
			x.State = StateFailed
			x.Error = runErr.Error()
		}
		x.FinishedAt = &at
	})

	final := r.Record()
	r.emit(ctx, "run.finished", map[string]any{"id": final.ID, "state": string(final.State), "error": final.Error})
	if cerr := r.sink.Close(); cerr != nil {
		ctxlog.FromContext(ctx).Warn("Closing tracking sink failed.", "error", cerr)
	}
	ctxlog.FromContext(ctx).Debug("Run finished.", "run_id", final.ID, "state", final.State)
	return err
}

func (r *Run) update(ctx context.Context, mutate func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.rec)
	if err := r.store.Save(ctx, r.rec); err != nil {
		return fmt.Errorf("saving run %s: %w", r.rec.ID, err)
	}
	return nil
}

func (r *Run) artifactRecord(a registry.Artifact) ArtifactRecord {
	return ArtifactRecord{Ref: a.Ref().String(), Type: a.Type, Digest: a.Digest, At: r.now().UTC()}
}

// emit forwards an event to the sink. Sink failures are logged, never
// returned: tracking events are best effort.
func (r *Run) emit(ctx context.Context, event string, payload map[string]any) {
	if err := r.sink.Emit(ctx, event, payload); err != nil {
		ctxlog.FromContext(ctx).Warn("Tracking event dropped.", "event", event, "error", err)
	}
}

func marshalConfig(config map[string]cty.Value) (json.RawMessage, error) {
	if len(config) == 0 {
		return json.RawMessage("{}"), nil
	}
	b, err := ctyjson.SimpleJSONValue{Value: cty.ObjectVal(config)}.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding run config: %w", err)
	}
	return b, nil
}

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vk/cleanstep/internal/config"
	"github.com/vk/cleanstep/internal/ctxlog"
	"github.com/vk/cleanstep/internal/publish"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/vk/cleanstep/internal/store"
	"github.com/vk/cleanstep/internal/tracking"
	"github.com/vk/cleanstep/internal/upload"
	"go.etcd.io/bbolt"
)

// uploadTimeout bounds a single mirror upload.
const uploadTimeout = 5 * time.Minute

// SinkFactory opens the tracking sink for one run. Each run owns its sink
// and closes it when the run finishes.
type SinkFactory func(ctx context.Context) (tracking.Sink, error)

// Option customizes New.
type Option func(*App)

// WithSinkFactory replaces the socket.io sink derived from the config.
func WithSinkFactory(f SinkFactory) Option {
	return func(a *App) { a.newSink = f }
}

// WithClock overrides time.Now for run records.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.runOpts = append(a.runOpts, tracking.WithClock(now)) }
}

// App encapsulates the step's dependencies, configuration and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	cfg       *config.Step
	db        *bbolt.DB
	registry  *registry.Local
	runs      tracking.Store
	publisher *publish.Publisher
	newSink   SinkFactory
	runOpts   []tracking.Option
}

// New builds an App from a resolved configuration. The registry database
// stays locked until Close.
func New(outW io.Writer, cfg *config.Step, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	db, err := store.Open(filepath.Join(cfg.RegistryRoot, store.DefaultFile))
	if err != nil {
		return nil, err
	}
	reg := registry.NewLocal(db, cfg.RegistryRoot)
	logger.Debug("Registry opened.", "root", cfg.RegistryRoot)

	publisher := &publish.Publisher{
		Registry: reg,
		WorkDir:  cfg.WorkDir,
		FileName: cfg.OutputFile,
	}
	if cfg.UploadURL != "" {
		publisher.Uploader = upload.New(uploadTimeout)
		publisher.UploadURL = cfg.UploadURL
	}

	a := &App{
		outW:      outW,
		logger:    logger,
		cfg:       cfg,
		db:        db,
		registry:  reg,
		runs:      tracking.NewBoltStore(db),
		publisher: publisher,
	}
	a.newSink = a.socketIOSink
	for _, opt := range opts {
		opt(a)
	}
	logger.Debug("App initialized.", "work_dir", cfg.WorkDir, "tracking", cfg.TrackingURL != "", "upload", cfg.UploadURL != "")
	return a, nil
}

// Registry returns the artifact registry. This is primarily for testing.
func (a *App) Registry() *registry.Local {
	return a.registry
}

// Close releases the registry database.
func (a *App) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("closing registry: %w", err)
	}
	a.logger.Debug("Registry closed.")
	return nil
}

// socketIOSink dials the configured tracking server. Tracking is best
// effort: without a URL, or when the server cannot be reached, events are
// dropped and the run proceeds.
func (a *App) socketIOSink(ctx context.Context) (tracking.Sink, error) {
	if a.cfg.TrackingURL == "" {
		return tracking.NopSink{}, nil
	}
	sink, err := tracking.DialSocketIO(ctx, tracking.SocketIOOptions{
		URL:                a.cfg.TrackingURL,
		Namespace:          a.cfg.TrackingNamespace,
		InsecureSkipVerify: a.cfg.TrackingInsecure,
		Timeout:            a.cfg.TrackingTimeoutDuration(),
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Tracking server unavailable, events will be dropped.", "url", a.cfg.TrackingURL, "error", err)
		return tracking.NopSink{}, nil
	}
	return sink, nil
}

// startRun opens a sink and starts a tracked run of the given job type.
func (a *App) startRun(ctx context.Context, jobType string) (*tracking.Run, error) {
	sink, err := a.newSink(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening tracking sink: %w", err)
	}
	run, err := tracking.Start(ctx, a.runs, sink, jobType, a.cfg.Snapshot(), a.runOpts...)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	return run, nil
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cleanstep/internal/registry"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/tracking"
)

const sampleCSV = `id,name,price,last_review
1,cheap,5,2019-01-01
2,kept,100,2019-05-21
3,pricey,400,2018-01-01
4,no review,200,
`

// recordingSink captures tracking events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	closed bool
}

func (s *recordingSink) Emit(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sinkOption(s *recordingSink) Option {
	return WithSinkFactory(func(context.Context) (tracking.Sink, error) { return s, nil })
}

func importSample(t *testing.T, a *App, content string) registry.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	art, err := a.Import(context.Background(), path, registry.Metadata{
		Name: "sample.csv", Type: "raw_data", Description: "Raw listings",
	})
	require.NoError(t, err)
	return art
}

func runsByJob(t *testing.T, a *App, jobType string) []tracking.Record {
	t.Helper()
	all, err := a.Runs(context.Background())
	require.NoError(t, err)
	var out []tracking.Record
	for _, r := range all {
		if r.JobType == jobType {
			out = append(out, r)
		}
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	cfg := TestConfig(t)
	sink := &recordingSink{}
	a, logs := SetupAppTest(t, cfg, sinkOption(sink))
	importSample(t, a, sampleCSV)

	ref, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "clean_sample.csv:v1", ref.String())

	out, err := os.ReadFile(filepath.Join(cfg.WorkDir, cfg.OutputFile))
	require.NoError(t, err)
	assert.Equal(t, "id,name,price,last_review\n2,kept,100,2019-05-21\n4,no review,200,\n", string(out))

	for _, milestone := range []string{"Downloaded artifact", "Data cleaned", "Saved cleaned data"} {
		assert.Contains(t, logs.String(), milestone)
	}

	runs := runsByJob(t, a, JobType)
	require.Len(t, runs, 1)
	rec := runs[0]
	assert.Equal(t, tracking.StateFinished, rec.State)
	assert.Equal(t, string(PhaseDone), rec.Phase)
	require.Len(t, rec.Used, 1)
	assert.Equal(t, "sample.csv:v1", rec.Used[0].Ref)
	require.Len(t, rec.Logged, 1)
	assert.Equal(t, "clean_sample.csv:v1", rec.Logged[0].Ref)
	assert.Contains(t, string(rec.Config), `"min_price":10`)

	assert.True(t, sink.closed)
	assert.Contains(t, sink.events, "artifact.used")
	assert.Equal(t, "run.finished", sink.events[len(sink.events)-1])
}

func TestRunTwiceAddsVersion(t *testing.T) {
	cfg := TestConfig(t)
	a, _ := SetupAppTest(t, cfg, sinkOption(&recordingSink{}))
	importSample(t, a, sampleCSV)

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	ref, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ref.Version)

	versions, err := a.Artifacts(context.Background(), cfg.OutputArtifact)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, versions[0].Digest, versions[1].Digest)
	assert.Equal(t, []string{registry.LatestAlias}, versions[1].Aliases)
	assert.Empty(t, versions[0].Aliases)
}

func TestRunMissingInputFails(t *testing.T) {
	cfg := TestConfig(t)
	a, logs := SetupAppTest(t, cfg, sinkOption(&recordingSink{}))

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, steperr.ErrNotFound)
	assert.Contains(t, logs.String(), "Run failed.")
	assert.NotContains(t, logs.String(), "Downloaded artifact")

	runs := runsByJob(t, a, JobType)
	require.Len(t, runs, 1)
	assert.Equal(t, tracking.StateFailed, runs[0].State)
	assert.Equal(t, string(PhaseFailed), runs[0].Phase)
	assert.NotEmpty(t, runs[0].Error)
	assert.NotNil(t, runs[0].FinishedAt)
}

func TestRunMissingColumnIsSchemaError(t *testing.T) {
	cfg := TestConfig(t)
	a, logs := SetupAppTest(t, cfg, sinkOption(&recordingSink{}))
	importSample(t, a, "id,cost,last_review\n1,20,2019-01-01\n")

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, steperr.ErrSchema)
	assert.Contains(t, logs.String(), "Downloaded artifact")
	assert.NotContains(t, logs.String(), "Data cleaned")

	_, err = a.Artifacts(context.Background(), cfg.OutputArtifact)
	assert.ErrorIs(t, err, steperr.ErrNotFound, "nothing is published on failure")
}

func TestRunCorruptBlobIsIO(t *testing.T) {
	cfg := TestConfig(t)
	a, _ := SetupAppTest(t, cfg, sinkOption(&recordingSink{}))
	art := importSample(t, a, sampleCSV)

	require.NoError(t, os.WriteFile(a.Registry().BlobPath(art), []byte("price\n1\n"), 0o644))

	_, err := a.Run(context.Background())
	assert.ErrorIs(t, err, steperr.ErrIO)
}

func TestRunRaggedInputIsNotReportedAsDownloaded(t *testing.T) {
	cfg := TestConfig(t)
	a, logs := SetupAppTest(t, cfg, sinkOption(&recordingSink{}))
	importSample(t, a, "price,last_review\n10,2019-01-01,extra\n")

	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, steperr.ErrIO)
	assert.NotContains(t, logs.String(), "Downloaded artifact")
	assert.Contains(t, logs.String(), "Run failed.")
}

func TestSecondAppOnSameRegistryFails(t *testing.T) {
	cfg := TestConfig(t)
	SetupAppTest(t, cfg)

	_, err := New(&SafeBuffer{}, cfg)
	assert.ErrorIs(t, err, steperr.ErrIO)
}

func TestTrackingFallsBackWhenUnreachable(t *testing.T) {
	cfg := TestConfig(t)
	cfg.TrackingURL = "not a url"
	a, logs := SetupAppTest(t, cfg)
	importSample(t, a, sampleCSV)

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "Tracking server unavailable")
}

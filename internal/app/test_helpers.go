package app

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/vk/cleanstep/internal/config"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// TestConfig returns a valid step configuration rooted in fresh temporary
// directories.
func TestConfig(t *testing.T) *config.Step {
	t.Helper()
	cfg := config.Default()
	cfg.InputArtifact = "sample.csv:latest"
	cfg.OutputArtifact = "clean_sample.csv"
	cfg.OutputType = "clean_sample"
	cfg.OutputDescription = "Data with outliers and null values removed"
	cfg.MinPrice = 10
	cfg.MaxPrice = 350
	cfg.RegistryRoot = t.TempDir()
	cfg.WorkDir = t.TempDir()
	cfg.LogLevel = "debug"
	return &cfg
}

// SetupAppTest creates an App for system testing and closes it when the
// test ends. Set CLEANSTEP_TEST_LOGS=true to print the captured log.
func SetupAppTest(t *testing.T, cfg *config.Step, opts ...Option) (*App, *SafeBuffer) {
	t.Helper()

	logBuffer := &SafeBuffer{}
	testApp, err := New(logBuffer, cfg, opts...)
	if err != nil {
		t.Fatalf("creating app: %v", err)
	}

	t.Cleanup(func() {
		_ = testApp.Close()
		if os.Getenv("CLEANSTEP_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}

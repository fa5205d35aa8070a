package registry

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/vk/cleanstep/internal/steperr"
)

// Metadata is what a caller supplies when registering an artifact.
type Metadata struct {
	Name        string
	Type        string
	Description string
	// Aliases are applied in addition to LatestAlias.
	Aliases []string
}

// Artifact is one stored artifact version.
type Artifact struct {
	Name        string    `json:"name"`
	Version     int       `json:"version"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	FileName    string    `json:"file_name"`
	Digest      string    `json:"digest"`
	Size        int64     `json:"size"`
	Aliases     []string  `json:"aliases,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref returns the pinned reference of this version.
func (a Artifact) Ref() Ref {
	return Ref{Name: a.Name, Version: a.Version}
}

// Run is the slice of a tracking run the registry needs: an identity and
// somewhere to record lineage.
type Run interface {
	ID() string
	UseArtifact(ctx context.Context, a Artifact) error
	LogArtifact(ctx context.Context, a Artifact) error
}

// Registry resolves references to local files and registers new versions.
type Registry interface {
	// Use resolves ref to a readable local file and records the usage on run.
	Use(ctx context.Context, run Run, ref string) (string, error)
	// Register stores the file at path as a new version and records it on run.
	Register(ctx context.Context, run Run, path string, meta Metadata) (Artifact, error)
	// Resolve looks a reference up without touching any run.
	Resolve(ctx context.Context, ref string) (Artifact, error)
	// Versions lists all versions of name, oldest first.
	Versions(ctx context.Context, name string) ([]Artifact, error)
}

var versionLike = regexp.MustCompile(`^v[0-9]+$`)

// Validate rejects metadata the registry cannot store.
func (m Metadata) Validate() error {
	if !namePattern.MatchString(m.Name) {
		return steperr.Newf(steperr.KindRegistration, "register", "invalid artifact name %q", m.Name)
	}
	if !namePattern.MatchString(m.Type) {
		return steperr.Newf(steperr.KindRegistration, "register", "invalid artifact type %q", m.Type)
	}
	for _, a := range m.Aliases {
		if !namePattern.MatchString(a) || versionLike.MatchString(a) {
			return steperr.Newf(steperr.KindRegistration, "register", "invalid alias %q", a)
		}
	}
	return nil
}

func (m Metadata) aliases() []string {
	out := []string{LatestAlias}
	seen := map[string]bool{LatestAlias: true}
	for _, a := range m.Aliases {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func versionKey(v int) []byte {
	return []byte(fmt.Sprintf("%08d", v))
}

package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vk/cleanstep/internal/steperr"
)

// LatestAlias always points at the newest version of an artifact.
const LatestAlias = "latest"

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Ref names one artifact version, either by number or by alias.
type Ref struct {
	Name    string
	Version int    // > 0 when the ref pins a version
	Alias   string // used when Version == 0
}

// ParseRef parses "name", "name:vN" or "name:alias". A bare name means the
// latest version.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	name, tag, hasTag := strings.Cut(s, ":")
	if !namePattern.MatchString(name) {
		return Ref{}, steperr.Newf(steperr.KindNotFound, "parse ref", "invalid artifact name in %q", s)
	}
	if !hasTag {
		return Ref{Name: name, Alias: LatestAlias}, nil
	}
	if v, ok := parseVersion(tag); ok {
		return Ref{Name: name, Version: v}, nil
	}
	if !namePattern.MatchString(tag) {
		return Ref{}, steperr.Newf(steperr.KindNotFound, "parse ref", "invalid version or alias in %q", s)
	}
	return Ref{Name: name, Alias: tag}, nil
}

// String renders the canonical form.
func (r Ref) String() string {
	if r.Version > 0 {
		return fmt.Sprintf("%s:v%d", r.Name, r.Version)
	}
	return r.Name + ":" + r.Alias
}

// parseVersion accepts "v1", "v2", ...
func parseVersion(tag string) (int, bool) {
	if len(tag) < 2 || tag[0] != 'v' {
		return 0, false
	}
	n, err := strconv.Atoi(tag[1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

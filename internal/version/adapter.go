// Package version decides whether a command descriptor is compatible with the
// running host and expands version placeholders in module locations.
package version

import "strings"

// Placeholder is substituted with the host version in module locations.
const Placeholder = "{VERSION}"

// Source reports the running host version.
type Source interface {
	Version() string
}

// Adapter answers compatibility queries against one host version, read once.
type Adapter struct {
	current string
}

// NewAdapter reads the host version from src.
func NewAdapter(src Source) *Adapter {
	return &Adapter{current: src.Version()}
}

// CurrentVersion returns the host version identifier.
func (a *Adapter) CurrentVersion() string {
	return a.current
}

// IsSupported reports whether the current version appears in declared.
// Matching is exact; there are no ranges.
func (a *Adapter) IsSupported(declared []string) bool {
	for _, v := range declared {
		if v == a.current {
			return true
		}
	}
	return false
}

// Expand replaces every Placeholder in location with current.
func Expand(location, current string) string {
	if !strings.Contains(location, Placeholder) {
		return location
	}
	return strings.ReplaceAll(location, Placeholder, current)
}

package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters records by type using glob patterns
type GlobFilter struct {
	typeGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty patterns match everything.
func NewGlobFilter(typePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		typeGlobs: make([]glob.Glob, 0, len(typePatterns)),
	}

	for _, pattern := range typePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid type pattern %q: %w", pattern, err)
		}
		filter.typeGlobs = append(filter.typeGlobs, g)
	}

	return filter, nil
}

// Match returns true if recordType matches any configured pattern
func (f *GlobFilter) Match(recordType string) bool {
	if len(f.typeGlobs) == 0 {
		return true
	}
	for _, g := range f.typeGlobs {
		if g.Match(recordType) {
			return true
		}
	}
	return false
}

package merge

import (
	"fmt"
	"path"
	"strings"
)

// ExclusionSet is an ordered list of relative path patterns that protect
// existing live files from being overwritten.
// A pattern matches the whole slash-separated relative path, either exactly or
// as a path.Match glob ("worlds/*", "*.json").
type ExclusionSet struct {
	patterns []string
}

// NewExclusionSet normalizes and validates patterns.
func NewExclusionSet(patterns []string) (*ExclusionSet, error) {
	set := &ExclusionSet{patterns: make([]string, 0, len(patterns))}
	seen := make(map[string]struct{}, len(patterns))

	for _, raw := range patterns {
		pattern := normalizeRelative(raw)
		if pattern == "" {
			continue
		}

		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("exclusion pattern %q: %w", raw, err)
		}

		if _, dup := seen[pattern]; dup {
			continue
		}

		seen[pattern] = struct{}{}
		set.patterns = append(set.patterns, pattern)
	}

	return set, nil
}

// Patterns returns the normalized patterns in their original order.
func (s *ExclusionSet) Patterns() []string {
	if s == nil {
		return nil
	}

	return append([]string(nil), s.patterns...)
}

// Match reports whether the relative path rel is covered by the set.
func (s *ExclusionSet) Match(rel string) bool {
	if s == nil {
		return false
	}

	rel = normalizeRelative(rel)

	for _, pattern := range s.patterns {
		if pattern == rel {
			return true
		}

		if matched, _ := path.Match(pattern, rel); matched {
			return true
		}
	}

	return false
}

// normalizeRelative converts a user or filesystem path into the slash form used for matching.
func normalizeRelative(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}

	p = strings.TrimPrefix(path.Clean(p), "/")
	if p == "." || p == "" {
		return ""
	}

	return p
}

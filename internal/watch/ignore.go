package watch

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides whether a path relative to a watch root is ignored.
//
// Patterns are case-sensitive doublestar globs matched against the
// slash-separated path relative to the root:
//   - "database.db"     a bare name matches that base name at any depth
//   - "src/utils/*.db"  explicit segments are anchored at the root
//   - "logs/**"         everything beneath logs
//   - "**/*.pyc"        any depth
//
// A path is also ignored when any of its parent directories is ignored.
type Matcher struct {
	patterns []string
}

// ValidatePattern reports whether p is a well-formed ignore pattern.
func ValidatePattern(p string) error {
	n := normalizePattern(p)
	if n == "" {
		return fmt.Errorf("empty ignore pattern %q", p)
	}
	if !doublestar.ValidatePattern(n) {
		return fmt.Errorf("malformed ignore pattern %q", p)
	}
	return nil
}

// NewMatcher validates and compiles patterns.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, normalizePattern(p))
	}
	return m, nil
}

func normalizePattern(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}

// Match reports whether rel (relative to the watch root) is ignored.
func (m *Matcher) Match(rel string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel = path.Clean(filepath.ToSlash(rel))
	if rel == "." || rel == "" {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		for _, p := range m.patterns {
			if matchOne(p, prefix) {
				return true
			}
		}
	}
	return false
}

func matchOne(pattern, rel string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := doublestar.Match(pattern, path.Base(rel))
		return ok
	}
	return false
}

// Patterns returns the normalized patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

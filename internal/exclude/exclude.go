// Package exclude decides which paths are kept out of collection and distribution.
package exclude

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Mode selects how patterns are compared against a path.
type Mode string

const (
	// ModeSubstring excludes a path containing a pattern anywhere.
	ModeSubstring Mode = "substring"
	// ModeSegment excludes a path when one of its segments equals a pattern.
	ModeSegment Mode = "segment"
)

// DefaultPatterns are the folder markers for shared photos that must stay in place.
var DefaultPatterns = []string{"shared", "общие"}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSubstring:
		return ModeSubstring, nil
	case ModeSegment:
		return ModeSegment, nil
	default:
		return "", fmt.Errorf("unknown exclusion mode %q (supported: substring, segment)", s)
	}
}

// Matcher reports whether a path is excluded. A nil Matcher excludes nothing.
type Matcher struct {
	mode         Mode
	patterns     []string // folded
	rootRelative bool
}

// New creates a matcher from patterns; comparisons ignore case.
func New(mode Mode, patterns []string) *Matcher {
	m := &Matcher{mode: mode}
	for _, p := range patterns {
		if p = fold(strings.TrimSpace(p)); p != "" {
			m.patterns = append(m.patterns, p)
		}
	}
	return m
}

// RootRelative returns a copy of m whose MatchUnder only inspects the part of a
// path below the root being processed.
func (m *Matcher) RootRelative() *Matcher {
	if m == nil {
		return nil
	}
	c := *m
	c.patterns = append([]string(nil), m.patterns...)
	c.rootRelative = true
	return &c
}

// fold returns the case-folded NFC form of s.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// Patterns returns the folded patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Match reports whether path is excluded.
func (m *Matcher) Match(path string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	p := fold(filepath.ToSlash(path))

	switch m.mode {
	case ModeSegment:
		for _, seg := range strings.Split(p, "/") {
			for _, pat := range m.patterns {
				if seg == pat {
					return true
				}
			}
		}
		return false
	default:
		for _, pat := range m.patterns {
			if strings.Contains(p, pat) {
				return true
			}
		}
		return false
	}
}

// MatchUnder reports whether path, found under root, is excluded. The whole path
// is matched, so a marker in root excludes the entire tree. For a RootRelative
// matcher only the part below root is matched; paths outside root are still
// matched in full.
func (m *Matcher) MatchUnder(root, path string) bool {
	if m == nil || !m.rootRelative || root == "" {
		return m.Match(path)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return m.Match(path)
	}
	return m.Match(rel)
}

// Package ignore implements the three-layer ignore cascade the
// scanner consults for every path it visits: an exact-path set, a
// basename set, and a suffix set. It wraps the same gitignore-pattern
// matcher the teacher's FilterEngine uses for its .odignore layer
// (github.com/sabhiram/go-gitignore), simplified to the three sets the
// specification names rather than the teacher's four-layer,
// OneDrive-specific cascade.
package ignore

import (
	"path"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Set is an immutable compiled ignore ruleset.
type Set struct {
	exact    map[string]struct{}
	basename map[string]struct{}
	suffix   []string
	patterns *gitignore.GitIgnore // optional, nil if no pattern rules given
}

// Config lists the raw rules for each layer.
type Config struct {
	ExactPaths []string
	Basenames  []string
	Suffixes   []string
	// Patterns are .gitignore-style glob lines, evaluated relative to
	// the scan root, after the three fixed-set layers.
	Patterns []string
}

// Compile builds a Set from Config. Its error is always nil: the
// underlying matcher reports no error for any pattern line.
func Compile(cfg Config) (*Set, error) {
	s := &Set{
		exact:    toSet(cfg.ExactPaths),
		basename: toSet(cfg.Basenames),
		suffix:   append([]string(nil), cfg.Suffixes...),
	}

	if len(cfg.Patterns) > 0 {
		s.patterns = gitignore.CompileIgnoreLines(cfg.Patterns...)
	}

	return s, nil
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}

	return m
}

// Match reports whether relPath (slash-separated, relative to the
// scan root) should be excluded from the manifest.
func (s *Set) Match(relPath string) bool {
	if s == nil {
		return false
	}

	if _, ok := s.exact[relPath]; ok {
		return true
	}

	base := path.Base(relPath)
	if _, ok := s.basename[base]; ok {
		return true
	}

	for _, suf := range s.suffix {
		if strings.HasSuffix(relPath, suf) {
			return true
		}
	}

	if s.patterns != nil && s.patterns.MatchesPath(relPath) {
		return true
	}

	return false
}

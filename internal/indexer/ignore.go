package indexer

import (
	"path/filepath"
	"strings"
)

// matchesIgnore reports whether relPath (slash-separated, relative to a
// source root) matches any of the configured ignore patterns. Patterns
// follow a reduced gitignore-style syntax: a leading "**/" matches any
// depth, a trailing "/**" matches everything under a directory, and
// plain segments are matched with filepath.Match against either the
// whole path or its base name.
func matchesIgnore(relPath string, patterns []string) bool {
	relPath = filepath.ToSlash(relPath)
	base := filepath.Base(relPath)

	for _, pattern := range patterns {
		pattern = filepath.ToSlash(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}

		if strings.HasSuffix(pattern, "/**") {
			dir := strings.TrimSuffix(pattern, "/**")
			if relPath == dir || strings.HasPrefix(relPath, dir+"/") {
				return true
			}
			continue
		}

		candidate := pattern
		anchored := strings.Contains(pattern, "/")
		if strings.HasPrefix(pattern, "**/") {
			candidate = strings.TrimPrefix(pattern, "**/")
			anchored = strings.Contains(candidate, "/")
		}

		if anchored {
			if ok, _ := filepath.Match(candidate, relPath); ok {
				return true
			}
			continue
		}

		if ok, _ := filepath.Match(candidate, base); ok {
			return true
		}
	}
	return false
}

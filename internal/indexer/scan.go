package indexer

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// scannedFile is one Markdown file found under a source root.
type scannedFile struct {
	AbsPath    string
	RelPath    string // relative to the source root, slash-separated
	Collection string
}

// scanSource walks root for "**/*.md" files, skipping anything matching
// the source's ignore patterns. Results are sorted by RelPath for
// deterministic runs.
func scanSource(src Source) ([]scannedFile, error) {
	var out []scannedFile

	err := filepath.WalkDir(src.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		rel, relErr := filepath.Rel(src.Root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && matchesIgnore(rel+"/**", src.Ignore) {
				return filepath.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		if matchesIgnore(rel, src.Ignore) {
			return nil
		}

		out = append(out, scannedFile{
			AbsPath:    path,
			RelPath:    rel,
			Collection: src.Collection,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

// Package hashpath provides content hashing and virtual-path helpers used
// to detect file changes during indexing and to address files relative to
// a named collection root.
package hashpath

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// ContentHash returns the hex-encoded SHA-256 digest of content. Used to
// detect whether a file's body changed even when its mtime did not (or
// vice versa), per spec.md §4.9's stat-then-hash change detection.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ContextKey returns the composite cache key for the contextualizer:
// SHA-256(docContent ‖ 0x00 ‖ chunkContent), hex-encoded (spec.md §3).
func ContextKey(docContent, chunkContent string) string {
	h := sha256.New()
	h.Write([]byte(docContent))
	h.Write([]byte{0x00})
	h.Write([]byte(chunkContent))
	return hex.EncodeToString(h.Sum(nil))
}

// QueryHash returns the hex-encoded SHA-256 digest of a query string, used
// as the first component of the reranker cache key (spec.md §4.8).
func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// VirtualPath encodes a file's path relative to a named collection root as
// a memory://<collection>/<relative> reference (spec.md GLOSSARY). relPath
// is expected to already be relative to root; it is cleaned and forced to
// forward slashes so the result is stable across platforms.
func VirtualPath(collection, relPath string) string {
	clean := filepath.ToSlash(filepath.Clean(relPath))
	clean = strings.TrimPrefix(clean, "./")
	return "memory://" + collection + "/" + clean
}

// SplitVirtualPath parses a memory://<collection>/<relative> reference back
// into its collection name and relative path. ok is false if ref does not
// use the memory:// scheme.
func SplitVirtualPath(ref string) (collection, relPath string, ok bool) {
	const prefix = "memory://"
	if !strings.HasPrefix(ref, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

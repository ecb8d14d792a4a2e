// Package store owns the archiver's local state: the on-disk layout under
// the output root and the in-process dedup index.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathResolver maps remote object keys onto the local archive tree. Every
// resolved path is guaranteed to be a descendant of the output root, no
// matter how hostile the input key is.
type PathResolver struct {
	outputRoot string
}

// NewPathResolver creates a resolver rooted at outputRoot.
func NewPathResolver(outputRoot string) *PathResolver {
	return &PathResolver{outputRoot: outputRoot}
}

// OutputRoot returns the archive root the resolver was built with.
func (p *PathResolver) OutputRoot() string {
	return p.outputRoot
}

// SanitizedPath joins remoteKey under the output root after stripping
// everything that could escape it: parent-directory segments, absolute or
// drive-letter prefixes, empty segments, and control characters.
func (p *PathResolver) SanitizedPath(remoteKey string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, remoteKey)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")

	// Drop a Windows drive prefix such as "C:".
	if len(cleaned) >= 2 && cleaned[1] == ':' {
		cleaned = cleaned[2:]
	}

	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		segments = append(segments, seg)
	}

	return filepath.Join(append([]string{p.outputRoot}, segments...)...)
}

// EnsureParentDir creates the parent directory of path, idempotently.
func (p *PathResolver) EnsureParentDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return nil
}

// ArtifactComplete reports whether a finished artifact already exists at
// path. A present, non-empty file means the product is permanently archived;
// absent or zero-length means not yet.
func ArtifactComplete(path string) bool {
	_, ok := ArtifactSize(path)
	return ok
}

// ArtifactSize returns the size of the finished artifact at path, or false
// when no complete artifact exists there.
func ArtifactSize(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, false
	}
	return info.Size(), true
}

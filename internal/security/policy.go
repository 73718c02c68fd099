// Package security implements the sandboxed filesystem access layer: the
// constraint policy, the path validation guard, and the access classifier
// that together decide what the rest of the system may touch.
package security

import (
	"fmt"
	"strings"
)

// AccessLevel is the classification outcome for a filesystem entry.
type AccessLevel string

const (
	// AccessReadOnly permits reading both metadata and content.
	AccessReadOnly AccessLevel = "read_only"
	// AccessMetadataOnly permits stat-level facts but not content access,
	// e.g. a file whose size exceeds the policy cap.
	AccessMetadataOnly AccessLevel = "metadata_only"
	// AccessNone denies the entry entirely.
	AccessNone AccessLevel = "no_access"
)

// Policy bounds what the sandbox permits. It is constructed once, validated,
// and shared by value; it is never mutated after construction. Callers that
// need stricter limits derive a copy via Clamp.
type Policy struct {
	MaxFileSize               int64 // bytes
	AllowedExtensions         map[string]struct{}
	MaxDepth                  int
	FollowSymlinks            bool
	SkipHiddenFiles           bool
	SkipHiddenDirs            bool
	MaxPathLength             int
	BlockExecutableExtensions bool
	LogViolations             bool
}

// DefaultPhotoExtensions returns the extension allow-list covering common
// photo formats plus the usual RAW suspects.
func DefaultPhotoExtensions() map[string]struct{} {
	exts := []string{
		".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp", ".webp",
		".heic", ".heif",
		".raw", ".cr2", ".nef", ".arw", ".dng", ".orf", ".raf", ".rw2",
		".pef", ".srw", ".x3f", ".3fr", ".fff", ".iiq", ".k25", ".kdc",
		".mef", ".mos", ".mrw", ".nrw", ".ptx", ".r3d", ".rwl", ".sr2", ".srf",
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[e] = struct{}{}
	}
	return set
}

// ExtensionSet builds an allow-list set from a slice, lowercasing each entry
// and ensuring a leading dot.
func ExtensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

// DefaultPolicy returns the standard sandbox policy: 500 MiB files, depth 10,
// 4096-character paths, hidden entries skipped, symlinks not followed.
func DefaultPolicy() Policy {
	return Policy{
		MaxFileSize:               500 * 1024 * 1024,
		AllowedExtensions:         DefaultPhotoExtensions(),
		MaxDepth:                  10,
		FollowSymlinks:            false,
		SkipHiddenFiles:           true,
		SkipHiddenDirs:            true,
		MaxPathLength:             4096,
		BlockExecutableExtensions: true,
		LogViolations:             true,
	}
}

// ReadOnlyPhotoPolicy returns the stricter preset used for caller-facing
// photo services: 100 MiB files, depth 5, 1024-character paths.
func ReadOnlyPhotoPolicy() Policy {
	p := DefaultPolicy()
	p.MaxFileSize = 100 * 1024 * 1024
	p.MaxDepth = 5
	p.MaxPathLength = 1024
	return p
}

// Clamp returns a copy with MaxFileSize and MaxDepth capped at the given
// values. Zero or negative caps leave the corresponding field untouched.
func (p Policy) Clamp(maxFileSize int64, maxDepth int) Policy {
	out := p
	if maxFileSize > 0 && maxFileSize < out.MaxFileSize {
		out.MaxFileSize = maxFileSize
	}
	if maxDepth > 0 && maxDepth < out.MaxDepth {
		out.MaxDepth = maxDepth
	}
	return out
}

// WithExtensions returns a copy using the given extension allow-list instead
// of the current one. An empty slice keeps the current set.
func (p Policy) WithExtensions(exts []string) Policy {
	if len(exts) == 0 {
		return p
	}
	out := p
	out.AllowedExtensions = ExtensionSet(exts)
	return out
}

// ExtensionAllowed reports whether the case-folded extension is in the
// allow-list. The extension must include the leading dot.
func (p Policy) ExtensionAllowed(ext string) bool {
	_, ok := p.AllowedExtensions[strings.ToLower(ext)]
	return ok
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxFileSize <= 0 {
		return fmt.Errorf("policy: max file size must be positive, got %d", p.MaxFileSize)
	}
	if p.MaxDepth <= 0 {
		return fmt.Errorf("policy: max depth must be positive, got %d", p.MaxDepth)
	}
	if p.MaxPathLength <= 0 {
		return fmt.Errorf("policy: max path length must be positive, got %d", p.MaxPathLength)
	}
	if len(p.AllowedExtensions) == 0 {
		return fmt.Errorf("policy: allowed extension set must not be empty")
	}
	return nil
}

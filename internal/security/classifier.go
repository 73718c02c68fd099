package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Classifier applies the policy to concrete filesystem entries. Classify is
// a total function: it never returns an error, it returns an Entry whose
// AccessLevel and Error fields carry the verdict.
type Classifier struct {
	guard  *Guard
	policy Policy
}

// NewClassifier builds a classifier sharing the guard's policy.
func NewClassifier(guard *Guard) *Classifier {
	return &Classifier{guard: guard, policy: guard.Policy()}
}

// Classify validates the path through the guard, stats it, and applies the
// file constraints. Calling it twice on an unchanged file yields the same
// verdict.
func (c *Classifier) Classify(path string) Entry {
	entry := Entry{Path: path, AccessLevel: AccessNone}

	validated, err := c.guard.Validate(path)
	if err != nil {
		entry.Error = err.Error()
		return entry
	}
	entry.Path = validated

	info, err := os.Lstat(path)
	if err != nil {
		entry.Error = fmt.Sprintf("stat failed: %v", err)
		return entry
	}

	entry.IsSymlink = info.Mode()&os.ModeSymlink != 0
	if entry.IsSymlink {
		// The guard only lets symlinks through when policy follows them;
		// classify the target's facts, not the link's.
		target, err := os.Stat(validated)
		if err != nil {
			entry.Error = fmt.Sprintf("stat link target failed: %v", err)
			return entry
		}
		info = target
	}

	entry.IsDirectory = info.IsDir()
	entry.Size = info.Size()
	entry.Permissions = info.Mode().String()
	entry.LastModified = info.ModTime()

	if entry.IsDirectory {
		// Directories are readable whenever reachable; their contents are
		// classified entry by entry during enumeration.
		entry.AccessLevel = AccessReadOnly
		return entry
	}

	ext := strings.ToLower(filepath.Ext(validated))
	if !c.policy.ExtensionAllowed(ext) {
		// Filtered, not denied: no error text.
		return entry
	}

	if !readable(validated) {
		entry.Error = "no read permission"
		return entry
	}

	if entry.Size > c.policy.MaxFileSize {
		entry.AccessLevel = AccessMetadataOnly
		entry.Error = fmt.Sprintf("size %d exceeds limit %d", entry.Size, c.policy.MaxFileSize)
		return entry
	}

	entry.AccessLevel = AccessReadOnly
	return entry
}

// Guard returns the guard backing this classifier.
func (c *Classifier) Guard() *Guard {
	return c.guard
}

func readable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}

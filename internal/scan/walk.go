package scan

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/security"
)

// walker enumerates a directory tree depth-first. os.ReadDir returns entries
// sorted by name, so a walk over an unchanged tree visits files in a stable
// order.
type walker struct {
	guard      *security.Guard
	classifier *security.Classifier
	policy     security.Policy
	cancelled  func() bool
	onError    func(*EnumerationError)
}

// walk descends from dir, appending accepted files to out. Depth is counted
// from the walk root: direct children sit at depth 0 and descent happens
// while depth < maxDepth. Only a failure to list the root itself is returned
// as an error; deeper failures are reported through onError and the subtree
// is skipped.
func (w *walker) walk(dir string, depth, maxDepth int, out *[]security.Entry) error {
	if w.cancelled() {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return err
		}
		enumErr := &EnumerationError{Path: dir, Err: err}
		logging.Warn("subtree enumeration failed",
			zap.String("path", dir),
			zap.Error(err))
		w.onError(enumErr)
		return nil
	}

	for _, de := range entries {
		if w.cancelled() {
			return nil
		}

		name := de.Name()
		path := filepath.Join(dir, name)
		hidden := strings.HasPrefix(name, ".")

		isSymlink := de.Type()&os.ModeSymlink != 0
		isDir := de.IsDir()
		if isSymlink {
			if !w.policy.FollowSymlinks {
				continue
			}
			if fi, err := os.Stat(path); err == nil && fi.IsDir() {
				isDir = true
			}
		}

		if isDir {
			if hidden && w.policy.SkipHiddenDirs {
				continue
			}
			if depth >= maxDepth {
				continue
			}
			if _, err := w.guard.Validate(path); err != nil {
				// A child that fails validation is excluded, not an error:
				// children routinely fall outside the constraints.
				logging.Debug("subtree excluded",
					zap.String("path", path),
					zap.String("reason", err.Error()))
				continue
			}
			_ = w.walk(path, depth+1, maxDepth, out)
			continue
		}

		if hidden && w.policy.SkipHiddenFiles {
			continue
		}

		entry := w.classifier.Classify(path)
		if entry.IsDirectory || !entry.Readable() {
			continue
		}
		*out = append(*out, entry)
	}

	return nil
}

// list mirrors walk but keeps everything a scan would drop: directories are
// emitted as entries of their own and files are kept regardless of verdict,
// so callers can show what the sandbox excludes and why. Hidden-entry and
// symlink policy still applies.
func (w *walker) list(dir string, depth, maxDepth int, out *[]security.Entry) error {
	if w.cancelled() {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return err
		}
		logging.Warn("subtree enumeration failed",
			zap.String("path", dir),
			zap.Error(err))
		w.onError(&EnumerationError{Path: dir, Err: err})
		return nil
	}

	for _, de := range entries {
		if w.cancelled() {
			return nil
		}

		name := de.Name()
		path := filepath.Join(dir, name)
		hidden := strings.HasPrefix(name, ".")

		isSymlink := de.Type()&os.ModeSymlink != 0
		isDir := de.IsDir()
		if isSymlink {
			if !w.policy.FollowSymlinks {
				continue
			}
			if fi, err := os.Stat(path); err == nil && fi.IsDir() {
				isDir = true
			}
		}

		if isDir {
			if hidden && w.policy.SkipHiddenDirs {
				continue
			}
			if _, err := w.guard.Validate(path); err != nil {
				logging.Debug("subtree excluded",
					zap.String("path", path),
					zap.String("reason", err.Error()))
				continue
			}
			*out = append(*out, w.classifier.Classify(path))
			if depth < maxDepth {
				_ = w.list(path, depth+1, maxDepth, out)
			}
			continue
		}

		if hidden && w.policy.SkipHiddenFiles {
			continue
		}

		*out = append(*out, w.classifier.Classify(path))
	}

	return nil
}

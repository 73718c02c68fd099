package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
)

// suspiciousPatterns are rejected on the raw candidate string before any
// resolution. Resolution alone is not enough: a symlink planted after the
// check can make a clean-looking resolved path reachable through a dirty one.
var suspiciousPatterns = []string{
	// unix and windows traversal
	"../",
	"..\\",
	// url-encoded .., /, and backslash
	"%2e%2e",
	"%2f",
	"%5c",
	// UNC long-path and device-namespace prefixes
	"\\\\?\\",
	"\\\\.",
}

// forbiddenDirPatterns deny system-critical locations even when a
// misconfigured allow-list nominally contains them. Backstop, not the
// primary containment mechanism.
var forbiddenDirPatterns = []string{
	"/etc/",
	"/boot/",
	"/sys/",
	"/proc/",
	"/dev/",
	"/root/",
	"/var/log/",
	"/var/spool/",
	"/usr/bin/",
	"/usr/sbin/",
	"/sbin/",
	"/bin/",
	"c:\\windows\\",
	"c:\\program files\\",
	"c:\\users\\administrator\\",
	"c:\\users\\default\\",
	"\\windows\\",
	"\\program files\\",
	"\\system32\\",
	"\\syswow64\\",
}

// dangerousExtensions are denied for existing files unless explicitly
// allow-listed. Covers executables, scripts, archives, config/system files,
// databases, and logs.
var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {}, ".pif": {},
	".vbs": {}, ".vbe": {}, ".js": {}, ".jse": {}, ".wsf": {}, ".wsh": {},
	".msi": {}, ".msp": {}, ".dll": {}, ".sys": {}, ".drv": {},
	".sh": {}, ".bash": {}, ".zsh": {}, ".csh": {}, ".fish": {},
	".pl": {}, ".py": {}, ".rb": {}, ".lua": {}, ".ps1": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".bz2": {},
	".ini": {}, ".cfg": {}, ".conf": {}, ".config": {}, ".plist": {},
	".reg": {}, ".key": {}, ".crt": {}, ".pem": {}, ".p12": {},
	".db": {}, ".sqlite": {}, ".mdb": {}, ".accdb": {},
	".log": {}, ".tmp": {}, ".temp": {}, ".swp": {}, ".bak": {},
}

// Guard validates candidate paths against an allow-list of root directories
// under a Policy. Validation either returns the canonical resolved path or a
// *Violation naming the rule that failed; there is no partial acceptance.
type Guard struct {
	roots  []string // absolute, symlink-resolved, in configuration order
	policy Policy
}

// NewGuard builds a Guard from the allow-list. Every root must exist and be
// a directory; the list must be non-empty.
func NewGuard(allowedDirs []string, policy Policy) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if len(allowedDirs) == 0 {
		return nil, fmt.Errorf("guard: at least one allowed directory is required")
	}

	roots := make([]string, 0, len(allowedDirs))
	for _, dir := range allowedDirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("guard: allowed directory %s: %w", dir, err)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("guard: allowed directory %s: %w", dir, err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil, fmt.Errorf("guard: allowed directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("guard: allowed directory %s is not a directory", dir)
		}
		roots = append(roots, resolved)
	}

	logging.Info("path guard initialized",
		zap.Strings("allowed_roots", roots),
		zap.Int64("max_file_size", policy.MaxFileSize),
		zap.Int("max_depth", policy.MaxDepth),
		zap.Bool("follow_symlinks", policy.FollowSymlinks))

	return &Guard{roots: roots, policy: policy}, nil
}

// Roots returns the resolved allow-list roots in configuration order.
func (g *Guard) Roots() []string {
	out := make([]string, len(g.roots))
	copy(out, g.roots)
	return out
}

// Policy returns the policy the guard enforces.
func (g *Guard) Policy() Policy {
	return g.policy
}

// Validate runs the full check sequence on a candidate path and returns its
// canonical resolved form. Checks run in a fixed order and short-circuit on
// the first failure:
//
//  1. embedded NUL bytes and path length
//  2. suspicious raw patterns (traversal, URL-encoded, UNC/device prefixes)
//  3. resolution to an absolute canonical path (failure is a violation)
//  4. structural containment within an allowed root
//  5. per-component symlink-escape walk
//  6. system-directory denylist
//  7. dangerous-extension denylist for existing files
//  8. hidden-entry and symlink policy
//  9. re-resolution and containment re-proof
func (g *Guard) Validate(candidate string) (string, error) {
	// Step 1: encoding and length.
	if strings.ContainsRune(candidate, 0) {
		return "", g.violation(RuleNullByte, candidate, "embedded null byte")
	}
	if len(candidate) > g.policy.MaxPathLength {
		return "", g.violation(RulePathTooLong, candidate,
			fmt.Sprintf("%d characters exceeds limit %d", len(candidate), g.policy.MaxPathLength))
	}

	// Step 2: raw pattern rejection before resolution.
	lower := strings.ToLower(candidate)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return "", g.violation(RuleSuspiciousPattern, candidate, "pattern "+pattern)
		}
	}

	// Step 3: resolve to canonical form, failing closed.
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", g.violation(RuleResolveFailed, candidate, err.Error())
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", g.violation(RuleResolveFailed, candidate, err.Error())
	}

	// Step 4: containment proof by path components, never by string prefix.
	root, ok := g.matchRoot(resolved)
	if !ok {
		return "", g.violation(RuleOutsideRoots, candidate, "resolved to "+resolved)
	}

	// Step 5: every symlink component must itself stay inside the root. The
	// walk prefers the unresolved path so that a link that escapes and
	// returns is still caught; it also re-checks components that were only
	// resolved once in step 3.
	walkPath, walkRoot := resolved, root
	if r, ok := g.matchRoot(abs); ok {
		walkPath, walkRoot = abs, r
	}
	if err := g.verifyNoSymlinkEscape(walkPath, walkRoot, candidate); err != nil {
		return "", err
	}

	// Step 6: system-directory backstop.
	matchForm := strings.ToLower(resolved) + string(filepath.Separator)
	for _, pattern := range forbiddenDirPatterns {
		if strings.Contains(matchForm, pattern) {
			return "", g.violation(RuleSystemDirectory, candidate, "resolved to "+resolved)
		}
	}

	info, statErr := os.Lstat(abs)

	// Step 7: dangerous extensions, for existing regular files only. The
	// allow-list may explicitly override.
	if statErr == nil && info.Mode().IsRegular() {
		ext := strings.ToLower(filepath.Ext(resolved))
		if _, dangerous := dangerousExtensions[ext]; dangerous && g.policy.BlockExecutableExtensions {
			if !g.policy.ExtensionAllowed(ext) {
				return "", g.violation(RuleDangerousExtension, candidate, "extension "+ext)
			}
		}
	}

	// Step 8: policy checks on the entry itself.
	if statErr == nil {
		isSymlink := info.Mode()&os.ModeSymlink != 0
		if isSymlink && !g.policy.FollowSymlinks {
			return "", g.violation(RuleSymlinkDenied, candidate, "symlinks disabled by policy")
		}

		name := filepath.Base(abs)
		if strings.HasPrefix(name, ".") && name != "." && name != ".." {
			target := info
			if isSymlink {
				if t, err := os.Stat(resolved); err == nil {
					target = t
				}
			}
			if target.IsDir() && g.policy.SkipHiddenDirs {
				return "", g.violation(RuleHiddenEntry, candidate, "hidden directory")
			}
			if !target.IsDir() && g.policy.SkipHiddenFiles {
				return "", g.violation(RuleHiddenEntry, candidate, "hidden file")
			}
		}
	}

	// Step 9: narrow the validation-to-use window by re-resolving and
	// re-proving containment on the final form.
	final, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", g.violation(RuleResolveFailed, candidate, err.Error())
	}
	if _, ok := g.matchRoot(final); !ok {
		return "", g.violation(RuleOutsideRoots, candidate, "re-resolved to "+final)
	}

	metrics.RecordPathValidated()
	return final, nil
}

// matchRoot returns the first allowed root containing path (or equal to it).
func (g *Guard) matchRoot(path string) (string, bool) {
	for _, root := range g.roots {
		if containedIn(path, root) {
			return root, true
		}
	}
	return "", false
}

// containedIn reports whether path equals root or is a strict descendant,
// decided by component-wise comparison. A sibling sharing a string prefix
// (/data/photos2 vs /data/photos) is not contained.
func containedIn(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// verifyNoSymlinkEscape walks path component-by-component from root. Any
// component that is a symlink must resolve to a target that is itself
// contained in root. A single resolution of the whole path cannot prove
// this: an intermediate link may leave the root and point back inside.
func (g *Guard) verifyNoSymlinkEscape(path, root, candidate string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return g.violation(RuleSymlinkEscape, candidate, err.Error())
	}
	if rel == "." {
		return nil
	}

	current := root
	for _, component := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, component)

		info, err := os.Lstat(current)
		if err != nil {
			// Fail closed: a component that cannot be inspected cannot be
			// proven safe.
			return g.violation(RuleSymlinkEscape, candidate,
				fmt.Sprintf("cannot inspect %s: %v", current, err))
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		target, err := filepath.EvalSymlinks(current)
		if err != nil {
			return g.violation(RuleSymlinkEscape, candidate,
				fmt.Sprintf("cannot resolve link %s: %v", current, err))
		}
		if !containedIn(target, root) {
			return g.violation(RuleSymlinkEscape, candidate,
				fmt.Sprintf("%s points outside sandbox to %s", current, target))
		}
	}
	return nil
}

func (g *Guard) violation(rule, path, detail string) error {
	metrics.RecordSecurityViolation(rule)
	if g.policy.LogViolations {
		logging.Warn("path validation denied",
			zap.String("rule", rule),
			zap.String("path", path),
			zap.String("detail", detail))
	}
	return &Violation{Rule: rule, Path: path, Detail: detail}
}

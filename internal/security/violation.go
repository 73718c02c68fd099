package security

import (
	"errors"
	"fmt"
)

// Violation rule names, reported in errors, logs, and metrics.
const (
	RuleNullByte           = "null_byte"
	RulePathTooLong        = "path_too_long"
	RuleSuspiciousPattern  = "suspicious_pattern"
	RuleResolveFailed      = "resolve_failed"
	RuleOutsideRoots       = "outside_allowed_roots"
	RuleSymlinkEscape      = "symlink_escape"
	RuleSystemDirectory    = "system_directory"
	RuleDangerousExtension = "dangerous_extension"
	RuleHiddenEntry        = "hidden_entry"
	RuleSymlinkDenied      = "symlink_denied"
)

// Violation is a failed path validation. It is always a hard deny: callers
// must not retry and must not fall back to weaker checks.
type Violation struct {
	Rule   string
	Path   string
	Detail string
}

func (v *Violation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("security violation (%s): %s", v.Rule, v.Path)
	}
	return fmt.Sprintf("security violation (%s): %s: %s", v.Rule, v.Path, v.Detail)
}

// IsViolation reports whether err is (or wraps) a security violation.
func IsViolation(err error) bool {
	_, ok := AsViolation(err)
	return ok
}

// AsViolation unwraps err to a *Violation if possible.
func AsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

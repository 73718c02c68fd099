package scan

import (
	"errors"
	"fmt"
)

// ValidationError marks caller-correctable input problems: malformed
// options, a nonexistent root, a root that is not a directory. It is always
// surfaced before any filesystem traversal begins.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Msg
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// EnumerationError is a failure to list one subtree. The subtree is skipped
// and recorded; the scan keeps going.
type EnumerationError struct {
	Path string
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate %s: %v", e.Path, e.Err)
}

func (e *EnumerationError) Unwrap() error {
	return e.Err
}

// ExtractionError is a per-file metadata extraction failure. The file is
// marked failed and the scan keeps going.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

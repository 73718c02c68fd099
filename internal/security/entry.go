package security

import "time"

// Entry is a validated filesystem entry combined with its access verdict.
// Entries are immutable once built and are never persisted by this layer.
type Entry struct {
	Path         string      `json:"path"`
	IsDirectory  bool        `json:"is_directory"`
	Size         int64       `json:"size"`
	AccessLevel  AccessLevel `json:"access_level"`
	Permissions  string      `json:"permissions"`
	LastModified time.Time   `json:"last_modified"`
	IsSymlink    bool        `json:"is_symlink"`
	// Error holds the denial reason for NoAccess entries. It stays empty
	// when the entry was merely filtered (extension not in the allow-list),
	// which keeps real denials distinguishable in audit output.
	Error string `json:"error,omitempty"`
}

// Readable reports whether the entry grants at least metadata access.
func (e Entry) Readable() bool {
	return e.AccessLevel != AccessNone
}

package storage

import (
	"path"
	"strings"
	"time"
)

// DefaultDateFormat lays objects out as year/month/day directories.
const DefaultDateFormat = "2006/01/02"

// Layout decides where content lands inside a backend. The zero value is
// not useful; start from DefaultLayout.
type Layout struct {
	OrganizeByDate        bool
	UseContentHash        bool
	PreserveOriginalNames bool
	DateFormat            string
}

// DefaultLayout organizes by capture date with hash filenames, which makes
// the path itself deduplicating.
func DefaultLayout() Layout {
	return Layout{
		OrganizeByDate: true,
		UseContentHash: true,
		DateFormat:     DefaultDateFormat,
	}
}

// PathFor builds the storage key for a file. takenAt orders the object into
// the date hierarchy; the zero time means "now".
func (l Layout) PathFor(filename, fileHash string, takenAt time.Time) string {
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}
	ext := strings.ToLower(path.Ext(filename))

	if !l.OrganizeByDate {
		if l.UseContentHash {
			return fileHash + ext
		}
		return filename
	}

	format := l.DateFormat
	if format == "" {
		format = DefaultDateFormat
	}
	dateDir := takenAt.Format(format)

	var name string
	switch {
	case l.UseContentHash:
		name = fileHash + ext
	case l.PreserveOriginalNames:
		stem := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
		name = stem + takenAt.Format("_150405") + ext
	default:
		name = takenAt.Format("20060102_150405") + ext
	}

	return path.Join(dateDir, name)
}

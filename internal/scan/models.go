// Package scan implements the directory-scanning engine: traversal
// strategies, progress tracking, session registry, and the control surface
// exposed to callers.
package scan

import (
	"fmt"
	"time"

	"github.com/Jdombrowski/photools/internal/security"
)

// Strategy selects how much work a scan performs per file.
type Strategy string

const (
	// StrategyFastMetadataOnly records stat-level facts only. No file
	// content is read.
	StrategyFastMetadataOnly Strategy = "fast_metadata_only"
	// StrategyFullMetadata additionally runs the metadata extractor on
	// every accepted file.
	StrategyFullMetadata Strategy = "full_metadata"
	// StrategyIncremental is accepted for compatibility and currently falls
	// back to StrategyFullMetadata.
	StrategyIncremental Strategy = "incremental"
)

// ParseStrategy maps user-facing names onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "fast", "fast_metadata_only":
		return StrategyFastMetadataOnly, nil
	case "full", "full_metadata":
		return StrategyFullMetadata, nil
	case "incremental":
		return StrategyIncremental, nil
	default:
		return "", &ValidationError{Msg: fmt.Sprintf("unknown scan strategy %q", s)}
	}
}

// idPrefix returns the scan-id prefix for the strategy.
func (s Strategy) idPrefix() string {
	if s == StrategyFastMetadataOnly {
		return "fast"
	}
	return "full"
}

// Status is the lifecycle state of a scan session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends a scan.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Metadata is the open-ended per-file payload produced by an extractor.
type Metadata map[string]interface{}

// Options configures a single scan.
type Options struct {
	Strategy        Strategy `json:"strategy"`
	Recursive       bool     `json:"recursive"`
	MaxFiles        int      `json:"max_files,omitempty"` // 0 means unlimited
	MaxDepth        int      `json:"max_depth,omitempty"` // 0 means the policy default
	BatchSize       int      `json:"batch_size"`
	IncludeMetadata bool     `json:"include_metadata"`
	SkipDuplicates  bool     `json:"skip_duplicates"`
}

// DefaultOptions returns the standard options: fast strategy, recursive,
// batches of 50, metadata included.
func DefaultOptions() Options {
	return Options{
		Strategy:        StrategyFastMetadataOnly,
		Recursive:       true,
		BatchSize:       50,
		IncludeMetadata: true,
	}
}

// withDefaults fills zero values that have non-zero defaults.
func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyFastMetadataOnly
	}
	if o.BatchSize == 0 {
		o.BatchSize = 50
	}
	return o
}

// Validate rejects malformed options before any I/O happens.
func (o Options) Validate() error {
	switch o.Strategy {
	case StrategyFastMetadataOnly, StrategyFullMetadata, StrategyIncremental:
	default:
		return &ValidationError{Msg: fmt.Sprintf("unknown scan strategy %q", o.Strategy)}
	}
	if o.BatchSize <= 0 {
		return &ValidationError{Msg: fmt.Sprintf("batch_size must be positive, got %d", o.BatchSize)}
	}
	if o.MaxFiles < 0 {
		return &ValidationError{Msg: fmt.Sprintf("max_files must not be negative, got %d", o.MaxFiles)}
	}
	if o.MaxDepth < 0 {
		return &ValidationError{Msg: fmt.Sprintf("max_depth must not be negative, got %d", o.MaxDepth)}
	}
	return nil
}

// Progress is the live state of one scan. It is mutated only by the scan's
// own goroutine; everyone else receives snapshot copies from the registry.
type Progress struct {
	ScanID          string    `json:"scan_id"`
	Directory       string    `json:"directory"`
	Strategy        Strategy  `json:"strategy"`
	Status          Status    `json:"status"`
	TotalFiles      int       `json:"total_files"`
	ProcessedFiles  int       `json:"processed_files"`
	SuccessfulFiles int       `json:"successful_files"`
	FailedFiles     int       `json:"failed_files"`
	CurrentFile     string    `json:"current_file,omitempty"`
	StartTime       time.Time `json:"start_time"`
	Errors          []string  `json:"errors,omitempty"`
}

// ProgressPercent is processed over total, 0 when nothing was found.
func (p Progress) ProgressPercent() float64 {
	if p.TotalFiles == 0 {
		return 0
	}
	return float64(p.ProcessedFiles) / float64(p.TotalFiles) * 100
}

// IsComplete reports whether every discovered file has been processed.
func (p Progress) IsComplete() bool {
	return p.ProcessedFiles >= p.TotalFiles
}

// FileRecord is one scanned file in a terminal result.
type FileRecord struct {
	Path         string               `json:"path"`
	Size         int64                `json:"size"`
	LastModified time.Time            `json:"last_modified"`
	AccessLevel  security.AccessLevel `json:"access_level"`
	IsSymlink    bool                 `json:"is_symlink,omitempty"`
	Metadata     Metadata             `json:"metadata,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Result is the immutable terminal snapshot of a scan.
type Result struct {
	Directory       string       `json:"directory"`
	ScanID          string       `json:"scan_id"`
	Status          Status       `json:"status"`
	Strategy        Strategy     `json:"strategy"`
	TotalFiles      int          `json:"total_files"`
	ProcessedFiles  int          `json:"processed_files"`
	SuccessfulFiles int          `json:"successful_files"`
	FailedFiles     int          `json:"failed_files"`
	Files           []FileRecord `json:"files"`
	Errors          []string     `json:"errors,omitempty"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         time.Time    `json:"end_time"`
}

// Duration is the wall-clock time the scan took.
func (r *Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// SuccessRate is successful over processed as a percentage, 0 when nothing
// was processed.
func (r *Result) SuccessRate() float64 {
	if r.ProcessedFiles == 0 {
		return 0
	}
	return float64(r.SuccessfulFiles) / float64(r.ProcessedFiles) * 100
}

// Estimate is a cheap pre-scan summary used to size up a directory.
type Estimate struct {
	Directory         string        `json:"directory"`
	Recursive         bool          `json:"recursive"`
	FileCount         int           `json:"file_count"`
	TotalSize         int64         `json:"total_size"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

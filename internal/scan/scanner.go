package scan

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/security"
)

// estimateSecondsPerFile is the rough processing cost used by Estimate.
const estimateSecondsPerFile = 0.5

// MetadataExtractor produces per-file metadata during full scans. Extraction
// failures are per-file and never abort a scan.
type MetadataExtractor interface {
	Extract(ctx context.Context, path string) (Metadata, error)
}

// ProgressFunc observes progress snapshots. It is called synchronously after
// each processed file, in enumeration order, at most once per file.
type ProgressFunc func(Progress)

// Scanner walks allow-listed directory trees under a strategy, producing
// bounded, cancellable, progress-reporting results. It is also the control
// surface for session lookup and cancellation.
type Scanner struct {
	guard      *security.Guard
	classifier *security.Classifier
	registry   *Registry
	extractor  MetadataExtractor
	observer   ProgressFunc
	onComplete func(*Result)
}

// NewScanner wires the scanner. The extractor may be nil when full-metadata
// scans are never requested; the observer may be nil.
func NewScanner(classifier *security.Classifier, registry *Registry, extractor MetadataExtractor, observer ProgressFunc) *Scanner {
	return &Scanner{
		guard:      classifier.Guard(),
		classifier: classifier,
		registry:   registry,
		extractor:  extractor,
		observer:   observer,
	}
}

// Registry returns the scanner's session registry.
func (s *Scanner) Registry() *Registry {
	return s.registry
}

// OnComplete registers fn to receive every terminal scan result, including
// results of scans launched with Start. It runs synchronously on the
// scanning goroutine after the session is deregistered. Set it once, before
// any scan begins.
func (s *Scanner) OnComplete(fn func(*Result)) {
	s.onComplete = fn
}

// Scan walks directory under the given options and returns the terminal
// result. Option and root validation problems return a *ValidationError; a
// root that fails path validation returns the *security.Violation alongside
// a Failed result. Cancellation is not an error: the result simply carries
// StatusCancelled with whatever was processed.
func (s *Scanner) Scan(ctx context.Context, directory string, opts Options) (*Result, error) {
	opts, err := s.normalize(directory, opts)
	if err != nil {
		return nil, err
	}

	root, err := s.guard.Validate(directory)
	if err != nil {
		// Fatal: the scan never starts enumerating.
		now := time.Now().UTC()
		res := &Result{
			Directory: directory,
			ScanID:    s.registry.newID(opts.Strategy),
			Status:    StatusFailed,
			Strategy:  opts.Strategy,
			Errors:    []string{err.Error()},
			StartTime: now,
			EndTime:   now,
		}
		return res, err
	}

	sess := s.registry.start(ctx, directory, opts.Strategy)
	return s.run(sess, directory, root, opts), nil
}

// Start begins a scan in the background and returns its id immediately.
// Validation and the root check happen synchronously, so a rejected request
// never produces a session. Lookup and cancellation go through Progress and
// Cancel; the terminal result is delivered to the OnComplete hook.
func (s *Scanner) Start(ctx context.Context, directory string, opts Options) (string, error) {
	opts, err := s.normalize(directory, opts)
	if err != nil {
		return "", err
	}

	root, err := s.guard.Validate(directory)
	if err != nil {
		return "", err
	}

	sess := s.registry.start(ctx, directory, opts.Strategy)
	go s.run(sess, directory, root, opts)
	return sess.id, nil
}

// normalize applies option defaults and rejects requests that could never
// scan: bad options, a missing or non-directory root, or a full-metadata
// request without an extractor.
func (s *Scanner) normalize(directory string, opts Options) (Options, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return opts, err
	}

	info, err := os.Stat(directory)
	if err != nil {
		return opts, &ValidationError{Msg: fmt.Sprintf("scan root %s: %v", directory, err)}
	}
	if !info.IsDir() {
		return opts, &ValidationError{Msg: fmt.Sprintf("scan root %s is not a directory", directory)}
	}

	if opts.Strategy == StrategyIncremental {
		logging.Warn("incremental scan not available, falling back to full metadata",
			zap.String("directory", directory))
		opts.Strategy = StrategyFullMetadata
	}
	if opts.Strategy == StrategyFullMetadata && s.extractor == nil {
		return opts, &ValidationError{Msg: "full_metadata strategy requires a metadata extractor"}
	}
	return opts, nil
}

// run executes a registered session to its terminal result. It is the sole
// writer of session progress.
func (s *Scanner) run(sess *session, directory, root string, opts Options) *Result {
	maxDepth := s.guard.Policy().MaxDepth
	if opts.MaxDepth > 0 && opts.MaxDepth < maxDepth {
		maxDepth = opts.MaxDepth
	}
	if !opts.Recursive {
		maxDepth = 0
	}

	metrics.RecordScanStarted(string(opts.Strategy))
	logging.Info("scan started",
		zap.String("scan_id", sess.id),
		zap.String("directory", root),
		zap.String("strategy", string(opts.Strategy)),
		zap.Bool("recursive", opts.Recursive),
		zap.Int("max_depth", maxDepth))

	w := &walker{
		guard:      s.guard,
		classifier: s.classifier,
		policy:     s.guard.Policy(),
		cancelled:  sess.isCancelled,
		onError: func(e *EnumerationError) {
			sess.update(func(p *Progress) { p.Errors = append(p.Errors, e.Error()) })
		},
	}

	var candidates []security.Entry
	status := StatusCompleted
	if err := w.walk(root, 0, maxDepth, &candidates); err != nil {
		// The root itself could not be listed: unrecoverable.
		enumErr := &EnumerationError{Path: root, Err: err}
		sess.update(func(p *Progress) { p.Errors = append(p.Errors, enumErr.Error()) })
		status = StatusFailed
		candidates = nil
	}
	if sess.isCancelled() {
		status = StatusCancelled
		candidates = nil
	}

	if opts.MaxFiles > 0 && len(candidates) > opts.MaxFiles {
		candidates = candidates[:opts.MaxFiles]
	}
	sess.update(func(p *Progress) { p.TotalFiles = len(candidates) })

	files := make([]FileRecord, 0, len(candidates))
	for _, entry := range candidates {
		if sess.isCancelled() {
			status = StatusCancelled
			break
		}

		sess.update(func(p *Progress) { p.CurrentFile = entry.Path })

		record := FileRecord{
			Path:         entry.Path,
			Size:         entry.Size,
			LastModified: entry.LastModified,
			AccessLevel:  entry.AccessLevel,
			IsSymlink:    entry.IsSymlink,
		}

		ok := true
		if opts.Strategy == StrategyFullMetadata && entry.AccessLevel == security.AccessReadOnly {
			md, err := s.extractor.Extract(sess.ctx, entry.Path)
			if err != nil {
				ok = false
				record.Error = (&ExtractionError{Path: entry.Path, Err: err}).Error()
			} else if opts.IncludeMetadata {
				record.Metadata = md
			}
		}

		files = append(files, record)
		sess.update(func(p *Progress) {
			p.ProcessedFiles++
			if ok {
				p.SuccessfulFiles++
			} else {
				p.FailedFiles++
				p.Errors = append(p.Errors, record.Error)
			}
		})

		snap := sess.snapshot()
		s.notify(snap)
		if opts.BatchSize > 0 && snap.ProcessedFiles%opts.BatchSize == 0 {
			logging.Debug("scan progress",
				zap.String("scan_id", sess.id),
				zap.Int("processed", snap.ProcessedFiles),
				zap.Int("total", snap.TotalFiles))
		}
	}

	endTime := time.Now().UTC()
	snap := sess.snapshot()
	result := &Result{
		Directory:       directory,
		ScanID:          sess.id,
		Status:          status,
		Strategy:        opts.Strategy,
		TotalFiles:      snap.TotalFiles,
		ProcessedFiles:  snap.ProcessedFiles,
		SuccessfulFiles: snap.SuccessfulFiles,
		FailedFiles:     snap.FailedFiles,
		Files:           files,
		Errors:          snap.Errors,
		StartTime:       snap.StartTime,
		EndTime:         endTime,
	}

	s.registry.remove(sess.id)
	metrics.RecordScanCompleted(string(opts.Strategy), string(status), result.Duration())
	metrics.RecordFilesScanned(snap.ProcessedFiles)
	logging.Info("scan finished",
		zap.String("scan_id", sess.id),
		zap.String("status", string(status)),
		zap.Int("total", result.TotalFiles),
		zap.Int("processed", result.ProcessedFiles),
		zap.Int("failed", result.FailedFiles),
		zap.Duration("duration", result.Duration()))

	s.complete(result)
	return result
}

// Estimate sizes up a directory without processing anything: accepted file
// count, byte total, and a rough duration at half a second per file.
func (s *Scanner) Estimate(ctx context.Context, directory string, recursive bool) (*Estimate, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("estimate root %s: %v", directory, err)}
	}
	if !info.IsDir() {
		return nil, &ValidationError{Msg: fmt.Sprintf("estimate root %s is not a directory", directory)}
	}

	root, err := s.guard.Validate(directory)
	if err != nil {
		return nil, err
	}

	maxDepth := 0
	if recursive {
		maxDepth = s.guard.Policy().MaxDepth
	}

	w := &walker{
		guard:      s.guard,
		classifier: s.classifier,
		policy:     s.guard.Policy(),
		cancelled:  func() bool { return ctx.Err() != nil },
		onError:    func(*EnumerationError) {},
	}

	var entries []security.Entry
	if err := w.walk(root, 0, maxDepth, &entries); err != nil {
		return nil, &EnumerationError{Path: root, Err: err}
	}

	var totalSize int64
	for _, e := range entries {
		totalSize += e.Size
	}

	return &Estimate{
		Directory:         directory,
		Recursive:         recursive,
		FileCount:         len(entries),
		TotalSize:         totalSize,
		EstimatedDuration: time.Duration(float64(len(entries)) * estimateSecondsPerFile * float64(time.Second)),
	}, nil
}

// List enumerates a directory's visible contents with their access verdicts.
// Unlike Scan it keeps subdirectories and denied files in the output, so
// callers can see what the sandbox excludes and why. maxDepth caps recursion
// below the policy limit; zero means the policy limit applies as is.
func (s *Scanner) List(ctx context.Context, directory string, recursive bool, maxDepth int) ([]security.Entry, error) {
	info, err := os.Stat(directory)
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("list root %s: %v", directory, err)}
	}
	if !info.IsDir() {
		return nil, &ValidationError{Msg: fmt.Sprintf("list root %s is not a directory", directory)}
	}

	root, err := s.guard.Validate(directory)
	if err != nil {
		return nil, err
	}

	depth := 0
	if recursive {
		depth = s.guard.Policy().MaxDepth
		if maxDepth > 0 && maxDepth < depth {
			depth = maxDepth
		}
	}

	w := &walker{
		guard:      s.guard,
		classifier: s.classifier,
		policy:     s.guard.Policy(),
		cancelled:  func() bool { return ctx.Err() != nil },
		onError:    func(*EnumerationError) {},
	}

	var entries []security.Entry
	if err := w.list(root, 0, depth, &entries); err != nil {
		return nil, &EnumerationError{Path: root, Err: err}
	}
	return entries, nil
}

// Progress returns a live snapshot for an active scan id.
func (s *Scanner) Progress(id string) (Progress, bool) {
	return s.registry.Progress(id)
}

// Cancel requests cancellation of an active scan.
func (s *Scanner) Cancel(id string) bool {
	ok := s.registry.Cancel(id)
	if ok {
		logging.Info("scan cancellation requested", zap.String("scan_id", id))
	}
	return ok
}

// ListActive returns the ids of in-flight scans.
func (s *Scanner) ListActive() []string {
	return s.registry.ListActive()
}

func (s *Scanner) notify(p Progress) {
	if s.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("progress observer panicked", zap.Any("panic", r))
		}
	}()
	s.observer(p)
}

func (s *Scanner) complete(res *Result) {
	if s.onComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("completion hook panicked", zap.Any("panic", r))
		}
	}()
	s.onComplete(res)
}

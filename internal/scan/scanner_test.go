package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Jdombrowski/photools/internal/security"
)

type fakeExtractor struct {
	calls  []string
	failOn string
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (Metadata, error) {
	f.calls = append(f.calls, path)
	if f.failOn != "" && strings.HasSuffix(path, f.failOn) {
		return nil, errors.New("corrupt header")
	}
	return Metadata{"width": 640, "height": 480}, nil
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// buildTree lays out the fixture used by most scan tests:
//
//	alpha.jpg, beta.png            accepted, top level
//	notes.txt                      extension not allowed
//	.hidden.jpg, .cache/omega.jpg  hidden, skipped by policy
//	nested/gamma.jpg               accepted, depth 1
//	nested/deep/delta.jpg          accepted, depth 2
func buildTree(t *testing.T) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("resolve temp dir: %v", err)
	}
	writeFile(t, filepath.Join(root, "alpha.jpg"), 100)
	writeFile(t, filepath.Join(root, "beta.png"), 50)
	writeFile(t, filepath.Join(root, "notes.txt"), 10)
	writeFile(t, filepath.Join(root, ".hidden.jpg"), 10)
	writeFile(t, filepath.Join(root, "nested", "gamma.jpg"), 70)
	writeFile(t, filepath.Join(root, "nested", "deep", "delta.jpg"), 30)
	writeFile(t, filepath.Join(root, ".cache", "omega.jpg"), 10)
	return root
}

func newTestScanner(t *testing.T, root string, policy security.Policy, ex MetadataExtractor, obs ProgressFunc) *Scanner {
	t.Helper()
	guard, err := security.NewGuard([]string{root}, policy)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return NewScanner(security.NewClassifier(guard), NewRegistry(), ex, obs)
}

func recordPaths(files []FileRecord) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}

func TestScanFastMetadataWalksTree(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", res.Status, StatusCompleted)
	}
	want := []string{
		filepath.Join(root, "alpha.jpg"),
		filepath.Join(root, "beta.png"),
		filepath.Join(root, "nested", "deep", "delta.jpg"),
		filepath.Join(root, "nested", "gamma.jpg"),
	}
	if got := recordPaths(res.Files); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
	if res.TotalFiles != 4 || res.ProcessedFiles != 4 || res.SuccessfulFiles != 4 || res.FailedFiles != 0 {
		t.Errorf("counts = %d/%d/%d/%d, want 4/4/4/0",
			res.TotalFiles, res.ProcessedFiles, res.SuccessfulFiles, res.FailedFiles)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
	if res.Files[0].Size != 100 {
		t.Errorf("alpha size = %d, want 100", res.Files[0].Size)
	}
	if res.Files[0].AccessLevel != security.AccessReadOnly {
		t.Errorf("alpha access = %s, want %s", res.Files[0].AccessLevel, security.AccessReadOnly)
	}
	if res.Files[0].Metadata != nil {
		t.Error("fast scan should not attach extracted metadata")
	}
	if !strings.HasPrefix(res.ScanID, "fast_scan_") {
		t.Errorf("scan id = %q, want fast_scan_ prefix", res.ScanID)
	}
	if res.EndTime.Before(res.StartTime) {
		t.Errorf("end %v before start %v", res.EndTime, res.StartTime)
	}
}

func TestScanDeterministicOrder(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	first, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !reflect.DeepEqual(recordPaths(first.Files), recordPaths(second.Files)) {
		t.Errorf("scan order differs:\n%v\n%v", recordPaths(first.Files), recordPaths(second.Files))
	}
}

func TestScanNonRecursive(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	opts := DefaultOptions()
	opts.Recursive = false
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{
		filepath.Join(root, "alpha.jpg"),
		filepath.Join(root, "beta.png"),
	}
	if got := recordPaths(res.Files); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
}

func TestScanMaxDepthLimitsDescent(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	opts := DefaultOptions()
	opts.MaxDepth = 1
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	want := []string{
		filepath.Join(root, "alpha.jpg"),
		filepath.Join(root, "beta.png"),
		filepath.Join(root, "nested", "gamma.jpg"),
	}
	if got := recordPaths(res.Files); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
}

func TestScanMaxFilesTruncates(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	opts := DefaultOptions()
	opts.MaxFiles = 2
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", res.Status, StatusCompleted)
	}
	want := []string{
		filepath.Join(root, "alpha.jpg"),
		filepath.Join(root, "beta.png"),
	}
	if got := recordPaths(res.Files); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
	if res.TotalFiles != 2 || res.ProcessedFiles != 2 {
		t.Errorf("counts = %d/%d, want 2/2", res.TotalFiles, res.ProcessedFiles)
	}
}

func TestScanSymlinksSkippedByDefault(t *testing.T) {
	root := buildTree(t)
	if err := os.Symlink(filepath.Join(root, "alpha.jpg"), filepath.Join(root, "mirror.jpg")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, p := range recordPaths(res.Files) {
		if strings.HasSuffix(p, "mirror.jpg") {
			t.Errorf("symlink %s should have been skipped", p)
		}
	}
	if res.TotalFiles != 4 {
		t.Errorf("total = %d, want 4", res.TotalFiles)
	}
}

func TestScanSymlinkedSubtreeOutsideRootsExcluded(t *testing.T) {
	root := buildTree(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "evil.jpg"), 10)
	if err := os.Symlink(outside, filepath.Join(root, "portal")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "evil.jpg"), filepath.Join(root, "alias.jpg")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	policy := security.DefaultPolicy()
	policy.FollowSymlinks = true
	sc := newTestScanner(t, root, policy, nil, nil)

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", res.Status, StatusCompleted)
	}
	for _, p := range recordPaths(res.Files) {
		if strings.Contains(p, "evil") || strings.Contains(p, "portal") || strings.Contains(p, "alias") {
			t.Errorf("file outside allowed directories leaked into results: %s", p)
		}
	}
	if len(res.Errors) != 0 {
		t.Errorf("excluded subtrees should not produce errors, got %v", res.Errors)
	}
}

func TestScanFullMetadataExtracts(t *testing.T) {
	root := buildTree(t)
	ex := &fakeExtractor{}
	sc := newTestScanner(t, root, security.DefaultPolicy(), ex, nil)

	opts := DefaultOptions()
	opts.Strategy = StrategyFullMetadata
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Status != StatusCompleted || res.SuccessfulFiles != 4 {
		t.Fatalf("status = %s successful = %d, want completed/4", res.Status, res.SuccessfulFiles)
	}
	if !reflect.DeepEqual(ex.calls, recordPaths(res.Files)) {
		t.Errorf("extractor calls %v do not match result order %v", ex.calls, recordPaths(res.Files))
	}
	for _, f := range res.Files {
		if f.Metadata == nil {
			t.Errorf("%s: expected metadata", f.Path)
		}
	}
	if !strings.HasPrefix(res.ScanID, "full_scan_") {
		t.Errorf("scan id = %q, want full_scan_ prefix", res.ScanID)
	}
}

func TestScanFullMetadataWithoutPayload(t *testing.T) {
	root := buildTree(t)
	ex := &fakeExtractor{}
	sc := newTestScanner(t, root, security.DefaultPolicy(), ex, nil)

	opts := DefaultOptions()
	opts.Strategy = StrategyFullMetadata
	opts.IncludeMetadata = false
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(ex.calls) != 4 {
		t.Errorf("extractor calls = %d, want 4", len(ex.calls))
	}
	for _, f := range res.Files {
		if f.Metadata != nil {
			t.Errorf("%s: metadata attached despite include_metadata=false", f.Path)
		}
	}
}

func TestScanFullMetadataPartialFailure(t *testing.T) {
	root := buildTree(t)
	ex := &fakeExtractor{failOn: "delta.jpg"}
	sc := newTestScanner(t, root, security.DefaultPolicy(), ex, nil)

	opts := DefaultOptions()
	opts.Strategy = StrategyFullMetadata
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", res.Status, StatusCompleted)
	}
	if res.SuccessfulFiles != 3 || res.FailedFiles != 1 {
		t.Errorf("successful/failed = %d/%d, want 3/1", res.SuccessfulFiles, res.FailedFiles)
	}
	if got := res.SuccessRate(); got != 75 {
		t.Errorf("success rate = %v, want 75", got)
	}
	var failed *FileRecord
	for i := range res.Files {
		if strings.HasSuffix(res.Files[i].Path, "delta.jpg") {
			failed = &res.Files[i]
		}
	}
	if failed == nil {
		t.Fatal("delta.jpg missing from results")
	}
	if !strings.Contains(failed.Error, "corrupt header") {
		t.Errorf("failed record error = %q, want extraction cause", failed.Error)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "delta.jpg") {
		t.Errorf("scan errors = %v, want one entry for delta.jpg", res.Errors)
	}
}

func TestScanFullMetadataRequiresExtractor(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	opts := DefaultOptions()
	opts.Strategy = StrategyFullMetadata
	_, err := sc.Scan(context.Background(), root, opts)
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanIncrementalFallsBackToFull(t *testing.T) {
	root := buildTree(t)
	ex := &fakeExtractor{}
	sc := newTestScanner(t, root, security.DefaultPolicy(), ex, nil)

	opts := DefaultOptions()
	opts.Strategy = StrategyIncremental
	res, err := sc.Scan(context.Background(), root, opts)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Strategy != StrategyFullMetadata {
		t.Errorf("strategy = %s, want fallback to %s", res.Strategy, StrategyFullMetadata)
	}
	if len(ex.calls) != 4 {
		t.Errorf("extractor calls = %d, want 4", len(ex.calls))
	}
}

func TestScanRejectsMissingRoot(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	res, err := sc.Scan(context.Background(), filepath.Join(root, "absent"), DefaultOptions())
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res != nil {
		t.Errorf("expected nil result, got %+v", res)
	}
}

func TestScanRejectsFileRoot(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	_, err := sc.Scan(context.Background(), filepath.Join(root, "alpha.jpg"), DefaultOptions())
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanRejectsInvalidOptions(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	opts := DefaultOptions()
	opts.MaxFiles = -1
	_, err := sc.Scan(context.Background(), root, opts)
	if !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanRootOutsideAllowedDirsFails(t *testing.T) {
	root := buildTree(t)
	outside := t.TempDir()
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	res, err := sc.Scan(context.Background(), outside, DefaultOptions())
	if err == nil {
		t.Fatal("expected error for root outside allowed directories")
	}
	if !security.IsViolation(err) {
		t.Errorf("expected security violation, got %v", err)
	}
	if res == nil {
		t.Fatal("expected a failed result alongside the error")
	}
	if res.Status != StatusFailed {
		t.Errorf("status = %s, want %s", res.Status, StatusFailed)
	}
	if len(res.Errors) == 0 {
		t.Error("expected the violation recorded in result errors")
	}
	if res.ScanID == "" {
		t.Error("expected a scan id on the failed result")
	}
}

func TestScanCancelMidway(t *testing.T) {
	root := buildTree(t)

	var sc *Scanner
	obs := func(p Progress) {
		if p.ProcessedFiles == 1 {
			if !sc.Cancel(p.ScanID) {
				t.Errorf("cancel of active scan %s failed", p.ScanID)
			}
		}
	}
	sc = newTestScanner(t, root, security.DefaultPolicy(), nil, obs)

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", res.Status, StatusCancelled)
	}
	if res.ProcessedFiles != 1 {
		t.Errorf("processed = %d, want 1", res.ProcessedFiles)
	}
	if len(res.Files) != 1 {
		t.Errorf("files = %d, want the one processed before cancellation", len(res.Files))
	}
	if res.TotalFiles != 4 {
		t.Errorf("total = %d, want 4", res.TotalFiles)
	}
	if sc.Registry().ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0 after terminal scan", sc.Registry().ActiveCount())
	}
}

func TestScanHonorsContextCancellation(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := sc.Scan(ctx, root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", res.Status, StatusCancelled)
	}
	if res.ProcessedFiles != 0 {
		t.Errorf("processed = %d, want 0", res.ProcessedFiles)
	}
}

func TestScanObserverReceivesOrderedProgress(t *testing.T) {
	root := buildTree(t)

	var snaps []Progress
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, func(p Progress) {
		snaps = append(snaps, p)
	})

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(snaps) != res.ProcessedFiles {
		t.Fatalf("observer called %d times, want once per file (%d)", len(snaps), res.ProcessedFiles)
	}
	for i, p := range snaps {
		if p.ProcessedFiles != i+1 {
			t.Errorf("snapshot %d: processed = %d, want %d", i, p.ProcessedFiles, i+1)
		}
		if p.TotalFiles != res.TotalFiles {
			t.Errorf("snapshot %d: total = %d, want %d", i, p.TotalFiles, res.TotalFiles)
		}
		if p.CurrentFile == "" {
			t.Errorf("snapshot %d: current file empty", i)
		}
		if p.ScanID != res.ScanID {
			t.Errorf("snapshot %d: scan id = %q, want %q", i, p.ScanID, res.ScanID)
		}
	}
	last := snaps[len(snaps)-1]
	if !last.IsComplete() {
		t.Error("final snapshot should be complete")
	}
	if last.ProgressPercent() != 100 {
		t.Errorf("final progress = %v, want 100", last.ProgressPercent())
	}
}

func TestScanObserverPanicDoesNotAbort(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, func(Progress) {
		panic("observer bug")
	})

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Status != StatusCompleted || res.ProcessedFiles != 4 {
		t.Errorf("status = %s processed = %d, want completed/4", res.Status, res.ProcessedFiles)
	}
}

func TestScanSubtreeEnumerationFailureIsPartial(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := buildTree(t)
	locked := filepath.Join(root, "nested")
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)
	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", res.Status, StatusCompleted)
	}
	want := []string{
		filepath.Join(root, "alpha.jpg"),
		filepath.Join(root, "beta.png"),
	}
	if got := recordPaths(res.Files); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "nested") {
		t.Errorf("errors = %v, want one enumeration failure for nested", res.Errors)
	}
}

func TestScanRemovesSessionWhenDone(t *testing.T) {
	root := buildTree(t)

	var id string
	var midScan bool
	var sc *Scanner
	sc = newTestScanner(t, root, security.DefaultPolicy(), nil, func(p Progress) {
		id = p.ScanID
		if _, ok := sc.Progress(p.ScanID); ok {
			midScan = true
		}
	})

	if _, err := sc.Scan(context.Background(), root, DefaultOptions()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if !midScan {
		t.Error("expected progress to be queryable while the scan runs")
	}
	if _, ok := sc.Progress(id); ok {
		t.Error("expected progress lookup to fail after the scan terminated")
	}
	if got := sc.ListActive(); len(got) != 0 {
		t.Errorf("active scans = %v, want none", got)
	}
}

func TestEstimateCountsAndSizes(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	est, err := sc.Estimate(context.Background(), root, true)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.FileCount != 4 {
		t.Errorf("file count = %d, want 4", est.FileCount)
	}
	if est.TotalSize != 250 {
		t.Errorf("total size = %d, want 250", est.TotalSize)
	}
	if est.EstimatedDuration != 2*time.Second {
		t.Errorf("estimated duration = %v, want 2s", est.EstimatedDuration)
	}

	flat, err := sc.Estimate(context.Background(), root, false)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if flat.FileCount != 2 || flat.TotalSize != 150 {
		t.Errorf("non-recursive = %d files/%d bytes, want 2/150", flat.FileCount, flat.TotalSize)
	}
}

func TestEstimateOutsideAllowedDirs(t *testing.T) {
	root := buildTree(t)
	outside := t.TempDir()
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	_, err := sc.Estimate(context.Background(), outside, true)
	if !security.IsViolation(err) {
		t.Fatalf("expected security violation, got %v", err)
	}
}

func TestStartRunsInBackground(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	done := make(chan *Result, 1)
	sc.OnComplete(func(r *Result) { done <- r })

	id, err := sc.Start(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(id, "fast_scan_") {
		t.Errorf("scan id = %s", id)
	}

	var res *Result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completion")
	}

	if res.ScanID != id {
		t.Errorf("result scan id = %s, want %s", res.ScanID, id)
	}
	if res.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", res.Status, StatusCompleted)
	}
	if res.ProcessedFiles != 4 {
		t.Errorf("processed = %d, want 4", res.ProcessedFiles)
	}
	if _, ok := sc.Progress(id); ok {
		t.Error("session still registered after completion")
	}
}

func TestStartRejectsOutsideRoots(t *testing.T) {
	root := buildTree(t)
	outside := t.TempDir()
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	id, err := sc.Start(context.Background(), outside, DefaultOptions())
	if !security.IsViolation(err) {
		t.Fatalf("expected security violation, got %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty", id)
	}
	if n := sc.Registry().ActiveCount(); n != 0 {
		t.Errorf("active sessions = %d, want 0", n)
	}
}

func TestStartRejectsInvalidOptions(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	opts := DefaultOptions()
	opts.BatchSize = -1
	if _, err := sc.Start(context.Background(), root, opts); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScanDeliversCompletionHook(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	var got *Result
	sc.OnComplete(func(r *Result) { got = r })

	res, err := sc.Scan(context.Background(), root, DefaultOptions())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got != res {
		t.Errorf("hook received a different result than Scan returned")
	}
}

func TestListKeepsDirectoriesAndFilteredFiles(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	entries, err := sc.List(context.Background(), root, true, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var got []string
	dirs, files := 0, 0
	for _, e := range entries {
		rel, _ := filepath.Rel(root, e.Path)
		got = append(got, rel)
		if e.IsDirectory {
			dirs++
		} else {
			files++
		}
	}
	want := []string{
		"alpha.jpg",
		"beta.png",
		"nested",
		filepath.Join("nested", "deep"),
		filepath.Join("nested", "deep", "delta.jpg"),
		filepath.Join("nested", "gamma.jpg"),
		"notes.txt",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("entries = %v, want %v", got, want)
	}
	if dirs != 2 || files != 5 {
		t.Errorf("dirs = %d files = %d, want 2 and 5", dirs, files)
	}

	for _, e := range entries {
		if filepath.Base(e.Path) != "notes.txt" {
			continue
		}
		if e.AccessLevel != security.AccessNone {
			t.Errorf("notes.txt access = %s, want %s", e.AccessLevel, security.AccessNone)
		}
		if e.Error != "" {
			t.Errorf("filtered file carries error %q", e.Error)
		}
	}
}

func TestListNonRecursive(t *testing.T) {
	root := buildTree(t)
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	entries, err := sc.List(context.Background(), root, false, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	for _, e := range entries {
		if filepath.Dir(e.Path) != root {
			t.Errorf("entry %s outside the top level", e.Path)
		}
	}
}

func TestListOutsideAllowedDirs(t *testing.T) {
	root := buildTree(t)
	outside := t.TempDir()
	sc := newTestScanner(t, root, security.DefaultPolicy(), nil, nil)

	if _, err := sc.List(context.Background(), outside, true, 0); !security.IsViolation(err) {
		t.Fatalf("expected security violation, got %v", err)
	}
}

// Package pipeline imports scanned photos into storage in the background.
// Workers pull file paths off a queue and run each through classification,
// metadata extraction, preview generation, and content-addressed storage.
// A failed file is logged and counted, never fatal to the pipeline.
package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/events"
	"github.com/Jdombrowski/photools/internal/extract"
	"github.com/Jdombrowski/photools/internal/history"
	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/preview"
	"github.com/Jdombrowski/photools/internal/scan"
	"github.com/Jdombrowski/photools/internal/security"
	"github.com/Jdombrowski/photools/internal/storage"
)

// Recorder persists import outcomes. *history.Store satisfies it; a nil
// Recorder disables catalog recording.
type Recorder interface {
	RecordPhoto(ctx context.Context, p *history.Photo) (bool, error)
}

// Importer moves photo files into a storage backend with a pool of workers.
type Importer struct {
	classifier  *security.Classifier
	backend     storage.Backend
	previews    *preview.Generator
	recorder    Recorder
	broadcaster *events.Broadcaster
	queue       chan string
	wg          sync.WaitGroup
	cancel      context.CancelFunc
	workers     int
}

// NewImporter creates an importer. recorder and broadcaster may be nil.
func NewImporter(classifier *security.Classifier, backend storage.Backend, previews *preview.Generator, recorder Recorder, broadcaster *events.Broadcaster, workers int) *Importer {
	if workers <= 0 {
		workers = 2
	}
	return &Importer{
		classifier:  classifier,
		backend:     backend,
		previews:    previews,
		recorder:    recorder,
		broadcaster: broadcaster,
		queue:       make(chan string, 1000),
		workers:     workers,
	}
}

// Start launches the worker goroutines.
func (im *Importer) Start(ctx context.Context) {
	ctx, im.cancel = context.WithCancel(ctx)
	for i := 0; i < im.workers; i++ {
		im.wg.Add(1)
		go im.worker(ctx)
	}
	logging.Info("import pipeline started", zap.Int("workers", im.workers))
}

// Stop signals workers to stop and waits for them to finish.
func (im *Importer) Stop() {
	if im.cancel != nil {
		im.cancel()
	}
	close(im.queue)
	im.wg.Wait()
	logging.Info("import pipeline stopped")
}

// Enqueue adds a file path to the import queue.
func (im *Importer) Enqueue(path string) {
	select {
	case im.queue <- path:
		metrics.SetImportQueueDepth(len(im.queue))
	default:
		logging.Warn("import queue full, dropping", zap.String("path", path))
	}
}

// EnqueueResult queues every readable file from a finished scan and returns
// the number queued. Files that recorded an error or were classified below
// full read access are skipped.
func (im *Importer) EnqueueResult(res *scan.Result) int {
	queued := 0
	for i := range res.Files {
		f := &res.Files[i]
		if f.Error != "" || f.AccessLevel != security.AccessReadOnly {
			continue
		}
		im.Enqueue(f.Path)
		queued++
	}
	if queued > 0 {
		logging.Info("queued scan results for import",
			zap.String("scan_id", res.ScanID),
			zap.Int("files", queued))
	}
	return queued
}

func (im *Importer) worker(ctx context.Context) {
	defer im.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-im.queue:
			if !ok {
				return
			}
			im.importFile(ctx, path)
			metrics.SetImportQueueDepth(len(im.queue))
		}
	}
}

func (im *Importer) importFile(ctx context.Context, path string) {
	entry := im.classifier.Classify(path)
	if entry.IsDirectory || entry.AccessLevel != security.AccessReadOnly {
		logging.Warn("import rejected",
			zap.String("path", path),
			zap.String("access", string(entry.AccessLevel)),
			zap.String("reason", entry.Error))
		metrics.RecordImport(false)
		return
	}

	content, err := os.ReadFile(entry.Path)
	if err != nil {
		logging.Warn("import read failed", zap.String("path", path), zap.Error(err))
		metrics.RecordImport(false)
		return
	}

	x := extract.ParseExif(bytes.NewReader(content))
	var takenAt time.Time
	if x.DateTaken != nil {
		takenAt = *x.DateTaken
	}

	result, err := im.backend.Store(ctx, content, filepath.Base(entry.Path), takenAt)
	if err != nil {
		logging.Warn("import store failed", zap.String("path", path), zap.Error(err))
		metrics.RecordImport(false)
		return
	}

	if result.Duplicate {
		metrics.RecordDuplicateDetected()
		metrics.RecordImport(true)
		logging.Debug("duplicate content, skipped",
			zap.String("path", path),
			zap.String("existing", result.StoragePath))
		im.publish(events.PhotoImported(path, "duplicate"))
		return
	}

	previewKey := im.storePreview(ctx, entry.Path, result.StoragePath, content, x.Orientation)

	width, height := x.Width, x.Height
	if width == 0 || height == 0 {
		if w, h, err := extract.Dimensions(bytes.NewReader(content)); err == nil {
			width, height = w, h
		}
	}

	if im.recorder != nil {
		photo := &history.Photo{
			SourcePath: entry.Path,
			StorageKey: result.StoragePath,
			PreviewKey: previewKey,
			Hash:       result.FileHash,
			Size:       result.Size,
			MimeType:   extract.MimeType(entry.Path),
			Width:      width,
			Height:     height,
			TakenAt:    x.DateTaken,
		}
		if _, err := im.recorder.RecordPhoto(ctx, photo); err != nil {
			logging.Warn("import record failed", zap.String("path", path), zap.Error(err))
		}
	}

	metrics.RecordImport(true)
	im.publish(events.PhotoImported(path, "stored"))
	logging.Debug("imported photo",
		zap.String("path", path),
		zap.String("key", result.StoragePath),
		zap.Bool("preview", previewKey != ""))
}

// storePreview renders and stores a preview next to the original, returning
// the preview key or empty string. Preview failures only cost the preview.
func (im *Importer) storePreview(ctx context.Context, path, storagePath string, content []byte, orientation int) string {
	if im.previews == nil || !preview.Supported(path) {
		return ""
	}

	data, _, _, err := im.previews.Render(bytes.NewReader(content), orientation)
	if err != nil {
		logging.Warn("preview generation failed", zap.String("path", path), zap.Error(err))
		return ""
	}

	key := preview.Key(storagePath)
	if err := im.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		logging.Warn("preview store failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return key
}

func (im *Importer) publish(e events.Event) {
	if im.broadcaster != nil {
		im.broadcaster.Publish(e)
	}
}

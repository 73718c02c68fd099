// Package local implements content storage on the local filesystem with a
// file-based duplicate index. It is the offline-first default backend.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/storage"
)

// Config holds local backend settings.
type Config struct {
	RootPath string
	Layout   storage.Layout
}

// Backend implements storage.Backend on a local directory tree.
type Backend struct {
	root   string
	index  string
	layout storage.Layout
}

// New creates the backend, its root, and the hash index directory.
func New(cfg Config) (*Backend, error) {
	if cfg.RootPath == "" {
		return nil, fmt.Errorf("local storage: root path is required")
	}
	if cfg.Layout == (storage.Layout{}) {
		cfg.Layout = storage.DefaultLayout()
	}

	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("local storage: resolve root %s: %w", cfg.RootPath, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: create root %s: %w", root, err)
	}

	index := filepath.Join(root, filepath.FromSlash(storage.HashIndexPrefix))
	if err := os.MkdirAll(index, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: create hash index: %w", err)
	}

	logging.Info("local storage backend ready", zap.String("root", root))
	return &Backend{root: root, index: index, layout: cfg.Layout}, nil
}

func (b *Backend) fullPath(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *Backend) indexFile(fileHash string) string {
	return filepath.Join(b.index, fileHash+".txt")
}

// Store implements storage.Backend.
func (b *Backend) Store(ctx context.Context, content []byte, filename string, takenAt time.Time) (*storage.StoreResult, error) {
	start := time.Now()
	fileHash := storage.HashContent(content)

	existing, found, err := b.CheckDuplicate(ctx, fileHash)
	if err != nil {
		// The index is advisory; a broken entry must not block imports.
		logging.Debug("duplicate check failed, storing anyway",
			zap.String("hash", fileHash), zap.Error(err))
	}
	if found {
		metrics.RecordDuplicateDetected()
		metrics.RecordStorageOperation("local", "store", time.Since(start), true)
		return &storage.StoreResult{
			StoragePath: existing,
			FileHash:    fileHash,
			Size:        int64(len(content)),
			Duplicate:   true,
		}, nil
	}

	key := b.layout.PathFor(filename, fileHash, takenAt)
	path := b.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		metrics.RecordStorageOperation("local", "store", time.Since(start), false)
		return nil, fmt.Errorf("create dirs for %s: %w", key, err)
	}
	if err := writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(content)
		return err
	}); err != nil {
		metrics.RecordStorageOperation("local", "store", time.Since(start), false)
		return nil, fmt.Errorf("write %s: %w", key, err)
	}

	if err := os.WriteFile(b.indexFile(fileHash), []byte(key), 0o644); err != nil {
		logging.Debug("hash index write failed", zap.String("hash", fileHash), zap.Error(err))
	}

	metrics.RecordStorageOperation("local", "store", time.Since(start), true)
	metrics.RecordStorageBytesWritten(int64(len(content)))
	return &storage.StoreResult{
		StoragePath: key,
		FileHash:    fileHash,
		Size:        int64(len(content)),
	}, nil
}

// Put implements storage.Backend.
func (b *Backend) Put(_ context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	path := b.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		metrics.RecordStorageOperation("local", "put", time.Since(start), false)
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}
	if err := writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, body)
		return err
	}); err != nil {
		metrics.RecordStorageOperation("local", "put", time.Since(start), false)
		return fmt.Errorf("write %s: %w", key, err)
	}
	metrics.RecordStorageOperation("local", "put", time.Since(start), true)
	metrics.RecordStorageBytesWritten(size)
	return nil
}

// Open implements storage.Backend.
func (b *Backend) Open(_ context.Context, storagePath string) (io.ReadCloser, int64, error) {
	start := time.Now()
	f, err := os.Open(b.fullPath(storagePath))
	if err != nil {
		metrics.RecordStorageOperation("local", "open", time.Since(start), false)
		return nil, 0, fmt.Errorf("open %s: %w", storagePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		metrics.RecordStorageOperation("local", "open", time.Since(start), false)
		return nil, 0, fmt.Errorf("stat %s: %w", storagePath, err)
	}
	metrics.RecordStorageOperation("local", "open", time.Since(start), true)
	return f, info.Size(), nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(_ context.Context, storagePath string) error {
	start := time.Now()
	err := os.Remove(b.fullPath(storagePath))
	if err != nil && !os.IsNotExist(err) {
		metrics.RecordStorageOperation("local", "delete", time.Since(start), false)
		return fmt.Errorf("delete %s: %w", storagePath, err)
	}
	b.dropIndexEntriesFor(storagePath)
	metrics.RecordStorageOperation("local", "delete", time.Since(start), true)
	return nil
}

// dropIndexEntriesFor removes index files pointing at a deleted object.
func (b *Backend) dropIndexEntriesFor(storagePath string) {
	entries, err := os.ReadDir(b.index)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		file := filepath.Join(b.index, e.Name())
		content, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(content)) == storagePath {
			_ = os.Remove(file)
			return
		}
	}
}

// Exists implements storage.Backend.
func (b *Backend) Exists(_ context.Context, storagePath string) (bool, error) {
	_, err := os.Stat(b.fullPath(storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", storagePath, err)
	}
	return true, nil
}

// List implements storage.Backend. Hidden entries, including the hash
// index, never appear in listings.
func (b *Backend) List(_ context.Context, prefix string, limit int) ([]storage.ObjectInfo, error) {
	base := b.root
	if prefix != "" {
		base = b.fullPath(prefix)
	}
	if _, err := os.Stat(base); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", prefix, err)
	}

	var out []storage.ObjectInfo
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != base {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		out = append(out, storage.ObjectInfo{
			StoragePath: filepath.ToSlash(rel),
			Name:        d.Name(),
			Size:        info.Size(),
			ModifiedAt:  info.ModTime(),
		})
		if limit > 0 && len(out) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return out, nil
}

// CheckDuplicate implements storage.Backend. Stale index entries whose
// object has disappeared are cleaned up on the way.
func (b *Backend) CheckDuplicate(ctx context.Context, fileHash string) (string, bool, error) {
	content, err := os.ReadFile(b.indexFile(fileHash))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read hash index %s: %w", fileHash, err)
	}

	storagePath := strings.TrimSpace(string(content))
	exists, err := b.Exists(ctx, storagePath)
	if err != nil {
		return "", false, err
	}
	if !exists {
		_ = os.Remove(b.indexFile(fileHash))
		return "", false, nil
	}
	return storagePath, true, nil
}

// Stats implements storage.Backend.
func (b *Backend) Stats(ctx context.Context) (*storage.Stats, error) {
	objects, err := b.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{BackendType: "local", TotalFiles: len(objects)}
	for _, o := range objects {
		stats.TotalSizeBytes += o.Size
	}

	var st unix.Statfs_t
	if err := unix.Statfs(b.root, &st); err == nil {
		stats.AvailableBytes = int64(st.Bavail) * int64(st.Bsize)
	}
	return stats, nil
}

// Type returns "local".
func (b *Backend) Type() string { return "local" }

// Close is a no-op for local backends.
func (b *Backend) Close() error { return nil }

// writeAtomic writes through a temp file in the target directory and
// renames into place.
func writeAtomic(path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".photools-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

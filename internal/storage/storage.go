// Package storage persists imported photo content. Backends handle raw
// object I/O and content-hash deduplication; catalog metadata lives in the
// history store.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"
)

// HashIndexPrefix is the key prefix backends use for the duplicate index.
// One small object per content hash, holding the storage path it maps to.
const HashIndexPrefix = ".photools/hash_index"

// StoreResult describes where a piece of content ended up. Duplicate means
// the content already existed and StoragePath points at the earlier copy;
// nothing was written.
type StoreResult struct {
	StoragePath string `json:"storage_path"`
	FileHash    string `json:"file_hash"`
	Size        int64  `json:"size"`
	Duplicate   bool   `json:"duplicate"`
}

// ObjectInfo is one stored object in a listing.
type ObjectInfo struct {
	StoragePath string    `json:"storage_path"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// Stats summarizes a backend. AvailableBytes is zero when the backend
// cannot report free space.
type Stats struct {
	BackendType    string `json:"backend_type"`
	TotalFiles     int    `json:"total_files"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	AvailableBytes int64  `json:"available_bytes,omitempty"`
}

// Backend is implemented by content stores (local filesystem, S3/MinIO).
// Storage paths are slash-separated keys relative to the backend root.
type Backend interface {
	// Store writes content under its content-addressed path. Duplicate
	// content is detected by hash and reported, not rewritten.
	Store(ctx context.Context, content []byte, filename string, takenAt time.Time) (*StoreResult, error)

	// Put writes content verbatim at the given key, for derived objects
	// such as previews that are not content-addressed.
	Put(ctx context.Context, key string, body io.Reader, size int64) error

	// Open returns the object's content and size.
	Open(ctx context.Context, storagePath string) (io.ReadCloser, int64, error)

	// Delete removes an object and its duplicate-index entry. Deleting a
	// missing object is not an error.
	Delete(ctx context.Context, storagePath string) error

	// Exists checks for an object at the given path.
	Exists(ctx context.Context, storagePath string) (bool, error)

	// List returns stored objects under a prefix, at most limit entries
	// when limit is positive. Index and hidden objects are excluded.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)

	// CheckDuplicate returns the storage path already holding this hash,
	// if any.
	CheckDuplicate(ctx context.Context, fileHash string) (string, bool, error)

	// Stats summarizes the backend contents.
	Stats(ctx context.Context) (*Stats, error)

	// Type returns the backend type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}

// HashContent returns the hex sha256 of content, the hash used for
// deduplication and content addressing.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

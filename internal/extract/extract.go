// Package extract pulls technical metadata out of photo files: content
// hashes, dimensions, MIME types, and EXIF fields. Absent EXIF is normal
// for many formats and is never reported as an error.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"mime"
	"os"
	"path/filepath"
	"time"

	// Register decoders for dimension probing.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/scan"
)

// Extractor reads a photo once and derives everything the catalog needs
// from the bytes. It is stateless and safe for concurrent use.
type Extractor struct{}

// New returns a ready Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract implements scan.MetadataExtractor.
func (e *Extractor) Extract(ctx context.Context, path string) (scan.Metadata, error) {
	start := time.Now()
	md, err := e.extract(ctx, path)
	metrics.RecordExtraction(time.Since(start), err == nil)
	return md, err
}

func (e *Extractor) extract(ctx context.Context, path string) (scan.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sum := sha256.Sum256(content)
	md := scan.Metadata{
		"file_name": filepath.Base(path),
		"file_size": int64(len(content)),
		"file_hash": hex.EncodeToString(sum[:]),
		"mime_type": MimeType(path),
	}

	if w, h, err := Dimensions(bytes.NewReader(content)); err == nil {
		md["width"] = w
		md["height"] = h
	}

	x := ParseExif(bytes.NewReader(content))
	x.fold(md)

	return md, nil
}

// MimeType guesses a content type from the file extension, falling back to
// application/octet-stream for the RAW formats the platform mime table does
// not know.
func MimeType(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return ct
}

// Dimensions decodes an image just enough to get its pixel size.
func Dimensions(r *bytes.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

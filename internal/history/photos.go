package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"time"

	"github.com/Jdombrowski/photools/internal/metrics"
)

// Photo is a persisted imported photo.
type Photo struct {
	ID         string     `json:"id"`
	SourcePath string     `json:"source_path"`
	StorageKey string     `json:"storage_key"`
	PreviewKey string     `json:"preview_key,omitempty"`
	Hash       string     `json:"hash"`
	Size       int64      `json:"size"`
	MimeType   string     `json:"mime_type"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`
	ImportedAt time.Time  `json:"imported_at"`
}

// RecordPhoto stores an imported photo. A photo with the same content hash
// already on record is left untouched and reported with inserted == false.
func (s *Store) RecordPhoto(ctx context.Context, p *Photo) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_photo", time.Since(start)) }()

	if p.ID == "" {
		p.ID = photoID(p.Hash)
	}
	taken := sql.NullTime{}
	if p.TakenAt != nil {
		taken = sql.NullTime{Time: *p.TakenAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (id, source_path, storage_key, preview_key, hash, size,
			mime_type, width, height, taken_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (hash) DO NOTHING`,
		p.ID, p.SourcePath, p.StorageKey, p.PreviewKey, p.Hash, p.Size,
		p.MimeType, p.Width, p.Height, taken)
	if err != nil {
		return false, fmt.Errorf("insert photo: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// GetPhoto returns a photo by id, or nil when none exists.
func (s *Store) GetPhoto(ctx context.Context, id string) (*Photo, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_photo", time.Since(start)) }()

	return s.queryPhoto(ctx, `WHERE id = $1`, id)
}

// GetPhotoByHash returns a photo by content hash, or nil when none exists.
func (s *Store) GetPhotoByHash(ctx context.Context, hash string) (*Photo, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_photo_by_hash", time.Since(start)) }()

	return s.queryPhoto(ctx, `WHERE hash = $1`, hash)
}

func (s *Store) queryPhoto(ctx context.Context, where string, arg interface{}) (*Photo, error) {
	p := &Photo{}
	var taken sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_path, storage_key, preview_key, hash, size,
			mime_type, width, height, taken_at, imported_at
		FROM photos `+where, arg,
	).Scan(&p.ID, &p.SourcePath, &p.StorageKey, &p.PreviewKey, &p.Hash, &p.Size,
		&p.MimeType, &p.Width, &p.Height, &taken, &p.ImportedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query photo: %w", err)
	}
	if taken.Valid {
		p.TakenAt = &taken.Time
	}
	return p, nil
}

// ListPhotos returns stored photos, most recently imported first.
func (s *Store) ListPhotos(ctx context.Context, limit, offset int) ([]Photo, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_photos", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, storage_key, preview_key, hash, size,
			mime_type, width, height, taken_at, imported_at
		FROM photos ORDER BY imported_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		var p Photo
		var taken sql.NullTime
		if err := rows.Scan(&p.ID, &p.SourcePath, &p.StorageKey, &p.PreviewKey, &p.Hash, &p.Size,
			&p.MimeType, &p.Width, &p.Height, &taken, &p.ImportedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if taken.Valid {
			p.TakenAt = &taken.Time
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// PhotoCount returns the number of stored photos.
func (s *Store) PhotoCount(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("photo_count", time.Since(start)) }()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&count)
	return count, err
}

// DeletePhoto removes a photo record by id.
func (s *Store) DeletePhoto(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_photo", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx, `DELETE FROM photos WHERE id = $1`, id)
	return err
}

// photoID derives a short stable id from a content hash.
func photoID(hash string) string {
	if len(hash) >= 16 {
		return hash[:16]
	}
	h := sha256.Sum256([]byte(hash))
	return fmt.Sprintf("%x", h[:8])
}

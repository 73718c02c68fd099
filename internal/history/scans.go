package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/scan"
)

// ScanRecord is a persisted row from the scans table.
type ScanRecord struct {
	ScanID          string     `json:"scan_id"`
	Directory       string     `json:"directory"`
	Strategy        string     `json:"strategy"`
	Status          string     `json:"status"`
	TotalFiles      int        `json:"total_files"`
	ProcessedFiles  int        `json:"processed_files"`
	SuccessfulFiles int        `json:"successful_files"`
	FailedFiles     int        `json:"failed_files"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	Errors          []string   `json:"errors,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ScanEntry is a single file recorded by a persisted scan.
type ScanEntry struct {
	ID          int64     `json:"id"`
	ScanID      string    `json:"scan_id"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	AccessLevel string    `json:"access_level"`
	IsSymlink   bool      `json:"is_symlink"`
	Error       string    `json:"error,omitempty"`
}

// RecordScan stores a finished scan result along with its per-file entries.
// Recording the same scan id again replaces the previous entries.
func (s *Store) RecordScan(ctx context.Context, res *scan.Result) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_scan", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	finished := sql.NullTime{Time: res.EndTime, Valid: !res.EndTime.IsZero()}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, directory, strategy, status, total_files, processed_files,
			successful_files, failed_files, started_at, finished_at, errors, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (id) DO UPDATE SET
			status=$4, total_files=$5, processed_files=$6, successful_files=$7,
			failed_files=$8, finished_at=$10, errors=$11, updated_at=NOW()`,
		res.ScanID, res.Directory, string(res.Strategy), string(res.Status),
		res.TotalFiles, res.ProcessedFiles, res.SuccessfulFiles, res.FailedFiles,
		res.StartTime, finished, pq.Array(res.Errors))
	if err != nil {
		return fmt.Errorf("upsert scan: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_entries WHERE scan_id = $1`, res.ScanID); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scan_entries (scan_id, path, size, mod_time, access_level, is_symlink, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`)
	if err != nil {
		return fmt.Errorf("prepare entries: %w", err)
	}
	defer stmt.Close()

	for i := range res.Files {
		f := &res.Files[i]
		modTime := sql.NullTime{Time: f.LastModified, Valid: !f.LastModified.IsZero()}
		if _, err := stmt.ExecContext(ctx, res.ScanID, f.Path, f.Size, modTime,
			string(f.AccessLevel), f.IsSymlink, f.Error); err != nil {
			return fmt.Errorf("insert entry %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	logging.Debug("recorded scan",
		zap.String("scan_id", res.ScanID),
		zap.Int("entries", len(res.Files)))
	return nil
}

// GetScan returns the stored record for a scan id, or nil when none exists.
func (s *Store) GetScan(ctx context.Context, scanID string) (*ScanRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_scan", time.Since(start)) }()

	r := &ScanRecord{}
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, directory, strategy, status, total_files, processed_files,
			successful_files, failed_files, started_at, finished_at, errors, created_at
		FROM scans WHERE id = $1`, scanID,
	).Scan(&r.ScanID, &r.Directory, &r.Strategy, &r.Status,
		&r.TotalFiles, &r.ProcessedFiles, &r.SuccessfulFiles, &r.FailedFiles,
		&r.StartedAt, &finished, pq.Array(&r.Errors), &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query scan: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return r, nil
}

// ListScans returns stored scans, most recently started first.
func (s *Store) ListScans(ctx context.Context, limit, offset int) ([]ScanRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_scans", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, directory, strategy, status, total_files, processed_files,
			successful_files, failed_files, started_at, finished_at, errors, created_at
		FROM scans ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var records []ScanRecord
	for rows.Next() {
		var r ScanRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ScanID, &r.Directory, &r.Strategy, &r.Status,
			&r.TotalFiles, &r.ProcessedFiles, &r.SuccessfulFiles, &r.FailedFiles,
			&r.StartedAt, &finished, pq.Array(&r.Errors), &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ScanEntries returns the files recorded for a scan in discovery order.
func (s *Store) ScanEntries(ctx context.Context, scanID string, limit int) ([]ScanEntry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("scan_entries", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, path, size, mod_time, access_level, is_symlink, error
		FROM scan_entries WHERE scan_id = $1 ORDER BY id LIMIT $2`, scanID, limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []ScanEntry
	for rows.Next() {
		var e ScanEntry
		var modTime sql.NullTime
		if err := rows.Scan(&e.ID, &e.ScanID, &e.Path, &e.Size,
			&modTime, &e.AccessLevel, &e.IsSymlink, &e.Error); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.ModTime = modTime.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentErrors returns the latest entries that recorded a processing error.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]ScanEntry, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("recent_errors", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, path, size, mod_time, access_level, is_symlink, error
		FROM scan_entries WHERE error <> '' ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	var entries []ScanEntry
	for rows.Next() {
		var e ScanEntry
		var modTime sql.NullTime
		if err := rows.Scan(&e.ID, &e.ScanID, &e.Path, &e.Size,
			&modTime, &e.AccessLevel, &e.IsSymlink, &e.Error); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.ModTime = modTime.Time
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ScanCount returns the number of stored scans.
func (s *Store) ScanCount(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("scan_count", time.Since(start)) }()

	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scans`).Scan(&count)
	return count, err
}

// DeleteScan removes a stored scan and its entries.
func (s *Store) DeleteScan(ctx context.Context, scanID string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_scan", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = $1`, scanID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	logging.Debug("deleted scan", zap.String("scan_id", scanID), zap.Int64("rows", rows))
	return nil
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Jdombrowski/photools/internal/events"
	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/scan"
)

// ─── Scan control ───────────────────────────────────────────────────────────

// startScanRequest is the POST /api/v1/scans body. Omitted fields take the
// scan defaults; recursive defaults to true.
type startScanRequest struct {
	Directory string `json:"directory"`
	Strategy  string `json:"strategy,omitempty"`
	Recursive *bool  `json:"recursive,omitempty"`
	MaxFiles  int    `json:"max_files,omitempty"`
	MaxDepth  int    `json:"max_depth,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

type startScanResponse struct {
	ScanID    string `json:"scan_id"`
	Directory string `json:"directory"`
	Status    string `json:"status"`
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Directory == "" {
		s.sendError(w, http.StatusBadRequest, "directory is required")
		return
	}

	opts := scan.DefaultOptions()
	if req.Strategy != "" {
		strategy, err := scan.ParseStrategy(req.Strategy)
		if err != nil {
			s.sendEngineError(w, err)
			return
		}
		opts.Strategy = strategy
	}
	if req.Recursive != nil {
		opts.Recursive = *req.Recursive
	}
	if req.MaxFiles > 0 {
		opts.MaxFiles = req.MaxFiles
	}
	if req.MaxDepth > 0 {
		opts.MaxDepth = req.MaxDepth
	}
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}

	// The scan must outlive this request, so it runs on the background
	// context; cancellation goes through DELETE /api/v1/scans/{id}.
	id, err := s.scanner.Start(context.Background(), req.Directory, opts)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	logging.Info("scan accepted",
		zap.String("scan_id", id),
		zap.String("directory", req.Directory),
		zap.String("strategy", string(opts.Strategy)))
	s.publish(events.Event{
		Type:      events.EventScanStarted,
		ScanID:    id,
		Directory: req.Directory,
		Status:    string(scan.StatusRunning),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(startScanResponse{
		ScanID:    id,
		Directory: req.Directory,
		Status:    "started",
	})
}

// scanStatusResponse reports one scan, live or from history. Errors are
// truncated to the last ten.
type scanStatusResponse struct {
	ScanID          string      `json:"scan_id"`
	Directory       string      `json:"directory"`
	Status          scan.Status `json:"status"`
	TotalFiles      int         `json:"total_files"`
	ProcessedFiles  int         `json:"processed_files"`
	SuccessfulFiles int         `json:"successful_files"`
	FailedFiles     int         `json:"failed_files"`
	ProgressPercent float64     `json:"progress_percent"`
	CurrentFile     string      `json:"current_file,omitempty"`
	IsComplete      bool        `json:"is_complete"`
	StartTime       time.Time   `json:"start_time"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	Errors          []string    `json:"errors,omitempty"`
}

func lastErrors(errs []string, n int) []string {
	if len(errs) > n {
		return errs[len(errs)-n:]
	}
	return errs
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if p, ok := s.scanner.Progress(id); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(scanStatusResponse{
			ScanID:          p.ScanID,
			Directory:       p.Directory,
			Status:          p.Status,
			TotalFiles:      p.TotalFiles,
			ProcessedFiles:  p.ProcessedFiles,
			SuccessfulFiles: p.SuccessfulFiles,
			FailedFiles:     p.FailedFiles,
			ProgressPercent: p.ProgressPercent(),
			CurrentFile:     p.CurrentFile,
			IsComplete:      p.IsComplete(),
			StartTime:       p.StartTime,
			Errors:          lastErrors(p.Errors, 10),
		})
		return
	}

	// Not in flight; fall back to recorded history when available.
	if s.history != nil {
		rec, err := s.history.GetScan(r.Context(), id)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rec != nil {
			percent := 0.0
			if rec.TotalFiles > 0 {
				percent = float64(rec.ProcessedFiles) / float64(rec.TotalFiles) * 100
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(scanStatusResponse{
				ScanID:          rec.ScanID,
				Directory:       rec.Directory,
				Status:          scan.Status(rec.Status),
				TotalFiles:      rec.TotalFiles,
				ProcessedFiles:  rec.ProcessedFiles,
				SuccessfulFiles: rec.SuccessfulFiles,
				FailedFiles:     rec.FailedFiles,
				ProgressPercent: percent,
				IsComplete:      true,
				StartTime:       rec.StartedAt,
				FinishedAt:      rec.FinishedAt,
				Errors:          lastErrors(rec.Errors, 10),
			})
			return
		}
	}

	s.sendError(w, http.StatusNotFound, "scan not found")
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.scanner.Cancel(id) {
		s.sendError(w, http.StatusNotFound, "scan not found or already complete")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"scan_id":   id,
		"cancelled": true,
		"message":   "cancellation requested",
	})
}

type activeScansResponse struct {
	ActiveScans int                  `json:"active_scans"`
	Scans       []scanStatusResponse `json:"scans"`
}

func (s *Server) handleActiveScans(w http.ResponseWriter, r *http.Request) {
	resp := activeScansResponse{Scans: []scanStatusResponse{}}
	for _, id := range s.scanner.ListActive() {
		p, ok := s.scanner.Progress(id)
		if !ok {
			// Finished between listing and lookup.
			continue
		}
		resp.Scans = append(resp.Scans, scanStatusResponse{
			ScanID:          p.ScanID,
			Directory:       p.Directory,
			Status:          p.Status,
			TotalFiles:      p.TotalFiles,
			ProcessedFiles:  p.ProcessedFiles,
			SuccessfulFiles: p.SuccessfulFiles,
			FailedFiles:     p.FailedFiles,
			ProgressPercent: p.ProgressPercent(),
			CurrentFile:     p.CurrentFile,
			IsComplete:      p.IsComplete(),
			StartTime:       p.StartTime,
		})
	}
	resp.ActiveScans = len(resp.Scans)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type estimateResponse struct {
	Directory        string  `json:"directory"`
	Recursive        bool    `json:"recursive"`
	FileCount        int     `json:"file_count"`
	TotalSizeBytes   int64   `json:"total_size_bytes"`
	EstimatedSeconds float64 `json:"estimated_seconds"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.sendError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	recursive := true
	if v := r.URL.Query().Get("recursive"); v != "" {
		recursive, _ = strconv.ParseBool(v)
	}

	est, err := s.scanner.Estimate(r.Context(), path, recursive)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(estimateResponse{
		Directory:        est.Directory,
		Recursive:        est.Recursive,
		FileCount:        est.FileCount,
		TotalSizeBytes:   est.TotalSize,
		EstimatedSeconds: est.EstimatedDuration.Seconds(),
	})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendError(w, http.StatusServiceUnavailable, "scan history is not configured")
		return
	}

	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	scans, err := s.history.ListScans(r.Context(), limit, offset)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.history.ScanCount(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"total": total,
		"scans": scans,
	})
}

// Package api exposes the scanning engine over HTTP: sandbox browsing,
// scan control, scan history, and the progress event stream.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/Jdombrowski/photools/internal/events"
	"github.com/Jdombrowski/photools/internal/history"
	"github.com/Jdombrowski/photools/internal/logging"
	"github.com/Jdombrowski/photools/internal/metrics"
	"github.com/Jdombrowski/photools/internal/scan"
	"github.com/Jdombrowski/photools/internal/security"
)

// Server wires the scanning engine and its collaborators into the REST API.
type Server struct {
	scanner    *scan.Scanner
	classifier *security.Classifier

	// Optional collaborators. Routes backed by a missing one answer 503.
	history     *history.Store
	broadcaster *events.Broadcaster
}

// New creates the API server. hist and broadcaster may be nil; the scan
// history and event stream routes then answer Service Unavailable.
func New(scanner *scan.Scanner, classifier *security.Classifier, hist *history.Store, broadcaster *events.Broadcaster) *Server {
	return &Server{
		scanner:     scanner,
		classifier:  classifier,
		history:     hist,
		broadcaster: broadcaster,
	}
}

// Handler returns the routed handler wrapped in logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Sandbox browsing
	mux.HandleFunc("GET /api/v1/filesystem/directories", s.handleDirectories)
	mux.HandleFunc("GET /api/v1/filesystem/info", s.handleFileInfo)
	mux.HandleFunc("GET /api/v1/filesystem/files", s.handleListFiles)
	mux.HandleFunc("GET /api/v1/filesystem/photos", s.handleListPhotos)
	mux.HandleFunc("GET /api/v1/filesystem/stats", s.handleDirectoryStats)
	mux.HandleFunc("GET /api/v1/filesystem/config", s.handleConfig)

	// Scan control
	mux.HandleFunc("POST /api/v1/scans", s.handleStartScan)
	mux.HandleFunc("GET /api/v1/scans", s.handleActiveScans)
	mux.HandleFunc("GET /api/v1/scans/estimate", s.handleEstimate)
	mux.HandleFunc("GET /api/v1/scans/history", s.handleScanHistory)
	mux.HandleFunc("GET /api/v1/scans/{id}", s.handleScanStatus)
	mux.HandleFunc("DELETE /api/v1/scans/{id}", s.handleCancelScan)

	// SSE endpoint
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": "1.0"})
}

// publish sends an event when a broadcaster is configured.
func (s *Server) publish(e events.Event) {
	if s.broadcaster != nil {
		s.broadcaster.Publish(e)
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{
		Error: message,
		Code:  code,
	})
}

// sendEngineError maps engine error kinds onto HTTP status codes: security
// violations are forbidden, validation errors are bad requests, anything
// else is a server error.
func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	switch {
	case security.IsViolation(err):
		s.sendError(w, http.StatusForbidden, err.Error())
	case scan.IsValidationError(err):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.sendError(w, http.StatusInternalServerError, err.Error())
	}
}

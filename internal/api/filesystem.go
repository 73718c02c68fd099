package api

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Jdombrowski/photools/internal/security"
)

// ─── Sandbox browsing ───────────────────────────────────────────────────────

// listedEntry is the wire form of one filesystem entry.
type listedEntry struct {
	Path         string               `json:"path"`
	Name         string               `json:"name"`
	Size         int64                `json:"size"`
	Extension    string               `json:"extension,omitempty"`
	AccessLevel  security.AccessLevel `json:"access_level"`
	Permissions  string               `json:"permissions"`
	LastModified time.Time            `json:"last_modified"`
	IsSymlink    bool                 `json:"is_symlink,omitempty"`
}

func toListedEntry(e security.Entry) listedEntry {
	le := listedEntry{
		Path:         e.Path,
		Name:         filepath.Base(e.Path),
		Size:         e.Size,
		AccessLevel:  e.AccessLevel,
		Permissions:  e.Permissions,
		LastModified: e.LastModified,
		IsSymlink:    e.IsSymlink,
	}
	if !e.IsDirectory {
		le.Extension = strings.ToLower(filepath.Ext(e.Path))
	}
	return le
}

func (s *Server) handleDirectories(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.classifier.Guard().Roots())
}

// entryInfo describes a single validated path.
type entryInfo struct {
	Path         string               `json:"path"`
	Exists       bool                 `json:"exists"`
	IsDirectory  bool                 `json:"is_directory"`
	Size         int64                `json:"size,omitempty"`
	AccessLevel  security.AccessLevel `json:"access_level"`
	Permissions  string               `json:"permissions,omitempty"`
	LastModified *time.Time           `json:"last_modified,omitempty"`
	IsSymlink    bool                 `json:"is_symlink,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.sendError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	validated, err := s.classifier.Guard().Validate(path)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	info := entryInfo{Path: validated, AccessLevel: security.AccessNone}
	if _, err := os.Lstat(validated); err == nil {
		entry := s.classifier.Classify(validated)
		mod := entry.LastModified
		info = entryInfo{
			Path:         entry.Path,
			Exists:       true,
			IsDirectory:  entry.IsDirectory,
			Size:         entry.Size,
			AccessLevel:  entry.AccessLevel,
			Permissions:  entry.Permissions,
			LastModified: &mod,
			IsSymlink:    entry.IsSymlink,
			Error:        entry.Error,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// listingResponse is the files endpoint body: entries split into files and
// directories, each with its access verdict.
type listingResponse struct {
	Directory    string        `json:"directory"`
	TotalEntries int           `json:"total_entries"`
	Files        []listedEntry `json:"files"`
	Directories  []listedEntry `json:"directories"`
	ScanOptions  listingOpts   `json:"scan_options"`
}

type listingOpts struct {
	Recursive bool `json:"recursive"`
	MaxDepth  int  `json:"max_depth,omitempty"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.sendError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	recursive := false
	if v := r.URL.Query().Get("recursive"); v != "" {
		recursive, _ = strconv.ParseBool(v)
	}
	maxDepth := 0
	if v := r.URL.Query().Get("max_depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxDepth = n
		}
	}

	entries, err := s.scanner.List(r.Context(), path, recursive, maxDepth)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	resp := listingResponse{
		Directory:    path,
		TotalEntries: len(entries),
		Files:        []listedEntry{},
		Directories:  []listedEntry{},
		ScanOptions:  listingOpts{Recursive: recursive, MaxDepth: maxDepth},
	}
	for _, e := range entries {
		if e.IsDirectory {
			resp.Directories = append(resp.Directories, toListedEntry(e))
		} else {
			resp.Files = append(resp.Files, toListedEntry(e))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// photosResponse is the photos endpoint body: accepted photo files only, with
// a per-extension histogram.
type photosResponse struct {
	Directory      string         `json:"directory"`
	TotalPhotos    int            `json:"total_photos"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	TotalSizeMB    float64        `json:"total_size_mb"`
	FileExtensions map[string]int `json:"file_extensions"`
	Files          []listedEntry  `json:"files"`
	ScanOptions    listingOpts    `json:"scan_options"`
}

func (s *Server) handleListPhotos(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.sendError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	recursive := true
	if v := r.URL.Query().Get("recursive"); v != "" {
		recursive, _ = strconv.ParseBool(v)
	}

	entries, err := s.scanner.List(r.Context(), path, recursive, 0)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	policy := s.classifier.Guard().Policy()
	resp := photosResponse{
		Directory:      path,
		FileExtensions: map[string]int{},
		Files:          []listedEntry{},
		ScanOptions:    listingOpts{Recursive: recursive},
	}
	for _, e := range entries {
		if e.IsDirectory || !e.Readable() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Path))
		if !policy.ExtensionAllowed(ext) {
			continue
		}
		resp.Files = append(resp.Files, toListedEntry(e))
		resp.TotalSizeBytes += e.Size
		resp.FileExtensions[ext]++
	}
	resp.TotalPhotos = len(resp.Files)
	resp.TotalSizeMB = math.Round(float64(resp.TotalSizeBytes)/(1024*1024)*100) / 100

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// directoryStats summarizes a tree: counts, byte total, and how entries were
// classified.
type directoryStats struct {
	Directory        string         `json:"directory"`
	TotalFiles       int            `json:"total_files"`
	TotalDirectories int            `json:"total_directories"`
	TotalSizeBytes   int64          `json:"total_size_bytes"`
	PhotoFiles       int            `json:"photo_files"`
	AccessLevels     map[string]int `json:"access_levels"`
}

func (s *Server) handleDirectoryStats(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.sendError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}

	entries, err := s.scanner.List(r.Context(), path, true, 0)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}

	policy := s.classifier.Guard().Policy()
	stats := directoryStats{Directory: path, AccessLevels: map[string]int{}}
	for _, e := range entries {
		if e.IsDirectory {
			stats.TotalDirectories++
			continue
		}
		stats.TotalFiles++
		stats.TotalSizeBytes += e.Size
		stats.AccessLevels[string(e.AccessLevel)]++
		if policy.ExtensionAllowed(strings.ToLower(filepath.Ext(e.Path))) {
			stats.PhotoFiles++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// configResponse reports the sandbox configuration the server runs with.
type configResponse struct {
	AllowedDirectories  []string            `json:"allowed_directories"`
	PhotoExtensions     []string            `json:"photo_extensions"`
	SecurityConstraints securityConstraints `json:"security_constraints"`
}

type securityConstraints struct {
	MaxFileSizeMB     int64 `json:"max_file_size_mb"`
	MaxDirectoryDepth int   `json:"max_directory_depth"`
	MaxPathLength     int   `json:"max_path_length"`
	FollowSymlinks    bool  `json:"follow_symlinks"`
	SkipHiddenFiles   bool  `json:"skip_hidden_files"`
	SkipHiddenDirs    bool  `json:"skip_hidden_directories"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	guard := s.classifier.Guard()
	policy := guard.Policy()

	exts := make([]string, 0, len(policy.AllowedExtensions))
	for ext := range policy.AllowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	resp := configResponse{
		AllowedDirectories: guard.Roots(),
		PhotoExtensions:    exts,
		SecurityConstraints: securityConstraints{
			MaxFileSizeMB:     policy.MaxFileSize / (1024 * 1024),
			MaxDirectoryDepth: policy.MaxDepth,
			MaxPathLength:     policy.MaxPathLength,
			FollowSymlinks:    policy.FollowSymlinks,
			SkipHiddenFiles:   policy.SkipHiddenFiles,
			SkipHiddenDirs:    policy.SkipHiddenDirs,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// session is the registry's record of one in-flight scan. The scan goroutine
// is the only writer of progress; all other access goes through snapshots.
type session struct {
	id       string
	ctx      context.Context
	cancelFn context.CancelFunc

	cancelled atomic.Bool

	mu       sync.Mutex
	progress Progress
}

func (s *session) update(fn func(*Progress)) {
	s.mu.Lock()
	fn(&s.progress)
	s.mu.Unlock()
}

func (s *session) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.progress
	if len(s.progress.Errors) > 0 {
		snap.Errors = make([]string, len(s.progress.Errors))
		copy(snap.Errors, s.progress.Errors)
	}
	return snap
}

func (s *session) cancel() {
	s.cancelled.Store(true)
	s.cancelFn()
}

func (s *session) isCancelled() bool {
	return s.cancelled.Load() || s.ctx.Err() != nil
}

// Registry is the process-wide table of in-flight scans. It is an injectable
// object, not a package-level singleton, so tests and embedders can run
// isolated instances. Entries exist only while a scan is active; terminal
// scans are removed and their progress is no longer queryable.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	seq      atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// newID mints a scan id of the form fast_scan_<timestamp>_<n>. The sequence
// suffix keeps ids unique when scans start within the same second.
func (r *Registry) newID(strategy Strategy) string {
	return fmt.Sprintf("%s_scan_%s_%d",
		strategy.idPrefix(),
		time.Now().UTC().Format("2006-01-02T15:04:05"),
		r.seq.Add(1))
}

// start creates and registers a session for a scan that is beginning. The
// returned session's context is cancelled when Cancel is called with its id.
func (r *Registry) start(ctx context.Context, directory string, strategy Strategy) *session {
	id := r.newID(strategy)

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:       id,
		ctx:      sctx,
		cancelFn: cancel,
		progress: Progress{
			ScanID:    id,
			Directory: directory,
			Strategy:  strategy,
			Status:    StatusRunning,
			StartTime: time.Now().UTC(),
		},
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s
}

// remove drops a terminal scan from the registry.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Progress returns a snapshot of an active scan's progress. The second
// return is false once the scan has terminated or if the id is unknown.
func (r *Registry) Progress(id string) (Progress, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Progress{}, false
	}
	return s.snapshot(), true
}

// Cancel requests cooperative cancellation of an active scan. It returns
// true if the scan existed and was signalled; the scan itself stops at the
// next file boundary.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// ListActive returns the ids of all in-flight scans, sorted for stable
// output.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of in-flight scans.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

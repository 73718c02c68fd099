// Package events provides an SSE event broadcaster for scan and import progress.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Jdombrowski/photools/internal/metrics"
)

const (
	EventScanStarted   = "scan_started"
	EventScanProgress  = "scan_progress"
	EventScanCompleted = "scan_completed"
	EventPhotoImported = "photo_imported"
)

// Event represents a scan or import lifecycle event.
type Event struct {
	Type      string  `json:"type"`
	ScanID    string  `json:"scan_id,omitempty"`
	Directory string  `json:"directory,omitempty"`
	Path      string  `json:"path,omitempty"`
	Status    string  `json:"status,omitempty"`
	Processed int     `json:"processed,omitempty"`
	Total     int     `json:"total,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// ScanProgress builds a scan_progress event from live counter values.
func ScanProgress(scanID, path string, processed, total int, percent float64) Event {
	return Event{
		Type:      EventScanProgress,
		ScanID:    scanID,
		Path:      path,
		Processed: processed,
		Total:     total,
		Percent:   percent,
	}
}

// PhotoImported builds a photo_imported event for a stored file.
func PhotoImported(path, status string) Event {
	return Event{Type: EventPhotoImported, Path: path, Status: status}
}

// subscriberBuffer is the per-subscriber channel depth. Once it fills,
// further events for that subscriber are dropped rather than blocking
// the publisher.
const subscriberBuffer = 64

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

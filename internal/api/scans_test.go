package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Jdombrowski/photools/internal/events"
	"github.com/Jdombrowski/photools/internal/scan"
)

func postJSON(t *testing.T, url string, body interface{}, out interface{}) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStartScanAccepted(t *testing.T) {
	root := buildTestTree(t)
	ts, scanner, _ := newTestServer(t, root)

	done := make(chan *scan.Result, 1)
	scanner.OnComplete(func(r *scan.Result) { done <- r })

	var started startScanResponse
	code := postJSON(t, ts.URL+"/api/v1/scans", map[string]string{"directory": root}, &started)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	if !strings.HasPrefix(started.ScanID, "fast_scan_") {
		t.Errorf("scan id = %s", started.ScanID)
	}
	if started.Status != "started" {
		t.Errorf("status = %s", started.Status)
	}

	var res *scan.Result
	select {
	case res = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for scan completion")
	}
	if res.ScanID != started.ScanID {
		t.Errorf("completed scan id = %s, want %s", res.ScanID, started.ScanID)
	}
	if res.ProcessedFiles != 3 {
		t.Errorf("processed = %d, want 3", res.ProcessedFiles)
	}

	// Terminal and unrecorded: the id is gone from the registry and there is
	// no history store behind this server.
	if code := getJSON(t, ts.URL+"/api/v1/scans/"+started.ScanID, nil); code != http.StatusNotFound {
		t.Errorf("status after completion = %d, want 404", code)
	}

	var active activeScansResponse
	if code := getJSON(t, ts.URL+"/api/v1/scans", &active); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if active.ActiveScans != 0 {
		t.Errorf("active scans = %d, want 0", active.ActiveScans)
	}
}

func TestStartScanRejectsBadRequests(t *testing.T) {
	root := buildTestTree(t)
	ts, _, _ := newTestServer(t, root)

	if code := postJSON(t, ts.URL+"/api/v1/scans", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("missing directory: expected 400, got %d", code)
	}

	body := map[string]string{"directory": root, "strategy": "turbo"}
	if code := postJSON(t, ts.URL+"/api/v1/scans", body, nil); code != http.StatusBadRequest {
		t.Errorf("bad strategy: expected 400, got %d", code)
	}

	outside := t.TempDir()
	if code := postJSON(t, ts.URL+"/api/v1/scans", map[string]string{"directory": outside}, nil); code != http.StatusForbidden {
		t.Errorf("outside roots: expected 403, got %d", code)
	}
}

func TestCancelUnknownScan(t *testing.T) {
	ts, _, _ := newTestServer(t, buildTestTree(t))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/scans/fast_scan_nope_1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	root := buildTestTree(t)
	ts, _, _ := newTestServer(t, root)

	var est estimateResponse
	if code := getJSON(t, ts.URL+"/api/v1/scans/estimate?path="+root, &est); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if est.FileCount != 3 {
		t.Errorf("file count = %d, want 3", est.FileCount)
	}
	if est.TotalSizeBytes != photoBytes() {
		t.Errorf("total size = %d, want %d", est.TotalSizeBytes, photoBytes())
	}
	if est.EstimatedSeconds != 1.5 {
		t.Errorf("estimated seconds = %v, want 1.5", est.EstimatedSeconds)
	}
}

func TestScanHistoryUnavailableWithoutStore(t *testing.T) {
	ts, _, _ := newTestServer(t, buildTestTree(t))

	if code := getJSON(t, ts.URL+"/api/v1/scans/history", nil); code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func TestEventsStream(t *testing.T) {
	root := buildTestTree(t)
	ts, _, broadcaster := newTestServer(t, root)

	resp, err := http.Get(ts.URL + "/api/v1/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %s", ct)
	}

	// Publish only once the handler has subscribed.
	deadline := time.Now().Add(3 * time.Second)
	for broadcaster.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	broadcaster.Publish(events.ScanProgress("fast_scan_2024-06-01T10:00:00_1", "/photos/a.jpg", 1, 3, 33.3))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var event, data string
	timeout := time.After(3 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before event arrived")
			}
			if strings.HasPrefix(line, "event: ") {
				event = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}

	if event != events.EventScanProgress {
		t.Errorf("event = %s, want %s", event, events.EventScanProgress)
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if ev.ScanID != "fast_scan_2024-06-01T10:00:00_1" || ev.Processed != 1 || ev.Total != 3 {
		t.Errorf("event = %+v", ev)
	}
}

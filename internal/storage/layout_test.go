package storage

import (
	"testing"
	"time"
)

func TestPathForHashLayout(t *testing.T) {
	l := DefaultLayout()
	taken := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

	got := l.PathFor("IMG_1234.JPG", "abc123", taken)
	if got != "2024/06/15/abc123.jpg" {
		t.Errorf("path = %q, want 2024/06/15/abc123.jpg", got)
	}
}

func TestPathForPreservedNames(t *testing.T) {
	l := Layout{OrganizeByDate: true, PreserveOriginalNames: true, DateFormat: DefaultDateFormat}
	taken := time.Date(2024, 6, 15, 10, 30, 45, 0, time.UTC)

	got := l.PathFor("IMG_1234.JPG", "abc123", taken)
	if got != "2024/06/15/IMG_1234_103045.jpg" {
		t.Errorf("path = %q, want 2024/06/15/IMG_1234_103045.jpg", got)
	}
}

func TestPathForTimestampNames(t *testing.T) {
	l := Layout{OrganizeByDate: true, DateFormat: DefaultDateFormat}
	taken := time.Date(2024, 6, 15, 10, 30, 45, 0, time.UTC)

	got := l.PathFor("whatever.png", "abc123", taken)
	if got != "2024/06/15/20240615_103045.png" {
		t.Errorf("path = %q, want 2024/06/15/20240615_103045.png", got)
	}
}

func TestPathForFlatLayout(t *testing.T) {
	l := Layout{UseContentHash: true}
	if got := l.PathFor("a.jpg", "deadbeef", time.Time{}); got != "deadbeef.jpg" {
		t.Errorf("path = %q, want deadbeef.jpg", got)
	}

	l = Layout{}
	if got := l.PathFor("a.jpg", "deadbeef", time.Time{}); got != "a.jpg" {
		t.Errorf("path = %q, want a.jpg", got)
	}
}

func TestPathForZeroTimeUsesNow(t *testing.T) {
	l := DefaultLayout()
	before := time.Now().UTC().Format(DefaultDateFormat)
	got := l.PathFor("a.jpg", "cafe", time.Time{})
	after := time.Now().UTC().Format(DefaultDateFormat)

	if got != before+"/cafe.jpg" && got != after+"/cafe.jpg" {
		t.Errorf("path = %q, want today's date directory", got)
	}
}

func TestHashContent(t *testing.T) {
	// sha256 of the empty string is a well-known constant.
	if got := HashContent(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("empty hash = %q", got)
	}
	if HashContent([]byte("a")) == HashContent([]byte("b")) {
		t.Error("different content must hash differently")
	}
}

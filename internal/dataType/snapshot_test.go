package dataType

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRequestSnapshotFixedFields(t *testing.T) {
	r := httptest.NewRequest("POST", "http://shop.example.com/cart/add?item=3&qty=2", strings.NewReader("payload"))
	r.Header.Set("User-Agent", "curl/8.0")
	r.Header.Set("Referer", "http://example.com/home")
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")

	if snap.RayID != "ray-1" || snap.ClientIP != "203.0.113.7" {
		t.Errorf("identity fields = %q/%q", snap.RayID, snap.ClientIP)
	}
	if snap.Method != "POST" || snap.Host != "shop.example.com" {
		t.Errorf("Method/Host = %q/%q", snap.Method, snap.Host)
	}
	if snap.Path != "/cart/add" {
		t.Errorf("Path = %q, want /cart/add", snap.Path)
	}
	if snap.PathAndQuery != "/cart/add?item=3&qty=2" {
		t.Errorf("PathAndQuery = %q", snap.PathAndQuery)
	}
	if snap.QueryString != "item=3&qty=2" {
		t.Errorf("QueryString = %q", snap.QueryString)
	}
	if snap.Referrer != "http://example.com/home" {
		t.Errorf("Referrer = %q", snap.Referrer)
	}
	if snap.Scheme != "http" || snap.Secure {
		t.Errorf("Scheme/Secure = %q/%v, want http/false", snap.Scheme, snap.Secure)
	}
	if snap.BodyLength != int64(len("payload")) {
		t.Errorf("BodyLength = %d, want %d", snap.BodyLength, len("payload"))
	}
	if snap.CountryISO2 != "" || snap.CountryName != "" || snap.ContinentName != "" {
		t.Error("geo fields non-empty without a provider")
	}
}

func TestSnapshotForwardedProto(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")

	if snap.Scheme != "https" || !snap.Secure {
		t.Errorf("Scheme/Secure = %q/%v, want https/true", snap.Scheme, snap.Secure)
	}
	if snap.AbsoluteURI() != "https://example.com/" {
		t.Errorf("AbsoluteURI() = %q", snap.AbsoluteURI())
	}
}

func TestSnapshotMimeType(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"application/json; charset=utf-8", "application/json"},
		{"text/html", "text/html"},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("POST", "http://example.com/", nil)
		if tt.contentType != "" {
			r.Header.Set("Content-Type", tt.contentType)
		}
		snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")
		if got := snap.MimeType(); got != tt.want {
			t.Errorf("MimeType(%q) = %q, want %q", tt.contentType, got, tt.want)
		}
	}
}

func TestSnapshotCookieAndHeaderLookups(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	r.Header.Set("Cookie", "a=1; b=2")
	r.Header.Set("X-Custom-Header", "value")
	snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")

	if got := snap.Cookie("a"); got != "1" {
		t.Errorf("Cookie(a) = %q, want 1", got)
	}
	if got := snap.Cookie("missing"); got != "" {
		t.Errorf("Cookie(missing) = %q, want empty", got)
	}
	if got := snap.Header("x-custom-header"); got != "value" {
		t.Errorf("Header(lowercase) = %q, want value", got)
	}
	if got := snap.Header("X-CUSTOM-HEADER"); got != "value" {
		t.Errorf("Header(uppercase) = %q, want value", got)
	}
}

func TestSnapshotBodyReadOnce(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.com/", strings.NewReader("hello body"))
	snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")

	if got := snap.Body(); got != "hello body" {
		t.Errorf("Body() = %q, want hello body", got)
	}
	// second read must come from the materialized copy
	if got := snap.Body(); got != "hello body" {
		t.Errorf("Body() second read = %q, want hello body", got)
	}
}

func TestSnapshotBodyOverCap(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.com/", strings.NewReader("irrelevant"))
	r.ContentLength = MaxBodyCapture + 1
	snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")

	if got := snap.Body(); got != "" {
		t.Errorf("Body() over the cap = %q, want empty", got)
	}
}

func TestSnapshotBodyNoBody(t *testing.T) {
	r := httptest.NewRequest("GET", "http://example.com/", nil)
	snap := NewRequestSnapshot(r, "ray-1", "203.0.113.7")
	if got := snap.Body(); got != "" {
		t.Errorf("Body() without a body = %q, want empty", got)
	}
}

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.2.0", "1.2.0", false},
		{"1.10.0", "1.9.0", true},
		{"1.0.0", "1.0.1", false},
	}
	for _, tt := range tests {
		if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func newTestChecker(url string) *VersionChecker {
	vc := NewVersionChecker()
	vc.url = url
	return vc
}

func TestVersionCheckRecordsStableRelease(t *testing.T) {
	var sawETag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawETag = r.Header.Get("If-None-Match")
		if sawETag == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(`{"tag_name":"v2.1.0"}`))
	}))
	defer srv.Close()

	vc := newTestChecker(srv.URL)
	if err := vc.check(t.Context()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := vc.Info().Latest; got != "2.1.0" {
		t.Errorf("Latest = %q, want 2.1.0", got)
	}

	if err := vc.check(t.Context()); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if sawETag != `"abc"` {
		t.Errorf("If-None-Match = %q", sawETag)
	}
	if got := vc.Info().Latest; got != "2.1.0" {
		t.Errorf("Latest after 304 = %q", got)
	}
}

func TestVersionCheckIgnoresPrerelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v3.0.0-rc1","prerelease":true}`))
	}))
	defer srv.Close()

	vc := newTestChecker(srv.URL)
	if err := vc.check(t.Context()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := vc.Info().Latest; got != "" {
		t.Errorf("Latest = %q, want empty", got)
	}
}

func TestVersionCheckRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := newTestChecker(srv.URL).check(t.Context()); err == nil {
		t.Fatal("expected an error for 503")
	}
}

func TestVersionCheckerStopWithoutStart(t *testing.T) {
	NewVersionChecker().Stop()
}

package youtube

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/broadcast"
	"golang.org/x/oauth2"
)

// fakeAPI serves the token endpoint and the Data API endpoints used by Client.
type fakeAPI struct {
	mu        sync.Mutex
	refreshes int
	token     string
	requests  []*http.Request
	bodies    []map[string]any
	status    map[string]int

	// tokenStatus, when set, makes the token endpoint fail with tokenError.
	tokenStatus int
	tokenError  string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{token: "access-0", status: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.handleToken)
	mux.HandleFunc("/youtube/v3/", f.handleAPI)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") == "" {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	if f.tokenStatus != 0 {
		status, code := f.tokenStatus, f.tokenError
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
		return
	}
	f.refreshes++
	f.token = fmt.Sprintf("access-%d", f.refreshes)
	tok := f.token
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func (f *fakeAPI) handleAPI(w http.ResponseWriter, r *http.Request) {
	resource := strings.TrimPrefix(r.URL.Path, "/youtube/v3/")

	f.mu.Lock()
	f.requests = append(f.requests, r)
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.bodies = append(f.bodies, body)
	current := "Bearer " + f.token
	status := f.status[r.Method+" "+resource]
	f.mu.Unlock()

	if r.Header.Get("Authorization") != current {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"boom","errors":[{"reason":"redundantTransition"}]}}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method + " " + resource {
	case "POST liveStreams":
		_, _ = w.Write([]byte(`{"id":"stream-1","cdn":{"ingestionInfo":{"ingestionAddress":"rtmp://a.rtmp.youtube.com/live2","streamName":"abcd-efgh"}}}`))
	case "POST liveBroadcasts":
		_, _ = w.Write([]byte(`{"id":"bc-1"}`))
	case "GET liveStreams":
		_, _ = w.Write([]byte(`{"items":[{"id":"stream-1","status":{"streamStatus":"active"}}]}`))
	case "GET liveBroadcasts":
		_, _ = w.Write([]byte(`{"items":[]}`))
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func (f *fakeAPI) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server, tokens *TokenStore) *Client {
	t.Helper()
	return NewClient(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		RefreshToken: "refresh-env",
		Tokens:       tokens,
		BaseURL:      srv.URL + "/youtube/v3",
		TokenURL:     srv.URL + "/token",
		HTTPClient:   srv.Client(),
	})
}

func TestAuthenticateWithConfiguredRefreshToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	c := newTestClient(t, srv, store)

	if err := c.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if api.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", api.refreshes)
	}

	saved, err := store.Load()
	if err != nil || saved == nil {
		t.Fatalf("token not persisted: %v", err)
	}
	if saved.AccessToken != "access-1" || saved.RefreshToken != "refresh-env" {
		t.Fatalf("saved token = %+v", saved)
	}
	info, err := os.Stat(store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("token file mode = %o, want 600", perm)
	}
}

func TestAuthenticatePrefersStoredToken(t *testing.T) {
	api, srv := newFakeAPI(t)
	store := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	if err := store.Save(&oauth2.Token{
		AccessToken:  "access-0",
		RefreshToken: "refresh-file",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t, srv, store)

	if err := c.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if api.refreshes != 0 {
		t.Fatalf("valid stored token was refreshed")
	}
	if _, err := c.StreamStatus(t.Context(), "stream-1"); err != nil {
		t.Fatalf("StreamStatus: %v", err)
	}
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := NewClient(Config{
		BaseURL:    srv.URL + "/youtube/v3",
		TokenURL:   srv.URL + "/token",
		Tokens:     NewTokenStore(filepath.Join(t.TempDir(), "token.json")),
		HTTPClient: srv.Client(),
	})
	if err := c.Authenticate(t.Context()); !errors.Is(err, errNoCredentials) {
		t.Fatalf("Authenticate error = %v, want errNoCredentials", err)
	}
}

func TestAuthenticateCredentialErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		permanent bool
	}{
		{"revoked refresh token", http.StatusBadRequest, "invalid_grant", true},
		{"unknown client", http.StatusUnauthorized, "invalid_client", true},
		{"token endpoint down", http.StatusServiceUnavailable, "temporarily_unavailable", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.tokenStatus, api.tokenError = tt.status, tt.code
			c := newTestClient(t, srv, nil)

			err := c.Authenticate(t.Context())
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.Is(err, broadcast.ErrCredentials); got != tt.permanent {
				t.Errorf("errors.Is(err, ErrCredentials) = %v, want %v (err: %v)", got, tt.permanent, err)
			}
		})
	}
}

func TestAuthenticateWithoutCredentialsIsPermanent(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := NewClient(Config{
		BaseURL:    srv.URL + "/youtube/v3",
		TokenURL:   srv.URL + "/token",
		HTTPClient: srv.Client(),
	})
	if err := c.Authenticate(t.Context()); !errors.Is(err, broadcast.ErrCredentials) {
		t.Fatalf("Authenticate error = %v, want ErrCredentials", err)
	}
}

func TestCreateStreamAndBroadcast(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv, nil)
	if err := c.Authenticate(t.Context()); err != nil {
		t.Fatal(err)
	}

	target, err := c.CreateStream(t.Context(), "Camera Live")
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if target.ID != "stream-1" || target.URL != "rtmp://a.rtmp.youtube.com/live2/abcd-efgh" || target.Key != "abcd-efgh" {
		t.Fatalf("target = %+v", target)
	}
	if got := api.lastRequest().URL.Query().Get("part"); got != "snippet,cdn,status" {
		t.Errorf("liveStreams.insert part = %q", got)
	}

	id, err := c.CreateBroadcast(t.Context(), broadcast.BroadcastSpec{Title: "Camera Live", Description: "24/7", Privacy: "unlisted"})
	if err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	if id != "bc-1" {
		t.Fatalf("broadcast id = %q", id)
	}

	api.mu.Lock()
	body := api.bodies[len(api.bodies)-1]
	api.mu.Unlock()
	details := body["contentDetails"].(map[string]any)
	if details["enableAutoStart"] != true || details["enableAutoStop"] != false {
		t.Errorf("contentDetails = %v", details)
	}
	status := body["status"].(map[string]any)
	if status["privacyStatus"] != "unlisted" || status["selfDeclaredMadeForKids"] != false {
		t.Errorf("status = %v", status)
	}

	if err := c.BindBroadcast(t.Context(), "bc-1", "stream-1"); err != nil {
		t.Fatalf("BindBroadcast: %v", err)
	}
	q := api.lastRequest().URL.Query()
	if api.lastRequest().URL.Path != "/youtube/v3/liveBroadcasts/bind" || q.Get("id") != "bc-1" || q.Get("streamId") != "stream-1" {
		t.Errorf("bind request = %s", api.lastRequest().URL)
	}
}

func TestStatusQueries(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv, nil)
	if err := c.Authenticate(t.Context()); err != nil {
		t.Fatal(err)
	}

	if s, err := c.StreamStatus(t.Context(), "stream-1"); err != nil || s != "active" {
		t.Fatalf("StreamStatus() = %q, %v", s, err)
	}
	if s, err := c.BroadcastStatus(t.Context(), "bc-missing"); err != nil || s != broadcast.StatusUnknown {
		t.Fatalf("BroadcastStatus() = %q, %v", s, err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, broadcast.ErrRejected},
		{http.StatusForbidden, broadcast.ErrRejected},
		{http.StatusNotFound, broadcast.ErrRejected},
		{http.StatusTooManyRequests, nil},
		{http.StatusServiceUnavailable, nil},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api, srv := newFakeAPI(t)
			api.status["POST liveBroadcasts/transition"] = tt.status
			c := newTestClient(t, srv, nil)
			if err := c.Authenticate(t.Context()); err != nil {
				t.Fatal(err)
			}

			err := c.TransitionBroadcast(t.Context(), "bc-1", broadcast.LifecycleComplete)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if tt.want == nil && (errors.Is(err, broadcast.ErrRejected) || errors.Is(err, broadcast.ErrUnauthorized)) {
				t.Fatalf("error = %v, want transient", err)
			}
			if !strings.Contains(err.Error(), "redundantTransition") {
				t.Errorf("error %q lacks the API reason", err)
			}
		})
	}
}

func TestUnauthorizedThenRefreshViaLifecycleClient(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv, nil)
	if err := c.Authenticate(t.Context()); err != nil {
		t.Fatal(err)
	}

	// Revoke the current access token server-side.
	api.mu.Lock()
	api.token = "rotated"
	api.mu.Unlock()

	if _, err := c.StreamStatus(t.Context(), "stream-1"); !errors.Is(err, broadcast.ErrUnauthorized) {
		t.Fatalf("StreamStatus error = %v, want ErrUnauthorized", err)
	}

	lc := broadcast.NewClient(c, broadcast.Options{MaxRetries: 1})
	status, err := lc.IngestStatus(t.Context(), "stream-1")
	if err != nil || status != "active" {
		t.Fatalf("IngestStatus() = %q, %v", status, err)
	}
	if api.refreshes != 2 {
		t.Fatalf("refreshes = %d, want 2", api.refreshes)
	}
}

func TestWatchURL(t *testing.T) {
	c := NewClient(Config{})
	if got := c.WatchURL("abc123"); got != "https://www.youtube.com/watch?v=abc123" {
		t.Fatalf("WatchURL() = %q", got)
	}
}

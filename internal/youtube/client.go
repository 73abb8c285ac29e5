// Package youtube implements the broadcast platform on the YouTube Data API v3.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/broadcast"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the Data API v3 endpoint.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"
	// DefaultTokenURL is Google's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token" //nolint:gosec // URL, not a credential

	watchURLPrefix = "https://www.youtube.com/watch?v="

	// HTTP client timeout.
	httpTimeout = 30 * time.Second
	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 4096
)

// Scopes are the OAuth2 scopes required to manage live broadcasts.
var Scopes = []string{
	"https://www.googleapis.com/auth/youtube",
	"https://www.googleapis.com/auth/youtube.force-ssl",
}

// errNoCredentials indicates neither a token file nor a refresh token exists.
var errNoCredentials = fmt.Errorf("no token file found and no refresh token configured; run the OAuth setup first: %w", broadcast.ErrCredentials)

// Config holds the credentials and endpoints of a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// Tokens, if set, persists refreshed tokens.
	Tokens *TokenStore

	BaseURL    string
	TokenURL   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a broadcast.Platform backed by the YouTube Data API.
type Client struct {
	baseURL string
	oauth   *oauth2.Config
	tokens  *TokenStore
	http    *http.Client
	logger  *slog.Logger

	fallbackRefresh string

	mu    sync.Mutex // Protects token
	token *oauth2.Token
}

var _ broadcast.Platform = (*Client)(nil)

// NewClient returns a Client. Call Authenticate before any other method.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: httpTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       Scopes,
		},
		tokens:          cfg.Tokens,
		http:            cfg.HTTPClient,
		logger:          cfg.Logger.With("component", "youtube"),
		fallbackRefresh: cfg.RefreshToken,
	}
}

// Authenticate loads the stored token, falling back to the configured refresh
// token, and refreshes it if it is no longer valid.
func (c *Client) Authenticate(ctx context.Context) error {
	var tok *oauth2.Token
	if c.tokens != nil {
		stored, err := c.tokens.Load()
		if err != nil {
			c.logger.Warn("ignoring unreadable token file", "path", c.tokens.Path(), "error", err)
		}
		if stored != nil {
			c.logger.Info("loaded OAuth token", "path", c.tokens.Path())
			tok = stored
		}
	}
	if tok == nil && c.fallbackRefresh != "" {
		c.logger.Info("creating credentials from configured refresh token")
		tok = &oauth2.Token{RefreshToken: c.fallbackRefresh}
	}
	if tok == nil {
		return errNoCredentials
	}

	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	if tok.Valid() {
		return nil
	}
	return c.RefreshToken(ctx)
}

// RefreshToken exchanges the refresh token for a new access token and
// persists the result.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if c.token == nil || c.token.RefreshToken == "" {
		return errNoCredentials
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	src := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: c.token.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if grantRevoked(err) {
			return fmt.Errorf("refresh access token: %w: %w", broadcast.ErrCredentials, err)
		}
		return fmt.Errorf("refresh access token: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = c.token.RefreshToken
	}
	c.token = tok
	c.logger.Info("access token refreshed", "expiry", tok.Expiry.Format(time.RFC3339))

	if c.tokens != nil {
		if err := c.tokens.Save(tok); err != nil {
			c.logger.Warn("failed to persist token", "path", c.tokens.Path(), "error", err)
		}
	}
	return nil
}

// grantRevoked reports whether the token endpoint refused the refresh token
// or client itself, as opposed to failing transiently.
func grantRevoked(err error) bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	switch rerr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	return rerr.Response != nil &&
		(rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized)
}

// authorize sets the bearer token on req, refreshing an expired token first.
func (c *Client) authorize(req *http.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil {
		return fmt.Errorf("not authenticated: %w", broadcast.ErrUnauthorized)
	}
	if !c.token.Valid() {
		if err := c.refreshLocked(req.Context()); err != nil {
			return err
		}
	}
	c.token.SetAuthHeader(req)
	return nil
}

// do performs one API call and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, resource string, query url.Values, body, out any) error {
	apiURL := c.baseURL + "/" + resource
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return classify(resp.StatusCode, respBody)
}

// classify maps an HTTP error status onto the broadcast error classes.
func classify(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var envelope apiError
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 && envelope.Error.Errors[0].Reason != "" {
			msg = envelope.Error.Errors[0].Reason + ": " + msg
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("youtube API returned %d (%s): %w", status, msg, broadcast.ErrUnauthorized)
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("youtube API returned %d (%s): %w", status, msg, broadcast.ErrRejected)
	default:
		return fmt.Errorf("youtube API returned %d: %s", status, msg)
	}
}

// CreateStream inserts a liveStream and returns its RTMP ingest target.
func (c *Client) CreateStream(ctx context.Context, title string) (broadcast.IngestTarget, error) {
	body := liveStream{
		Snippet: &streamSnippet{Title: title, Description: "RTMP stream for " + title},
		CDN: &streamCDN{
			FrameRate:     "variable",
			IngestionType: "rtmp",
			Resolution:    "variable",
		},
	}
	var resp liveStream
	q := url.Values{"part": {"snippet,cdn,status"}}
	if err := c.do(ctx, http.MethodPost, "liveStreams", q, body, &resp); err != nil {
		return broadcast.IngestTarget{}, err
	}
	if resp.ID == "" || resp.CDN == nil || resp.CDN.IngestionInfo == nil {
		return broadcast.IngestTarget{}, errors.New("liveStreams.insert response lacks ingestion info")
	}

	info := resp.CDN.IngestionInfo
	return broadcast.IngestTarget{
		ID:  resp.ID,
		URL: strings.TrimRight(info.IngestionAddress, "/") + "/" + info.StreamName,
		Key: info.StreamName,
	}, nil
}

// CreateBroadcast inserts a liveBroadcast that starts automatically when
// data arrives and never stops on its own.
func (c *Client) CreateBroadcast(ctx context.Context, spec broadcast.BroadcastSpec) (string, error) {
	start := spec.ScheduledStart
	if start.IsZero() {
		start = time.Now()
	}
	madeForKids := false
	body := liveBroadcast{
		Snippet: &broadcastSnippet{
			Title:              spec.Title,
			Description:        spec.Description,
			ScheduledStartTime: start.UTC().Format(time.RFC3339),
		},
		Status: &broadcastStatus{
			PrivacyStatus:           spec.Privacy,
			SelfDeclaredMadeForKids: &madeForKids,
		},
		ContentDetails: &broadcastContentDetails{
			EnableAutoStart: true,
			EnableAutoStop:  false,
			MonitorStream:   &monitorStream{EnableMonitorStream: false},
		},
	}
	var resp liveBroadcast
	q := url.Values{"part": {"snippet,status,contentDetails"}}
	if err := c.do(ctx, http.MethodPost, "liveBroadcasts", q, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", errors.New("liveBroadcasts.insert response lacks an id")
	}
	return resp.ID, nil
}

// BindBroadcast binds a stream to a broadcast.
func (c *Client) BindBroadcast(ctx context.Context, broadcastID, streamID string) error {
	q := url.Values{
		"id":       {broadcastID},
		"part":     {"id,contentDetails"},
		"streamId": {streamID},
	}
	return c.do(ctx, http.MethodPost, "liveBroadcasts/bind", q, nil, nil)
}

// StreamStatus returns the streamStatus of a liveStream, or "unknown" if the
// stream is not listed.
func (c *Client) StreamStatus(ctx context.Context, streamID string) (string, error) {
	var resp streamList
	q := url.Values{"part": {"status"}, "id": {streamID}}
	if err := c.do(ctx, http.MethodGet, "liveStreams", q, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].Status == nil {
		return broadcast.StatusUnknown, nil
	}
	return resp.Items[0].Status.StreamStatus, nil
}

// BroadcastStatus returns the lifeCycleStatus of a liveBroadcast, or
// "unknown" if the broadcast is not listed.
func (c *Client) BroadcastStatus(ctx context.Context, broadcastID string) (string, error) {
	var resp broadcastList
	q := url.Values{"part": {"status"}, "id": {broadcastID}}
	if err := c.do(ctx, http.MethodGet, "liveBroadcasts", q, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].Status == nil {
		return broadcast.StatusUnknown, nil
	}
	return resp.Items[0].Status.LifeCycleStatus, nil
}

// TransitionBroadcast changes the lifecycle status of a broadcast.
func (c *Client) TransitionBroadcast(ctx context.Context, broadcastID, status string) error {
	q := url.Values{
		"broadcastStatus": {status},
		"id":              {broadcastID},
		"part":            {"id,status"},
	}
	return c.do(ctx, http.MethodPost, "liveBroadcasts/transition", q, nil, nil)
}

// DeleteStream deletes a liveStream.
func (c *Client) DeleteStream(ctx context.Context, streamID string) error {
	return c.do(ctx, http.MethodDelete, "liveStreams", url.Values{"id": {streamID}}, nil, nil)
}

// DeleteBroadcast deletes a liveBroadcast.
func (c *Client) DeleteBroadcast(ctx context.Context, broadcastID string) error {
	return c.do(ctx, http.MethodDelete, "liveBroadcasts", url.Values{"id": {broadcastID}}, nil, nil)
}

// WatchURL returns the public watch page of a broadcast.
func (c *Client) WatchURL(broadcastID string) string {
	return watchURLPrefix + broadcastID
}

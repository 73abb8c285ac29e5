package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
	"golang.org/x/mod/semver"
)

const (
	releasesURL          = "https://api.github.com/repos/oszuidwest/zwfm-livecam/releases/latest"
	versionCheckInterval = 24 * time.Hour
	versionCheckDelay    = 30 * time.Second
	versionCheckTimeout  = 30 * time.Second
	versionMaxAttempts   = 3
	versionRetryDelay    = time.Minute
)

// errRetryLater marks release lookups worth repeating within a cycle.
var errRetryLater = errors.New("release lookup should be retried")

// VersionChecker polls the latest published release of the relay.
// It is safe for concurrent use.
type VersionChecker struct {
	url    string
	client *http.Client

	mu     sync.RWMutex
	latest string
	etag   string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVersionChecker returns a checker for the project's release feed.
func NewVersionChecker() *VersionChecker {
	return &VersionChecker{
		url:    releasesURL,
		client: &http.Client{Timeout: versionCheckTimeout},
	}
}

// Start runs the periodic check in the background until Stop is called.
func (vc *VersionChecker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	vc.cancel = cancel
	vc.done = make(chan struct{})
	go func() {
		defer close(vc.done)
		vc.run(ctx)
	}()
}

// Stop ends the background check and waits for it to return.
func (vc *VersionChecker) Stop() {
	if vc.cancel == nil {
		return
	}
	vc.cancel()
	<-vc.done
}

func (vc *VersionChecker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in version checker", "panic", r)
		}
	}()

	delay := versionCheckDelay
	for util.Sleep(ctx, delay) {
		vc.refresh(ctx)
		delay = versionCheckInterval
	}
}

// refresh performs one check cycle, repeating transient failures.
func (vc *VersionChecker) refresh(ctx context.Context) {
	for attempt := 1; attempt <= versionMaxAttempts; attempt++ {
		err := vc.check(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, errRetryLater) || attempt == versionMaxAttempts {
			slog.Debug("release check failed", "attempt", attempt, "error", err)
			return
		}
		if !util.Sleep(ctx, versionRetryDelay) {
			return
		}
	}
}

type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// check queries the release feed once and records a newer stable tag.
func (vc *VersionChecker) check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, vc.url, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "zwfm-livecam/"+Version)

	vc.mu.RLock()
	if vc.etag != "" {
		req.Header.Set("If-None-Match", vc.etag)
	}
	vc.mu.RUnlock()

	resp, err := vc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errRetryLater, err)
	}
	defer util.SafeCloseFunc(resp.Body, "release response body")()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotModified, resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", errRetryLater, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return util.WrapError("decode release", err)
	}
	if release.Draft || release.Prerelease || release.TagName == "" {
		return nil
	}

	vc.mu.Lock()
	vc.latest = normalizeVersion(release.TagName)
	if etag := resp.Header.Get("ETag"); etag != "" {
		vc.etag = etag
	}
	vc.mu.Unlock()
	return nil
}

// Info reports the running build and whether a newer release exists.
func (vc *VersionChecker) Info() types.VersionInfo {
	vc.mu.RLock()
	latest := vc.latest
	vc.mu.RUnlock()

	current := normalizeVersion(Version)
	info := types.VersionInfo{
		Current:   current,
		Latest:    latest,
		Commit:    Commit,
		BuildTime: util.FormatHumanTime(BuildTime),
	}
	if latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(latest, current)
	}
	return info
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion reports whether latest sorts after current as semver.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RTSP_URL", "rtsp://cam.local:554/stream1")
	t.Setenv("YOUTUBE_CLIENT_ID", "client-id")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "client-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	c, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if c.BroadcastDuration() != 10*time.Hour {
		t.Errorf("BroadcastDuration() = %v", c.BroadcastDuration())
	}
	if c.Broadcast.TitleTemplate != DefaultTitleTemplate || c.Broadcast.Privacy != types.PrivacyPublic {
		t.Errorf("broadcast defaults = %+v", c.Broadcast)
	}
	if c.Source.Transport != types.TransportTCP {
		t.Errorf("transport = %q", c.Source.Transport)
	}
	if c.Retry.MaxAttempts != types.MaxRetryAttempts || c.RetryBackoff() != time.Minute || c.StandbyInterval() != 5*time.Minute {
		t.Errorf("retry defaults = %+v", c.Retry)
	}
	if c.Location() != time.UTC {
		t.Errorf("Location() = %v", c.Location())
	}
	if c.SessionPath() != filepath.Join(DefaultDataDir, "session.json") {
		t.Errorf("SessionPath() = %q", c.SessionPath())
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("RTSP_URL", "")
	t.Setenv("YOUTUBE_CLIENT_ID", "")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "")

	_, err := Load("")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v, want *types.ValidationError", err)
	}
	fields := map[string]bool{}
	for _, e := range verr.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{"source.url", "youtube.client_id", "youtube.client_secret"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s; got %v", want, verr.Errors)
		}
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRIVACY_STATUS", "Unlisted")
	t.Setenv("STREAM_DURATION_HOURS", "1.5")

	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		"source": {"url": "rtsp://file.local/s", "transport": "udp"},
		"broadcast": {"title_template": "From file {date}", "privacy": "private", "timezone": "Europe/Amsterdam"},
		"storage": {"s3": {"bucket": "livecam"}},
		"system": {"status_addr": ":9090"}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if c.Source.URL != "rtsp://cam.local:554/stream1" {
		t.Errorf("env should override file URL, got %q", c.Source.URL)
	}
	if c.Source.Transport != types.TransportUDP {
		t.Errorf("transport = %q, want udp from file", c.Source.Transport)
	}
	if c.Broadcast.Privacy != types.PrivacyUnlisted {
		t.Errorf("privacy = %q, want unlisted", c.Broadcast.Privacy)
	}
	if c.BroadcastDuration() != 90*time.Minute {
		t.Errorf("duration = %v", c.BroadcastDuration())
	}
	if c.Broadcast.TitleTemplate != "From file {date}" {
		t.Errorf("title template = %q", c.Broadcast.TitleTemplate)
	}
	if c.Location().String() != "Europe/Amsterdam" {
		t.Errorf("location = %v", c.Location())
	}
	if !c.HasS3() || c.Storage.S3.Key != DefaultS3Key {
		t.Errorf("s3 = %+v", c.Storage.S3)
	}
	if c.System.StatusAddr != ":9090" {
		t.Errorf("status addr = %q", c.System.StatusAddr)
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("RTSP_URL", "")
	t.Setenv("YOUTUBE_CLIENT_ID", "")
	t.Setenv("YOUTUBE_CLIENT_SECRET", "")
	os.Unsetenv("RTSP_URL")
	os.Unsetenv("YOUTUBE_CLIENT_ID")
	os.Unsetenv("YOUTUBE_CLIENT_SECRET")

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "RTSP_URL=rtsp://dotenv.local/s\nYOUTUBE_CLIENT_ID=id\nYOUTUBE_CLIENT_SECRET=secret\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load("", envFile, filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if c.Source.URL != "rtsp://dotenv.local/s" {
		t.Errorf("URL = %q", c.Source.URL)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRIVACY_STATUS", "friends-only")
	t.Setenv("MAX_RETRY_ATTEMPTS", "three")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	t.Setenv("RTSP_TRANSPORT", "sctp")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{
		"broadcast.privacy must be one of: public unlisted private",
		"MAX_RETRY_ATTEMPTS must be an integer",
		"broadcast.timezone must be a valid IANA time zone",
		"source.transport must be one of",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "failed to parse config") {
		t.Fatalf("Load() = %v", err)
	}
}

func TestPartialEmailConfigRejected(t *testing.T) {
	setRequiredEnv(t)
	c := New("")
	c.Source.URL = "rtsp://cam/s"
	c.YouTube = YouTubeConfig{ClientID: "a", ClientSecret: "b"}
	c.Notifications.Email.ClientID = "graph-client"

	verr := types.NewValidationError()
	c.validate(verr)
	if !verr.HasErrors() || !strings.Contains(verr.Error(), "notifications.email") {
		t.Fatalf("validate() = %v", verr)
	}
}

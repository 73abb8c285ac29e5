// Package config provides application configuration management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Time zones on hosts without zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultDurationHours       = 10.0
	DefaultTitleTemplate       = "Camera Live - {datetime}"
	DefaultDescription         = "24/7 Camera Livestream"
	DefaultTimezone            = "UTC"
	DefaultCheckTimeoutSeconds = 60
	DefaultProbeTimeoutSeconds = 10
	DefaultReconnectDelaySecs  = 5
	DefaultRetryBackoffSecs    = 60
	DefaultStandbyMinutes      = 5
	DefaultDataDir             = "data"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultS3Key               = "livecam/session.json"
)

// SourceConfig holds the camera feed settings.
type SourceConfig struct {
	URL                 string              `json:"url" validate:"required,url"`
	Transport           types.TransportMode `json:"transport" validate:"oneof=tcp udp http"`
	CheckTimeoutSeconds int                 `json:"check_timeout_seconds" validate:"gte=1,lte=3600"` // Pre-flight wait for the source
	ProbeTimeoutSeconds int                 `json:"probe_timeout_seconds" validate:"gte=1,lte=120"`  // Single availability probe
}

// YouTubeConfig holds the OAuth client used for the YouTube Data API.
type YouTubeConfig struct {
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	RefreshToken string `json:"refresh_token"` // Used when no token file exists yet
}

// BroadcastConfig holds the settings of each broadcast created.
type BroadcastConfig struct {
	DurationHours float64 `json:"duration_hours" validate:"gt=0,lte=12"`
	TitleTemplate string  `json:"title_template" validate:"required,max=100"`
	Description   string  `json:"description" validate:"max=5000"`
	Privacy       string  `json:"privacy" validate:"oneof=public unlisted private"`
	Timezone      string  `json:"timezone" validate:"required"`
}

// RelayConfig holds ffmpeg relay settings.
type RelayConfig struct {
	FFmpegPath            string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	ReconnectDelaySeconds int    `json:"reconnect_delay_seconds" validate:"gte=0,lte=300"`
}

// RetryConfig holds the session start retry and standby settings.
type RetryConfig struct {
	MaxAttempts    int `json:"max_attempts" validate:"gte=1,lte=50"`
	BackoffSeconds int `json:"backoff_seconds" validate:"gte=1,lte=3600"`
	StandbyMinutes int `json:"standby_minutes" validate:"gte=1,lte=1440"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig      `json:"webhook"`
	Email   types.GraphConfig  `json:"email"`
	Zabbix  types.ZabbixConfig `json:"zabbix"`
}

// S3Config holds the optional S3 location of the session record.
type S3Config struct {
	Bucket          string `json:"bucket"`
	Key             string `json:"key"`
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// StorageConfig holds the location of persisted state.
type StorageConfig struct {
	DataDir string   `json:"data_dir" validate:"required"`
	S3      S3Config `json:"s3"`
}

// SystemConfig holds process-level settings.
type SystemConfig struct {
	LogLevel   string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat  string `json:"log_format" validate:"oneof=json text"`
	StatusAddr string `json:"status_addr"` // Status server listen address (empty = disabled)
}

// Config holds all application configuration.
type Config struct {
	Source        SourceConfig        `json:"source"`
	YouTube       YouTubeConfig       `json:"youtube"`
	Broadcast     BroadcastConfig     `json:"broadcast"`
	Relay         RelayConfig         `json:"relay"`
	Retry         RetryConfig         `json:"retry"`
	Notifications NotificationsConfig `json:"notifications"`
	Storage       StorageConfig       `json:"storage"`
	System        SystemConfig        `json:"system"`

	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		Source: SourceConfig{
			Transport:           types.TransportTCP,
			CheckTimeoutSeconds: DefaultCheckTimeoutSeconds,
			ProbeTimeoutSeconds: DefaultProbeTimeoutSeconds,
		},
		Broadcast: BroadcastConfig{
			DurationHours: DefaultDurationHours,
			TitleTemplate: DefaultTitleTemplate,
			Description:   DefaultDescription,
			Privacy:       types.PrivacyPublic,
			Timezone:      DefaultTimezone,
		},
		Relay: RelayConfig{ReconnectDelaySeconds: DefaultReconnectDelaySecs},
		Retry: RetryConfig{
			MaxAttempts:    types.MaxRetryAttempts,
			BackoffSeconds: DefaultRetryBackoffSecs,
			StandbyMinutes: DefaultStandbyMinutes,
		},
		Storage: StorageConfig{DataDir: DefaultDataDir},
		System: SystemConfig{
			LogLevel:  DefaultLogLevel,
			LogFormat: DefaultLogFormat,
		},
		filePath: filePath,
	}
}

// Load builds the configuration from the JSON file at filePath (optional),
// the given .env files (optional) and the process environment, in increasing
// order of precedence, then validates it.
func Load(filePath string, envFiles ...string) (*Config, error) {
	c := New(filePath)

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, util.WrapError("read config", err)
		default:
			if err := json.Unmarshal(data, c); err != nil {
				return nil, util.WrapError("parse config", err)
			}
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, util.WrapError("load "+f, err)
		}
	}

	verr := types.NewValidationError()
	c.applyEnv(os.Getenv, verr)
	c.applyDefaults()
	c.validate(verr)
	if verr.HasErrors() {
		return nil, verr
	}
	return c, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(getenv func(string) string, verr *types.ValidationError) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				verr.Add(key, "must be an integer", v)
				return
			}
			*dst = n
		}
	}

	str("RTSP_URL", &c.Source.URL)
	if v := getenv("RTSP_TRANSPORT"); v != "" {
		c.Source.Transport = types.TransportMode(strings.ToLower(v))
	}
	num("RTSP_CHECK_TIMEOUT", &c.Source.CheckTimeoutSeconds)

	str("YOUTUBE_CLIENT_ID", &c.YouTube.ClientID)
	str("YOUTUBE_CLIENT_SECRET", &c.YouTube.ClientSecret)
	str("YOUTUBE_REFRESH_TOKEN", &c.YouTube.RefreshToken)

	if v := getenv("STREAM_DURATION_HOURS"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			verr.Add("STREAM_DURATION_HOURS", "must be a number", v)
		} else {
			c.Broadcast.DurationHours = h
		}
	}
	str("STREAM_TITLE_TEMPLATE", &c.Broadcast.TitleTemplate)
	str("STREAM_DESCRIPTION", &c.Broadcast.Description)
	if v := getenv("PRIVACY_STATUS"); v != "" {
		c.Broadcast.Privacy = strings.ToLower(v)
	}
	str("TIMEZONE", &c.Broadcast.Timezone)

	str("FFMPEG_PATH", &c.Relay.FFmpegPath)
	num("RECONNECT_DELAY", &c.Relay.ReconnectDelaySeconds)
	num("MAX_RETRY_ATTEMPTS", &c.Retry.MaxAttempts)

	str("WEBHOOK_URL", &c.Notifications.Webhook.URL)

	str("DATA_DIR", &c.Storage.DataDir)
	str("S3_BUCKET", &c.Storage.S3.Bucket)
	str("S3_KEY", &c.Storage.S3.Key)
	str("S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("S3_REGION", &c.Storage.S3.Region)
	str("S3_ACCESS_KEY_ID", &c.Storage.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.Storage.S3.SecretAccessKey)

	if v := getenv("LOG_LEVEL"); v != "" {
		c.System.LogLevel = strings.ToLower(v)
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.System.LogFormat = strings.ToLower(v)
	}
	str("STATUS_ADDR", &c.System.StatusAddr)
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Source.Transport == "" {
		c.Source.Transport = types.TransportTCP
	}
	if c.Source.CheckTimeoutSeconds == 0 {
		c.Source.CheckTimeoutSeconds = DefaultCheckTimeoutSeconds
	}
	if c.Source.ProbeTimeoutSeconds == 0 {
		c.Source.ProbeTimeoutSeconds = DefaultProbeTimeoutSeconds
	}
	if c.Broadcast.DurationHours == 0 {
		c.Broadcast.DurationHours = DefaultDurationHours
	}
	if c.Broadcast.TitleTemplate == "" {
		c.Broadcast.TitleTemplate = DefaultTitleTemplate
	}
	if c.Broadcast.Privacy == "" {
		c.Broadcast.Privacy = types.PrivacyPublic
	}
	if c.Broadcast.Timezone == "" {
		c.Broadcast.Timezone = DefaultTimezone
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = types.MaxRetryAttempts
	}
	if c.Retry.BackoffSeconds == 0 {
		c.Retry.BackoffSeconds = DefaultRetryBackoffSecs
	}
	if c.Retry.StandbyMinutes == 0 {
		c.Retry.StandbyMinutes = DefaultStandbyMinutes
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	if c.Storage.S3.Bucket != "" && c.Storage.S3.Key == "" {
		c.Storage.S3.Key = DefaultS3Key
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = DefaultLogLevel
	}
	if c.System.LogFormat == "" {
		c.System.LogFormat = DefaultLogFormat
	}
}

// validate checks all configuration fields for correctness.
func (c *Config) validate(verr *types.ValidationError) {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			verr.Add("", err.Error(), nil)
			return
		}
		for _, e := range fieldErrs {
			verr.Add(fieldPath(e), formatValidationMessage(e), e.Value())
		}
	}

	if _, err := time.LoadLocation(c.Broadcast.Timezone); err != nil {
		verr.Add("broadcast.timezone", "must be a valid IANA time zone", c.Broadcast.Timezone)
	}
	if c.Notifications.Email.ClientID != "" && !util.IsConfigured(
		c.Notifications.Email.TenantID,
		c.Notifications.Email.ClientSecret,
		c.Notifications.Email.FromAddress,
		c.Notifications.Email.Recipients,
	) {
		verr.Add("notifications.email", "requires tenant_id, client_secret, from_address and recipients", nil)
	}
}

// validate is the shared validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// fieldPath returns the dotted JSON path of a field without the root type.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// FilePath returns the configuration file path.
func (c *Config) FilePath() string {
	return c.filePath
}

// Location returns the broadcast time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Broadcast.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// BroadcastDuration returns the maximum length of one broadcast.
func (c *Config) BroadcastDuration() time.Duration {
	return time.Duration(c.Broadcast.DurationHours * float64(time.Hour))
}

// SourceWaitTimeout returns the pre-flight wait for the source.
func (c *Config) SourceWaitTimeout() time.Duration {
	return time.Duration(c.Source.CheckTimeoutSeconds) * time.Second
}

// ProbeTimeout returns the timeout of a single source probe.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Source.ProbeTimeoutSeconds) * time.Second
}

// ReconnectDelay returns the relay restart delay.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Relay.ReconnectDelaySeconds) * time.Second
}

// RetryBackoff returns the pause between session start attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Retry.BackoffSeconds) * time.Second
}

// StandbyInterval returns the standby polling interval.
func (c *Config) StandbyInterval() time.Duration {
	return time.Duration(c.Retry.StandbyMinutes) * time.Minute
}

// TokenPath returns the OAuth token file path.
func (c *Config) TokenPath() string {
	return filepath.Join(c.Storage.DataDir, "token.json")
}

// SessionPath returns the session record path.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Storage.DataDir, "session.json")
}

// EventLogPath returns the event log path.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.Storage.DataDir, "events.jsonl")
}

// HasS3 reports whether the session record is kept in S3.
func (c *Config) HasS3() bool {
	return c.Storage.S3.Bucket != ""
}

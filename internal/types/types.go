// Package types provides shared type definitions used across the relay service.
package types

import (
	"time"
)

// RelayState represents the current state of the media relay process.
type RelayState string

const (
	// RelayStopped indicates no relay process exists.
	RelayStopped RelayState = "stopped"
	// RelayStarting indicates the relay is launched but not yet confirmed alive.
	RelayStarting RelayState = "starting"
	// RelayRunning indicates the relay is confirmed alive and monitored.
	RelayRunning RelayState = "running"
	// RelayStopping indicates graceful shutdown in progress.
	RelayStopping RelayState = "stopping"
	// RelayCrashed indicates the relay failed to launch or exited unexpectedly.
	RelayCrashed RelayState = "crashed"
)

// SchedulerState represents the state of the rotation countdown.
type SchedulerState string

const (
	// SchedulerIdle indicates no countdown is active.
	SchedulerIdle SchedulerState = "idle"
	// SchedulerStreaming indicates a countdown is running for the current broadcast.
	SchedulerStreaming SchedulerState = "streaming"
	// SchedulerRotating indicates the countdown expired and rotation was requested.
	SchedulerRotating SchedulerState = "rotating"
	// SchedulerStopping indicates the countdown is being cancelled.
	SchedulerStopping SchedulerState = "stopping"
)

// TransportMode selects the RTSP lower transport used to read the source.
type TransportMode string

// Supported RTSP transports.
const (
	TransportTCP  TransportMode = "tcp"
	TransportUDP  TransportMode = "udp"
	TransportHTTP TransportMode = "http"
)

// Privacy levels accepted by the broadcast platform.
const (
	PrivacyPublic   = "public"
	PrivacyUnlisted = "unlisted"
	PrivacyPrivate  = "private"
)

// Session is the live identity of one broadcast attempt.
// IngestID, BroadcastID and IngestURL are provisioned together; a partially
// provisioned session keeps whatever the platform already created.
type Session struct {
	IngestID    string    `json:"ingest_id"`
	BroadcastID string    `json:"broadcast_id"`
	IngestURL   string    `json:"ingest_url"`
	Bound       bool      `json:"bound,omitempty"`
	StartedAt   time.Time `json:"-"`
	Ordinal     int       `json:"-"`
}

// Complete reports whether the session can feed a relay.
func (s *Session) Complete() bool {
	return s != nil && s.IngestID != "" && s.BroadcastID != "" && s.IngestURL != "" && s.Bound
}

// Relay timing defaults.
const (
	// StartConfirmWindow is how long a freshly launched relay must survive.
	StartConfirmWindow = 3000 * time.Millisecond
	// MonitorInterval is the liveness polling interval of the relay monitor.
	MonitorInterval = 2000 * time.Millisecond
	// CrashConfirmations is the number of consecutive failed checks that declare a crash.
	CrashConfirmations = 2
	// StopTimeout is the default graceful stop budget.
	StopTimeout = 10000 * time.Millisecond
	// KillDelay is the wait between the terminate signal and a forced kill.
	KillDelay = 2000 * time.Millisecond
	// ReconnectDelay is the default pause between stop and start on restart.
	ReconnectDelay = 5000 * time.Millisecond
)

// Scheduler timing defaults.
const (
	// CountdownInterval is the polling interval of the rotation countdown.
	CountdownInterval = 1000 * time.Millisecond
	// CountdownJoinTimeout bounds how long StopTimer waits for the countdown.
	CountdownJoinTimeout = 5000 * time.Millisecond
	// ProgressLogInterval is how often countdown progress is logged.
	ProgressLogInterval = 30 * time.Minute
)

// Orchestrator timing defaults.
const (
	// MaxRetryAttempts is the default number of session start attempts.
	MaxRetryAttempts = 3
	// RetryBackoff is the pause between session start attempts.
	RetryBackoff = 60 * time.Second
	// StandbyInterval is the polling interval of the standby loop.
	StandbyInterval = 5 * time.Minute
	// StatusInterval is the period of the monitoring loop.
	StatusInterval = 5 * time.Minute
	// SourceWaitTimeout bounds the pre-flight wait for the source.
	SourceWaitTimeout = 60 * time.Second
	// SourceProbeTimeout bounds a single source probe.
	SourceProbeTimeout = 10 * time.Second
	// SourcePollInterval is the pause between pre-flight probes.
	SourcePollInterval = 5 * time.Second
	// IngestWait bounds the wait for the ingest target to report active.
	IngestWait = 2 * time.Minute
	// IngestGrace is how long a soft ingest status is tolerated before proceeding.
	IngestGrace = 30 * time.Second
	// IngestPollInterval is the pause between ingest status queries.
	IngestPollInterval = 5 * time.Second
	// CrashRestartDelay is the pause before restarting a crashed relay.
	CrashRestartDelay = 5 * time.Second
	// RotationGrace lets the platform ingest trailing data before completion.
	RotationGrace = 10 * time.Second
	// RotationPause is the pause between completing and provisioning broadcasts.
	RotationPause = 10 * time.Second
	// CompleteAttempts is the number of tries to complete a broadcast.
	CompleteAttempts = 3
	// CompleteRetryDelay is the pause between completion tries.
	CompleteRetryDelay = 5 * time.Second
	// ShutdownTimeout bounds the cleanup performed on shutdown.
	ShutdownTimeout = 30 * time.Second
)

const (
	// PollInterval is the interval for polling process state.
	PollInterval = 50 * time.Millisecond
)

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server string `json:"server,omitempty"`
	Port   int    `json:"port,omitempty"`
	Host   string `json:"host,omitempty"`
	Key    string `json:"key,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

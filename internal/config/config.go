// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultServerURL     = "http://localhost:8000"
	DefaultStatusListen  = "127.0.0.1:8765"
	DefaultUploadQueue   = 8
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultArchiveRegion = "auto"
	DefaultArchivePrefix = "segments/"
)

// validate is the shared validator instance for configuration validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names so errors point at the config file keys.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// ServerConfig holds the coordination server endpoint.
type ServerConfig struct {
	BaseURL            string `json:"base_url" validate:"required,url"` // HTTP(S) base; websocket URLs are derived from it
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`             // Disable TLS verification (development only)
}

// MeetingConfig holds the meeting to join when none is given on the command line.
type MeetingConfig struct {
	ID string `json:"id" validate:"omitempty,max=128"`
}

// OAuthConfig holds optional OAuth2 client credentials.
type OAuthConfig struct {
	TokenURL     string   `json:"token_url" validate:"omitempty,url"`
	ClientID     string   `json:"client_id" validate:"omitempty,max=256"`
	ClientSecret string   `json:"client_secret" validate:"omitempty,max=512"`
	Scopes       []string `json:"scopes"`
}

// AuthConfig holds credentials issued by the web application.
type AuthConfig struct {
	CSRFToken     string      `json:"csrf_token" validate:"omitempty,max=512"`
	SessionCookie string      `json:"session_cookie" validate:"omitempty,max=4096"` // Raw Cookie header value
	OAuth         OAuthConfig `json:"oauth"`
}

// AudioConfig holds audio input device and processing settings.
type AudioConfig struct {
	Input            string `json:"input"`       // Audio input device identifier (empty = platform default)
	FFmpegPath       string `json:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
	EchoCancellation *bool  `json:"echo_cancellation,omitempty"`
	NoiseSuppression *bool  `json:"noise_suppression,omitempty"`
	AutoGain         *bool  `json:"auto_gain,omitempty"`
}

// RecordingConfig holds capture pipeline settings.
type RecordingConfig struct {
	SegmentMs       int64  `json:"segment_ms" validate:"gte=1000,lte=60000"`
	QueueSize       int    `json:"queue_size" validate:"gte=1,lte=256"`
	TempDir         string `json:"temp_dir"`          // Segment spool directory (empty = OS temp dir)
	StopWhenPassive bool   `json:"stop_when_passive"` // Stop capture on a passive assignment instead of tagging uploads
	AutoStart       bool   `json:"auto_start"`        // Start capture as soon as the meeting channel is open
}

// QualityConfig holds quality analyzer settings.
type QualityConfig struct {
	IntervalMs int64 `json:"interval_ms" validate:"gte=250,lte=60000"`
}

// ConnectionConfig holds channel connection and reconnect settings.
type ConnectionConfig struct {
	ConnectTimeoutMs int64 `json:"connect_timeout_ms" validate:"gte=1000,lte=120000"`
	MaxAttempts      int   `json:"max_attempts" validate:"gte=0,lte=50"`
	BaseDelayMs      int64 `json:"base_delay_ms" validate:"gte=100,lte=60000"`
}

// ArchiveConfig holds the optional S3 mirror for uploaded segments.
type ArchiveConfig struct {
	Endpoint        string `json:"endpoint" validate:"omitempty,url"`
	Region          string `json:"region" validate:"omitempty,max=64"`
	Bucket          string `json:"bucket" validate:"omitempty,max=63"`
	Prefix          string `json:"prefix" validate:"omitempty,max=512"`
	AccessKeyID     string `json:"access_key_id" validate:"omitempty,max=128"`
	SecretAccessKey string `json:"secret_access_key" validate:"omitempty,max=256"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// NotificationsConfig holds alert channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
}

// StatusConfig holds the local status server settings.
type StatusConfig struct {
	Listen   string `json:"listen" validate:"omitempty,hostname_port"`
	Disabled bool   `json:"disabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level        string `json:"level" validate:"oneof=debug info warn error"`
	Format       string `json:"format" validate:"oneof=text json"`
	EventLogPath string `json:"event_log_path"` // JSON-lines event journal (empty = disabled)
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Meeting       MeetingConfig       `json:"meeting"`
	Auth          AuthConfig          `json:"auth"`
	Audio         AudioConfig         `json:"audio"`
	Recording     RecordingConfig     `json:"recording"`
	Quality       QualityConfig       `json:"quality"`
	Connection    ConnectionConfig    `json:"connection"`
	Archive       ArchiveConfig       `json:"archive"`
	Notifications NotificationsConfig `json:"notifications"`
	Status        StatusConfig        `json:"status"`
	Log           LogConfig           `json:"log"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields against their struct tags and
// rejects configured file paths that climb out of their directory.
func (c *Config) validate() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			verr.Add("", err.Error(), nil)
			return verr
		}
		for _, e := range fieldErrs {
			// Namespace is "Config.section.field"; drop the root type name.
			field := e.Namespace()
			if _, rest, ok := strings.Cut(field, "."); ok {
				field = rest
			}
			verr.Add(field, validationMessage(e), e.Value())
		}
	}

	for _, p := range []struct{ field, path string }{
		{"recording.temp_dir", c.Recording.TempDir},
		{"log.event_log_path", c.Log.EventLogPath},
	} {
		if p.path == "" {
			continue
		}
		if err := util.ValidatePath(p.field, p.path); err != nil {
			verr.Add(p.field, strings.TrimPrefix(err.Error(), p.field+": "), p.path)
		}
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// validationMessage creates a human-readable message from a validator error.
func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	c.Server.BaseURL = cmp.Or(c.Server.BaseURL, DefaultServerURL)

	c.Recording.SegmentMs = cmp.Or(c.Recording.SegmentMs, types.SegmentDuration.Milliseconds())
	c.Recording.QueueSize = cmp.Or(c.Recording.QueueSize, DefaultUploadQueue)

	c.Quality.IntervalMs = cmp.Or(c.Quality.IntervalMs, types.QualityInterval.Milliseconds())

	c.Connection.ConnectTimeoutMs = cmp.Or(c.Connection.ConnectTimeoutMs, types.ConnectTimeout.Milliseconds())
	c.Connection.BaseDelayMs = cmp.Or(c.Connection.BaseDelayMs, types.ReconnectBaseDelay.Milliseconds())
	if c.Connection.MaxAttempts == 0 {
		c.Connection.MaxAttempts = types.MaxReconnectAttempts
	}

	c.Archive.Region = cmp.Or(c.Archive.Region, DefaultArchiveRegion)
	c.Archive.Prefix = cmp.Or(c.Archive.Prefix, DefaultArchivePrefix)

	if !c.Status.Disabled {
		c.Status.Listen = cmp.Or(c.Status.Listen, DefaultStatusListen)
	}

	c.Log.Level = cmp.Or(c.Log.Level, DefaultLogLevel)
	c.Log.Format = cmp.Or(c.Log.Format, DefaultLogFormat)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Getters and setters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetMeetingID updates the default meeting and saves the configuration.
func (c *Config) SetMeetingID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Meeting.ID = id
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values with units resolved.
type Snapshot struct {
	// Server
	ServerURL          string
	InsecureSkipVerify bool
	MeetingID          string

	// Auth
	CSRFToken         string
	SessionCookie     string
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       []string

	// Audio
	AudioInput       string
	FFmpegPath       string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool

	// Recording
	SegmentDuration time.Duration
	UploadQueueSize int
	TempDir         string
	StopWhenPassive bool
	AutoStart       bool

	// Quality
	QualityInterval time.Duration

	// Connection
	ConnectTimeout time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration

	// Archive
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveAccessKey string
	ArchiveSecretKey string

	// Notifications
	WebhookURL string

	// Status server
	StatusListen string

	// Logging
	LogLevel     string
	LogFormat    string
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	listen := c.Status.Listen
	if c.Status.Disabled {
		listen = ""
	}

	return Snapshot{
		ServerURL:          strings.TrimRight(c.Server.BaseURL, "/"),
		InsecureSkipVerify: c.Server.InsecureSkipVerify,
		MeetingID:          c.Meeting.ID,

		CSRFToken:         c.Auth.CSRFToken,
		SessionCookie:     c.Auth.SessionCookie,
		OAuthTokenURL:     c.Auth.OAuth.TokenURL,
		OAuthClientID:     c.Auth.OAuth.ClientID,
		OAuthClientSecret: c.Auth.OAuth.ClientSecret,
		OAuthScopes:       slices.Clone(c.Auth.OAuth.Scopes),

		AudioInput:       c.Audio.Input,
		FFmpegPath:       c.Audio.FFmpegPath,
		EchoCancellation: boolOr(c.Audio.EchoCancellation, true),
		NoiseSuppression: boolOr(c.Audio.NoiseSuppression, true),
		AutoGain:         boolOr(c.Audio.AutoGain, true),

		SegmentDuration: time.Duration(c.Recording.SegmentMs) * time.Millisecond,
		UploadQueueSize: c.Recording.QueueSize,
		TempDir:         cmp.Or(c.Recording.TempDir, os.TempDir()),
		StopWhenPassive: c.Recording.StopWhenPassive,
		AutoStart:       c.Recording.AutoStart,

		QualityInterval: time.Duration(c.Quality.IntervalMs) * time.Millisecond,

		ConnectTimeout: time.Duration(c.Connection.ConnectTimeoutMs) * time.Millisecond,
		MaxAttempts:    c.Connection.MaxAttempts,
		BaseDelay:      time.Duration(c.Connection.BaseDelayMs) * time.Millisecond,

		ArchiveEndpoint:  c.Archive.Endpoint,
		ArchiveRegion:    c.Archive.Region,
		ArchiveBucket:    c.Archive.Bucket,
		ArchivePrefix:    c.Archive.Prefix,
		ArchiveAccessKey: c.Archive.AccessKeyID,
		ArchiveSecretKey: c.Archive.SecretAccessKey,

		WebhookURL: c.Notifications.Webhook.URL,

		StatusListen: listen,

		LogLevel:     c.Log.Level,
		LogFormat:    c.Log.Format,
		EventLogPath: c.Log.EventLogPath,
	}
}

// HasOAuth reports whether OAuth2 client credentials are configured.
func (s *Snapshot) HasOAuth() bool {
	return util.IsConfigured(s.OAuthTokenURL, s.OAuthClientID, s.OAuthClientSecret)
}

// HasArchive reports whether the S3 segment archive is configured.
func (s *Snapshot) HasArchive() bool {
	return util.IsConfigured(s.ArchiveBucket, s.ArchiveAccessKey, s.ArchiveSecretKey)
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasEventLog reports whether the event journal is enabled.
func (s *Snapshot) HasEventLog() bool {
	return s.EventLogPath != ""
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

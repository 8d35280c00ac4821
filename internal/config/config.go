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
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/audio"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/engine"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/noisefloor"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/recording"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort             = 8080
	DefaultStationName         = "ZuidWest FM"
	DefaultSampleRate          = 48000
	DefaultTickIntervalMs      = 250
	DefaultWindowMs            = 750
	DefaultHistorySize         = 240 // one minute of readings at 4 Hz
	DefaultMarginDB            = noisefloor.DefaultMarginDB
	DefaultFallbackThresholdDB = -40.0
	DefaultFallbackFloorDB     = -60.0
	DefaultDebounceMs          = 750
	DefaultHoldMs              = 30000
	DefaultPrerollMs           = 5000
	DefaultPeakHoldMs          = 3000
	DefaultRecordingPath       = "recordings"
	DefaultTelemetryIntervalMs = 10000
	DefaultZabbixPort          = 10051
	DefaultZabbixKeyPrefix     = "noisetrigger"
)

// minHistory is the shortest audio history kept in memory.
const minHistory = 30 * time.Second

// stationNamePattern rejects control characters, which would allow header
// injection in notification emails.
var stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// SystemConfig holds system-level settings.
type SystemConfig struct {
	Port         int    `json:"port" validate:"gte=1,lte=65535"`                     // HTTP server port
	APIKey       string `json:"api_key" validate:"omitempty,min=16,max=128"`         // Required X-API-Key header, empty disables auth
	StationName  string `json:"station_name" validate:"required,max=30,stationname"` // Name used in notifications
	EventLogPath string `json:"event_log_path"`                                      // Event log file, empty for the platform default
}

// AudioConfig selects the sample source.
type AudioConfig struct {
	Source     string `json:"source" validate:"oneof=device wav synthetic"`
	Input      string `json:"input"` // Capture device ID or name, empty for the default device
	SampleRate int    `json:"sample_rate" validate:"gte=8000,lte=192000"`
	WAVPath    string `json:"wav_path" validate:"required_if=Source wav"`
}

// DetectionConfig holds the metering, noise floor and trigger parameters.
type DetectionConfig struct {
	TickIntervalMs      int     `json:"tick_interval_ms" validate:"gte=10,lte=5000"`
	WindowMs            int     `json:"window_ms" validate:"gte=10,lte=10000"`
	HistorySize         int     `json:"history_size" validate:"gte=2,lte=100000"`
	MarginDB            float64 `json:"margin_db" validate:"gte=0,lte=60"`
	FallbackThresholdDB float64 `json:"fallback_threshold_db" validate:"gte=-120,lte=0"`
	FallbackFloorDB     float64 `json:"fallback_floor_db" validate:"gte=-120,lte=0"`
	DebounceMs          int     `json:"debounce_ms" validate:"gte=0,lte=60000"`
	HoldMs              int     `json:"hold_ms" validate:"gte=1,lte=3600000"`
	PrerollMs           int     `json:"preroll_ms" validate:"gte=0,lte=60000"`
	PeakHoldMs          int     `json:"peak_hold_ms" validate:"gte=0,lte=60000"`
	MaxDurationMinutes  int     `json:"max_duration_minutes" validate:"gte=0,lte=1440"` // Zero keeps recordings in one file
}

// RecordingConfig holds where and how recordings are stored.
type RecordingConfig struct {
	Path          string             `json:"path" validate:"required"`
	Prefix        string             `json:"prefix" validate:"omitempty,max=64,excludesall=/\\"`
	Format        string             `json:"format" validate:"oneof=wav flac"`
	StorageMode   string             `json:"storage_mode" validate:"oneof=local s3 both"`
	RetentionDays int                `json:"retention_days" validate:"gte=0,lte=3650"` // Zero keeps recordings forever
	S3            recording.S3Config `json:"s3"`
}

// TelemetryConfig holds the periodic status publisher settings.
type TelemetryConfig struct {
	IntervalMs      int    `json:"interval_ms" validate:"gte=1000,lte=3600000"`
	ZabbixKeyPrefix string `json:"zabbix_key_prefix" validate:"max=200"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" validate:"omitempty,max=253"`
	Port   int    `json:"port" validate:"gte=1,lte=65535"`
	Host   string `json:"host" validate:"omitempty,max=253"`
	Key    string `json:"key" validate:"omitempty,max=256"` // Item key for recording events
}

// LogConfig holds log file notification settings.
type LogConfig struct {
	Path string `json:"path" validate:"omitempty,max=4096"`
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"`
	FromAddress  string `json:"from_address" validate:"omitempty,email,max=254"`
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Zabbix  ZabbixConfig  `json:"zabbix"`
	Log     LogConfig     `json:"log"`
	Email   EmailConfig   `json:"email"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Audio         AudioConfig         `json:"audio"`
	Detection     DetectionConfig     `json:"detection"`
	Recording     RecordingConfig     `json:"recording"`
	Telemetry     TelemetryConfig     `json:"telemetry"`
	Notifications NotificationsConfig `json:"notifications"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.setDefaults()
	return c
}

// Path returns the file the configuration is loaded from.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	// Fields missing from the file keep their defaults; explicit zeros stay zero.
	c.setDefaults()
	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("stationname", func(fl validator.FieldLevel) bool {
		return stationNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// validate checks all configuration fields and reports them by JSON path.
func (c *Config) validate() error {
	verr := types.NewValidationError()

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return util.WrapError("validate config", err)
		}
		for _, e := range fieldErrs {
			verr.Add(fieldPath(e.Namespace()), formatValidationMessage(e), e.Value())
		}
	}

	if c.Recording.StorageMode != string(recording.StorageLocal) && !c.Recording.S3.IsConfigured() {
		verr.Add("recording.s3", "must have bucket and credentials when storage_mode is "+c.Recording.StorageMode, nil)
	}
	if c.Detection.WindowMs > int(c.history()/time.Millisecond) {
		verr.Add("detection.window_ms", "must not exceed the audio history", c.Detection.WindowMs)
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	_, rest, found := strings.Cut(ns, ".")
	if !found {
		return ns
	}
	return rest
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "stationname":
		return "must not contain control characters"
	case "excludesall":
		return "must not contain path separators"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

// setDefaults resets every section to its default values.
func (c *Config) setDefaults() {
	c.System = SystemConfig{
		Port:        DefaultWebPort,
		StationName: DefaultStationName,
	}
	c.Audio = AudioConfig{
		Source:     string(audio.SourceDevice),
		SampleRate: DefaultSampleRate,
	}
	c.Detection = DetectionConfig{
		TickIntervalMs:      DefaultTickIntervalMs,
		WindowMs:            DefaultWindowMs,
		HistorySize:         DefaultHistorySize,
		MarginDB:            DefaultMarginDB,
		FallbackThresholdDB: DefaultFallbackThresholdDB,
		FallbackFloorDB:     DefaultFallbackFloorDB,
		DebounceMs:          DefaultDebounceMs,
		HoldMs:              DefaultHoldMs,
		PrerollMs:           DefaultPrerollMs,
		PeakHoldMs:          DefaultPeakHoldMs,
	}
	c.Recording = RecordingConfig{
		Path:        DefaultRecordingPath,
		Prefix:      recording.DefaultPrefix,
		Format:      string(recording.FormatWAV),
		StorageMode: string(recording.StorageLocal),
		S3:          recording.S3Config{Prefix: recording.DefaultS3Prefix},
	}
	c.Telemetry = TelemetryConfig{
		IntervalMs:      DefaultTelemetryIntervalMs,
		ZabbixKeyPrefix: DefaultZabbixKeyPrefix,
	}
	c.Notifications = NotificationsConfig{
		Zabbix: ZabbixConfig{Port: DefaultZabbixPort},
	}
}

// applyDefaults replaces explicit zero values that are never valid, such as
// an empty recording format or a zero port. Fields where zero is meaningful
// (margin, debounce, hold, pre-roll, fallbacks) are left alone.
func (c *Config) applyDefaults() {
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	c.System.StationName = cmp.Or(c.System.StationName, DefaultStationName)

	c.Audio.Source = cmp.Or(c.Audio.Source, string(audio.SourceDevice))
	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, DefaultSampleRate)

	d := &c.Detection
	d.TickIntervalMs = cmp.Or(d.TickIntervalMs, DefaultTickIntervalMs)
	d.WindowMs = cmp.Or(d.WindowMs, DefaultWindowMs)
	d.HistorySize = cmp.Or(d.HistorySize, DefaultHistorySize)

	c.Recording.Path = cmp.Or(c.Recording.Path, DefaultRecordingPath)
	c.Recording.Prefix = cmp.Or(c.Recording.Prefix, recording.DefaultPrefix)
	c.Recording.Format = cmp.Or(c.Recording.Format, string(recording.FormatWAV))
	c.Recording.StorageMode = cmp.Or(c.Recording.StorageMode, string(recording.StorageLocal))
	c.Recording.S3.Prefix = cmp.Or(c.Recording.S3.Prefix, recording.DefaultS3Prefix)

	c.Telemetry.IntervalMs = cmp.Or(c.Telemetry.IntervalMs, DefaultTelemetryIntervalMs)
	c.Telemetry.ZabbixKeyPrefix = cmp.Or(c.Telemetry.ZabbixKeyPrefix, DefaultZabbixKeyPrefix)

	c.Notifications.Zabbix.Port = cmp.Or(c.Notifications.Zabbix.Port, DefaultZabbixPort)
}

// history is the span of audio kept in memory: enough for the pre-roll
// plus one measurement window, and never less than minHistory.
func (c *Config) history() time.Duration {
	d := c.Detection
	need := time.Duration(d.PrerollMs+d.WindowMs+d.TickIntervalMs) * time.Millisecond
	return max(need, minHistory)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort      int
	APIKey       string
	StationName  string
	EventLogPath string

	// Audio
	Source     audio.Source
	AudioInput string
	SampleRate int
	WAVPath    string

	// Detection
	TickInterval        time.Duration
	Window              time.Duration
	History             time.Duration
	HistorySize         int
	MarginDB            float64
	FallbackThresholdDB float64
	FallbackFloorDB     float64
	Debounce            time.Duration
	Hold                time.Duration
	Preroll             time.Duration
	PeakHold            time.Duration
	MaxDuration         time.Duration

	// Recording
	RecordingPath  string
	RecordingName  string
	Format         recording.Format
	StorageMode    recording.StorageMode
	RetentionDays  int
	S3             recording.S3Config
	TelemetryEvery time.Duration
	ZabbixPrefix   string

	// Notifications
	WebhookURL        string
	LogPath           string
	ZabbixServer      string
	ZabbixPort        int
	ZabbixHost        string
	ZabbixKey         string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	d := c.Detection

	return Snapshot{
		// System
		WebPort:      c.System.Port,
		APIKey:       c.System.APIKey,
		StationName:  c.System.StationName,
		EventLogPath: c.System.EventLogPath,

		// Audio
		Source:     audio.Source(c.Audio.Source),
		AudioInput: c.Audio.Input,
		SampleRate: c.Audio.SampleRate,
		WAVPath:    c.Audio.WAVPath,

		// Detection
		TickInterval:        ms(d.TickIntervalMs),
		Window:              ms(d.WindowMs),
		History:             c.history(),
		HistorySize:         d.HistorySize,
		MarginDB:            d.MarginDB,
		FallbackThresholdDB: d.FallbackThresholdDB,
		FallbackFloorDB:     d.FallbackFloorDB,
		Debounce:            ms(d.DebounceMs),
		Hold:                ms(d.HoldMs),
		Preroll:             ms(d.PrerollMs),
		PeakHold:            ms(d.PeakHoldMs),
		MaxDuration:         time.Duration(d.MaxDurationMinutes) * time.Minute,

		// Recording
		RecordingPath:  c.Recording.Path,
		RecordingName:  c.Recording.Prefix,
		Format:         recording.Format(c.Recording.Format),
		StorageMode:    recording.StorageMode(c.Recording.StorageMode),
		RetentionDays:  c.Recording.RetentionDays,
		S3:             c.Recording.S3,
		TelemetryEvery: ms(c.Telemetry.IntervalMs),
		ZabbixPrefix:   c.Telemetry.ZabbixKeyPrefix,

		// Notifications
		WebhookURL:        c.Notifications.Webhook.URL,
		LogPath:           c.Notifications.Log.Path,
		ZabbixServer:      c.Notifications.Zabbix.Server,
		ZabbixPort:        c.Notifications.Zabbix.Port,
		ZabbixHost:        c.Notifications.Zabbix.Host,
		ZabbixKey:         c.Notifications.Zabbix.Key,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return s.GraphTenantID != "" && s.GraphClientID != "" && s.GraphClientSecret != "" &&
		s.GraphFromAddress != "" && s.GraphRecipients != ""
}

// HasLogPath reports whether a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasZabbix reports whether a Zabbix server and host are configured.
func (s *Snapshot) HasZabbix() bool {
	return s.ZabbixServer != "" && s.ZabbixHost != ""
}

// GraphConfig returns the Microsoft Graph settings.
func (s *Snapshot) GraphConfig() types.GraphConfig {
	return types.GraphConfig{
		TenantID:     s.GraphTenantID,
		ClientID:     s.GraphClientID,
		ClientSecret: s.GraphClientSecret,
		FromAddress:  s.GraphFromAddress,
		Recipients:   s.GraphRecipients,
	}
}

// ZabbixConfig returns the Zabbix trapper settings.
func (s *Snapshot) ZabbixConfig() types.ZabbixConfig {
	return types.ZabbixConfig{
		Server: s.ZabbixServer,
		Port:   s.ZabbixPort,
		Host:   s.ZabbixHost,
		Key:    s.ZabbixKey,
	}
}

// SourceConfig returns the sample source selection.
func (s *Snapshot) SourceConfig() audio.SourceConfig {
	return audio.SourceConfig{
		Source:     s.Source,
		WAVPath:    s.WAVPath,
		SampleRate: uint32(s.SampleRate), //nolint:gosec // Validated range
	}
}

// EngineConfig returns the tick driver settings for the given capture rate.
func (s *Snapshot) EngineConfig(sampleRate int) engine.Config {
	return engine.Config{
		SampleRate:   sampleRate,
		TickInterval: s.TickInterval,
		Window:       s.Window,
		History:      s.History,
		Preroll:      s.Preroll,
		PeakHold:     s.PeakHold,
		Estimator: noisefloor.Config{
			Window:              s.HistorySize,
			MarginDB:            s.MarginDB,
			FallbackThresholdDB: s.FallbackThresholdDB,
			FallbackFloorDB:     s.FallbackFloorDB,
		},
		Timing: trigger.Timing{
			Debounce:    s.Debounce,
			Hold:        s.Hold,
			MaxDuration: s.MaxDuration,
		},
	}
}

// RecordingConfig returns the store settings for the given capture rate.
func (s *Snapshot) RecordingConfig(sampleRate int) recording.Config {
	return recording.Config{
		Path:          s.RecordingPath,
		Prefix:        s.RecordingName,
		Format:        s.Format,
		SampleRate:    sampleRate,
		StorageMode:   s.StorageMode,
		RetentionDays: s.RetentionDays,
		S3:            s.S3,
	}
}

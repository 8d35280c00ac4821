// Package types provides shared type definitions used across the recorder.
package types

import "time"

// Telemetry is the flat status snapshot published to downstream systems.
type Telemetry struct {
	Time           time.Time `json:"time"`            // When the snapshot was taken
	LevelDB        float64   `json:"level_db"`        // Loudness of the last window in dBFS
	PeakDB         float64   `json:"peak_db"`         // Held peak in dBFS
	NoiseFloorDB   float64   `json:"noise_floor_db"`  // Median of recent loudness
	ThresholdDB    float64   `json:"threshold_db"`    // Current detection threshold
	Calibrated     bool      `json:"calibrated"`      // Threshold derived from a full window
	Noise          string    `json:"noise"`           // "noise" or "quiet"
	Phase          string    `json:"phase"`           // idle, preroll, recording or postroll
	EventCount     uint64    `json:"event_count"`     // Recordings started since launch
	FailureCount   uint64    `json:"failure_count"`   // Recordings that failed
	Recording      string    `json:"recording"`       // Path of the open recording, if any
	SamplesDropped uint64    `json:"samples_dropped"` // Samples lost because the consumer fell behind
}

// Fields returns the snapshot as flat key/value pairs.
func (t *Telemetry) Fields() map[string]any {
	return map[string]any{
		"level_db":        t.LevelDB,
		"peak_db":         t.PeakDB,
		"noise_floor_db":  t.NoiseFloorDB,
		"threshold_db":    t.ThresholdDB,
		"calibrated":      t.Calibrated,
		"noise":           t.Noise,
		"phase":           t.Phase,
		"event_count":     t.EventCount,
		"failure_count":   t.FailureCount,
		"recording":       t.Recording,
		"samples_dropped": t.SamplesDropped,
	}
}

// Levels is the compact per-tick level update for live meters.
type Levels struct {
	LevelDB     float64 `json:"level_db"`
	PeakDB      float64 `json:"peak_db"`
	ThresholdDB float64 `json:"threshold_db"`
	Noise       bool    `json:"noise,omitzero"`
	Phase       string  `json:"phase"`
}

// WSStatusResponse is sent to clients with the full recorder status.
type WSStatusResponse struct {
	Type      string      `json:"type"`      // Message type identifier
	Telemetry Telemetry   `json:"telemetry"` // Current snapshot
	Input     string      `json:"input"`     // Capture device name
	Uptime    string      `json:"uptime"`    // Time since start
	Version   VersionInfo `json:"version"`   // Version information
}

// WSLevelsResponse is sent to clients with audio level updates.
type WSLevelsResponse struct {
	Type   string `json:"type"`   // Message type identifier
	Levels Levels `json:"levels"` // Current levels
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

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
	Server    string `json:"server,omitempty"`
	Port      int    `json:"port,omitempty"`
	Host      string `json:"host,omitempty"`
	Key       string `json:"key,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/audio"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/recording"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

func loadJSON(t *testing.T, body string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	c := New(path)
	return c, c.Load()
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	fields := make([]string, 0, len(verr.Errors))
	for _, e := range verr.Errors {
		fields = append(fields, e.Field)
	}
	return fields
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	c := New(path)
	require.NoError(t, c.Load())
	assert.FileExists(t, path)

	snap := c.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, audio.SourceDevice, snap.Source)
	assert.Equal(t, 250*time.Millisecond, snap.TickInterval)
	assert.Equal(t, 750*time.Millisecond, snap.Debounce)
	assert.Equal(t, 30*time.Second, snap.Hold)
	assert.Equal(t, 240, snap.HistorySize)
	assert.InDelta(t, 6.0, snap.MarginDB, 1e-9)
	assert.Equal(t, recording.FormatWAV, snap.Format)
	assert.Equal(t, recording.StorageLocal, snap.StorageMode)
	assert.Equal(t, 10*time.Second, snap.TelemetryEvery)

	// The written defaults load back cleanly.
	again := New(path)
	require.NoError(t, again.Load())
	assert.Equal(t, snap, again.Snapshot())
}

func TestLoadOverridesAndDefaults(t *testing.T) {
	c, err := loadJSON(t, `{
		"system": {"port": 9090, "station_name": "Test FM"},
		"audio": {"source": "synthetic", "sample_rate": 16000},
		"detection": {"hold_ms": 10000, "max_duration_minutes": 60, "margin_db": 3},
		"recording": {"path": "/tmp/rec", "format": "flac"},
		"notifications": {"zabbix": {"server": "zabbix.local", "host": "studio"}}
	}`)
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Equal(t, 9090, snap.WebPort)
	assert.Equal(t, "Test FM", snap.StationName)
	assert.Equal(t, audio.SourceSynthetic, snap.Source)
	assert.Equal(t, uint32(16000), snap.SourceConfig().SampleRate)
	assert.Equal(t, 10*time.Second, snap.Hold)
	assert.Equal(t, time.Hour, snap.MaxDuration)
	assert.Equal(t, 750*time.Millisecond, snap.Debounce)
	assert.Equal(t, recording.FormatFLAC, snap.Format)
	assert.True(t, snap.HasZabbix())
	assert.Equal(t, DefaultZabbixPort, snap.ZabbixConfig().Port)
	assert.False(t, snap.HasWebhook())
	assert.False(t, snap.HasGraph())
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	c, err := loadJSON(t, `{"detection": {
		"margin_db": 0,
		"debounce_ms": 0,
		"preroll_ms": 0,
		"fallback_threshold_db": 0
	}}`)
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.Zero(t, snap.MarginDB)
	assert.Zero(t, snap.Debounce)
	assert.Zero(t, snap.Preroll)
	assert.Zero(t, snap.FallbackThresholdDB)

	// Omitted fields still take their defaults.
	assert.Equal(t, DefaultPeakHoldMs*time.Millisecond, snap.PeakHold)
	assert.InDelta(t, DefaultFallbackFloorDB, snap.FallbackFloorDB, 1e-9)

	ec := snap.EngineConfig(8000)
	assert.Zero(t, ec.Estimator.MarginDB)
	assert.Zero(t, ec.Preroll)
	assert.NoError(t, ec.Timing.Validate())
}

func TestLoadRejectsZeroHold(t *testing.T) {
	_, err := loadJSON(t, `{"detection": {"hold_ms": 0}}`)
	assert.Equal(t, []string{"detection.hold_ms"}, fieldsOf(t, err))
}

func TestLoadResetsOnReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"detection": {"margin_db": 12}}`), 0o600))
	c := New(path)
	require.NoError(t, c.Load())
	assert.InDelta(t, 12.0, c.Snapshot().MarginDB, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
	require.NoError(t, c.Load())
	assert.InDelta(t, DefaultMarginDB, c.Snapshot().MarginDB, 1e-9)
}

func TestLoadReportsFieldErrors(t *testing.T) {
	_, err := loadJSON(t, `{
		"system": {"port": 70000},
		"audio": {"source": "usb"},
		"detection": {"margin_db": 100, "tick_interval_ms": 1},
		"recording": {"format": "mp3"},
		"notifications": {"webhook": {"url": "not a url"}}
	}`)
	require.Error(t, err)

	assert.ElementsMatch(t, []string{
		"system.port",
		"audio.source",
		"detection.tick_interval_ms",
		"detection.margin_db",
		"recording.format",
		"notifications.webhook.url",
	}, fieldsOf(t, err))
	assert.Contains(t, err.Error(), "audio.source must be one of: device wav synthetic")
}

func TestLoadRequiresWAVPath(t *testing.T) {
	_, err := loadJSON(t, `{"audio": {"source": "wav"}}`)
	assert.Equal(t, []string{"audio.wav_path"}, fieldsOf(t, err))
}

func TestLoadRequiresS3Settings(t *testing.T) {
	_, err := loadJSON(t, `{"recording": {"storage_mode": "s3"}}`)
	assert.Equal(t, []string{"recording.s3"}, fieldsOf(t, err))

	c, err := loadJSON(t, `{"recording": {"storage_mode": "both", "s3": {
		"bucket": "b", "access_key_id": "k", "secret_access_key": "s"}}}`)
	require.NoError(t, err)
	snap := c.Snapshot()
	assert.Equal(t, recording.DefaultS3Prefix, snap.S3.Prefix)
	assert.True(t, snap.StorageMode.UsesS3())
}

func TestLoadRejectsControlCharactersInStationName(t *testing.T) {
	_, err := loadJSON(t, `{"system": {"station_name": "Bad\r\nName"}}`)
	assert.Equal(t, []string{"system.station_name"}, fieldsOf(t, err))
}

func TestLoadInvalidJSON(t *testing.T) {
	_, err := loadJSON(t, `{"system": `)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestEngineConfigFromSnapshot(t *testing.T) {
	c, err := loadJSON(t, `{"detection": {"preroll_ms": 45000, "window_ms": 1000}}`)
	require.NoError(t, err)
	snap := c.Snapshot()

	ec := snap.EngineConfig(8000)
	assert.Equal(t, 8000, ec.SampleRate)
	assert.Equal(t, 45*time.Second, ec.Preroll)
	assert.GreaterOrEqual(t, ec.History, ec.Preroll+ec.Window)
	assert.Equal(t, 240, ec.Estimator.Window)
	assert.InDelta(t, DefaultFallbackThresholdDB, ec.Estimator.FallbackThresholdDB, 1e-9)
	assert.NoError(t, ec.Timing.Validate())

	rc := snap.RecordingConfig(8000)
	assert.Equal(t, DefaultRecordingPath, rc.Path)
	assert.Equal(t, recording.DefaultPrefix, rc.Prefix)
	assert.Equal(t, 8000, rc.SampleRate)
}

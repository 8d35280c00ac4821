package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event      string `json:"event"`
	Station    string `json:"station,omitempty"`
	Message    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp"`
	Recording  string `json:"recording,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	EventCount uint64 `json:"event_count,omitempty"`
	Rotated    bool   `json:"rotated,omitempty"`
	Error      string `json:"error,omitempty"`

	// Reading that produced a recording event
	LevelDB     *float64 `json:"level_db,omitempty"`
	ThresholdDB *float64 `json:"threshold_db,omitempty"`

	// Status fields (status event only)
	Telemetry map[string]any `json:"telemetry,omitempty"`

	// Upload fields (upload_abandoned only)
	S3Key      string `json:"s3_key,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// SendEventWebhook posts a recording lifecycle event.
func SendEventWebhook(webhookURL, station string, ev *trigger.Event) error {
	return sendWebhook(webhookURL, eventPayload(station, ev))
}

func eventPayload(station string, ev *trigger.Event) *WebhookPayload {
	p := &WebhookPayload{
		Event:       string(ev.Kind),
		Station:     station,
		Timestamp:   ev.Time.UTC().Format(time.RFC3339),
		Recording:   ev.Path,
		DurationMs:  ev.Duration.Milliseconds(),
		EventCount:  ev.EventCount,
		Rotated:     ev.Rotated,
		LevelDB:     &ev.LevelDB,
		ThresholdDB: &ev.ThresholdDB,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}

// SendStatusWebhook posts a telemetry snapshot as flat key/value fields.
func SendStatusWebhook(webhookURL, station string, t *types.Telemetry) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "status",
		Station:   station,
		Timestamp: t.Time.UTC().Format(time.RFC3339),
		Telemetry: t.Fields(),
	})
}

// SendUploadAbandonedWebhook reports a recording that could not be uploaded.
func SendUploadAbandonedWebhook(webhookURL, station string, p *UploadAbandonedParams) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:      "upload_abandoned",
		Station:    station,
		Timestamp:  timestampUTC(),
		Recording:  p.Filename,
		S3Key:      p.S3Key,
		RetryCount: p.RetryCount,
		Error:      p.LastError,
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL, stationName string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Station:   stationName,
		Message:   "This is a test notification from " + stationName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	resp, err := webhookClient.Post(webhookURL, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

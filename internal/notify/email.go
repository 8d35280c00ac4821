package notify

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// UploadAbandonedParams describes a recording whose upload was given up.
type UploadAbandonedParams struct {
	Filename   string
	S3Key      string
	RetryCount int
	LastError  string
}

// eventEmail returns the subject and body for a recording event.
func eventEmail(stationName string, ev *trigger.Event) (subject, body string) {
	file := filepath.Base(ev.Path)
	switch ev.Kind {
	case trigger.EventStarted:
		subject = "[INFO] Recording Started - " + stationName
		body = fmt.Sprintf(
			"Noise detected, recording started.\n\n"+
				"File:      %s\n"+
				"Level:     %.1f dB\n"+
				"Threshold: %.1f dB\n"+
				"Event:     #%d\n"+
				"Time:      %s",
			file, ev.LevelDB, ev.ThresholdDB, ev.EventCount, util.HumanTime(ev.Time),
		)
		if ev.Rotated {
			body += "\n\nThis segment continues the previous recording."
		}
	case trigger.EventFinished:
		subject = "[OK] Recording Finished - " + stationName
		body = fmt.Sprintf(
			"Recording finished after the noise ended.\n\n"+
				"File:     %s\n"+
				"Duration: %s\n"+
				"Event:    #%d\n"+
				"Time:     %s",
			file, util.FormatDuration(ev.Duration), ev.EventCount, util.HumanTime(ev.Time),
		)
	default:
		subject = "[ALERT] Recording Failed - " + stationName
		errMsg := "unknown error"
		if ev.Err != nil {
			errMsg = ev.Err.Error()
		}
		body = fmt.Sprintf(
			"The recorder could not write a recording.\n\n"+
				"File:  %s\n"+
				"Error: %s\n"+
				"Time:  %s\n\n"+
				"Recording is retried automatically. Please check the recordings directory.",
			file, errMsg, util.HumanTime(ev.Time),
		)
	}
	return subject, body
}

// uploadAbandonedEmail returns the subject and body for an abandoned upload.
func uploadAbandonedEmail(stationName string, p *UploadAbandonedParams) (subject, body string) {
	subject = "[ALERT] Upload Abandoned - " + stationName
	body = fmt.Sprintf(
		"A recording upload was abandoned.\n\n"+
			"File:       %s\n"+
			"S3 key:     %s\n"+
			"Retries:    %d\n"+
			"Last error: %s\n\n"+
			"The file could not be uploaded to S3 after exhausting all retries.",
		p.Filename, p.S3Key, p.RetryCount, p.LastError,
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, stationName string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}
	return sendTestEmail(ctx, client, cfg, stationName)
}

func sendTestEmail(ctx context.Context, client *GraphClient, cfg *GraphConfig, stationName string) error {
	if err := client.ValidateAuth(ctx); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	subject := "[TEST] " + stationName
	body := "Test email from " + AppName + ".\n\n" +
		"Microsoft Graph configuration is working correctly."

	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

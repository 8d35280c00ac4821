package util

import "log/slog"

// LogNotifyResult runs a notification function and logs its outcome.
func LogNotifyResult(fn func() error, channel, event string) {
	if err := fn(); err != nil {
		slog.Warn("notification failed", "channel", channel, "event", event, "error", err)
		return
	}
	slog.Debug("notification sent", "channel", channel, "event", event)
}

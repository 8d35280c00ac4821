// Package notify publishes recorder telemetry and recording events to
// webhooks, Zabbix, a JSON lines log file and email.
package notify

import (
	"net/http"
	"time"
)

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Noise Trigger"

// httpTimeout bounds every outgoing HTTP request.
const httpTimeout = 30 * time.Second

// webhookTimeout bounds a single webhook delivery.
const webhookTimeout = 10 * time.Second

var webhookClient = &http.Client{Timeout: webhookTimeout}

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/config"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/eventlog"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/trigger"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/util"
)

// sendTimeout bounds one asynchronous notification, retries included.
const sendTimeout = 2 * time.Minute

// EventNotifier fans recording events out to the configured channels.
// Delivery runs on background goroutines so the tick loop never waits on
// the network; failures are logged only.
type EventNotifier struct {
	cfg         *config.Config
	eventLogger *eventlog.Logger

	mu          sync.Mutex // guards graphClient
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewEventNotifier returns an EventNotifier reading channel settings from cfg.
// eventLogger may be nil.
func NewEventNotifier(cfg *config.Config, eventLogger *eventlog.Logger) *EventNotifier {
	return &EventNotifier{cfg: cfg, eventLogger: eventLogger}
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *EventNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// HandleEvent records ev in the event log and dispatches it to every
// configured channel. It matches trigger.EventHandler and does not block.
func (n *EventNotifier) HandleEvent(ev trigger.Event) {
	cfg := n.cfg.Snapshot()

	n.logEvent(&ev)

	name := string(ev.Kind)
	if cfg.HasWebhook() {
		n.dispatch("webhook", name, func(context.Context) error {
			return SendEventWebhook(cfg.WebhookURL, cfg.StationName, &ev)
		})
	}
	if cfg.HasZabbix() {
		zcfg := cfg.ZabbixConfig()
		n.dispatch("zabbix", name, func(context.Context) error {
			return SendEventZabbix(&zcfg, &ev)
		})
	}
	if cfg.HasLogPath() {
		n.dispatch("log", name, func(context.Context) error {
			return LogEvent(cfg.LogPath, &ev)
		})
	}
	if cfg.HasGraph() {
		gcfg := cfg.GraphConfig()
		subject, body := eventEmail(cfg.StationName, &ev)
		n.dispatch("email", name, func(ctx context.Context) error {
			return n.sendEmail(ctx, &gcfg, subject, body)
		})
	}
}

// HandleUploadAbandoned alerts the webhook and email channels about a
// recording that will not reach object storage.
func (n *EventNotifier) HandleUploadAbandoned(p UploadAbandonedParams) {
	cfg := n.cfg.Snapshot()
	const name = "upload_abandoned"

	if cfg.HasWebhook() {
		n.dispatch("webhook", name, func(context.Context) error {
			return SendUploadAbandonedWebhook(cfg.WebhookURL, cfg.StationName, &p)
		})
	}
	if cfg.HasGraph() {
		gcfg := cfg.GraphConfig()
		subject, body := uploadAbandonedEmail(cfg.StationName, &p)
		n.dispatch("email", name, func(ctx context.Context) error {
			return n.sendEmail(ctx, &gcfg, subject, body)
		})
	}
}

// dispatch runs send on its own goroutine with a bounded context.
func (n *EventNotifier) dispatch(channel, event string, send func(ctx context.Context) error) {
	n.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		util.LogNotifyResult(func() error { return send(ctx) }, channel, event)
	})
}

// Wait blocks until all dispatched notifications have completed.
func (n *EventNotifier) Wait() {
	n.wg.Wait()
}

func (n *EventNotifier) logEvent(ev *trigger.Event) {
	details := &eventlog.RecordingDetails{
		Filename:    filepath.Base(ev.Path),
		DurationMs:  ev.Duration.Milliseconds(),
		EventCount:  ev.EventCount,
		LevelDB:     ev.LevelDB,
		ThresholdDB: ev.ThresholdDB,
		Rotated:     ev.Rotated,
	}
	if ev.Path == "" {
		details.Filename = ""
	}
	if ev.Err != nil {
		details.Error = ev.Err.Error()
	}
	if err := n.eventLogger.LogRecording(eventlog.EventType(ev.Kind), ev.Time, details); err != nil {
		slog.Warn("failed to write event log", "type", ev.Kind, "error", err)
	}
}

// sendEmail sends through the cached Graph client.
func (n *EventNotifier) sendEmail(ctx context.Context, cfg *GraphConfig, subject, body string) error {
	client, err := n.getOrCreateGraphClient(cfg)
	if err != nil {
		return util.WrapError("create Graph client", err)
	}
	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// Channel names accepted by TestChannel.
const (
	ChannelWebhook = "webhook"
	ChannelZabbix  = "zabbix"
	ChannelLog     = "log"
	ChannelEmail   = "email"
)

// TestChannel sends a test notification through one channel and reports
// the result synchronously.
func (n *EventNotifier) TestChannel(ctx context.Context, channel string) error {
	cfg := n.cfg.Snapshot()
	switch channel {
	case ChannelWebhook:
		return SendTestWebhook(cfg.WebhookURL, cfg.StationName)
	case ChannelZabbix:
		zcfg := cfg.ZabbixConfig()
		return SendTestZabbix(&zcfg)
	case ChannelLog:
		return WriteTestLog(cfg.LogPath)
	case ChannelEmail:
		gcfg := cfg.GraphConfig()
		return SendTestEmail(ctx, &gcfg, cfg.StationName)
	default:
		return fmt.Errorf("unknown notification channel %q", channel)
	}
}

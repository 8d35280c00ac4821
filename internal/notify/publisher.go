package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/config"
	"github.com/oszuidwest/zwfm-noisetrigger/internal/types"
)

// Publisher pushes telemetry snapshots to the webhook and Zabbix on its own
// timer, independent of the tick rate.
type Publisher struct {
	cfg      *config.Config
	snapshot func() types.Telemetry
	interval time.Duration
}

// NewPublisher returns a Publisher that reads snapshots from snapshot.
func NewPublisher(cfg *config.Config, snapshot func() types.Telemetry) *Publisher {
	s := cfg.Snapshot()
	return &Publisher{
		cfg:      cfg,
		snapshot: snapshot,
		interval: s.TelemetryEvery,
	}
}

// Enabled reports whether any telemetry destination is configured.
func (p *Publisher) Enabled() bool {
	s := p.cfg.Snapshot()
	return s.HasWebhook() || s.HasZabbix()
}

// Run publishes every interval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	slog.Info("telemetry publisher started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("telemetry publisher stopped")
			return
		case <-ticker.C:
			p.Publish()
		}
	}
}

// Publish sends one snapshot to every configured destination. Failures
// are logged and do not stop later publications.
func (p *Publisher) Publish() {
	cfg := p.cfg.Snapshot()
	t := p.snapshot()

	if cfg.HasWebhook() {
		if err := SendStatusWebhook(cfg.WebhookURL, cfg.StationName, &t); err != nil {
			slog.Warn("telemetry publish failed", "channel", "webhook", "error", err)
		}
	}
	if cfg.HasZabbix() {
		zcfg := cfg.ZabbixConfig()
		if err := SendTelemetryZabbix(&zcfg, cfg.ZabbixPrefix, &t); err != nil {
			slog.Warn("telemetry publish failed", "channel", "zabbix", "error", err)
		}
	}
}

// Package eventpublisher builds the three outbound event shapes
// (PositionChange, ClientSignOff, Alert) on top of pkg/bus, and additionally
// fans CRITICAL/PAGE alerts out to Slack for on-call visibility.
package eventpublisher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"github.com/ledgerbase/posloader/pkg/bus"
	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/log"
	"github.com/ledgerbase/posloader/pkg/metrics"
	"github.com/ledgerbase/posloader/pkg/types"
)

const (
	TopicPositionChanges = "position_changes"
	TopicClientSignOffs  = "client_signoffs"
	TopicSystemAlerts    = "system_alerts"
)

// Publisher publishes domain events onto the bus and, for severe alerts,
// onto Slack. A Slack failure is logged and swallowed — it must never fail
// the operation that triggered the alert.
type Publisher struct {
	bus         *bus.Bus
	slackClient *slack.Client
	slackChannel string
}

// New wires a Publisher. slackCfg.WebhookURL/Channel may be empty to disable
// Slack fan-out entirely (it is additive notification, never load-bearing).
func New(b *bus.Bus, slackCfg config.SlackConfig) *Publisher {
	p := &Publisher{bus: b, slackChannel: slackCfg.Channel}
	if slackCfg.WebhookURL != "" {
		p.slackClient = slack.New(slackCfg.WebhookURL)
	}
	return p
}

func (p *Publisher) PublishPositionChange(ctx context.Context, evt types.PositionChangeEvent) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	metrics.EventsPublishedTotal.WithLabelValues(TopicPositionChanges).Inc()
	if err := p.bus.Publish(ctx, TopicPositionChanges, evt); err != nil {
		log.WithAccountID(evt.AccountID).Error().Err(err).Msg("failed to publish position change event")
		return fmt.Errorf("publish position change: %w", err)
	}
	return nil
}

func (p *Publisher) PublishClientSignOff(ctx context.Context, evt types.ClientSignOffEvent) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	metrics.EventsPublishedTotal.WithLabelValues(TopicClientSignOffs).Inc()
	if err := p.bus.Publish(ctx, TopicClientSignOffs, evt); err != nil {
		log.WithClientID(evt.ClientID).Error().Err(err).Msg("failed to publish client sign-off event")
		return fmt.Errorf("publish client sign-off: %w", err)
	}
	return nil
}

// PublishAlert satisfies the upstream.AlertPublisher interface.
func (p *Publisher) PublishAlert(ctx context.Context, a types.Alert) error {
	if a.EventID == "" {
		a.EventID = uuid.New().String()
	}
	metrics.EventsPublishedTotal.WithLabelValues(TopicSystemAlerts).Inc()
	if err := p.bus.Publish(ctx, TopicSystemAlerts, a); err != nil {
		log.WithComponent("eventpublisher").Error().Err(err).Msg("failed to publish alert")
		return fmt.Errorf("publish alert: %w", err)
	}

	if a.Level == types.AlertCritical || a.Level == types.AlertPage {
		p.notifySlack(a)
	}
	return nil
}

func (p *Publisher) notifySlack(a types.Alert) {
	if p.slackClient == nil {
		return
	}
	_, _, err := p.slackClient.PostMessage(p.slackChannel,
		slack.MsgOptionText(fmt.Sprintf("[%s] %s: %s", a.Level, a.Type, a.Message), false))
	if err != nil {
		log.WithComponent("eventpublisher").Warn().Err(err).Msg("failed to post alert to slack")
	}
}

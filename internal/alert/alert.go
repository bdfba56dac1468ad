// Package alert delivers operator notifications. Two channels are
// supported: Slack (rich blocks) and transactional email through Amazon
// SES (plain text to a recipient list). The notifier is a no-op when no
// channel is configured, so callers never need to guard against a missing
// integration.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/tessen-ai/kanshi/internal/model"
)

const (
	postTimeout  = 10 * time.Second
	maxQueryText = 200
)

// Config selects the delivery channels. A channel whose fields are empty
// is left unconfigured.
type Config struct {
	// Slack bot token and target channel.
	SlackToken   string
	SlackChannel string

	// SES sender identity and recipient list. Both must be set for email
	// delivery to activate.
	EmailFrom       string
	EmailRecipients []string
	AWSRegion       string
}

// sink is one delivery channel. Implementations format the event for
// their medium.
type sink interface {
	name() string
	highDrift(ctx context.Context, agentName, queryID, queryText string, driftScore float64) error
	healthTransition(ctx context.Context, agentName string, from, to model.HealthStatus, detail string) error
}

// Notifier fans alert events out to every configured channel.
type Notifier struct {
	sinks  []sink
	logger *slog.Logger
}

// New returns a Notifier, or nil when no channel is configured. A nil
// Notifier is safe to call; every method is a no-op on it.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Notifier {
	var sinks []sink

	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		sinks = append(sinks, &slackSink{
			api:     goslack.New(cfg.SlackToken),
			channel: cfg.SlackChannel,
		})
	}

	if cfg.EmailFrom != "" && len(cfg.EmailRecipients) > 0 {
		es, err := newEmailSink(ctx, cfg.AWSRegion, cfg.EmailFrom, cfg.EmailRecipients)
		if err != nil {
			logger.Warn("email alerting disabled: ses init failed", "error", err)
		} else {
			sinks = append(sinks, es)
		}
	}

	if len(sinks) == 0 {
		logger.Info("alerting disabled: no slack or email channel configured")
		return nil
	}
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.name()
	}
	return &Notifier{
		sinks:  sinks,
		logger: logger.With("component", "alert", "channels", names),
	}
}

// HighDrift fires once per query classified as high drift.
func (n *Notifier) HighDrift(ctx context.Context, agentName, queryID, queryText string, driftScore float64) {
	if n == nil {
		return
	}
	n.each(ctx, func(ctx context.Context, s sink) error {
		return s.highDrift(ctx, agentName, queryID, queryText, driftScore)
	})
}

// HealthTransition fires when an agent's health status changes.
func (n *Notifier) HealthTransition(ctx context.Context, agentName string, from, to model.HealthStatus, detail string) {
	if n == nil {
		return
	}
	n.each(ctx, func(ctx context.Context, s sink) error {
		return s.healthTransition(ctx, agentName, from, to, detail)
	})
}

// each delivers to every sink; a failing channel never blocks the others.
// Alert delivery is best-effort; the event is already persisted.
func (n *Notifier) each(ctx context.Context, send func(context.Context, sink) error) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	for _, s := range n.sinks {
		if err := send(ctx, s); err != nil {
			n.logger.Warn("alert delivery failed", "channel", s.name(), "error", err)
		}
	}
}

// ── Slack ─────────────────────────────────────────────────────────────────────

type slackSink struct {
	api     *goslack.Client
	channel string
}

func (s *slackSink) name() string { return "slack" }

func (s *slackSink) highDrift(ctx context.Context, agentName, queryID, queryText string, driftScore float64) error {
	return s.post(ctx, buildHighDriftBlocks(agentName, queryID, queryText, driftScore))
}

func (s *slackSink) healthTransition(ctx context.Context, agentName string, from, to model.HealthStatus, detail string) error {
	return s.post(ctx, buildHealthBlocks(agentName, from, to, detail))
}

func (s *slackSink) post(ctx context.Context, blocks []goslack.Block) error {
	_, _, err := s.api.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...))
	return err
}

func buildHighDriftBlocks(agentName, queryID, queryText string, driftScore float64) []goslack.Block {
	text := fmt.Sprintf(":warning: *High drift detected*\n*Agent:* %s\n*Query:* `%s`\n*Drift score:* %.3f\n> %s",
		agentName, queryID, driftScore, truncate(queryText, maxQueryText))
	return sectionBlocks(text)
}

func buildHealthBlocks(agentName string, from, to model.HealthStatus, detail string) []goslack.Block {
	emoji := ":large_green_circle:"
	switch to {
	case model.HealthUnhealthy:
		emoji = ":red_circle:"
	case model.HealthSDKIssue:
		emoji = ":large_yellow_circle:"
	}
	text := fmt.Sprintf("%s *Agent health changed*\n*Agent:* %s\n*Status:* %s -> %s", emoji, agentName, from, to)
	if detail != "" {
		text += fmt.Sprintf("\n> %s", truncate(detail, maxQueryText))
	}
	return sectionBlocks(text)
}

func sectionBlocks(text string) []goslack.Block {
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

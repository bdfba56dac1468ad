package alert

import (
	"context"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessen-ai/kanshi/internal/model"
)

func TestNewDisabledWithoutConfig(t *testing.T) {
	assert.Nil(t, New(context.Background(), Config{}, slog.Default()))
	assert.Nil(t, New(context.Background(), Config{SlackChannel: "alerts"}, slog.Default()))
	assert.Nil(t, New(context.Background(), Config{SlackToken: "xoxb-token"}, slog.Default()))
	// Email needs both a sender and at least one recipient.
	assert.Nil(t, New(context.Background(), Config{EmailFrom: "kanshi@example.com"}, slog.Default()))

	n := New(context.Background(), Config{SlackToken: "xoxb-token", SlackChannel: "alerts"}, slog.Default())
	require.NotNil(t, n)
	assert.Len(t, n.sinks, 1)
	assert.Equal(t, "slack", n.sinks[0].name())
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.HighDrift(context.Background(), "sales", "Q-1", "show revenue", 0.7)
	n.HealthTransition(context.Background(), "sales", model.HealthHealthy, model.HealthUnhealthy, "connection refused")
}

// sentEmail captures one SendEmail call.
type sentEmail struct {
	from       string
	recipients []string
	subject    string
	body       string
}

type stubSES struct {
	sent []sentEmail
}

func (s *stubSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.sent = append(s.sent, sentEmail{
		from:       *in.FromEmailAddress,
		recipients: in.Destination.ToAddresses,
		subject:    *in.Content.Simple.Subject.Data,
		body:       *in.Content.Simple.Body.Text.Data,
	})
	return &sesv2.SendEmailOutput{}, nil
}

func TestEmailHighDriftReachesAllRecipients(t *testing.T) {
	stub := &stubSES{}
	n := &Notifier{
		sinks: []sink{&emailSink{
			client:     stub,
			from:       "kanshi@example.com",
			recipients: []string{"oncall@example.com", "data-team@example.com"},
		}},
		logger: slog.Default(),
	}

	n.HighDrift(context.Background(), "sales", "INGEST-SALES-deadbeef", "show me the revenue", 0.612)

	require.Len(t, stub.sent, 1)
	msg := stub.sent[0]
	assert.Equal(t, "kanshi@example.com", msg.from)
	assert.Equal(t, []string{"oncall@example.com", "data-team@example.com"}, msg.recipients)
	assert.Contains(t, msg.subject, "High drift")
	assert.Contains(t, msg.subject, "sales")
	assert.Contains(t, msg.body, "INGEST-SALES-deadbeef")
	assert.Contains(t, msg.body, "0.612")
	assert.Contains(t, msg.body, "show me the revenue")
}

func TestEmailHealthTransition(t *testing.T) {
	stub := &stubSES{}
	n := &Notifier{
		sinks: []sink{&emailSink{
			client:     stub,
			from:       "kanshi@example.com",
			recipients: []string{"oncall@example.com"},
		}},
		logger: slog.Default(),
	}

	n.HealthTransition(context.Background(), "sales", model.HealthHealthy, model.HealthUnhealthy, "connection refused")

	require.Len(t, stub.sent, 1)
	msg := stub.sent[0]
	assert.Contains(t, msg.subject, "unhealthy")
	assert.Contains(t, msg.body, "healthy -> unhealthy")
	assert.Contains(t, msg.body, "connection refused")
}

func TestHighDriftBlocks(t *testing.T) {
	blocks := buildHighDriftBlocks("sales", "INGEST-SALES-deadbeef", "show me the revenue", 0.612)
	text := blockText(t, blocks)
	assert.Contains(t, text, "High drift detected")
	assert.Contains(t, text, "sales")
	assert.Contains(t, text, "INGEST-SALES-deadbeef")
	assert.Contains(t, text, "0.612")
	assert.Contains(t, text, "show me the revenue")
}

func TestHealthBlocks(t *testing.T) {
	blocks := buildHealthBlocks("sales", model.HealthHealthy, model.HealthSDKIssue, "no telemetry for 45m")
	text := blockText(t, blocks)
	assert.Contains(t, text, "healthy -> sdk_issue")
	assert.Contains(t, text, "no telemetry for 45m")
	assert.Contains(t, text, ":large_yellow_circle:")
}

func TestTruncate(t *testing.T) {
	long := make([]byte, maxQueryText+50)
	for i := range long {
		long[i] = 'x'
	}
	blocks := buildHighDriftBlocks("a", "q", string(long), 0.9)
	assert.Contains(t, blockText(t, blocks), "xxx...")
}

func blockText(t *testing.T, blocks []goslack.Block) string {
	t.Helper()
	section, ok := blocks[0].(*goslack.SectionBlock)
	assert.True(t, ok)
	return section.Text.Text
}

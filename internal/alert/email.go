package alert

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/tessen-ai/kanshi/internal/model"
)

// sesSender is the slice of the SES v2 API the email sink needs.
type sesSender interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// emailSink sends plain-text alerts through Amazon SES to a fixed
// recipient list.
type emailSink struct {
	client     sesSender
	from       string
	recipients []string
}

// newEmailSink builds the SES client from the standard AWS credential
// chain (env, shared config, instance role).
func newEmailSink(ctx context.Context, region, from string, recipients []string) (*emailSink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("alert: load aws config: %w", err)
	}
	return &emailSink{
		client:     sesv2.NewFromConfig(cfg),
		from:       from,
		recipients: recipients,
	}, nil
}

func (s *emailSink) name() string { return "email" }

func (s *emailSink) highDrift(ctx context.Context, agentName, queryID, queryText string, driftScore float64) error {
	subject := fmt.Sprintf("[kanshi] High drift detected: %s", agentName)
	body := fmt.Sprintf(
		"High drift detected\n\nAgent: %s\nQuery: %s\nDrift score: %.3f\n\n%s\n",
		agentName, queryID, driftScore, truncate(queryText, maxQueryText))
	return s.send(ctx, subject, body)
}

func (s *emailSink) healthTransition(ctx context.Context, agentName string, from, to model.HealthStatus, detail string) error {
	subject := fmt.Sprintf("[kanshi] Agent health changed: %s is %s", agentName, to)
	body := fmt.Sprintf("Agent health changed\n\nAgent: %s\nStatus: %s -> %s\n", agentName, from, to)
	if detail != "" {
		body += fmt.Sprintf("\n%s\n", truncate(detail, maxQueryText))
	}
	return s.send(ctx, subject, body)
}

func (s *emailSink) send(ctx context.Context, subject, body string) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &sestypes.Destination{ToAddresses: s.recipients},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(body)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("alert: ses send: %w", err)
	}
	return nil
}

package alert

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Alert severities.
const (
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
)

// Sink delivers operator alerts. A nil sink degrades to local logging at the
// call site; missing alerting is a valid configuration, never a failure.
type Sink interface {
	Send(ctx context.Context, subject, message, severity string) error
}

// SNSSink publishes alerts to an SNS topic.
type SNSSink struct {
	client   *sns.Client
	topicARN string
	env      string
}

// NewSNSSink builds a sink for the given topic.
func NewSNSSink(ctx context.Context, region, topicARN, env string) (*SNSSink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSSink{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: topicARN,
		env:      env,
	}, nil
}

// Send publishes one alert, prefixing the body with timestamp and
// environment lines and carrying severity as a message attribute.
func (s *SNSSink) Send(ctx context.Context, subject, message, severity string) error {
	host, _ := os.Hostname()
	body := fmt.Sprintf("Time: %sZ\nEnvironment: %s\nHost: %s\n\n%s",
		time.Now().UTC().Format("2006-01-02T15:04:05"), s.env, host, message)

	full := fmt.Sprintf("[%s] %s", severity, subject)
	if len(full) > 100 {
		full = full[:100]
	}

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(full),
		Message:  aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(severity),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used for notifications
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier sends each notification as a JSON message to a queue
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
}

func NewSQSNotifier(ctx context.Context, queueURL string, maxRetries int) (*SQSNotifier, error) {
	var opts []func(*config.LoadOptions) error
	if maxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(maxRetries))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSQSNotifier(sqs.NewFromConfig(cfg), queueURL), nil
}

func newSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL}
}

var _ Notifier = (*SQSNotifier)(nil)

func (s *SQSNotifier) Name() string { return "sqs" }

func (s *SQSNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := encode(n)
	if err != nil {
		return err
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(n.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send notification to SQS: %w", err)
	}
	return nil
}

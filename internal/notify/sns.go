package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// maxSubjectLen is the SNS limit on email subjects.
const maxSubjectLen = 100

// SNSAPI is the subset of *sns.Client used by SNSPublisher.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes to one SNS topic.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

var _ Publisher = (*SNSPublisher)(nil)

func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

func (p *SNSPublisher) Publish(ctx context.Context, msg Message) error {
	subject := snsSubject(msg.Subject)
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: &p.topicARN,
		Subject:  &subject,
		Message:  &msg.Body,
	})
	if err != nil {
		return fmt.Errorf("SNS Publish: %w", err)
	}
	return nil
}

// snsSubject strips line breaks and truncates to the SNS subject limit.
func snsSubject(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxSubjectLen {
		s = s[:maxSubjectLen]
	}
	return s
}

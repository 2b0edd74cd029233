package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// EventSource is the EventBridge source of every published event.
const EventSource = "s3-thumbnail-notifier"

// EventBridgeAPI is the subset of *eventbridge.Client used by EventBridgePublisher.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher puts one event per message on a bus. Rules on the bus
// can route thumbnail outcomes to other targets by detail-type.
type EventBridgePublisher struct {
	client  EventBridgeAPI
	busName string
}

var _ Publisher = (*EventBridgePublisher)(nil)

func NewEventBridgePublisher(client EventBridgeAPI, busName string) *EventBridgePublisher {
	return &EventBridgePublisher{client: client, busName: busName}
}

type eventDetail struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Status  string `json:"status"`
}

func (p *EventBridgePublisher) Publish(ctx context.Context, msg Message) error {
	detail, err := json.Marshal(eventDetail{Subject: msg.Subject, Body: msg.Body, Status: msg.Status})
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	source := EventSource
	detailType := DetailType(msg.Status)
	detailStr := string(detail)
	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{{
			EventBusName: &p.busName,
			Source:       &source,
			DetailType:   &detailType,
			Detail:       &detailStr,
		}},
	})
	if err != nil {
		return fmt.Errorf("EventBridge PutEvents: %w", err)
	}
	for _, entry := range out.Entries {
		if entry.ErrorCode != nil {
			msg := ""
			if entry.ErrorMessage != nil {
				msg = *entry.ErrorMessage
			}
			return fmt.Errorf("EventBridge PutEvents rejected entry: %s: %s", *entry.ErrorCode, msg)
		}
	}
	return nil
}

// DetailType maps an outcome status to an EventBridge detail-type.
func DetailType(status string) string {
	switch status {
	case "success":
		return "Thumbnail Generated"
	case "record_failure":
		return "Thumbnail Failed"
	case "invocation_failure":
		return "Thumbnail Invocation Failed"
	default:
		return "Thumbnail Notification"
	}
}

// Package ledger records one item per pipeline outcome in DynamoDB so
// operators can query the history of a source object without searching logs.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/s3-thumbnail-notifier/internal/outcome"
)

// Key prefixes for the single-table layout:
//
//	PK=SOURCE#{bucket}/{key}   SK=OUTCOME#{RFC3339Nano}#{invocationId}
//	PK=INVOCATION#{id}         SK=OUTCOME#{RFC3339Nano}#{invocationId}
const (
	pkSource     = "SOURCE#"
	pkInvocation = "INVOCATION#"
	skOutcome    = "OUTCOME#"
)

// TTL is how long outcome items are kept.
const TTL = 30 * 24 * time.Hour

// Ledger records outcomes.
type Ledger interface {
	Record(ctx context.Context, invocationID string, o outcome.Outcome) error
}

// Nop discards outcomes; used when no table is configured.
type Nop struct{}

func (Nop) Record(context.Context, string, outcome.Outcome) error { return nil }

// DynamoAPI is the subset of *dynamodb.Client used by DynamoLedger.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoLedger writes outcomes to a DynamoDB table with PK/SK string keys
// and an expiresAt TTL attribute.
type DynamoLedger struct {
	client    DynamoAPI
	tableName string
}

var _ Ledger = (*DynamoLedger)(nil)

func NewDynamoLedger(client DynamoAPI, tableName string) *DynamoLedger {
	return &DynamoLedger{client: client, tableName: tableName}
}

// Entry is the stored shape of an outcome. Key attributes are added on write.
type Entry struct {
	InvocationID   string `dynamodbav:"invocationId"`
	Status         string `dynamodbav:"status"`
	SourceBucket   string `dynamodbav:"sourceBucket,omitempty"`
	SourceKey      string `dynamodbav:"sourceKey,omitempty"`
	DestBucket     string `dynamodbav:"destBucket,omitempty"`
	DestKey        string `dynamodbav:"destKey,omitempty"`
	OriginalBytes  int    `dynamodbav:"originalBytes,omitempty"`
	ThumbnailBytes int    `dynamodbav:"thumbnailBytes,omitempty"`
	Width          int    `dynamodbav:"width,omitempty"`
	Height         int    `dynamodbav:"height,omitempty"`
	Format         string `dynamodbav:"format,omitempty"`
	Camera         string `dynamodbav:"camera,omitempty"`
	DurationMs     int64  `dynamodbav:"durationMs,omitempty"`
	Step           string `dynamodbav:"step,omitempty"`
	ErrorKind      string `dynamodbav:"errorKind,omitempty"`
	ErrorMessage   string `dynamodbav:"errorMessage,omitempty"`
	At             string `dynamodbav:"at"`
}

// NewEntry flattens o into an Entry.
func NewEntry(invocationID string, o outcome.Outcome) Entry {
	e := Entry{
		InvocationID: invocationID,
		Status:       o.Status(),
		At:           o.Time().UTC().Format(time.RFC3339Nano),
	}
	switch v := o.(type) {
	case *outcome.Success:
		e.SourceBucket, e.SourceKey = v.SourceBucket, v.SourceKey
		e.DestBucket, e.DestKey = v.DestBucket, v.DestKey
		e.OriginalBytes, e.ThumbnailBytes = v.OriginalBytes, v.ThumbnailBytes
		e.Width, e.Height = v.Width, v.Height
		e.Format = v.Format
		e.Camera = v.Camera.String()
		e.DurationMs = v.Duration.Milliseconds()
	case *outcome.RecordFailure:
		e.SourceBucket, e.SourceKey = v.SourceBucket, v.SourceKey
		e.Step = v.Step
		e.ErrorKind = v.Kind().String()
		e.ErrorMessage = v.Message()
	case *outcome.InvocationFailure:
		e.ErrorKind = v.Kind().String()
		e.ErrorMessage = v.Message()
	}
	return e
}

// Keys returns the partition and sort key for e.
func (e Entry) Keys() (pk, sk string) {
	if e.SourceBucket == "" && e.SourceKey == "" {
		pk = pkInvocation + e.InvocationID
	} else {
		pk = pkSource + e.SourceBucket + "/" + e.SourceKey
	}
	return pk, skOutcome + e.At + "#" + e.InvocationID
}

func (l *DynamoLedger) Record(ctx context.Context, invocationID string, o outcome.Outcome) error {
	entry := NewEntry(invocationID, o)
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pk, sk := entry.Keys()
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(o.Time().Add(TTL).Unix(), 10)}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &l.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	return nil
}

// Package pipeline turns an S3 object-created notification into thumbnails
// and notifications, one record at a time.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

// Record is one object reference taken from the event. Key is URL-decoded.
type Record struct {
	Bucket    string
	Key       string
	Size      int64
	EventName string
	// Defect is set when the record itself could not be decoded. Such records
	// are reported as record failures instead of failing the whole event.
	Defect error
}

// ParseEvent extracts records from a raw Lambda payload. The payload must be
// an object with a Records array; an empty array is valid. Problems inside
// individual records do not fail parsing.
func ParseEvent(raw json.RawMessage) ([]Record, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, failure.New(failure.MalformedEvent, "parse-event", fmt.Errorf("event is not a JSON object: %w", err))
	}
	if envelope == nil {
		return nil, failure.Newf(failure.MalformedEvent, "parse-event", "event is null")
	}

	rawRecords, ok := envelope["Records"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawRecords), []byte("null")) {
		return nil, failure.Newf(failure.MalformedEvent, "parse-event", "event has no Records")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawRecords, &items); err != nil {
		return nil, failure.Newf(failure.MalformedEvent, "parse-event", "Records is not an array")
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		records = append(records, parseRecord(i, item))
	}
	return records, nil
}

func parseRecord(index int, item json.RawMessage) Record {
	var r events.S3EventRecord
	if err := json.Unmarshal(item, &r); err != nil {
		return Record{Defect: fmt.Errorf("record %d: %w", index, err)}
	}
	return Record{
		Bucket:    r.S3.Bucket.Name,
		Key:       r.S3.Object.URLDecodedKey,
		Size:      r.S3.Object.Size,
		EventName: r.EventName,
	}
}

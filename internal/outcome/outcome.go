// Package outcome holds the tagged result of processing one record, or of a
// whole invocation that could not start processing records.
package outcome

import (
	"time"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbnail"
)

// Outcome is one of *Success, *RecordFailure or *InvocationFailure.
type Outcome interface {
	// Status is "success", "record_failure" or "invocation_failure".
	Status() string
	// Time is when the outcome was decided.
	Time() time.Time
	outcome()
}

// Success describes a stored thumbnail.
type Success struct {
	SourceBucket   string
	SourceKey      string
	DestBucket     string
	DestKey        string
	OriginalBytes  int
	ThumbnailBytes int
	SourceWidth    int
	SourceHeight   int
	Width          int
	Height         int
	Format         string
	ColorMode      thumbnail.ColorMode
	Camera         *thumbnail.Camera
	Duration       time.Duration
	At             time.Time
}

// RecordFailure describes a record that could not be processed. Step is the
// pipeline step that failed ("validate", "fetch", "transform", "derive-key", "store").
type RecordFailure struct {
	SourceBucket string
	SourceKey    string
	Step         string
	Cause        error
	At           time.Time
}

// InvocationFailure describes an invocation that never reached its records.
type InvocationFailure struct {
	Cause error
	At    time.Time
}

func (*Success) Status() string           { return "success" }
func (*RecordFailure) Status() string     { return "record_failure" }
func (*InvocationFailure) Status() string { return "invocation_failure" }

func (s *Success) Time() time.Time           { return s.At }
func (f *RecordFailure) Time() time.Time     { return f.At }
func (f *InvocationFailure) Time() time.Time { return f.At }

func (*Success) outcome()           {}
func (*RecordFailure) outcome()     {}
func (*InvocationFailure) outcome() {}

// CompressionRatio is thumbnail size over original size, or 0 if unknown.
func (s *Success) CompressionRatio() float64 {
	if s.OriginalBytes == 0 {
		return 0
	}
	return float64(s.ThumbnailBytes) / float64(s.OriginalBytes)
}

// Kind returns the failure kind of the cause. Unclassified causes are reported
// as AccessError, the catch-all for "could not process this object".
func (f *RecordFailure) Kind() failure.Kind {
	k, _ := failure.Describe(f.Cause, failure.Access)
	return k
}

// Kind returns the failure kind of the cause. Unclassified causes are
// configuration problems: nothing else runs before the record loop.
func (f *InvocationFailure) Kind() failure.Kind {
	k, _ := failure.Describe(f.Cause, failure.Configuration)
	return k
}

// Message returns the cause's text, or "" if there is none.
func (f *RecordFailure) Message() string {
	if f.Cause == nil {
		return ""
	}
	return f.Cause.Error()
}

// Message returns the cause's text, or "" if there is none.
func (f *InvocationFailure) Message() string {
	if f.Cause == nil {
		return ""
	}
	return f.Cause.Error()
}

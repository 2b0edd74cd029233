// Package notify turns pipeline outcomes into operator notifications and
// delivers them. Delivery is best-effort: a notification that cannot be sent
// is logged and dropped, never allowed to replace the processing result.
package notify

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/outcome"
)

// Subjects, one per outcome variant. Per-record subjects are followed by
// ": " and the object's base name.
const (
	SubjectSuccess           = "Image Thumbnail Generated Successfully"
	SubjectRecordFailure     = "Image Processing Error"
	SubjectInvocationFailure = "Image Processing Invocation Failed"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
	// Status is the outcome status the message was composed from.
	Status string
}

// Composer renders outcomes. The bounding box and quality are echoed in every
// message so operators can tell which settings produced a thumbnail.
type Composer struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	// DestBucket and Channels describe the deployment in invocation
	// failure messages, where no record identifies it.
	DestBucket string
	Channels   []string
	// Now stamps outcomes that carry no time. Defaults to time.Now.
	Now func() time.Time
}

// Compose renders o. Unknown outcome types render as an invocation failure.
func (c *Composer) Compose(o outcome.Outcome) Message {
	switch v := o.(type) {
	case *outcome.Success:
		return c.success(v)
	case *outcome.RecordFailure:
		return c.recordFailure(v)
	case *outcome.InvocationFailure:
		return c.invocationFailure(v)
	default:
		return c.invocationFailure(&outcome.InvocationFailure{
			Cause: fmt.Errorf("unknown outcome type %T", o),
		})
	}
}

func (c *Composer) success(s *outcome.Success) Message {
	var b strings.Builder
	b.WriteString("Image Processing Complete!\n\n")
	fmt.Fprintf(&b, "Original Image: %s\n", s.SourceKey)
	fmt.Fprintf(&b, "Original Bucket: %s\n", s.SourceBucket)
	fmt.Fprintf(&b, "Thumbnail Created: %s\n", s.DestKey)
	fmt.Fprintf(&b, "Thumbnail Bucket: %s\n\n", s.DestBucket)

	fmt.Fprintf(&b, "Original Size: %s\n", formatBytes(s.OriginalBytes))
	fmt.Fprintf(&b, "Thumbnail Size: %s", formatBytes(s.ThumbnailBytes))
	if ratio := s.CompressionRatio(); ratio > 0 {
		fmt.Fprintf(&b, " (%.1f%% of original)", ratio*100)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Original Dimensions: %dx%d\n", s.SourceWidth, s.SourceHeight)
	fmt.Fprintf(&b, "Thumbnail Dimensions: %dx%d\n", s.Width, s.Height)
	fmt.Fprintf(&b, "Bounding Box: %dx%d\n", c.MaxWidth, c.MaxHeight)
	fmt.Fprintf(&b, "JPEG Quality: %d\n", c.Quality)
	if s.Format != "" {
		fmt.Fprintf(&b, "Source Format: %s (%s)\n", s.Format, s.ColorMode)
	}
	if cam := s.Camera.String(); cam != "" {
		fmt.Fprintf(&b, "Camera: %s\n", cam)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&b, "Processing Time: %s\n", s.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Timestamp: %s\n", c.stamp(s.At))

	return Message{Subject: recordSubject(SubjectSuccess, s.SourceKey), Body: b.String(), Status: s.Status()}
}

func (c *Composer) recordFailure(f *outcome.RecordFailure) Message {
	kind := f.Kind()

	var b strings.Builder
	b.WriteString("Image Processing Failed\n\n")
	fmt.Fprintf(&b, "Original Image: %s\n", f.SourceKey)
	fmt.Fprintf(&b, "Original Bucket: %s\n", f.SourceBucket)
	if f.Step != "" {
		fmt.Fprintf(&b, "Failed Step: %s\n", f.Step)
	}
	fmt.Fprintf(&b, "Error Type: %s\n", kind)
	fmt.Fprintf(&b, "Error Message: %s\n", f.Message())
	if kind.Retryable() {
		b.WriteString("Retryable: yes\n")
	}
	fmt.Fprintf(&b, "Bounding Box: %dx%d\n", c.MaxWidth, c.MaxHeight)
	fmt.Fprintf(&b, "JPEG Quality: %d\n", c.Quality)
	fmt.Fprintf(&b, "Timestamp: %s\n", c.stamp(f.At))
	writeChecklist(&b, kind)

	return Message{Subject: recordSubject(SubjectRecordFailure, f.SourceKey), Body: b.String(), Status: f.Status()}
}

func (c *Composer) invocationFailure(f *outcome.InvocationFailure) Message {
	kind := f.Kind()

	var b strings.Builder
	b.WriteString("Image Processing Invocation Failed\n\n")
	b.WriteString("No records were processed in this invocation.\n")
	if step := failure.StepOf(f.Cause); step != "" {
		fmt.Fprintf(&b, "Failed Step: %s\n", step)
	}
	fmt.Fprintf(&b, "Error Type: %s\n", kind)
	fmt.Fprintf(&b, "Error Message: %s\n", f.Message())
	fmt.Fprintf(&b, "Timestamp: %s\n", c.stamp(f.At))

	b.WriteString("\nEnvironment:\n")
	fmt.Fprintf(&b, "Thumbnail Bucket: %s\n", orUnset(c.DestBucket))
	fmt.Fprintf(&b, "Bounding Box: %dx%d\n", c.MaxWidth, c.MaxHeight)
	fmt.Fprintf(&b, "JPEG Quality: %d\n", c.Quality)
	fmt.Fprintf(&b, "Notification Channels: %s\n", orUnset(strings.Join(c.Channels, ", ")))
	writeChecklist(&b, kind)

	return Message{Subject: SubjectInvocationFailure, Body: b.String(), Status: f.Status()}
}

func recordSubject(prefix, key string) string {
	if key == "" {
		return prefix
	}
	return prefix + ": " + path.Base(key)
}

func orUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func (c *Composer) stamp(t time.Time) string {
	if t.IsZero() {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		t = now()
	}
	return t.UTC().Format(time.RFC3339)
}

var checklists = map[failure.Kind][]string{
	failure.Decode: {
		"Confirm the object is a JPEG, PNG, GIF, WebP, BMP or TIFF image",
		"Check whether the upload was truncated (compare object size with the original file)",
		"Verify the trigger's suffix filter excludes non-image objects",
	},
	failure.Encode: {
		"Check the function's memory setting against the source image dimensions",
		"Re-upload the source image to retry",
		"Inspect the function logs for the resize/encode step",
	},
	failure.NotFound: {
		"Confirm the object still exists; it may have been deleted after the event fired",
		"Check that the object key in the event decodes to the stored key",
		"Verify the destination bucket exists and the bucket names are configured correctly",
	},
	failure.Access: {
		"Verify the execution role allows s3:GetObject on the source bucket",
		"Verify the execution role allows s3:PutObject and s3:PutObjectTagging on the destination bucket",
		"Check bucket policies and any KMS key policy on encrypted objects",
	},
	failure.Quota: {
		"The storage service throttled or rejected the request for capacity reasons",
		"Re-upload the source image or re-drive the event once load drops",
		"Check request-rate and storage quotas for the destination bucket",
	},
	failure.MalformedEvent: {
		"Confirm the trigger is an S3 ObjectCreated notification",
		"Check that the payload contains a Records array with s3.bucket.name and s3.object.key",
		"Test the function with a sample S3 Put event",
	},
	failure.Configuration: {
		"Check the THUMBNAIL_BUCKET and SNS_TOPIC_ARN environment variables",
		"Check the cold start log for client construction errors",
		"Verify the execution role can reach S3, SNS and SSM in this region",
	},
}

func writeChecklist(b *strings.Builder, kind failure.Kind) {
	items, ok := checklists[kind]
	if !ok {
		items = checklists[failure.Access]
	}
	b.WriteString("\nTroubleshooting:\n")
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}

// formatBytes renders a byte count as "12,345 bytes (12.1 KB)".
func formatBytes(n int) string {
	kb := float64(n) / 1024
	return fmt.Sprintf("%s bytes (%.1f KB)", groupThousands(n), kb)
}

func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

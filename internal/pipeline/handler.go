package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/ledger"
	"github.com/fpang/s3-thumbnail-notifier/internal/metrics"
	"github.com/fpang/s3-thumbnail-notifier/internal/notify"
	"github.com/fpang/s3-thumbnail-notifier/internal/outcome"
)

// Response is the Lambda return value. Body is a JSON document encoded as a string.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// SuccessBody is the decoded Body of a 200 response.
type SuccessBody struct {
	Message          string `json:"message"`
	RecordsProcessed int    `json:"records_processed"`
	RecordsFailed    int    `json:"records_failed"`
	InvocationID     string `json:"invocation_id"`
	Timestamp        string `json:"timestamp"`
}

// ErrorBody is the decoded Body of a 500 response.
type ErrorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	// Step is the operation that failed ("config", "parse-event", ...), when known.
	Step      string `json:"failed_step,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Handler handles one invocation: parse, process every record in order,
// notify per outcome, respond.
type Handler struct {
	Processor  *Processor
	Composer   *notify.Composer
	Dispatcher *notify.Dispatcher
	// Ledger is optional.
	Ledger ledger.Ledger
	// Metrics returns a fresh recorder per invocation. Optional.
	Metrics func() *metrics.Recorder
	// Flush runs after every invocation (e.g. exporting spans). Optional.
	Flush func(context.Context) error
	// InitErr is a cold start failure. When set, every invocation fails
	// with it before looking at the event.
	InitErr error
	Now     func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Handle processes raw. The returned error is always nil: a handled
// failure is reported through the response and notifications, not by
// asking the platform to retry.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (Response, error) {
	start := h.now()
	invocationID := InvocationID(ctx)

	logger := log.With().Str("invocationId", invocationID).Logger()
	ctx = logger.WithContext(ctx)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "thumbnail.invocation", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("invocation.id", invocationID))
	defer func() {
		span.End()
		if h.Flush != nil {
			if err := h.Flush(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to flush telemetry")
			}
		}
	}()

	var rec *metrics.Recorder
	if h.Metrics != nil {
		rec = h.Metrics()
		rec.Property("invocationId", invocationID)
		defer func() {
			rec.Metric(metrics.DurationMs, float64(h.now().Sub(start).Milliseconds()), metrics.UnitMilliseconds)
			rec.Flush()
		}()
	}

	if h.InitErr != nil {
		return h.fail(ctx, invocationID, rec, span, h.InitErr), nil
	}
	if h.Processor == nil {
		return h.fail(ctx, invocationID, rec, span, failure.Newf(failure.Configuration, "init", "handler has no processor")), nil
	}

	records, err := ParseEvent(raw)
	if err != nil {
		return h.fail(ctx, invocationID, rec, span, err), nil
	}
	logger.Info().Int("records", len(records)).Msg("Processing event")

	failed := 0
	for _, r := range records {
		o := h.Processor.ProcessRecord(ctx, r)
		switch v := o.(type) {
		case *outcome.Success:
			if rec != nil {
				rec.Add(metrics.OriginalBytes, float64(v.OriginalBytes), metrics.UnitBytes)
				rec.Add(metrics.ThumbnailBytes, float64(v.ThumbnailBytes), metrics.UnitBytes)
			}
		case *outcome.RecordFailure:
			failed++
		}
		h.report(ctx, invocationID, o, rec)
	}

	if rec != nil {
		rec.Metric(metrics.RecordsProcessed, float64(len(records)), metrics.UnitCount)
		rec.Metric(metrics.RecordsFailed, float64(failed), metrics.UnitCount)
	}
	span.SetAttributes(attribute.Int("records.processed", len(records)), attribute.Int("records.failed", failed))
	span.SetStatus(codes.Ok, "processed")

	logger.Info().
		Int("records", len(records)).
		Int("failed", failed).
		Dur("duration", h.now().Sub(start)).
		Msg("Event processed")

	return respond(http.StatusOK, SuccessBody{
		Message:          completionMessage(len(records), failed),
		RecordsProcessed: len(records),
		RecordsFailed:    failed,
		InvocationID:     invocationID,
		Timestamp:        h.now().UTC().Format(time.RFC3339),
	}), nil
}

func (h *Handler) fail(ctx context.Context, invocationID string, rec *metrics.Recorder, span trace.Span, err error) Response {
	kind, msg := failure.Describe(err, failure.Configuration)
	step := failure.StepOf(err)
	loggerFrom(ctx).Error().Err(err).Str("errorType", kind.String()).Str("stage", kind.Stage()).Str("step", step).Msg("Invocation failed")

	span.RecordError(err)
	span.SetStatus(codes.Error, "invocation failed")
	if rec != nil {
		rec.Count(metrics.InvocationFailed)
	}

	at := h.now()
	h.report(ctx, invocationID, &outcome.InvocationFailure{Cause: err, At: at}, rec)

	return respond(http.StatusInternalServerError, ErrorBody{
		Error:     "Lambda execution failed",
		ErrorType: kind.String(),
		Step:      step,
		Message:   msg,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}

// report notifies and records one outcome. Neither step can fail the invocation.
func (h *Handler) report(ctx context.Context, invocationID string, o outcome.Outcome, rec *metrics.Recorder) {
	if h.Composer != nil {
		if !h.Dispatcher.Dispatch(ctx, h.Composer.Compose(o)) && rec != nil {
			rec.Add(metrics.NotificationFailures, 1, metrics.UnitCount)
		}
	}
	if h.Ledger != nil {
		if err := h.Ledger.Record(ctx, invocationID, o); err != nil {
			loggerFrom(ctx).Warn().Err(err).Str("status", o.Status()).Msg("Failed to record outcome (ignored)")
		}
	}
}

func completionMessage(total, failed int) string {
	switch {
	case total == 0:
		return "No records to process"
	case failed == 0:
		return "Thumbnail generation completed successfully"
	case failed == total:
		return "Thumbnail generation failed for all records"
	default:
		return fmt.Sprintf("Thumbnail generation completed with %d failure(s)", failed)
	}
}

func respond(status int, body any) Response {
	data, err := json.Marshal(body)
	if err != nil {
		data = []byte(`{"error":"failed to encode response"}`)
	}
	return Response{StatusCode: status, Body: string(data)}
}

// InvocationID returns the Lambda request ID from ctx, or a new UUID when
// running outside Lambda.
func InvocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

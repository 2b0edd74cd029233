package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/outcome"
	"github.com/fpang/s3-thumbnail-notifier/internal/storage"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbkey"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbnail"
)

const tracerName = "s3-thumbnail-notifier/pipeline"

// Steps of the per-record state machine, in order.
const (
	StepValidate  = "validate"
	StepFetch     = "fetch"
	StepTransform = "transform"
	StepDeriveKey = "derive-key"
	StepStore     = "store"
)

// Processor runs one record through fetch, transform, derive-key and store.
type Processor struct {
	Gateway     storage.Gateway
	Transformer *thumbnail.Transformer
	DestBucket  string
	Now         func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// ProcessRecord returns exactly one Success or RecordFailure for rec. It never
// panics; a panic in any step becomes a RecordFailure for that step.
func (p *Processor) ProcessRecord(ctx context.Context, rec Record) (result outcome.Outcome) {
	start := p.now()
	logger := loggerFrom(ctx).With().Str("bucket", rec.Bucket).Str("key", rec.Key).Logger()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "thumbnail.process_record", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("s3.bucket", rec.Bucket),
		attribute.String("s3.key", rec.Key),
		attribute.Int64("s3.size", rec.Size),
	)
	defer span.End()

	step := StepValidate
	fail := func(err error) outcome.Outcome {
		if _, ok := failure.KindOf(err); !ok {
			err = failure.New(failure.Access, step, err)
		}
		kind, _ := failure.KindOf(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", kind.String()), attribute.String("error.stage", kind.Stage()))
		span.SetStatus(codes.Error, step+" failed")
		logger.Error().Err(err).Str("step", step).Str("errorType", kind.String()).Str("stage", kind.Stage()).Msg("Record failed")
		return &outcome.RecordFailure{
			SourceBucket: rec.Bucket,
			SourceKey:    rec.Key,
			Step:         step,
			Cause:        err,
			At:           p.now(),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = fail(failure.Newf(panicKind(step), step, "panic: %v", r))
		}
	}()

	if err := p.validate(rec); err != nil {
		return fail(err)
	}

	step = StepFetch
	span.AddEvent(step)
	data, err := p.Gateway.Fetch(ctx, rec.Bucket, rec.Key)
	if err != nil {
		return fail(err)
	}
	logger.Debug().Int("size", len(data)).Msg("Source object fetched")

	step = StepTransform
	span.AddEvent(step)
	thumb, err := p.Transformer.Transform(data)
	if err != nil {
		return fail(err)
	}

	step = StepDeriveKey
	destKey, err := thumbkey.Derive(rec.Key)
	if err != nil {
		return fail(err)
	}

	step = StepStore
	span.AddEvent(step, trace.WithAttributes(attribute.String("s3.dest_key", destKey)))
	meta := storage.ThumbnailMetadata(rec.Bucket, rec.Key, p.now())
	if err := p.Gateway.Store(ctx, p.DestBucket, destKey, thumb.Data, thumbnail.ContentType, meta); err != nil {
		return fail(err)
	}

	elapsed := p.now().Sub(start)
	span.SetAttributes(
		attribute.Int("thumbnail.width", thumb.Width),
		attribute.Int("thumbnail.height", thumb.Height),
		attribute.Int("thumbnail.bytes", len(thumb.Data)),
	)
	span.SetStatus(codes.Ok, "stored")

	logger.Info().
		Str("destKey", destKey).
		Int("originalBytes", len(data)).
		Int("thumbnailBytes", len(thumb.Data)).
		Int("width", thumb.Width).
		Int("height", thumb.Height).
		Dur("duration", elapsed).
		Msg("Thumbnail stored")

	return &outcome.Success{
		SourceBucket:   rec.Bucket,
		SourceKey:      rec.Key,
		DestBucket:     p.DestBucket,
		DestKey:        destKey,
		OriginalBytes:  len(data),
		ThumbnailBytes: len(thumb.Data),
		SourceWidth:    thumb.SourceWidth,
		SourceHeight:   thumb.SourceHeight,
		Width:          thumb.Width,
		Height:         thumb.Height,
		Format:         thumb.Format,
		ColorMode:      thumb.ColorMode,
		Camera:         thumb.Camera,
		Duration:       elapsed,
		At:             p.now(),
	}
}

func (p *Processor) validate(rec Record) error {
	switch {
	case rec.Defect != nil:
		return failure.New(failure.MalformedEvent, StepValidate, rec.Defect)
	case rec.Bucket == "":
		return failure.New(failure.MalformedEvent, StepValidate, errors.New("record has no bucket name"))
	case rec.Key == "":
		return failure.New(failure.MalformedEvent, StepValidate, errors.New("record has no object key"))
	case rec.Bucket == p.DestBucket && thumbkey.IsThumbnail(rec.Key):
		return failure.Newf(failure.MalformedEvent, StepValidate,
			"refusing to thumbnail %q: it is already a thumbnail in the destination bucket", rec.Key)
	}
	return nil
}

func panicKind(step string) failure.Kind {
	switch step {
	case StepTransform:
		return failure.Encode
	case StepValidate, StepDeriveKey:
		return failure.MalformedEvent
	default:
		return failure.Access
	}
}

// loggerFrom returns the logger carried by ctx, or the global logger.
func loggerFrom(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

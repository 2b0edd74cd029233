package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

// Publisher delivers a message to one channel.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, msg Message) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes notifications to the log. It is used when no external
// channel is configured, e.g. for local CLI runs.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, msg Message) error {
	log.Info().
		Str("subject", msg.Subject).
		Str("status", msg.Status).
		Str("body", msg.Body).
		Msg("Notification")
	return nil
}

// Dispatcher sends messages through a Publisher and swallows failures.
type Dispatcher struct {
	Publisher Publisher
}

// Dispatch sends msg and reports whether delivery succeeded. A failed delivery
// is logged as a DispatchError and otherwise ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) bool {
	if d == nil || d.Publisher == nil {
		log.Warn().Str("subject", msg.Subject).Msg("No notification publisher configured, dropping message")
		return false
	}

	if err := d.Publisher.Publish(ctx, msg); err != nil {
		err = failure.New(failure.Dispatch, "dispatch", fmt.Errorf("publish %q: %w", msg.Subject, err))
		log.Error().
			Err(err).
			Str("errorType", failure.Dispatch.String()).
			Str("status", msg.Status).
			Msg("Failed to send notification (ignored)")
		return false
	}

	log.Debug().Str("subject", msg.Subject).Msg("Notification sent")
	return true
}

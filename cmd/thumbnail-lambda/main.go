// Package main provides the Lambda entry point for S3-triggered thumbnail
// generation.
//
// The function is subscribed to ObjectCreated events on the source bucket.
// For each record it downloads the image, writes a bounded JPEG thumbnail to
// THUMBNAIL_BUCKET and publishes one notification per outcome.
//
// Memory: 512 MB
// Timeout: 1 minute
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-thumbnail-notifier/internal/config"
	"github.com/fpang/s3-thumbnail-notifier/internal/lambdaboot"
	"github.com/fpang/s3-thumbnail-notifier/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var boot *lambdaboot.Boot

func init() {
	logging.Init()

	cfg, err := config.Load()
	boot = lambdaboot.Build(context.Background(), cfg, err, lambdaboot.Options{
		Name:    "thumbnail-lambda",
		Version: version,
	})
}

func main() {
	// Lambda sends SIGTERM before freezing the environment for good when
	// extensions are registered. Flush any buffered spans.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM)
	go func() {
		<-sigs
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if err := boot.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Tracing shutdown failed")
		}
		os.Exit(0)
	}()

	lambda.Start(boot.Handler.Handle)
}

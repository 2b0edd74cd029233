// Package config loads the thumbnail function's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/telemetry"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbnail"
)

// Storage backends.
const (
	BackendS3    = "s3"
	BackendMinIO = "minio"
)

// NotifyConfig selects the notification channels. At least one must be set.
type NotifyConfig struct {
	SNSTopicARN        string `env:"SNS_TOPIC_ARN" env-description:"SNS topic for outcome notifications"`
	EventBusName       string `env:"EVENT_BUS_NAME" env-description:"EventBridge bus for outcome events"`
	WebhookURL         string `env:"WEBHOOK_URL" env-description:"HTTP endpoint that receives signed outcome notifications"`
	WebhookSecret      string `env:"WEBHOOK_SECRET" env-description:"HMAC secret for webhook signatures"`
	WebhookSecretParam string `env:"WEBHOOK_SECRET_PARAM" env-description:"SSM parameter holding the webhook secret"`
}

// Enabled reports whether any channel is configured.
func (n NotifyConfig) Enabled() bool {
	return n.SNSTopicARN != "" || n.EventBusName != "" || n.WebhookURL != ""
}

type ThumbnailConfig struct {
	MaxWidth  int `env:"THUMBNAIL_MAX_WIDTH" env-default:"200" env-description:"Bounding box width in pixels"`
	MaxHeight int `env:"THUMBNAIL_MAX_HEIGHT" env-default:"200" env-description:"Bounding box height in pixels"`
	Quality   int `env:"THUMBNAIL_QUALITY" env-default:"80" env-description:"JPEG quality 1-100"`
	MaxPixels int `env:"THUMBNAIL_MAX_PIXELS" env-default:"25000000" env-description:"Largest source image (width*height) that will be decoded"`
}

type StorageConfig struct {
	Backend        string `env:"STORAGE_BACKEND" env-default:"s3" env-description:"Object store backend: s3 or minio"`
	S3Endpoint     string `env:"S3_ENDPOINT" env-description:"Custom S3 endpoint URL"`
	S3UsePathStyle bool   `env:"S3_USE_PATH_STYLE" env-default:"false" env-description:"Use path-style S3 addressing"`
	S3AccessKeyID  string `env:"S3_ACCESS_KEY_ID" env-description:"Static access key for a custom S3 endpoint"`
	S3SecretKey    string `env:"S3_SECRET_ACCESS_KEY" env-description:"Static secret key for a custom S3 endpoint"`
	MinIOEndpoint  string `env:"MINIO_ENDPOINT" env-description:"MinIO host:port"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" env-description:"MinIO access key"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" env-description:"MinIO secret key"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL" env-default:"true" env-description:"Use TLS for MinIO"`
}

type TelemetryConfig struct {
	TraceExporter    string `env:"TRACE_EXPORTER" env-default:"none" env-description:"Trace exporter: none, stdout or otlp"`
	OTLPEndpoint     string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-description:"OTLP/HTTP collector host:port"`
	OTLPInsecure     bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"false" env-description:"Disable TLS for the OTLP exporter"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" env-default:"S3ThumbnailNotifier" env-description:"CloudWatch EMF namespace"`
	ServiceName      string `env:"OTEL_SERVICE_NAME" env-default:"s3-thumbnail-notifier" env-description:"Service name on exported spans"`
}

type Config struct {
	ThumbnailBucket string `env:"THUMBNAIL_BUCKET" env-description:"Destination bucket for thumbnails (required)"`
	OutcomeTable    string `env:"OUTCOME_TABLE" env-description:"DynamoDB table for the outcome ledger (optional)"`

	Notify    NotifyConfig
	Thumbnail ThumbnailConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// Steps reported on configuration errors.
const (
	StepReadEnv  = "read-env"
	StepValidate = "config"
)

// ValidateOption relaxes a Validate check.
type ValidateOption func(*validation)

type validation struct {
	channelOptional bool
}

// ChannelOptional drops the notification channel requirement. Callers that
// bring their own publisher (a dry run, for instance) use it.
func ChannelOptional() ValidateOption {
	return func(v *validation) { v.channelOptional = true }
}

// Load reads the environment into a Config and validates it. Errors are
// ConfigurationError values. The returned Config is usable even when err is
// non-nil, so callers can still build a notifier for the failure.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return &cfg, failure.New(failure.Configuration, StepReadEnv, fmt.Errorf("read environment: %w", err))
	}
	return &cfg, cfg.Validate()
}

// Validate checks required settings and ranges.
func (c *Config) Validate(opts ...ValidateOption) error {
	var v validation
	for _, opt := range opts {
		opt(&v)
	}

	var errs []error
	if strings.TrimSpace(c.ThumbnailBucket) == "" {
		errs = append(errs, errors.New("THUMBNAIL_BUCKET is required"))
	}
	if !c.Notify.Enabled() && !v.channelOptional {
		errs = append(errs, errors.New("one of SNS_TOPIC_ARN, EVENT_BUS_NAME or WEBHOOK_URL is required"))
	}
	if c.Thumbnail.MaxWidth <= 0 || c.Thumbnail.MaxHeight <= 0 {
		errs = append(errs, fmt.Errorf("thumbnail bounds must be positive, got %dx%d", c.Thumbnail.MaxWidth, c.Thumbnail.MaxHeight))
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_QUALITY must be 1..100, got %d", c.Thumbnail.Quality))
	}
	if c.Thumbnail.MaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("THUMBNAIL_MAX_PIXELS must be positive, got %d", c.Thumbnail.MaxPixels))
	}
	switch c.Storage.Backend {
	case BackendS3:
	case BackendMinIO:
		if c.Storage.MinIOEndpoint == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT is required when STORAGE_BACKEND=minio"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if !telemetry.ValidExporter(c.Telemetry.TraceExporter) {
		errs = append(errs, fmt.Errorf("unknown TRACE_EXPORTER %q", c.Telemetry.TraceExporter))
	}
	if len(errs) == 0 {
		return nil
	}
	return failure.New(failure.Configuration, StepValidate, errors.Join(errs...))
}

// TransformerOptions returns the thumbnail options for c.
func (c *Config) TransformerOptions() []thumbnail.Option {
	return []thumbnail.Option{
		thumbnail.WithBounds(c.Thumbnail.MaxWidth, c.Thumbnail.MaxHeight),
		thumbnail.WithQuality(c.Thumbnail.Quality),
		thumbnail.WithMaxPixels(c.Thumbnail.MaxPixels),
	}
}

// Usage returns a description of every supported environment variable.
func Usage() string {
	var cfg Config
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return text
}

// Package lambdaboot builds the thumbnail pipeline from configuration at cold
// start. Construction failures do not abort the process: they are captured as
// the handler's init error so every invocation reports them through the
// normal failure path.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-thumbnail-notifier/internal/config"
	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/ledger"
	"github.com/fpang/s3-thumbnail-notifier/internal/logging"
	"github.com/fpang/s3-thumbnail-notifier/internal/metrics"
	"github.com/fpang/s3-thumbnail-notifier/internal/notify"
	"github.com/fpang/s3-thumbnail-notifier/internal/pipeline"
	"github.com/fpang/s3-thumbnail-notifier/internal/storage"
	"github.com/fpang/s3-thumbnail-notifier/internal/telemetry"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbnail"
)

// LoadAWS loads the shared AWS config. SDK retries are disabled: a failed
// request surfaces immediately as a classified error.
func LoadAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), 1)
		}),
	)
	if err != nil {
		return aws.Config{}, failure.New(failure.Configuration, "aws-config", fmt.Errorf("load AWS config: %w", err))
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// NewGateway builds the storage gateway selected by st.
func NewGateway(awsCfg aws.Config, st config.StorageConfig) (storage.Gateway, error) {
	switch st.Backend {
	case config.BackendMinIO:
		mc, err := storage.NewMinIOClient(storage.MinIOConfig{
			Endpoint: st.MinIOEndpoint,
			Access:   st.MinIOAccessKey,
			Secret:   st.MinIOSecretKey,
			UseSSL:   st.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewMinIOGateway(mc), nil
	case config.BackendS3, "":
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if st.S3Endpoint != "" {
				o.BaseEndpoint = aws.String(st.S3Endpoint)
			}
			o.UsePathStyle = st.S3UsePathStyle
			if st.S3AccessKeyID != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(st.S3AccessKeyID, st.S3SecretKey, "")
			}
		})
		return storage.NewS3Gateway(client), nil
	default:
		return nil, failure.Newf(failure.Configuration, "storage", "unknown storage backend %q", st.Backend)
	}
}

// SSMAPI is the subset of *ssm.Client used by ResolveSecret.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSecret reads a SecureString parameter.
func ResolveSecret(ctx context.Context, client SSMAPI, param string) (string, error) {
	start := time.Now()
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", failure.New(failure.Configuration, "ssm", fmt.Errorf("read %s: %w", param, err))
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", failure.Newf(failure.Configuration, "ssm", "parameter %s has no value", param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return *out.Parameter.Value, nil
}

// Clients lets callers and tests substitute the notification clients.
type Clients struct {
	SNS         notify.SNSAPI
	EventBridge notify.EventBridgeAPI
	SSM         SSMAPI
}

// DefaultClients builds SDK clients from awsCfg.
func DefaultClients(awsCfg aws.Config) Clients {
	return Clients{
		SNS:         sns.NewFromConfig(awsCfg),
		EventBridge: eventbridge.NewFromConfig(awsCfg),
		SSM:         ssm.NewFromConfig(awsCfg),
	}
}

// NewPublisher builds a publisher for every configured channel. With no
// channel configured, notifications go to the log.
func NewPublisher(ctx context.Context, n config.NotifyConfig, clients Clients) (notify.Publisher, error) {
	var pubs notify.Fanout
	if n.SNSTopicARN != "" {
		pubs = append(pubs, notify.NewSNSPublisher(clients.SNS, n.SNSTopicARN))
	}
	if n.EventBusName != "" {
		pubs = append(pubs, notify.NewEventBridgePublisher(clients.EventBridge, n.EventBusName))
	}
	if n.WebhookURL != "" {
		secret := n.WebhookSecret
		if secret == "" && n.WebhookSecretParam != "" {
			var err error
			if secret, err = ResolveSecret(ctx, clients.SSM, n.WebhookSecretParam); err != nil {
				// Keep the other channels so the failure itself can be reported.
				return combine(pubs), err
			}
		}
		pubs = append(pubs, notify.NewWebhookPublisher(notify.WebhookConfig{URL: n.WebhookURL, SigningSecret: secret}))
	}
	return combine(pubs), nil
}

func combine(pubs notify.Fanout) notify.Publisher {
	switch len(pubs) {
	case 0:
		return notify.LogPublisher{}
	case 1:
		return pubs[0]
	default:
		return pubs
	}
}

// Boot is the assembled pipeline.
type Boot struct {
	Handler *pipeline.Handler
	// Shutdown flushes and stops tracing.
	Shutdown func(context.Context) error
}

// Options override parts of the assembly.
type Options struct {
	// Name labels the startup log ("thumbnail-lambda", "thumbnail-cli").
	Name    string
	Version string
	// Publisher replaces the configured notification channels.
	Publisher notify.Publisher
}

// Build assembles the handler from cfg. cfgErr is the error from
// config.Load, if any; it and any construction error become the handler's
// init error. Build always returns a usable Boot.
func Build(ctx context.Context, cfg *config.Config, cfgErr error, opts Options) *Boot {
	start := time.Now()
	if cfg == nil {
		cfg = &config.Config{}
	}
	startup := logging.NewStartupLogger(opts.Name).Version(opts.Version)

	if opts.Publisher != nil && failure.StepOf(cfgErr) == config.StepValidate {
		// The override replaces every configured channel.
		cfgErr = cfg.Validate(config.ChannelOptional())
	}

	var initErrs []error
	if cfgErr != nil {
		initErrs = append(initErrs, cfgErr)
	}

	awsCfg, err := LoadAWS(ctx)
	if err != nil {
		initErrs = append(initErrs, err)
	}

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
		shutdown = func(context.Context) error { return nil }
	}

	pub := opts.Publisher
	if pub == nil {
		if pub, err = NewPublisher(ctx, cfg.Notify, DefaultClients(awsCfg)); err != nil {
			initErrs = append(initErrs, err)
		}
	}

	handler := &pipeline.Handler{
		Composer: &notify.Composer{
			MaxWidth:   cfg.Thumbnail.MaxWidth,
			MaxHeight:  cfg.Thumbnail.MaxHeight,
			Quality:    cfg.Thumbnail.Quality,
			DestBucket: cfg.ThumbnailBucket,
			Channels:   channelNames(cfg.Notify, opts.Publisher),
		},
		Dispatcher: &notify.Dispatcher{Publisher: pub},
		Ledger:     ledger.Nop{},
		Flush:      telemetry.Flusher(),
	}

	namespace := cfg.Telemetry.MetricsNamespace
	backend := cfg.Storage.Backend
	handler.Metrics = func() *metrics.Recorder {
		return metrics.New(namespace).Dimension("Backend", backend)
	}

	if cfg.OutcomeTable != "" {
		handler.Ledger = ledger.NewDynamoLedger(dynamodb.NewFromConfig(awsCfg), cfg.OutcomeTable)
	}

	if cfgErr == nil {
		if p, err := newProcessor(awsCfg, cfg); err != nil {
			initErrs = append(initErrs, err)
		} else {
			handler.Processor = p
		}
	}

	if len(initErrs) > 0 {
		handler.InitErr = joinInitErrors(initErrs)
		startup.InitError(handler.InitErr)
	}

	startup.
		S3Bucket("thumbnails", cfg.ThumbnailBucket).
		SNSTopic("notifications", cfg.Notify.SNSTopicARN).
		EventBus("notifications", cfg.Notify.EventBusName).
		DynamoTable("outcomes", cfg.OutcomeTable).
		SSMParam("webhookSecret", cfg.Notify.WebhookSecretParam).
		Endpoint("webhook", webhookHost(cfg.Notify.WebhookURL)).
		Endpoint("s3", cfg.Storage.S3Endpoint).
		Endpoint("minio", cfg.Storage.MinIOEndpoint).
		Endpoint("otlp", cfg.Telemetry.OTLPEndpoint).
		Feature("ledger", cfg.OutcomeTable != "").
		Feature("webhookSigned", cfg.Notify.WebhookSecret != "" || cfg.Notify.WebhookSecretParam != "").
		Config("storageBackend", backend).
		Config("maxWidth", fmt.Sprint(cfg.Thumbnail.MaxWidth)).
		Config("maxHeight", fmt.Sprint(cfg.Thumbnail.MaxHeight)).
		Config("quality", fmt.Sprint(cfg.Thumbnail.Quality)).
		Config("maxPixels", fmt.Sprint(cfg.Thumbnail.MaxPixels)).
		Config("traceExporter", cfg.Telemetry.TraceExporter).
		InitDuration(time.Since(start)).
		Log()

	return &Boot{Handler: handler, Shutdown: shutdown}
}

func newProcessor(awsCfg aws.Config, cfg *config.Config) (*pipeline.Processor, error) {
	tr, err := thumbnail.New(cfg.TransformerOptions()...)
	if err != nil {
		return nil, err
	}
	gw, err := NewGateway(awsCfg, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return &pipeline.Processor{Gateway: gw, Transformer: tr, DestBucket: cfg.ThumbnailBucket}, nil
}

// joinInitErrors keeps the first error's kind so the invocation failure is
// classified by its root cause.
func joinInitErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	kind, ok := failure.KindOf(errs[0])
	if !ok {
		kind = failure.Configuration
	}
	return failure.New(kind, "init", errors.Join(errs...))
}

// channelNames lists where notifications go, for invocation failure messages.
func channelNames(n config.NotifyConfig, override notify.Publisher) []string {
	if override != nil {
		if _, ok := override.(notify.LogPublisher); ok {
			return []string{"log"}
		}
		return []string{fmt.Sprintf("%T", override)}
	}
	var names []string
	if n.SNSTopicARN != "" {
		names = append(names, "sns:"+n.SNSTopicARN)
	}
	if n.EventBusName != "" {
		names = append(names, "eventbridge:"+n.EventBusName)
	}
	if n.WebhookURL != "" {
		names = append(names, "webhook:"+webhookHost(n.WebhookURL))
	}
	if len(names) == 0 {
		return []string{"log"}
	}
	return names
}

// webhookHost drops the path and query so tokens embedded in a URL are not logged.
func webhookHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

package lambdaboot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/fpang/s3-thumbnail-notifier/internal/config"
	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
	"github.com/fpang/s3-thumbnail-notifier/internal/ledger"
	"github.com/fpang/s3-thumbnail-notifier/internal/notify"
	"github.com/fpang/s3-thumbnail-notifier/internal/storage"
)

type fakeSSM struct {
	value string
	err   error
	name  string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.name = *in.Name
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: aws.String(f.value)}}, nil
}

func testClients(s *fakeSSM) Clients {
	c := DefaultClients(aws.Config{Region: "us-east-1"})
	c.SSM = s
	return c
}

func TestResolveSecret(t *testing.T) {
	s := &fakeSSM{value: "hunter2"}
	got, err := ResolveSecret(context.Background(), s, "/thumbs/webhook-secret")
	if err != nil || got != "hunter2" {
		t.Errorf("ResolveSecret() = %q, %v", got, err)
	}
	if s.name != "/thumbs/webhook-secret" {
		t.Errorf("requested %q", s.name)
	}

	_, err = ResolveSecret(context.Background(), &fakeSSM{err: errors.New("ParameterNotFound")}, "/missing")
	if !failure.Is(err, failure.Configuration) {
		t.Errorf("ResolveSecret() error = %v, want ConfigurationError", err)
	}
}

func TestNewPublisher(t *testing.T) {
	ctx := context.Background()

	pub, err := NewPublisher(ctx, config.NotifyConfig{}, testClients(&fakeSSM{}))
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if _, ok := pub.(notify.LogPublisher); !ok {
		t.Errorf("no channels: got %T, want LogPublisher", pub)
	}

	pub, _ = NewPublisher(ctx, config.NotifyConfig{SNSTopicARN: "arn:aws:sns:us-east-1:1:t"}, testClients(&fakeSSM{}))
	if _, ok := pub.(*notify.SNSPublisher); !ok {
		t.Errorf("SNS only: got %T, want *SNSPublisher", pub)
	}

	s := &fakeSSM{value: "secret"}
	pub, err = NewPublisher(ctx, config.NotifyConfig{
		SNSTopicARN:        "arn:aws:sns:us-east-1:1:t",
		EventBusName:       "bus",
		WebhookURL:         "https://hooks.example.com/x",
		WebhookSecretParam: "/thumbs/secret",
	}, testClients(s))
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	fan, ok := pub.(notify.Fanout)
	if !ok || len(fan) != 3 {
		t.Errorf("all channels: got %T %v, want Fanout of 3", pub, pub)
	}
	if s.name != "/thumbs/secret" {
		t.Errorf("webhook secret param not resolved, requested %q", s.name)
	}
}

func TestNewPublisher_SecretFailureKeepsOtherChannels(t *testing.T) {
	pub, err := NewPublisher(context.Background(), config.NotifyConfig{
		SNSTopicARN:        "arn:aws:sns:us-east-1:1:t",
		WebhookURL:         "https://hooks.example.com/x",
		WebhookSecretParam: "/thumbs/secret",
	}, testClients(&fakeSSM{err: errors.New("AccessDeniedException")}))
	if !failure.Is(err, failure.Configuration) {
		t.Errorf("error = %v, want ConfigurationError", err)
	}
	if _, ok := pub.(*notify.SNSPublisher); !ok {
		t.Errorf("got %T, want the SNS publisher to survive", pub)
	}
}

func TestNewGateway(t *testing.T) {
	gw, err := NewGateway(aws.Config{Region: "us-east-1"}, config.StorageConfig{Backend: config.BackendS3, S3Endpoint: "http://localhost:4566", S3UsePathStyle: true})
	if err != nil {
		t.Fatalf("NewGateway(s3) error = %v", err)
	}
	if _, ok := gw.(*storage.S3Gateway); !ok {
		t.Errorf("got %T, want *S3Gateway", gw)
	}

	gw, err = NewGateway(aws.Config{}, config.StorageConfig{Backend: config.BackendMinIO, MinIOEndpoint: "localhost:9000"})
	if err != nil {
		t.Fatalf("NewGateway(minio) error = %v", err)
	}
	if _, ok := gw.(*storage.MinIOGateway); !ok {
		t.Errorf("got %T, want *MinIOGateway", gw)
	}

	if _, err := NewGateway(aws.Config{}, config.StorageConfig{Backend: config.BackendMinIO}); !failure.Is(err, failure.Configuration) {
		t.Errorf("minio without endpoint error = %v", err)
	}
	if _, err := NewGateway(aws.Config{}, config.StorageConfig{Backend: "gcs"}); !failure.Is(err, failure.Configuration) {
		t.Errorf("unknown backend error = %v", err)
	}
}

type recordingPublisher struct {
	msgs []notify.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg notify.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestBuild_ConfigErrorFailsEveryInvocation(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	pub := &recordingPublisher{}
	cfgErr := failure.Newf(failure.Configuration, "config", "THUMBNAIL_BUCKET is required")

	boot := Build(context.Background(), &config.Config{}, cfgErr, Options{Name: "test", Publisher: pub})
	if boot.Handler.InitErr == nil {
		t.Fatal("expected InitErr to be set")
	}
	if boot.Handler.Processor != nil {
		t.Error("processor should not be built from an invalid config")
	}

	resp, err := boot.Handler.Handle(context.Background(), json.RawMessage(`{"Records":[]}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.StatusCode != 500 || !strings.Contains(resp.Body, "THUMBNAIL_BUCKET is required") {
		t.Errorf("response = %+v", resp)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Subject != notify.SubjectInvocationFailure {
		t.Errorf("notifications = %+v", pub.msgs)
	}
	if err := boot.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestBuild_PublisherOverrideNeedsNoChannel(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	for _, name := range []string{"SNS_TOPIC_ARN", "EVENT_BUS_NAME", "WEBHOOK_URL", "OUTCOME_TABLE"} {
		t.Setenv(name, "")
	}
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("TRACE_EXPORTER", "none")
	t.Setenv("THUMBNAIL_BUCKET", "thumbs")

	cfg, cfgErr := config.Load()
	if !failure.Is(cfgErr, failure.Configuration) {
		t.Fatalf("Load() without a channel error = %v, want ConfigurationError", cfgErr)
	}

	boot := Build(context.Background(), cfg, cfgErr, Options{Name: "test", Publisher: notify.LogPublisher{}})
	if boot.Handler.InitErr != nil {
		t.Fatalf("InitErr = %v, want none with a publisher override", boot.Handler.InitErr)
	}
	if boot.Handler.Processor == nil {
		t.Fatal("processor not built")
	}
	if _, ok := boot.Handler.Ledger.(ledger.Nop); !ok {
		t.Errorf("Ledger = %T, want Nop without OUTCOME_TABLE", boot.Handler.Ledger)
	}
	if got := boot.Handler.Composer.Channels; len(got) != 1 || got[0] != "log" {
		t.Errorf("Composer.Channels = %v, want [log]", got)
	}
	if boot.Handler.Composer.DestBucket != "thumbs" {
		t.Errorf("Composer.DestBucket = %q", boot.Handler.Composer.DestBucket)
	}

	resp, _ := boot.Handler.Handle(context.Background(), json.RawMessage(`{"Records":[]}`))
	if resp.StatusCode != 200 {
		t.Errorf("response = %+v, want 200", resp)
	}
}

func TestBuild_PublisherOverrideKeepsOtherConfigErrors(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	cfg := &config.Config{Thumbnail: config.ThumbnailConfig{MaxWidth: 200, MaxHeight: 200, Quality: 80, MaxPixels: 1}}
	cfg.Storage.Backend = config.BackendS3

	boot := Build(context.Background(), cfg, cfg.Validate(), Options{Name: "test", Publisher: notify.LogPublisher{}})
	if err := boot.Handler.InitErr; err == nil || !strings.Contains(err.Error(), "THUMBNAIL_BUCKET is required") {
		t.Errorf("InitErr = %v, want the missing bucket reported", err)
	}
	if err := boot.Handler.InitErr; err != nil && strings.Contains(err.Error(), "SNS_TOPIC_ARN") {
		t.Errorf("InitErr = %v, channel requirement should be dropped", err)
	}
}

func TestChannelNames(t *testing.T) {
	got := channelNames(config.NotifyConfig{
		SNSTopicARN:  "arn:aws:sns:us-east-1:1:t",
		EventBusName: "bus",
		WebhookURL:   "https://hooks.example.com/x?token=secret",
	}, nil)
	want := []string{"sns:arn:aws:sns:us-east-1:1:t", "eventbridge:bus", "webhook:hooks.example.com"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("channelNames() = %v, want %v", got, want)
	}
	if got := channelNames(config.NotifyConfig{}, nil); len(got) != 1 || got[0] != "log" {
		t.Errorf("no channels = %v, want [log]", got)
	}
	if got := channelNames(config.NotifyConfig{SNSTopicARN: "x"}, notify.LogPublisher{}); got[0] != "log" {
		t.Errorf("override = %v, want [log]", got)
	}
}

func TestJoinInitErrors(t *testing.T) {
	first := failure.Newf(failure.Configuration, "config", "bad")
	if got := joinInitErrors([]error{first}); got != first {
		t.Errorf("single error should be returned as is")
	}
	joined := joinInitErrors([]error{first, errors.New("aws")})
	if !failure.Is(joined, failure.Configuration) || !strings.Contains(joined.Error(), "aws") {
		t.Errorf("joined = %v", joined)
	}
}

func TestWebhookHost(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://hooks.example.com/path?token=abc", "hooks.example.com"},
		{"http://localhost:8080", "localhost:8080"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := webhookHost(tt.in); got != tt.want {
			t.Errorf("webhookHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/minio/minio-go/v7"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

// fakeS3 records PutObject inputs and returns canned results.
type fakeS3 struct {
	objects map[string][]byte
	getErr  error
	putErr  error
	puts    []*s3.PutObjectInput
	putBody [][]byte
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.putBody = append(f.putBody, body)
	return &s3.PutObjectOutput{}, nil
}

func statusErr(code int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("http failure"),
		},
		RequestID: "req-1",
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code   string
		status int
		want   failure.Kind
	}{
		{"NoSuchKey", 0, failure.NotFound},
		{"NoSuchBucket", 404, failure.NotFound},
		{"", 404, failure.NotFound},
		{"AccessDenied", 403, failure.Access},
		{"", 403, failure.Access},
		{"SignatureDoesNotMatch", 0, failure.Access},
		{"SlowDown", 503, failure.Quota},
		{"", 429, failure.Quota},
		{"QuotaExceeded", 0, failure.Quota},
		{"XMinioStorageFull", 0, failure.Quota},
		{"ProvisionedThroughputThrottled", 400, failure.Quota},
		{"InternalError", 500, failure.Access},
		{"", 0, failure.Access},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%s/%d", tt.code, tt.status)
		t.Run(name, func(t *testing.T) {
			if got := classify(tt.code, tt.status); got != tt.want {
				t.Errorf("classify(%q, %d) = %v, want %v", tt.code, tt.status, got, tt.want)
			}
		})
	}
}

func TestS3Gateway_Fetch(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"src/photo.png": []byte("pixels")}}
	gw := NewS3Gateway(fake)

	data, err := gw.Fetch(context.Background(), "src", "photo.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "pixels" {
		t.Errorf("Fetch = %q, want pixels", data)
	}

	_, err = gw.Fetch(context.Background(), "src", "missing.png")
	if !failure.Is(err, failure.NotFound) {
		t.Errorf("missing object error = %v, want NotFoundError", err)
	}
	if failure.StepOf(err) != "fetch" {
		t.Errorf("step = %q, want fetch", failure.StepOf(err))
	}
}

func TestS3Gateway_FetchErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "nope"}, failure.Access},
		{"status 404", statusErr(404), failure.NotFound},
		{"status 403", statusErr(403), failure.Access},
		{"opaque", errors.New("connection reset"), failure.Access},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewS3Gateway(&fakeS3{getErr: tt.err})
			_, err := gw.Fetch(context.Background(), "b", "k")
			if !failure.Is(err, tt.want) {
				t.Errorf("Fetch error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error should wrap the SDK error")
			}
		})
	}
}

func TestS3Gateway_Store(t *testing.T) {
	fake := &fakeS3{}
	gw := NewS3Gateway(fake)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := ThumbnailMetadata("src", "source/photo.png", at)

	err := gw.Store(context.Background(), "thumbs", "thumbnails/photo_thumb.jpg", []byte("jpeg"), "image/jpeg", meta)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("PutObject called %d times, want 1", len(fake.puts))
	}
	in := fake.puts[0]
	if *in.Bucket != "thumbs" || *in.Key != "thumbnails/photo_thumb.jpg" {
		t.Errorf("PutObject target = %s/%s", *in.Bucket, *in.Key)
	}
	if *in.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", *in.ContentType)
	}
	if *in.ContentLength != 4 || string(fake.putBody[0]) != "jpeg" {
		t.Errorf("body = %q (len %d)", fake.putBody[0], *in.ContentLength)
	}
	if *in.Tagging != "Project=s3-thumbnail-notifier" {
		t.Errorf("Tagging = %q", *in.Tagging)
	}
	want := map[string]string{
		"source-key":    "source/photo.png",
		"source-bucket": "src",
		"generator":     "s3-thumbnail-notifier",
		"generated-at":  "2026-03-01T12:00:00Z",
	}
	for k, v := range want {
		if in.Metadata[k] != v {
			t.Errorf("Metadata[%q] = %q, want %q", k, in.Metadata[k], v)
		}
	}
}

func TestS3Gateway_StoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Kind
	}{
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, failure.Quota},
		{"missing bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, failure.Access},
		{"forbidden", statusErr(403), failure.Access},
		{"unavailable", statusErr(503), failure.Quota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := NewS3Gateway(&fakeS3{putErr: tt.err})
			err := gw.Store(context.Background(), "b", "k", []byte("x"), "image/jpeg", nil)
			if !failure.Is(err, tt.want) {
				t.Errorf("Store error = %v, want %v", err, tt.want)
			}
			if failure.StepOf(err) != "store" {
				t.Errorf("step = %q, want store", failure.StepOf(err))
			}
		})
	}
}

type fakeMinIO struct {
	getErr error
	putErr error
	opts   minio.PutObjectOptions
	body   []byte
}

func (f *fakeMinIO) GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error) {
	return nil, f.getErr
}

func (f *fakeMinIO) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.opts = opts
	f.body, _ = io.ReadAll(r)
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestMinIOGateway_Errors(t *testing.T) {
	gw := NewMinIOGateway(&fakeMinIO{
		getErr: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404},
		putErr: minio.ErrorResponse{Code: "XMinioStorageFull", StatusCode: 507},
	})

	_, err := gw.Fetch(context.Background(), "b", "k")
	if !failure.Is(err, failure.NotFound) {
		t.Errorf("Fetch error = %v, want NotFoundError", err)
	}

	err = gw.Store(context.Background(), "b", "k", []byte("x"), "image/jpeg", nil)
	if !failure.Is(err, failure.Quota) {
		t.Errorf("Store error = %v, want QuotaError", err)
	}
}

func TestMinIOGateway_Store(t *testing.T) {
	fake := &fakeMinIO{}
	gw := NewMinIOGateway(fake)
	meta := map[string]string{MetaGenerator: Generator}

	if err := gw.Store(context.Background(), "b", "k", []byte("jpeg"), "image/jpeg", meta); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if fake.opts.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", fake.opts.ContentType)
	}
	if fake.opts.UserMetadata[MetaGenerator] != Generator {
		t.Errorf("UserMetadata = %v", fake.opts.UserMetadata)
	}
	if string(fake.body) != "jpeg" {
		t.Errorf("body = %q", fake.body)
	}
}

func TestNewMinIOClient_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIOClient(MinIOConfig{})
	if !failure.Is(err, failure.Configuration) {
		t.Errorf("error = %v, want ConfigurationError", err)
	}
}

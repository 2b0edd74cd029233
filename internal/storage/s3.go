package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=" + Generator

// thumbnailCacheControl lets CDNs cache thumbnails for a day; a re-delivered
// event overwrites the same key, so the TTL stays short.
const thumbnailCacheControl = "public, max-age=86400"

// S3API is the subset of *s3.Client used by S3Gateway.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Gateway implements Gateway on Amazon S3.
type S3Gateway struct {
	client S3API
}

// Compile-time interface check.
var _ Gateway = (*S3Gateway)(nil)

// NewS3Gateway wraps an S3 client. The client should be built from the shared
// AWS config at cold start.
func NewS3Gateway(client S3API) *S3Gateway {
	return &S3Gateway{client: client}
}

// ProjectTagging returns a pointer to the URL-encoded object tagging string.
func ProjectTagging() *string {
	t := projectTag
	return &t
}

func (g *S3Gateway) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	result, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classifyS3("fetch", err, false)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, failure.New(failure.Access, "fetch", fmt.Errorf("read s3://%s/%s: %w", bucket, key, err))
	}
	return data, nil
}

func (g *S3Gateway) Store(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Msg("Uploading to S3")

	cacheControl := thumbnailCacheControl
	size := int64(len(data))
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: &size,
		ContentType:   &contentType,
		CacheControl:  &cacheControl,
		Metadata:      metadata,
		Tagging:       ProjectTagging(),
	})
	if err != nil {
		return classifyS3("store", err, true)
	}
	return nil
}

// classifyS3 converts an SDK error into a failure.Error.
func classifyS3(step string, err error, write bool) error {
	var (
		code   string
		status int
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	kind := classify(code, status)
	if write {
		kind = storeKind(kind)
	}
	op := "GetObject"
	if write {
		op = "PutObject"
	}
	return failure.New(kind, step, fmt.Errorf("S3 %s: %w", op, err))
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

// MinIOConfig addresses an S3-compatible endpoint.
type MinIOConfig struct {
	Endpoint string
	Access   string
	Secret   string
	UseSSL   bool
}

// MinIOAPI is the subset of *minio.Client used by MinIOGateway.
type MinIOAPI interface {
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOGateway implements Gateway on an S3-compatible endpoint.
type MinIOGateway struct {
	client MinIOAPI
}

var _ Gateway = (*MinIOGateway)(nil)

// NewMinIOClient builds a client for cfg. minio-go connects lazily, so an
// unreachable endpoint only shows up on the first request.
func NewMinIOClient(cfg MinIOConfig) (*minio.Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, failure.New(failure.Configuration, "storage", errors.New("minio endpoint is required"))
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, failure.New(failure.Configuration, "storage", fmt.Errorf("create minio client: %w", err))
	}
	return mc, nil
}

// NewMinIOGateway wraps a minio client.
func NewMinIOGateway(client MinIOAPI) *MinIOGateway {
	return &MinIOGateway{client: client}
}

func (g *MinIOGateway) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from MinIO")
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinIO("fetch", err, false)
	}
	defer obj.Close()

	// GetObject is lazy: missing objects surface on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinIO("fetch", err, false)
	}
	return data, nil
}

func (g *MinIOGateway) Store(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("size", len(data)).
		Msg("Uploading to MinIO")

	_, err := g.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: thumbnailCacheControl,
		UserMetadata: metadata,
		UserTags:     map[string]string{"Project": Generator},
	})
	if err != nil {
		return classifyMinIO("store", err, true)
	}
	return nil
}

func classifyMinIO(step string, err error, write bool) error {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		resp = minio.ToErrorResponse(err)
	}

	kind := classify(resp.Code, resp.StatusCode)
	if write {
		kind = storeKind(kind)
	}
	return failure.New(kind, step, fmt.Errorf("minio %s: %w", step, err))
}

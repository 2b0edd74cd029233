// Package storage is the object-storage gateway used by the thumbnail pipeline.
//
// Two backends implement Gateway: S3Gateway (aws-sdk-go-v2, production) and
// MinIOGateway (minio-go, S3-compatible endpoints for local runs). Both map
// backend errors onto the failure taxonomy so the orchestrator never inspects
// SDK error types. Neither backend retries; retry policy belongs to the caller.
package storage

import (
	"context"
	"strings"
	"time"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

// Generator identifies this service in stored object metadata.
const Generator = "s3-thumbnail-notifier"

// Metadata keys written on every stored thumbnail.
const (
	MetaSourceKey    = "source-key"
	MetaSourceBucket = "source-bucket"
	MetaGenerator    = "generator"
	MetaGeneratedAt  = "generated-at"
)

// Gateway fetches and stores whole objects.
type Gateway interface {
	// Fetch returns the object's bytes. Errors are NotFound or Access.
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
	// Store writes data at bucket/key. Errors are Access or Quota.
	Store(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error
}

// ThumbnailMetadata builds the metadata attached to a stored thumbnail.
func ThumbnailMetadata(sourceBucket, sourceKey string, at time.Time) map[string]string {
	return map[string]string{
		MetaSourceKey:    sourceKey,
		MetaSourceBucket: sourceBucket,
		MetaGenerator:    Generator,
		MetaGeneratedAt:  at.UTC().Format(time.RFC3339),
	}
}

// Error codes shared by S3 and S3-compatible services.
var (
	notFoundCodes = map[string]bool{
		"NoSuchKey":    true,
		"NotFound":     true,
		"NoSuchBucket": true,
		"NoSuchObject": true,
	}
	accessCodes = map[string]bool{
		"AccessDenied":          true,
		"Forbidden":             true,
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"AllAccessDisabled":     true,
		"InvalidObjectState":    true,
		"ExpiredToken":          true,
	}
	quotaCodes = map[string]bool{
		"SlowDown":                       true,
		"Throttling":                     true,
		"ThrottlingException":            true,
		"RequestLimitExceeded":           true,
		"QuotaExceeded":                  true,
		"ServiceUnavailable":             true,
		"EntityTooLarge":                 true,
		"TooManyBuckets":                 true,
		"XMinioStorageFull":              true,
		"XMinioAdminBucketQuotaExceeded": true,
	}
)

// classify maps a backend error code and HTTP status to a failure kind.
// Unknown conditions are reported as Access: the object could not be read or
// written, and nothing suggests trying again will help.
func classify(code string, status int) failure.Kind {
	switch {
	case notFoundCodes[code]:
		return failure.NotFound
	case accessCodes[code]:
		return failure.Access
	case quotaCodes[code]:
		return failure.Quota
	}

	switch status {
	case 404:
		return failure.NotFound
	case 401, 403:
		return failure.Access
	case 429, 503, 507:
		return failure.Quota
	}

	if strings.Contains(strings.ToLower(code), "throttl") {
		return failure.Quota
	}
	return failure.Access
}

// storeKind narrows a classification for write operations, where NotFound
// (a missing destination bucket) is reported as an access problem.
func storeKind(k failure.Kind) failure.Kind {
	if k == failure.NotFound {
		return failure.Access
	}
	return k
}

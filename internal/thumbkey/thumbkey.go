// Package thumbkey maps source object keys to thumbnail object keys.
package thumbkey

import (
	"errors"
	"path"
	"strings"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"
)

const (
	// Prefix is the key prefix every thumbnail is written under.
	Prefix = "thumbnails/"
	// Suffix replaces the source extension.
	Suffix = "_thumb.jpg"
)

// Derive returns thumbnails/{base}_thumb.jpg where base is the last path
// element of sourceKey without its extension. The same key always yields the
// same result, so re-delivered events overwrite rather than duplicate.
//
// A name made only of a leading dot and an extension (".png") is treated as an
// extensionless dot-file and kept whole, so the base name is never empty.
func Derive(sourceKey string) (string, error) {
	if sourceKey == "" {
		return "", failure.New(failure.MalformedEvent, "derive-key", errors.New("source key is empty"))
	}
	if strings.HasSuffix(sourceKey, "/") {
		return "", failure.Newf(failure.MalformedEvent, "derive-key", "source key %q is a folder placeholder", sourceKey)
	}

	filename := path.Base(sourceKey)
	return Prefix + stripExt(filename) + Suffix, nil
}

// IsThumbnail reports whether key is already under Prefix.
func IsThumbnail(key string) bool {
	return strings.HasPrefix(key, Prefix)
}

func stripExt(filename string) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if strings.Trim(base, ".") == "" {
		return filename
	}
	return base
}

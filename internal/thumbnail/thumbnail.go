// Package thumbnail turns raw image bytes into a small JPEG preview.
//
// Strategy:
//   - guard: sources whose header declares more than MaxPixels are refused
//     before decoding, so one huge upload cannot exhaust the function's memory
//   - decode: any format registered with the image package (JPEG, PNG, GIF from
//     the standard library; WebP, BMP, TIFF from golang.org/x/image)
//   - normalize: images with an alpha channel or a palette are flattened onto
//     opaque white, because JPEG has no alpha support
//   - resize: scale down with a Lanczos filter until both sides fit the bounding
//     box, preserving aspect ratio; smaller images are never upscaled
//   - encode: baseline JPEG at a fixed quality with 4:2:0 chroma subsampling
//     and no EXIF, ICC or comment segments, which keeps thumbnails small
//
// The transformer performs no I/O and keeps no state between calls.
package thumbnail

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-thumbnail-notifier/internal/failure"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Defaults match the bounding box and quality the pipeline has always used.
const (
	DefaultMaxWidth  = 200
	DefaultMaxHeight = 200
	DefaultQuality   = 80
	// DefaultMaxPixels keeps the decoded source, its flattened copy and the
	// resize buffers inside a 512 MB function.
	DefaultMaxPixels = 25_000_000

	// ContentType is the MIME type of every thumbnail this package produces.
	ContentType = "image/jpeg"
)

// Transformer produces JPEG thumbnails bounded by MaxWidth x MaxHeight.
type Transformer struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	// MaxPixels caps width*height of a source image. Larger images are
	// rejected from their header, before any pixel buffer is allocated.
	MaxPixels int
}

// Option customizes a Transformer.
type Option func(*Transformer)

// WithBounds sets the bounding box.
func WithBounds(width, height int) Option {
	return func(t *Transformer) {
		t.MaxWidth = width
		t.MaxHeight = height
	}
}

// WithQuality sets the JPEG quality factor (1-100).
func WithQuality(q int) Option {
	return func(t *Transformer) {
		t.Quality = q
	}
}

// WithMaxPixels sets the source pixel budget.
func WithMaxPixels(n int) Option {
	return func(t *Transformer) {
		t.MaxPixels = n
	}
}

// New returns a Transformer with the default 200x200 box and quality 80,
// modified by opts. Invalid settings are a configuration error.
func New(opts ...Option) (*Transformer, error) {
	t := &Transformer{
		MaxWidth:  DefaultMaxWidth,
		MaxHeight: DefaultMaxHeight,
		Quality:   DefaultQuality,
		MaxPixels: DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.MaxWidth <= 0 || t.MaxHeight <= 0 {
		return nil, failure.Newf(failure.Configuration, "thumbnail", "bounding box must be positive, got %dx%d", t.MaxWidth, t.MaxHeight)
	}
	if t.Quality < 1 || t.Quality > 100 {
		return nil, failure.Newf(failure.Configuration, "thumbnail", "jpeg quality must be in 1..100, got %d", t.Quality)
	}
	if t.MaxPixels <= 0 {
		return nil, failure.Newf(failure.Configuration, "thumbnail", "pixel budget must be positive, got %d", t.MaxPixels)
	}
	return t, nil
}

// Result is an encoded thumbnail plus what was learned about its source.
type Result struct {
	Data         []byte
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	// Format is the codec name that decoded the source ("jpeg", "png", ...).
	Format    string
	ColorMode ColorMode
	Camera    *Camera
}

// Transform decodes data and returns the encoded thumbnail. Errors are
// *failure.Error values of kind Decode or Encode naming the failed step.
func (t *Transformer) Transform(data []byte) (*Result, error) {
	if len(data) == 0 {
		return nil, failure.New(failure.Decode, "decode", errors.New("empty image payload"))
	}

	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(data, err)
	}
	if pixels := int64(hdr.Width) * int64(hdr.Height); pixels > int64(t.MaxPixels) {
		return nil, failure.Newf(failure.Decode, "decode", "image is %dx%d (%d pixels), over the %d pixel limit", hdr.Width, hdr.Height, pixels, t.MaxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError(data, err)
	}

	bounds := src.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	if origWidth <= 0 || origHeight <= 0 {
		return nil, failure.Newf(failure.Decode, "decode", "image has invalid dimensions %dx%d", origWidth, origHeight)
	}

	mode := ClassifyColorMode(src)
	flat := Flatten(src, mode)

	newWidth, newHeight := FitDimensions(origWidth, origHeight, t.MaxWidth, t.MaxHeight)

	var resized image.Image = flat
	if newWidth != origWidth || newHeight != origHeight {
		resized = imaging.Resize(flat, newWidth, newHeight, imaging.Lanczos)
		rb := resized.Bounds()
		if rb.Dx() != newWidth || rb.Dy() != newHeight {
			return nil, failure.Newf(failure.Encode, "resize", "resize produced %dx%d, want %dx%d", rb.Dx(), rb.Dy(), newWidth, newHeight)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: t.Quality}); err != nil {
		return nil, failure.New(failure.Encode, "encode", fmt.Errorf("encode jpeg: %w", err))
	}
	if buf.Len() == 0 {
		return nil, failure.New(failure.Encode, "encode", errors.New("jpeg encoder produced no data"))
	}

	log.Debug().
		Str("format", format).
		Str("color_mode", string(mode)).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("input_size", len(data)).
		Int("output_size", buf.Len()).
		Msg("Thumbnail generated")

	return &Result{
		Data:         buf.Bytes(),
		Width:        newWidth,
		Height:       newHeight,
		SourceWidth:  origWidth,
		SourceHeight: origHeight,
		Format:       format,
		ColorMode:    mode,
		Camera:       ReadCamera(data),
	}, nil
}

func decodeError(data []byte, err error) error {
	return failure.New(failure.Decode, "decode", fmt.Errorf("decode image (detected %s): %w", mimetype.Detect(data).String(), err))
}

// FitDimensions scales width x height down so that both sides fit inside
// maxWidth x maxHeight, preserving aspect ratio. Dimensions already inside the
// box are returned unchanged. Neither side is ever rounded below 1.
func FitDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	newWidth := clampDimension(int(math.Round(float64(width)*scale)), maxWidth)
	newHeight := clampDimension(int(math.Round(float64(height)*scale)), maxHeight)
	return newWidth, newHeight
}

func clampDimension(v, limit int) int {
	if v < 1 {
		return 1
	}
	if v > limit {
		return limit
	}
	return v
}

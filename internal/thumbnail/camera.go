package thumbnail

import (
	"bytes"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Camera is the subset of EXIF data surfaced in notifications.
type Camera struct {
	Make      string
	Model     string
	DateTaken time.Time
}

// String renders "Make Model" or whichever half is known.
func (c *Camera) String() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Make + " " + c.Model)
}

// ReadCamera extracts camera make/model and capture time from EXIF.
// It is best-effort: formats without EXIF, or unreadable blocks, yield nil.
func ReadCamera(data []byte) (cam *Camera) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("EXIF parser panicked, ignoring metadata")
			cam = nil
		}
	}()

	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Msg("No EXIF metadata")
		return nil
	}

	c := &Camera{
		Make:  strings.TrimSpace(exifData.Make),
		Model: strings.TrimSpace(exifData.Model),
	}
	if t := exifData.DateTimeOriginal(); !t.IsZero() {
		c.DateTaken = t
	} else if t := exifData.CreateDate(); !t.IsZero() {
		c.DateTaken = t
	}

	if c.Make == "" && c.Model == "" && c.DateTaken.IsZero() {
		return nil
	}
	return c
}

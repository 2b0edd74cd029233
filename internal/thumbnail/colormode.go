package thumbnail

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ColorMode is a coarse description of a decoded image's pixel model.
type ColorMode string

const (
	ColorModeOpaque   ColorMode = "opaque"
	ColorModeGray     ColorMode = "gray"
	ColorModeCMYK     ColorMode = "cmyk"
	ColorModeAlpha    ColorMode = "alpha"
	ColorModePaletted ColorMode = "paletted"
)

// NeedsFlatten reports whether images of this mode must be composited onto an
// opaque background before JPEG encoding.
func (m ColorMode) NeedsFlatten() bool {
	return m == ColorModeAlpha || m == ColorModePaletted
}

// ClassifyColorMode inspects the concrete image type.
func ClassifyColorMode(img image.Image) ColorMode {
	switch img.(type) {
	case *image.YCbCr:
		return ColorModeOpaque
	case *image.Gray, *image.Gray16:
		return ColorModeGray
	case *image.CMYK:
		return ColorModeCMYK
	case *image.Paletted:
		return ColorModePaletted
	case *image.Alpha, *image.Alpha16:
		return ColorModeAlpha
	}

	// Truecolor PNGs without transparency still decode to *image.RGBA, so
	// RGBA-family images (and unknown decoders) are opaque when every pixel is.
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return ColorModeOpaque
	}
	return ColorModeAlpha
}

// Flatten composites img over opaque white when mode requires it; otherwise
// img is returned as is. The result always starts at the origin and has the
// same pixel dimensions as img.
func Flatten(img image.Image, mode ColorMode) image.Image {
	if !mode.NeedsFlatten() {
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

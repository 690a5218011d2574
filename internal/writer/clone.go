package writer

import (
	"image"
	"slices"

	"golang.org/x/image/draw"
)

// CloneImage returns a deep copy of img that shares no pixel memory with it.
// Gray, RGBA, NRGBA and YCbCr images keep their concrete type; anything else
// is converted to *image.RGBA.
func CloneImage(img image.Image) image.Image {
	switch src := img.(type) {
	case nil:
		return nil
	case *image.Gray:
		c := *src
		c.Pix = slices.Clone(src.Pix)
		return &c
	case *image.RGBA:
		c := *src
		c.Pix = slices.Clone(src.Pix)
		return &c
	case *image.NRGBA:
		c := *src
		c.Pix = slices.Clone(src.Pix)
		return &c
	case *image.YCbCr:
		c := *src
		c.Y = slices.Clone(src.Y)
		c.Cb = slices.Clone(src.Cb)
		c.Cr = slices.Clone(src.Cr)
		return &c
	default:
		b := img.Bounds()
		dst := image.NewRGBA(b)
		draw.Draw(dst, b, img, b.Min, draw.Src)
		return dst
	}
}

// ClampQuality limits a JPEG quality to 1..100.
func ClampQuality(q int) int {
	return min(max(q, 1), 100)
}

package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// Layout describes how a raw buffer is arranged.
type Layout struct {
	PixelFormat  uint32
	Width        int
	Height       int
	BytesPerLine int // zero means tightly packed
}

type decodeFunc func(l Layout, data []byte) (image.Image, error)

var decoders = map[uint32]decodeFunc{
	v4l2.PixFmtGREY:  decodeGrey,
	v4l2.PixFmtYUYV:  decodeYUYV,
	v4l2.PixFmtRGB24: decodeRGB24,
	v4l2.PixFmtBGR24: decodeBGR24,
	v4l2.PixFmtMJPEG: decodeJPEG,
	v4l2.PixFmtJPEG:  decodeJPEG,
}

// CanDecode reports whether frames in pixelFormat can be decoded.
func CanDecode(pixelFormat uint32) bool {
	_, ok := decoders[pixelFormat]
	return ok
}

// Decode converts a raw frame into an image. Raw formats reference data
// directly, so callers must pass a buffer they own.
func Decode(l Layout, data []byte) (image.Image, error) {
	dec, ok := decoders[l.PixelFormat]
	if !ok {
		return nil, newError(CodeDecode, fmt.Sprintf("unsupported pixel format %s", v4l2.FormatFourCC(l.PixelFormat)), nil)
	}
	img, err := dec(l, data)
	if err != nil {
		return nil, newError(CodeDecode, v4l2.FormatFourCC(l.PixelFormat), err)
	}
	return img, nil
}

func checkSize(l Layout, bytesPerPixel int, data []byte) (stride int, err error) {
	if l.Width <= 0 || l.Height <= 0 {
		return 0, fmt.Errorf("invalid frame size %dx%d", l.Width, l.Height)
	}
	stride = l.BytesPerLine
	if stride == 0 {
		stride = l.Width * bytesPerPixel
	}
	if stride < l.Width*bytesPerPixel {
		return 0, fmt.Errorf("line stride %d shorter than width %d", stride, l.Width)
	}
	need := stride*(l.Height-1) + l.Width*bytesPerPixel
	if len(data) < need {
		return 0, fmt.Errorf("short frame: got %d bytes, need %d", len(data), need)
	}
	return stride, nil
}

func decodeGrey(l Layout, data []byte) (image.Image, error) {
	stride, err := checkSize(l, 1, data)
	if err != nil {
		return nil, err
	}
	return &image.Gray{
		Pix:    data,
		Stride: stride,
		Rect:   image.Rect(0, 0, l.Width, l.Height),
	}, nil
}

// decodeYUYV splits packed Y0 U Y1 V macropixels into 4:2:2 planes.
func decodeYUYV(l Layout, data []byte) (image.Image, error) {
	if l.Width%2 != 0 {
		return nil, fmt.Errorf("odd width %d for YUYV", l.Width)
	}
	stride, err := checkSize(l, 2, data)
	if err != nil {
		return nil, err
	}

	img := image.NewYCbCr(image.Rect(0, 0, l.Width, l.Height), image.YCbCrSubsampleRatio422)
	for y := 0; y < l.Height; y++ {
		row := data[y*stride : y*stride+l.Width*2]
		yOff := y * img.YStride
		cOff := y * img.CStride
		for x := 0; x < l.Width/2; x++ {
			m := row[x*4 : x*4+4]
			img.Y[yOff+2*x] = m[0]
			img.Cb[cOff+x] = m[1]
			img.Y[yOff+2*x+1] = m[2]
			img.Cr[cOff+x] = m[3]
		}
	}
	return img, nil
}

func decodeRGB24(l Layout, data []byte) (image.Image, error) {
	return decodePacked24(l, data, 0, 2)
}

func decodeBGR24(l Layout, data []byte) (image.Image, error) {
	return decodePacked24(l, data, 2, 0)
}

// decodePacked24 expands 3-byte pixels into opaque RGBA. r and b are the
// byte offsets of red and blue within a pixel; green is always in the middle.
func decodePacked24(l Layout, data []byte, r, b int) (image.Image, error) {
	stride, err := checkSize(l, 3, data)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		src := data[y*stride : y*stride+l.Width*3]
		dst := img.Pix[y*img.Stride : y*img.Stride+l.Width*4]
		for x := 0; x < l.Width; x++ {
			p := src[x*3 : x*3+3]
			q := dst[x*4 : x*4+4]
			q[0] = p[r]
			q[1] = p[1]
			q[2] = p[b]
			q[3] = 0xff
		}
	}
	return img, nil
}

// TODO: insert the default Huffman tables for MJPEG streams that omit DHT,
// which some UVC cameras do.
func decodeJPEG(_ Layout, data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}

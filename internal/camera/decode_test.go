package camera

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

func TestDecodeGreyStride(t *testing.T) {
	// 2x2 image with 4-byte lines.
	data := []byte{
		10, 20, 0, 0,
		30, 40,
	}
	img, err := Decode(Layout{PixelFormat: v4l2.PixFmtGREY, Width: 2, Height: 2, BytesPerLine: 4}, data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	g := img.(*image.Gray)
	if g.GrayAt(1, 0).Y != 20 || g.GrayAt(0, 1).Y != 30 || g.GrayAt(1, 1).Y != 40 {
		t.Errorf("unexpected pixels: %v", g.Pix)
	}
}

func TestDecodeYUYV(t *testing.T) {
	// One row of two macropixels: Y0 U Y1 V.
	data := []byte{
		16, 100, 32, 200,
		48, 110, 64, 210,
	}
	img, err := Decode(Layout{PixelFormat: v4l2.PixFmtYUYV, Width: 4, Height: 1}, data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	ycc, ok := img.(*image.YCbCr)
	if !ok {
		t.Fatalf("image type = %T, want *image.YCbCr", img)
	}
	if ycc.SubsampleRatio != image.YCbCrSubsampleRatio422 {
		t.Errorf("subsample ratio = %v, want 4:2:2", ycc.SubsampleRatio)
	}

	want := []color.YCbCr{
		{Y: 16, Cb: 100, Cr: 200},
		{Y: 32, Cb: 100, Cr: 200},
		{Y: 48, Cb: 110, Cr: 210},
		{Y: 64, Cb: 110, Cr: 210},
	}
	for x, w := range want {
		if got := ycc.YCbCrAt(x, 0); got != w {
			t.Errorf("pixel %d = %+v, want %+v", x, got, w)
		}
	}
}

func TestDecodePacked24(t *testing.T) {
	// 2x2 frame with 8-byte lines; every line ends in two padding bytes.
	rgb := []byte{
		255, 0, 0, 0, 255, 0, 0xee, 0xee,
		0, 0, 255, 10, 20, 30, 0xee, 0xee,
	}
	bgr := []byte{
		0, 0, 255, 0, 255, 0, 0xee, 0xee,
		255, 0, 0, 30, 20, 10, 0xee, 0xee,
	}
	want := []color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
		{R: 10, G: 20, B: 30, A: 255},
	}

	tests := []struct {
		name string
		pf   uint32
		data []byte
	}{
		{"RGB3", v4l2.PixFmtRGB24, rgb},
		{"BGR3", v4l2.PixFmtBGR24, bgr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Decode(Layout{PixelFormat: tt.pf, Width: 2, Height: 2, BytesPerLine: 8}, tt.data)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			rgba, ok := img.(*image.RGBA)
			if !ok {
				t.Fatalf("image type = %T, want *image.RGBA", img)
			}
			for i, w := range want {
				if got := rgba.RGBAAt(i%2, i/2); got != w {
					t.Errorf("pixel (%d,%d) = %+v, want %+v", i%2, i/2, got, w)
				}
			}
		})
	}
}

func TestDecodeJPEG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 16, 8))
	for i := range src.Pix {
		src.Pix[i] = 128
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode() error: %v", err)
	}

	for _, pf := range []uint32{v4l2.PixFmtMJPEG, v4l2.PixFmtJPEG} {
		img, err := Decode(Layout{PixelFormat: pf, Width: 16, Height: 8}, buf.Bytes())
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", v4l2.FormatFourCC(pf), err)
		}
		if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
			t.Errorf("Decode(%s) bounds = %v", v4l2.FormatFourCC(pf), img.Bounds())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		data   []byte
	}{
		{"unknown format", Layout{PixelFormat: v4l2.PixFmtH264, Width: 2, Height: 2}, make([]byte, 8)},
		{"short grey frame", Layout{PixelFormat: v4l2.PixFmtGREY, Width: 4, Height: 4}, make([]byte, 15)},
		{"short yuyv frame", Layout{PixelFormat: v4l2.PixFmtYUYV, Width: 4, Height: 2}, make([]byte, 12)},
		{"short rgb frame", Layout{PixelFormat: v4l2.PixFmtRGB24, Width: 2, Height: 2}, make([]byte, 11)},
		{"odd yuyv width", Layout{PixelFormat: v4l2.PixFmtYUYV, Width: 3, Height: 1}, make([]byte, 8)},
		{"zero size", Layout{PixelFormat: v4l2.PixFmtGREY}, nil},
		{"corrupt jpeg", Layout{PixelFormat: v4l2.PixFmtMJPEG, Width: 2, Height: 2}, []byte{0xff, 0xd8, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.layout, tt.data)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("Decode() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestCanDecode(t *testing.T) {
	for _, pf := range []uint32{v4l2.PixFmtGREY, v4l2.PixFmtYUYV, v4l2.PixFmtRGB24, v4l2.PixFmtBGR24, v4l2.PixFmtMJPEG, v4l2.PixFmtJPEG} {
		if !CanDecode(pf) {
			t.Errorf("CanDecode(%s) = false", v4l2.FormatFourCC(pf))
		}
	}
	if CanDecode(v4l2.PixFmtNV12) {
		t.Error("CanDecode(NV12) = true")
	}
}

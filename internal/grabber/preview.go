package grabber

import (
	"image"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// PreviewSink receives every processed frame, persisted or not.
// ShowFrame is called on the capture goroutine and must not block.
type PreviewSink interface {
	ShowFrame(img image.Image)
}

// LatestFrame is a PreviewSink that keeps the most recent frame.
type LatestFrame struct {
	mu  sync.RWMutex
	img image.Image
	at  time.Time
	seq uint64
}

// NewLatestFrame creates an empty preview buffer.
func NewLatestFrame() *LatestFrame {
	return &LatestFrame{}
}

// ShowFrame stores img. Frames from the capture device are never reused, so
// no copy is made.
func (l *LatestFrame) ShowFrame(img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.img = img
	l.at = time.Now()
	l.seq++
}

// Frame returns the stored frame, when it arrived and its sequence number.
// The image is nil until the first frame.
func (l *LatestFrame) Frame() (image.Image, time.Time, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.img, l.at, l.seq
}

// Reset drops the stored frame.
func (l *LatestFrame) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.img = nil
	l.at = time.Time{}
}

// Scale returns img resized to width pixels wide, keeping the aspect ratio.
// img is returned unchanged when width is not smaller than its width.
func Scale(img image.Image, width int) image.Image {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		return img
	}
	height := max(b.Dy()*width/b.Dx(), 1)
	rect := image.Rect(0, 0, width, height)

	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, img, b, draw.Src, nil)
	return dst
}

// toGray converts img to single-channel luma. YCbCr images are viewed
// through their Y plane without copying.
func toGray(img image.Image) *image.Gray {
	switch src := img.(type) {
	case *image.Gray:
		return src
	case *image.YCbCr:
		return &image.Gray{Pix: src.Y, Stride: src.YStride, Rect: src.Rect}
	default:
		b := img.Bounds()
		dst := image.NewGray(b)
		draw.Draw(dst, b, img, b.Min, draw.Src)
		return dst
	}
}

package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"
)

var ErrInvalidWebP = errors.New("transcoder output is not a valid WebP image")

// Transcoder converts an AVIF payload to WebP.
type Transcoder interface {
	ToWebP(data []byte) ([]byte, error)
}

type WebPTranscoder struct {
	Quality int
}

func NewWebPTranscoder(quality int) *WebPTranscoder {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &WebPTranscoder{Quality: quality}
}

func (t *WebPTranscoder) ToWebP(data []byte) ([]byte, error) {
	img, err := avif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode AVIF: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, toRGBA(img), webp.Options{Quality: t.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return buf.Bytes(), nil
}

// toRGBA passes RGB-family images through and converts everything else.
func toRGBA(img image.Image) image.Image {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA:
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// validateWebP checks the container signature and that the payload parses
// as a WebP header.
func validateWebP(data []byte) error {
	if !IsWebP(data) {
		return ErrInvalidWebP
	}
	if _, err := xwebp.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebP, err)
	}
	return nil
}

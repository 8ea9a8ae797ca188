// Package media provides photo thumbnail generation.
package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultThumbnailSize is the bounding box edge used when none is configured.
const DefaultThumbnailSize = 256

// ImageInfo describes a decoded photo.
type ImageInfo struct {
	Format string
	Width  int
	Height int
}

// Inspect decodes the image header of data.
func Inspect(data []byte) (*ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Thumbnailer renders JPEG thumbnails that fit a square bounding box.
type Thumbnailer struct {
	size    int
	quality int
}

// NewThumbnailer creates a Thumbnailer for the given bounding box edge.
func NewThumbnailer(size int) *Thumbnailer {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	return &Thumbnailer{size: size, quality: 80}
}

// Size returns the bounding box edge in pixels.
func (t *Thumbnailer) Size() int {
	return t.size
}

// Thumbnail decodes data, honoring EXIF orientation, and returns a JPEG that
// fits within the bounding box. Images already smaller than the box are
// re-encoded without upscaling.
func (t *Thumbnailer) Thumbnail(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > t.size || bounds.Dy() > t.size {
		img = imaging.Fit(img, t.size, t.size, imaging.Lanczos)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(t.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

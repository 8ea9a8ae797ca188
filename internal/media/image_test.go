// Package media tests for thumbnail generation.
package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// TestInspect verifies header decoding.
func TestInspect(t *testing.T) {
	info, err := Inspect(encodePNG(t, 40, 20))
	if err != nil {
		t.Fatalf("Inspect() error: %v", err)
	}
	if info.Format != "png" || info.Width != 40 || info.Height != 20 {
		t.Errorf("Inspect() = %+v", info)
	}

	if _, err := Inspect([]byte("not an image")); err == nil {
		t.Error("Inspect() should fail on garbage")
	}
}

// TestThumbnail_landscape verifies the long edge is fitted to the box.
func TestThumbnail_landscape(t *testing.T) {
	thumbs := NewThumbnailer(64)

	out, err := thumbs.Thumbnail(context.Background(), encodePNG(t, 400, 200))
	if err != nil {
		t.Fatalf("Thumbnail() error: %v", err)
	}

	info, err := Inspect(out)
	if err != nil {
		t.Fatalf("thumbnail not decodable: %v", err)
	}
	if info.Format != "jpeg" {
		t.Errorf("format = %s, want jpeg", info.Format)
	}
	if info.Width != 64 || info.Height != 32 {
		t.Errorf("size = %dx%d, want 64x32", info.Width, info.Height)
	}
}

// TestThumbnail_smallImage verifies small images are not upscaled.
func TestThumbnail_smallImage(t *testing.T) {
	out, err := NewThumbnailer(256).Thumbnail(context.Background(), encodePNG(t, 10, 30))
	if err != nil {
		t.Fatalf("Thumbnail() error: %v", err)
	}
	info, _ := Inspect(out)
	if info.Width != 10 || info.Height != 30 {
		t.Errorf("size = %dx%d, want 10x30", info.Width, info.Height)
	}
}

// TestThumbnail_errors verifies decode failures and cancellation.
func TestThumbnail_errors(t *testing.T) {
	thumbs := NewThumbnailer(0)
	if thumbs.Size() != DefaultThumbnailSize {
		t.Errorf("Size() = %d, want default", thumbs.Size())
	}

	if _, err := thumbs.Thumbnail(context.Background(), []byte("RIFF....WAVE")); err == nil {
		t.Error("Thumbnail() should fail for non-image data")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := thumbs.Thumbnail(ctx, encodePNG(t, 8, 8)); err == nil {
		t.Error("Thumbnail() should honor a cancelled context")
	}
}

package imageio

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write png: %v", err)
	}
}

func TestExtensionSet_Match(t *testing.T) {
	set := NewExtensionSet([]string{".jpg", "PNG", " .webp ", ""})

	tests := []struct {
		name     string
		expected bool
	}{
		{"photo.jpg", true},
		{"photo.JPG", true},
		{"photo.png", true},
		{"photo.Webp", true},
		{"photo.jpeg", false},
		{"notes.txt", false},
		{"noext", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := set.Match(tt.name); got != tt.expected {
				t.Errorf("Match(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestFileDecoder_DecodePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	writePNG(t, path, 40, 30)

	img, err := FileDecoder{}.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if img.Path != path {
		t.Errorf("expected path '%s', got '%s'", path, img.Path)
	}
	if img.Format != "png" {
		t.Errorf("expected format 'png', got '%s'", img.Format)
	}
	if img.Width() != 40 || img.Height() != 30 {
		t.Errorf("expected 40x30, got %dx%d", img.Width(), img.Height())
	}
	if img.Size != int64(len(img.Data)) {
		t.Errorf("expected size %d, got %d", len(img.Data), img.Size)
	}
}

func TestFileDecoder_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jpg")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := FileDecoder{}.Decode(path)
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestFileDecoder_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if _, err := (FileDecoder{}).Decode(path); err == nil {
		t.Error("expected decode error for garbage data")
	}
}

func TestFileDecoder_Missing(t *testing.T) {
	if _, err := (FileDecoder{}).Decode(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEncodeForAnalysis_Downscales(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.png")
	writePNG(t, path, 200, 100)

	img, err := FileDecoder{}.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := EncodeForAnalysis(img, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("expected JPEG output: %v", err)
	}
	if cfg.Width != 50 || cfg.Height != 25 {
		t.Errorf("expected 50x25, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestEncodeForAnalysis_SmallPNGReencoded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.png")
	writePNG(t, path, 20, 20)

	img, err := FileDecoder{}.Decode(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := EncodeForAnalysis(img, 1920)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Errorf("expected PNG to be re-encoded as JPEG: %v", err)
	}
}

func TestEncodeForAnalysis_SmallJPEGPassthrough(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	img := &Image{Data: buf.Bytes(), Pixels: src, Format: "jpeg"}

	data, err := EncodeForAnalysis(img, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Error("expected small JPEG to be passed through unchanged")
	}
}

func TestLongPath_Identity(t *testing.T) {
	if filepath.Separator != '/' {
		t.Skip("identity only on non-Windows platforms")
	}
	if got := LongPath("/a/b/c.jpg"); got != "/a/b/c.jpg" {
		t.Errorf("expected identity, got '%s'", got)
	}
}

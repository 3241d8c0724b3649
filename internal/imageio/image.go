// Package imageio reads source photos from disk and prepares them for face analysis.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned when a file holds no data.
var ErrEmptyImage = errors.New("image file is empty")

// DefaultExtensions are the recognized image file extensions.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"}

// Image is a decoded source photo.
type Image struct {
	Path    string
	Data    []byte // raw file contents
	Pixels  image.Image
	Format  string
	Size    int64
	ModTime time.Time
}

// Width returns the decoded width in pixels.
func (i *Image) Width() int { return i.Pixels.Bounds().Dx() }

// Height returns the decoded height in pixels.
func (i *Image) Height() int { return i.Pixels.Bounds().Dy() }

// ExtensionSet matches file names by extension, case-insensitively.
type ExtensionSet map[string]struct{}

// NewExtensionSet builds a set from extensions with or without the leading dot.
func NewExtensionSet(exts []string) ExtensionSet {
	set := make(ExtensionSet, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// Match reports whether name has a recognized image extension.
func (s ExtensionSet) Match(name string) bool {
	_, ok := s[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Decoder turns a path into a decoded image.
type Decoder interface {
	Decode(path string) (*Image, error)
}

// FileDecoder decodes images straight from the local filesystem.
type FileDecoder struct{}

// Decode reads and fully decodes the file at path.
func (FileDecoder) Decode(path string) (*Image, error) {
	addr := LongPath(path)

	info, err := os.Stat(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data, err := os.ReadFile(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyImage)
	}

	pixels, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	return &Image{
		Path:    path,
		Data:    data,
		Pixels:  pixels,
		Format:  format,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// EncodeForAnalysis returns a JPEG of img scaled to fit within maxSize (width or height)
// while keeping aspect ratio. Small JPEG files are passed through untouched.
func EncodeForAnalysis(img *Image, maxSize int) ([]byte, error) {
	bounds := img.Pixels.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		if img.Format == "jpeg" && len(img.Data) > 0 {
			return img.Data, nil
		}
		// Re-encode as JPEG to ensure consistent format.
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img.Pixels, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil
	}

	// Calculate new dimensions.
	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img.Pixels, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return buf.Bytes(), nil
}

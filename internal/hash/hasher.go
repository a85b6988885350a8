package hash

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"bingarchiver/internal/models"
)

// DefaultMaxPixels caps the decoded size of an image, about 179 megapixels.
// Larger headers are treated as undecodable instead of being allocated.
const DefaultMaxPixels = 178956970

// Hasher opens image files and computes their fingerprints
type Hasher struct {
	maxPixels int64
}

// HasherOption configures a Hasher
type HasherOption func(*Hasher)

// WithMaxPixels sets the largest width*height the hasher will decode
func WithMaxPixels(n int64) HasherOption {
	return func(h *Hasher) {
		if n > 0 {
			h.maxPixels = n
		}
	}
}

// NewHasher creates a new Hasher
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Inspect decodes the image at path and returns its fingerprint and metadata.
//
// Errors come in two tiers: ErrNotAnImage when the header cannot be recognised as any
// registered image format, ErrDecode when the header parses but the pixel data does not
// or the declared size is over the pixel limit.
func (h *Hasher) Inspect(path string) (*models.ImageInfo, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotAnImage, path)
	}

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > h.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrDecode, cfg.Width, cfg.Height, h.maxPixels)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", path, err)
	}

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	fp, err := Compute(img)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &models.ImageInfo{
		Path:        path,
		Fingerprint: fp,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Format:      strings.ToLower(format),
		FileSize:    stat.Size(),
		ModTime:     stat.ModTime(),
		HasExif:     checkExif(path),
	}, nil
}

// checkExif checks if an image file contains EXIF data
func checkExif(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	_, err = exif.Decode(file)
	return err == nil
}

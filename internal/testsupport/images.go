package testsupport

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
)

// Blocks renders a w x h image split into a 16x16 grid of black or white cells.
// The cell pattern depends only on seed, so the same seed at different sizes
// produces visually equivalent images.
func Blocks(w, h int, seed uint64) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var cells [16][16]bool
	for y := range cells {
		for x := range cells[y] {
			cells[y][x] = rng.IntN(2) == 1
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		cy := y * 16 / h
		for x := 0; x < w; x++ {
			cx := x * 16 / w
			c := color.RGBA{A: 255}
			if cells[cy][cx] {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// Uniform renders a single-colour image.
func Uniform(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// WritePNG encodes img as PNG at path, creating parent directories.
func WritePNG(t testing.TB, path string, img image.Image) {
	t.Helper()
	f := create(t, path)
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png %s: %v", path, err)
	}
}

// WriteJPEG encodes img as JPEG at path, creating parent directories.
func WriteJPEG(t testing.TB, path string, img image.Image) {
	t.Helper()
	f := create(t, path)
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg %s: %v", path, err)
	}
}

// WriteTruncatedJPEG writes a JPEG whose header is intact but whose scan data is cut short,
// so the format is recognised but decoding fails.
func WriteTruncatedJPEG(t testing.TB, path string, w, h int) {
	t.Helper()
	WriteJPEG(t, path, Blocks(w, h, 7))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := os.WriteFile(path, data[:len(data)*2/3], 0o644); err != nil {
		t.Fatalf("truncate %s: %v", path, err)
	}
}

// CopyFile duplicates src at dst byte for byte.
func CopyFile(t testing.TB, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read %s: %v", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", dst, err)
	}
}

func create(t testing.TB, path string) *os.File {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	return f
}

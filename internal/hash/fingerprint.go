package hash

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"
)

// GridSize is the side of the square grid an image is reduced to before thresholding.
const GridSize = 16

// Bits is the length of a fingerprint produced by Compute.
const Bits = GridSize * GridSize

// DefaultThreshold is the similarity percentage above which two images are near-duplicates.
const DefaultThreshold = 95.0

var (
	// ErrDecode means the file looked like an image but its pixel data could not be read.
	ErrDecode = errors.New("failed to decode image")
	// ErrNotAnImage means the file could not be opened as an image at all.
	ErrNotAnImage = errors.New("not an image")
	// ErrLengthMismatch is returned when comparing fingerprints of different bit lengths.
	// Such errors also match ErrIncompatibleFingerprint.
	ErrLengthMismatch = errors.New("fingerprint length mismatch")
	// ErrIncompatibleFingerprint is returned when comparing fingerprints of different kinds.
	ErrIncompatibleFingerprint = errors.New("incompatible fingerprint")
)

// Compute returns the average hash of img: the image is resized to a GridSize x GridSize
// grid, reduced to luminance, and each sample darker than the mean sets its bit.
// Bits are laid out in raster order, most significant bit first within each word.
func Compute(img image.Image) (*goimagehash.ExtImageHash, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	small := imaging.Resize(img, GridSize, GridSize, imaging.Lanczos)

	samples := make([]int, 0, Bits)
	sum := 0
	for y := 0; y < GridSize; y++ {
		for x := 0; x < GridSize; x++ {
			off := small.PixOffset(x, y)
			r, g, b := int(small.Pix[off]), int(small.Pix[off+1]), int(small.Pix[off+2])
			l := luminance(r, g, b)
			samples = append(samples, l)
			sum += l
		}
	}

	words := make([]uint64, Bits/64)
	for i, l := range samples {
		// l < sum/len(samples), kept in integers
		if l*len(samples) < sum {
			words[i/64] |= 1 << uint(63-i%64)
		}
	}

	return goimagehash.NewExtImageHash(words, goimagehash.AHash, Bits), nil
}

// luminance converts an 8-bit RGB triple to ITU-R 601 luma, rounded.
func luminance(r, g, b int) int {
	return (19595*r + 38470*g + 7471*b + 1<<15) >> 16
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b *goimagehash.ExtImageHash) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("%w: nil fingerprint", ErrIncompatibleFingerprint)
	}
	if a.GetKind() != b.GetKind() {
		return 0, fmt.Errorf("%w: kind %d vs %d", ErrIncompatibleFingerprint, a.GetKind(), b.GetKind())
	}
	if a.Bits() != b.Bits() || len(a.GetHash()) != len(b.GetHash()) {
		return 0, fmt.Errorf("%w: %w: %d vs %d bits", ErrIncompatibleFingerprint, ErrLengthMismatch, a.Bits(), b.Bits())
	}
	return a.Distance(b)
}

// Similarity returns the percentage of equal bits between two fingerprints.
func Similarity(a, b *goimagehash.ExtImageHash) (float64, error) {
	d, err := Distance(a, b)
	if err != nil {
		return 0, err
	}
	return SimilarityFromDistance(d, a.Bits()), nil
}

// SimilarityFromDistance converts a Hamming distance over bits into a percentage.
func SimilarityFromDistance(distance, bits int) float64 {
	if bits == 0 {
		return 0
	}
	return float64(bits-distance) * 100 / float64(bits)
}

// MaxDistance returns the largest Hamming distance whose similarity still exceeds threshold.
// It returns -1 when no distance qualifies.
func MaxDistance(threshold float64, bits int) int {
	for d := bits; d >= 0; d-- {
		if SimilarityFromDistance(d, bits) > threshold {
			return d
		}
	}
	return -1
}

// FormatFingerprint encodes a fingerprint as "<kind>:<hex>", big-endian words.
func FormatFingerprint(fp *goimagehash.ExtImageHash) string {
	words := fp.GetHash()
	raw := make([]byte, 8*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint64(raw[i*8:], w)
	}

	kind := "a"
	switch fp.GetKind() {
	case goimagehash.PHash:
		kind = "p"
	case goimagehash.DHash:
		kind = "d"
	case goimagehash.WHash:
		kind = "w"
	}
	return kind + ":" + hex.EncodeToString(raw)
}

// ParseFingerprint decodes the text produced by FormatFingerprint.
func ParseFingerprint(s string) (*goimagehash.ExtImageHash, error) {
	prefix, body, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("%w: missing kind prefix in %q", ErrIncompatibleFingerprint, s)
	}

	var kind goimagehash.Kind
	switch prefix {
	case "a":
		kind = goimagehash.AHash
	case "p":
		kind = goimagehash.PHash
	case "d":
		kind = goimagehash.DHash
	case "w":
		kind = goimagehash.WHash
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrIncompatibleFingerprint, prefix)
	}

	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint: %w", err)
	}
	if len(raw) == 0 || len(raw)%8 != 0 {
		return nil, fmt.Errorf("%w: %w: %d bytes is not a whole number of words", ErrIncompatibleFingerprint, ErrLengthMismatch, len(raw))
	}

	words := make([]uint64, len(raw)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return goimagehash.NewExtImageHash(words, kind, len(words)*64), nil
}

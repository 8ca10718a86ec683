// Package media normalizes browser screenshots before they are fed
// back to the provider as computer_call_output images. The provider
// caps inline image payloads, so oversized captures are resized and
// recompressed until they fit.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder for sandbox captures

	"golang.org/x/image/draw"
)

// Default limits for a screenshot fed back to the provider.
const (
	DefaultMaxSide  = 2000
	DefaultMaxBytes = 5 * 1024 * 1024
)

// Options bounds a normalization pass. Zero values use the defaults.
type Options struct {
	MaxSide  int
	MaxBytes int
}

// Result is a normalized screenshot: the bytes to inline, their mime
// type, and the final dimensions.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Resized     bool
}

// qualityLadder is the JPEG recompression sequence tried at each
// candidate size, best first.
var qualityLadder = []int{85, 75, 65, 55, 45, 35}

// sideLadder is the candidate max-side sequence tried when the capture
// is too large at its native size.
var sideLadder = []int{1800, 1600, 1400, 1200, 1000, 800}

// Normalize resizes and recompresses a screenshot until it fits within
// the size limits. Captures already within limits pass through
// untouched, keeping their original encoding.
func Normalize(data []byte, opts Options) (*Result, error) {
	maxSide := opts.MaxSide
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if len(data) <= maxBytes && width <= maxSide && height <= maxSide {
		return &Result{
			Data:        data,
			ContentType: "image/" + format,
			Width:       width,
			Height:      height,
		}, nil
	}

	sides := candidateSides(maxSide, max(width, height))
	for _, side := range sides {
		for _, quality := range qualityLadder {
			result, encErr := encodeScaled(img, side, quality)
			if encErr != nil {
				continue
			}
			if len(result.Data) <= maxBytes {
				result.Resized = true
				return result, nil
			}
		}
	}

	return nil, fmt.Errorf("screenshot could not be reduced below %d bytes", maxBytes)
}

// candidateSides returns the descending max-side candidates to try,
// starting at min(maxSide, native) and walking down the ladder.
func candidateSides(maxSide, native int) []int {
	start := min(maxSide, native)
	sides := []int{start}
	for _, s := range sideLadder {
		if s < start && s <= maxSide {
			sides = append(sides, s)
		}
	}
	return sides
}

// encodeScaled scales img so its longest side is at most maxSide
// (preserving aspect ratio) and encodes it as JPEG at the given
// quality.
func encodeScaled(img image.Image, maxSide, quality int) (*Result, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	newWidth, newHeight := width, height
	if width > maxSide || height > maxSide {
		if width > height {
			newWidth = maxSide
			newHeight = height * maxSide / width
		} else {
			newHeight = maxSide
			newWidth = width * maxSide / height
		}
	}

	scaled := img
	if newWidth != width || newHeight != height {
		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		scaled = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return &Result{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       newWidth,
		Height:      newHeight,
	}, nil
}

package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// jpegQuality is the recompression quality for JPEG/WebP.
const jpegQuality = 85

// Optimize resizes images wider than MaxDimensionPx (preserving aspect
// ratio), recompresses JPEG/WebP at jpegQuality, and converts large
// opaque PNGs (> PNGToJPEGThreshold, no alpha) to JPEG. Resizing uses
// golang.org/x/image/draw.CatmullRom.
func Optimize(data []byte, mimeType string) ([]byte, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image for optimization: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	resized := img
	if width > MaxDimensionPx || height > MaxDimensionPx {
		resized = resizeToFit(img, MaxDimensionPx)
	}

	if format == "png" && len(data) > PNGToJPEGThreshold && !hasAlpha(resized) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("encode converted jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}

	if resized == img && (format == "png") {
		// Nothing to do: unresized PNG that didn't cross the JPEG
		// conversion threshold is returned unchanged.
		return data, mimeType, nil
	}

	switch format {
	case "jpeg":
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("recompress jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case "webp":
		// WebP re-encoding isn't supported by the standard library; a
		// resized WebP is recompressed as JPEG at the same quality,
		// which is an acceptable substitution since the model only
		// ever sees the resulting bytes, not the original container.
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("recompress webp-as-jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	case "png":
		var buf bytes.Buffer
		if err := png.Encode(&buf, resized); err != nil {
			return nil, "", fmt.Errorf("re-encode resized png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	case "gif":
		// GIF is left as-is beyond resizing concerns; animated GIFs
		// are rare in model output and re-encoding a static frame
		// would drop animation.
		return data, mimeType, nil
	default:
		return data, mimeType, nil
	}
}

func resizeToFit(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var newWidth, newHeight int
	if width >= height {
		newWidth = maxSide
		newHeight = int(float64(height) * float64(maxSide) / float64(width))
	} else {
		newHeight = maxSide
		newWidth = int(float64(width) * float64(maxSide) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// hasAlpha reports whether any pixel is not fully opaque.
func hasAlpha(img image.Image) bool {
	switch typed := img.(type) {
	case *image.RGBA:
		return rgbaHasAlpha(typed)
	case *image.NRGBA:
		return nrgbaHasAlpha(typed)
	}

	model := img.ColorModel()
	if model == color.GrayModel || model == color.Gray16Model || model == color.CMYKModel {
		return false
	}

	bounds := img.Bounds()
	// Sample a bounded grid rather than every pixel for large images.
	stepX := max(1, bounds.Dx()/64)
	stepY := max(1, bounds.Dy()/64)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			_, _, _, a := img.At(x, y).RGBA()
			if a != 0xffff {
				return true
			}
		}
	}
	return false
}

func rgbaHasAlpha(img *image.RGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return true
		}
	}
	return false
}

func nrgbaHasAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			return true
		}
	}
	return false
}

package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register GIF decoder
	"image/jpeg"
	_ "image/png" // register PNG decoder

	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	// MaxImageSide bounds both dimensions of a normalized image.
	MaxImageSide = 2000
	// JPEGQuality is the re-encode quality for normalized images.
	JPEGQuality = 85

	maxSourcePixels = 80_000_000
)

// ImageResult is a normalized image ready for storage.
type ImageResult struct {
	Data          []byte
	Width         int
	Height        int
	SourceFormat  string
	OriginalBytes int
}

// Image decodes data, scales it to fit MaxImageSide without upscaling, and
// re-encodes it as JPEG. The output depends only on the input bytes.
func Image(ctx context.Context, data []byte) (ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return ImageResult{}, err
	}
	if len(data) == 0 {
		return ImageResult{}, fmt.Errorf("%w: empty image", ErrParse)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageResult{}, fmt.Errorf("%w: decode image header: %v", ErrParse, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return ImageResult{}, fmt.Errorf("%w: image dimensions %dx%d out of range", ErrParse, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ImageResult{}, fmt.Errorf("%w: decode image: %v", ErrParse, err)
	}
	if err := ctx.Err(); err != nil {
		return ImageResult{}, err
	}

	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), MaxImageSide)

	// JPEG has no alpha; transparent pixels are composited onto white.
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return ImageResult{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return ImageResult{
		Data:          buf.Bytes(),
		Width:         w,
		Height:        h,
		SourceFormat:  format,
		OriginalBytes: len(data),
	}, nil
}

// FitWithin scales w x h down so neither side exceeds limit, keeping the
// aspect ratio. Sizes already inside the box are returned unchanged.
func FitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := int(float64(h)*float64(limit)/float64(w) + 0.5)
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := int(float64(w)*float64(limit)/float64(h) + 0.5)
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}

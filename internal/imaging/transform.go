package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/gif"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrUnreadableImage marks input that cannot be decoded at all.
var ErrUnreadableImage = errors.New("unreadable image")

// Options control the display derivative. Zero values fall back to defaults.
type Options struct {
	TargetHeight  int    // default 1080
	JPEGQuality   int    // 1-100, default 80
	WatermarkText string // default "facefind"
	SkipWatermark bool
}

// Result is the encoded display derivative plus dimensions.
type Result struct {
	Buffer         []byte
	Width          int
	Height         int
	OriginalWidth  int
	OriginalHeight int
}

const (
	watermarkOpacity  = 56 // out of 255
	watermarkAngleDeg = -30.0
	watermarkSpacingX = 260
	watermarkSpacingY = 150
)

// TransformForDisplay resizes an uploaded photo to display quality,
// optionally overlays the tiled watermark, and re-encodes as JPEG.
// It never upscales: output height is min(TargetHeight, original height),
// width follows the original aspect ratio.
func TransformForDisplay(data []byte, opts Options) (*Result, error) {
	if opts.TargetHeight <= 0 {
		opts.TargetHeight = 1080
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 80
	}
	if opts.WatermarkText == "" {
		opts.WatermarkText = "facefind"
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrUnreadableImage)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}

	origW := img.Bounds().Dx()
	origH := img.Bounds().Dy()

	newH := opts.TargetHeight
	if newH > origH {
		newH = origH
	}
	newW := int(math.Round(float64(origW) * float64(newH) / float64(origH)))
	if newW < 1 {
		newW = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	if !opts.SkipWatermark {
		applyWatermark(resized, opts.WatermarkText)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return &Result{
		Buffer:         buf.Bytes(),
		Width:          newW,
		Height:         newH,
		OriginalWidth:  origW,
		OriginalHeight: origH,
	}, nil
}

// applyWatermark overlays the text in a repeating diagonal grid. The tile
// origin walks an unrotated grid that is then rotated into image space, so
// coverage holds for any canvas shape including very thin strips.
func applyWatermark(dst *image.RGBA, text string) {
	mask := renderTextMask(text)
	mw := mask.Bounds().Dx()
	mh := mask.Bounds().Dy()
	if mw == 0 || mh == 0 {
		return
	}

	bounds := dst.Bounds()
	sin, cos := math.Sincos(watermarkAngleDeg * math.Pi / 180)

	// Grid must cover the canvas diagonal in both directions.
	reach := int(math.Hypot(float64(bounds.Dx()), float64(bounds.Dy()))) + watermarkSpacingX

	row := 0
	for ty := -reach; ty <= reach; ty += watermarkSpacingY {
		// Stagger alternate rows by half a tile.
		offset := 0
		if row%2 == 1 {
			offset = watermarkSpacingX / 2
		}
		row++

		for tx := -reach + offset; tx <= reach; tx += watermarkSpacingX {
			for py := 0; py < mh; py++ {
				for px := 0; px < mw; px++ {
					a := mask.AlphaAt(px, py).A
					if a == 0 {
						continue
					}
					wx := float64(tx + px)
					wy := float64(ty + py)
					dx := int(wx*cos - wy*sin)
					dy := int(wx*sin + wy*cos)
					if dx < bounds.Min.X || dx >= bounds.Max.X || dy < bounds.Min.Y || dy >= bounds.Max.Y {
						continue
					}
					blendWhite(dst, dx, dy, uint32(a)*watermarkOpacity/255)
				}
			}
		}
	}
}

// renderTextMask draws the watermark text once into an alpha mask.
func renderTextMask(text string) *image.Alpha {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Metrics().Height.Ceil()
	if w <= 0 || h <= 0 {
		return image.NewAlpha(image.Rect(0, 0, 0, 0))
	}

	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.NewUniform(color.Alpha{A: 255}),
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
	return mask
}

// blendWhite alpha-blends white at strength a (0-255) over one pixel.
func blendWhite(dst *image.RGBA, x, y int, a uint32) {
	i := dst.PixOffset(x, y)
	inv := 255 - a
	dst.Pix[i+0] = uint8((uint32(dst.Pix[i+0])*inv + 255*a) / 255)
	dst.Pix[i+1] = uint8((uint32(dst.Pix[i+1])*inv + 255*a) / 255)
	dst.Pix[i+2] = uint8((uint32(dst.Pix[i+2])*inv + 255*a) / 255)
}

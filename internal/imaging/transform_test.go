package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestTransformNoUpscale(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		targetHeight int
		wantH        int
	}{
		{"downscale", 1600, 2400, 1080, 1080},
		{"target above original", 800, 600, 1080, 600},
		{"target equals original", 640, 480, 480, 480},
		{"tiny original", 100, 50, 1080, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeTestJPEG(t, tt.srcW, tt.srcH)
			res, err := TransformForDisplay(data, Options{TargetHeight: tt.targetHeight, SkipWatermark: true})
			if err != nil {
				t.Fatalf("transform: %v", err)
			}
			if res.Height != tt.wantH {
				t.Errorf("height = %d, want %d", res.Height, tt.wantH)
			}
			if res.Height > tt.srcH {
				t.Errorf("output height %d exceeds original %d", res.Height, tt.srcH)
			}
			if res.OriginalWidth != tt.srcW || res.OriginalHeight != tt.srcH {
				t.Errorf("original dims = %dx%d, want %dx%d", res.OriginalWidth, res.OriginalHeight, tt.srcW, tt.srcH)
			}
		})
	}
}

func TestTransformPreservesAspectRatio(t *testing.T) {
	shapes := []struct{ w, h int }{
		{1920, 1080},
		{1080, 1920},
		{3000, 2000},
		{500, 500},
		{2000, 120}, // thin strip
	}
	for _, s := range shapes {
		data := encodeTestJPEG(t, s.w, s.h)
		res, err := TransformForDisplay(data, Options{TargetHeight: 720, SkipWatermark: true})
		if err != nil {
			t.Fatalf("transform %dx%d: %v", s.w, s.h, err)
		}
		got := float64(res.Width) / float64(res.Height)
		want := float64(s.w) / float64(s.h)
		if math.Abs(got-want) >= 0.01 {
			t.Errorf("%dx%d: aspect ratio %f, want %f", s.w, s.h, got, want)
		}
	}
}

func TestTransformOutputDecodable(t *testing.T) {
	data := encodeTestJPEG(t, 1200, 900)
	res, err := TransformForDisplay(data, Options{TargetHeight: 600})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(res.Buffer))
	if err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if img.Bounds().Dx() != res.Width || img.Bounds().Dy() != res.Height {
		t.Errorf("decoded dims %dx%d disagree with reported %dx%d",
			img.Bounds().Dx(), img.Bounds().Dy(), res.Width, res.Height)
	}
}

func TestTransformWatermarkChangesPixels(t *testing.T) {
	data := encodeTestJPEG(t, 800, 600)

	plain, err := TransformForDisplay(data, Options{TargetHeight: 600, SkipWatermark: true})
	if err != nil {
		t.Fatalf("plain transform: %v", err)
	}
	marked, err := TransformForDisplay(data, Options{TargetHeight: 600, WatermarkText: "facefind"})
	if err != nil {
		t.Fatalf("marked transform: %v", err)
	}
	if bytes.Equal(plain.Buffer, marked.Buffer) {
		t.Error("watermarked output identical to plain output")
	}
}

func TestTransformWatermarkCoversThinImages(t *testing.T) {
	// Degenerate aspect ratios must not panic and must still tile.
	shapes := []struct{ w, h int }{
		{2000, 40},
		{40, 2000},
	}
	for _, s := range shapes {
		data := encodeTestJPEG(t, s.w, s.h)
		if _, err := TransformForDisplay(data, Options{TargetHeight: 1080}); err != nil {
			t.Errorf("%dx%d: %v", s.w, s.h, err)
		}
	}
}

func TestTransformUnreadable(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("not an image at all"),
		{0xff, 0xd8, 0xff}, // truncated jpeg header
	}
	for _, in := range inputs {
		_, err := TransformForDisplay(in, Options{})
		if !errors.Is(err, ErrUnreadableImage) {
			t.Errorf("input %q: err = %v, want ErrUnreadableImage", in, err)
		}
	}
}

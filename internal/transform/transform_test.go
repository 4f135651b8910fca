package transform

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/image-bot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// transparentImage has a fully transparent left half and opaque red right half
func transparentImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	return img
}

type fakeRemover struct {
	calls int
	err   error
	out   []byte
}

func (f *fakeRemover) RemoveBackground(_ context.Context, data []byte) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return data, nil
}

func TestProcessor_Apply(t *testing.T) {
	tests := []struct {
		name       string
		input      func(t *testing.T) []byte
		plan       domain.Plan
		wantFormat domain.Format
		wantType   string
		wantW      int
		wantH      int
	}{
		{
			name:       "sticker keeps aspect with longest side 512",
			input:      func(t *testing.T) []byte { return encodePNG(t, transparentImage(1000, 400)) },
			plan:       domain.Plan{domain.StickerStep{}},
			wantFormat: domain.FormatWebP,
			wantType:   "image/webp",
			wantW:      512,
			wantH:      205,
		},
		{
			name:       "sticker upscales small portrait",
			input:      func(t *testing.T) []byte { return encodePNG(t, transparentImage(100, 200)) },
			plan:       domain.Plan{domain.StickerStep{}},
			wantFormat: domain.FormatWebP,
			wantType:   "image/webp",
			wantW:      256,
			wantH:      512,
		},
		{
			name:       "resize keeps the source format",
			input:      func(t *testing.T) []byte { return encodeJPEG(t, image.NewRGBA(image.Rect(0, 0, 1000, 500))) },
			plan:       domain.Plan{domain.ResizeStep{Width: 512, Height: 512}},
			wantFormat: domain.FormatJPEG,
			wantType:   "image/jpeg",
			wantW:      512,
			wantH:      256,
		},
		{
			name:       "conversion to png",
			input:      func(t *testing.T) []byte { return encodeJPEG(t, image.NewRGBA(image.Rect(0, 0, 40, 30))) },
			plan:       domain.Plan{domain.ConvertStep{Target: domain.FormatPNG}},
			wantFormat: domain.FormatPNG,
			wantType:   "image/png",
			wantW:      40,
			wantH:      30,
		},
		{
			name:       "background removal yields png",
			input:      func(t *testing.T) []byte { return encodeJPEG(t, image.NewRGBA(image.Rect(0, 0, 64, 64))) },
			plan:       domain.Plan{domain.RemoveBackgroundStep{}},
			wantFormat: domain.FormatPNG,
			wantType:   "image/png",
			wantW:      64,
			wantH:      64,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(&fakeRemover{}, Config{}, testLogger())

			out, err := p.Apply(context.Background(), tt.input(t), tt.plan)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFormat, out.Format)
			assert.Equal(t, tt.wantType, out.ContentType)
			assert.Equal(t, tt.wantW, out.Width)
			assert.Equal(t, tt.wantH, out.Height)

			cfg, name, err := image.DecodeConfig(bytes.NewReader(out.Data))
			require.NoError(t, err)
			f, err := domain.ParseFormat(name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, f)
			assert.Equal(t, tt.wantW, cfg.Width)
			assert.Equal(t, tt.wantH, cfg.Height)
		})
	}
}

func TestProcessor_JPEGFlattensAlphaOnWhite(t *testing.T) {
	p := NewProcessor(nil, Config{JPEGQuality: 100}, testLogger())

	out, err := p.Apply(context.Background(), encodePNG(t, transparentImage(32, 32)),
		domain.Plan{domain.ConvertStep{Target: domain.FormatJPEG}})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", out.ContentType)

	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)

	r, g, b, a := decoded.At(2, 16).RGBA()
	assert.Equal(t, uint32(0xffff), a)
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))

	r, g, _, _ = decoded.At(28, 16).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestProcessor_StickerPreservesAlpha(t *testing.T) {
	p := NewProcessor(nil, Config{}, testLogger())

	out, err := p.Apply(context.Background(), encodePNG(t, transparentImage(600, 300)), domain.Plan{domain.StickerStep{}})
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)

	_, _, _, a := decoded.At(10, 128).RGBA()
	assert.Less(t, a>>8, uint32(20))
}

func TestProcessor_Errors(t *testing.T) {
	t.Run("empty plan", func(t *testing.T) {
		p := NewProcessor(nil, Config{}, testLogger())
		_, err := p.Apply(context.Background(), []byte("x"), nil)
		assert.ErrorIs(t, err, domain.ErrNoOptionsSelected)
	})

	t.Run("undecodable input", func(t *testing.T) {
		p := NewProcessor(nil, Config{}, testLogger())
		_, err := p.Apply(context.Background(), []byte("not an image"), domain.Plan{domain.StickerStep{}})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("remover not configured", func(t *testing.T) {
		p := NewProcessor(nil, Config{}, testLogger())
		_, err := p.Apply(context.Background(), encodePNG(t, transparentImage(8, 8)), domain.Plan{domain.RemoveBackgroundStep{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("remover fails", func(t *testing.T) {
		p := NewProcessor(&fakeRemover{err: errors.New("model crashed")}, Config{}, testLogger())
		_, err := p.Apply(context.Background(), encodePNG(t, transparentImage(8, 8)), domain.Plan{domain.RemoveBackgroundStep{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model crashed")
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := NewProcessor(nil, Config{}, testLogger())
		_, err := p.Apply(ctx, encodePNG(t, transparentImage(8, 8)), domain.Plan{domain.StickerStep{}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// pngHeaderClaiming returns a tiny PNG whose IHDR advertises w x h pixels
func pngHeaderClaiming(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	// signature(8) length(4) "IHDR"(4) then width and height
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestProcessor_PixelBudget(t *testing.T) {
	tests := []struct {
		name      string
		maxPixels int
		input     []byte
		remover   BackgroundRemover
		plan      domain.Plan
		wantErr   string
	}{
		{
			name:    "forged header over default budget",
			input:   pngHeaderClaiming(t, 40000, 40000),
			plan:    domain.Plan{domain.StickerStep{}},
			wantErr: "40000x40000",
		},
		{
			name:      "real image over configured budget",
			maxPixels: 100,
			input:     encodePNG(t, transparentImage(20, 20)),
			plan:      domain.Plan{domain.StickerStep{}},
			wantErr:   "over the 100 pixel limit",
		},
		{
			name:      "within budget",
			maxPixels: 100,
			input:     encodePNG(t, transparentImage(8, 8)),
			plan:      domain.Plan{domain.ConvertStep{Target: domain.FormatPNG}},
		},
		{
			name:    "background removal output over budget",
			input:   encodePNG(t, transparentImage(8, 8)),
			remover: &fakeRemover{out: pngHeaderClaiming(t, 100000, 1000)},
			plan:    domain.Plan{domain.RemoveBackgroundStep{}},
			wantErr: "100000x1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(tt.remover, Config{MaxPixels: tt.maxPixels}, testLogger())

			out, err := p.Apply(context.Background(), tt.input, tt.plan)

			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotEmpty(t, out.Data)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDimensions(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		fit          bool
		maxW, maxH   int
		wantW, wantH int
	}{
		{name: "sticker landscape", w: 1000, h: 400, wantW: 512, wantH: 205},
		{name: "sticker square", w: 50, h: 50, wantW: 512, wantH: 512},
		{name: "sticker thin", w: 5000, h: 2, wantW: 512, wantH: 1},
		{name: "fit already small", w: 300, h: 200, fit: true, maxW: 512, maxH: 512, wantW: 300, wantH: 200},
		{name: "fit landscape", w: 2048, h: 1024, fit: true, maxW: 512, maxH: 512, wantW: 512, wantH: 256},
		{name: "fit tall", w: 600, h: 1200, fit: true, maxW: 800, maxH: 600, wantW: 300, wantH: 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w, h int
			if tt.fit {
				w, h = FitDimensions(tt.w, tt.h, tt.maxW, tt.maxH)
			} else {
				w, h = StickerDimensions(tt.w, tt.h)
			}
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/chai2010/webp"
	"github.com/cuongbtq/image-bot/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// BackgroundRemover strips the background from an image and returns a PNG with alpha
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, data []byte) ([]byte, error)
}

// Output is an encoded transform result
type Output struct {
	Data        []byte
	Format      domain.Format
	ContentType string
	Width       int
	Height      int
}

// DefaultMaxPixels is the decode budget used when Config.MaxPixels is unset
const DefaultMaxPixels = 50_000_000

// Config holds encoder settings
type Config struct {
	JPEGQuality int
	WebPQuality float32
	// MaxPixels caps width*height of any image before it is decoded
	MaxPixels int
}

// Processor runs transform plans on encoded images
type Processor struct {
	remover     BackgroundRemover
	logger      *slog.Logger
	jpegQuality int
	webpQuality float32
	maxPixels   int
}

// NewProcessor creates a processor. remover may be nil if background removal is unavailable.
func NewProcessor(remover BackgroundRemover, cfg Config, logger *slog.Logger) *Processor {
	p := &Processor{
		remover:     remover,
		logger:      logger,
		jpegQuality: cfg.JPEGQuality,
		webpQuality: cfg.WebPQuality,
		maxPixels:   cfg.MaxPixels,
	}
	if p.jpegQuality <= 0 || p.jpegQuality > 100 {
		p.jpegQuality = 90
	}
	if p.webpQuality <= 0 || p.webpQuality > 100 {
		p.webpQuality = 90
	}
	if p.maxPixels <= 0 {
		p.maxPixels = DefaultMaxPixels
	}
	return p
}

// Apply decodes data, runs every step of plan in order and encodes the
// result in the format the last step produced
func (p *Processor) Apply(ctx context.Context, data []byte, plan domain.Plan) (*Output, error) {
	if len(plan) == 0 {
		return nil, domain.ErrNoOptionsSelected
	}

	img, name, err := p.decode(data)
	if err != nil {
		return nil, err
	}

	format, err := domain.ParseFormat(name)
	if err != nil {
		return nil, err
	}

	for _, step := range plan {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transform canceled: %w", err)
		}

		img, err = p.applyStep(ctx, img, step)
		if err != nil {
			return nil, fmt.Errorf("step %s failed: %w", step.Kind(), err)
		}
		format = step.OutputFormat(format)
	}

	encoded, err := p.encode(img, format)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	p.logger.Debug("Transform finished",
		slog.Any("steps", plan.Kinds()),
		slog.String("format", string(format)),
		slog.Int("width", bounds.Dx()),
		slog.Int("height", bounds.Dy()),
		slog.Int("output_size", len(encoded)),
	)

	return &Output{
		Data:        encoded,
		Format:      format,
		ContentType: format.ContentType(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

func (p *Processor) applyStep(ctx context.Context, img image.Image, step domain.Step) (image.Image, error) {
	switch s := step.(type) {
	case domain.RemoveBackgroundStep:
		return p.removeBackground(ctx, img)
	case domain.ResizeStep:
		w, h := FitDimensions(img.Bounds().Dx(), img.Bounds().Dy(), s.Width, s.Height)
		return scale(img, w, h), nil
	case domain.ConvertStep:
		return img, nil
	case domain.StickerStep:
		w, h := StickerDimensions(img.Bounds().Dx(), img.Bounds().Dy())
		return scale(img, w, h), nil
	default:
		return nil, fmt.Errorf("%w: unknown step %T", domain.ErrValidation, step)
	}
}

func (p *Processor) removeBackground(ctx context.Context, img image.Image) (image.Image, error) {
	if p.remover == nil {
		return nil, fmt.Errorf("background removal is not configured")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode input for background removal: %w", err)
	}

	out, err := p.remover.RemoveBackground(ctx, buf.Bytes())
	if err != nil {
		return nil, err
	}

	result, _, err := p.decode(out)
	if err != nil {
		return nil, fmt.Errorf("background removal output: %w", err)
	}
	return result, nil
}

// decode reads the header first so an oversized image is rejected before
// its pixel buffer is allocated
func (p *Processor) decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read image header: %v", domain.ErrValidation, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: image has no pixels", domain.ErrValidation)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(p.maxPixels) {
		return nil, "", fmt.Errorf("%w: image is %dx%d, over the %d pixel limit",
			domain.ErrValidation, cfg.Width, cfg.Height, p.maxPixels)
	}

	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to decode image: %v", domain.ErrValidation, err)
	}
	return img, name, nil
}

func (p *Processor) encode(img image.Image, format domain.Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case domain.FormatPNG:
		err = png.Encode(&buf, img)
	case domain.FormatJPEG:
		err = jpeg.Encode(&buf, Flatten(img, color.White), &jpeg.Options{Quality: p.jpegQuality})
	case domain.FormatWebP:
		err = webp.Encode(&buf, toNRGBA(img), &webp.Options{Quality: p.webpQuality})
	case domain.FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", domain.ErrValidation, format)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Flatten composites img onto an opaque background, dropping alpha
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	stddraw.Draw(dst, dst.Bounds(), &image.Uniform{C: bg}, image.Point{}, stddraw.Src)
	stddraw.Draw(dst, dst.Bounds(), img, bounds.Min, stddraw.Over)
	return dst
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	stddraw.Draw(dst, dst.Bounds(), img, bounds.Min, stddraw.Src)
	return dst
}

func scale(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// FitDimensions scales width x height down to fit inside maxW x maxH, keeping
// the aspect ratio. Images that already fit are left alone.
func FitDimensions(width, height, maxW, maxH int) (int, int) {
	if width <= maxW && height <= maxH {
		return width, height
	}
	ratio := min(float64(maxW)/float64(width), float64(maxH)/float64(height))
	return max(1, round(float64(width)*ratio)), max(1, round(float64(height)*ratio))
}

// StickerDimensions scales so the longest side is exactly domain.StickerSize
func StickerDimensions(width, height int) (int, int) {
	if width >= height {
		return domain.StickerSize, max(1, round(float64(height)*domain.StickerSize/float64(width)))
	}
	return max(1, round(float64(width)*domain.StickerSize/float64(height))), domain.StickerSize
}

func round(f float64) int {
	return int(f + 0.5)
}

package domain

// StepKind names a transform step
type StepKind string

const (
	StepRemoveBackground StepKind = "remove_background"
	StepResize           StepKind = "resize"
	StepConvert          StepKind = "format_conversion"
	StepSticker          StepKind = "sticker"
)

// StickerSize is the length of the longest side of a sticker
const StickerSize = 512

// Step is one transform in a Plan. The set of implementations is closed.
type Step interface {
	Kind() StepKind
	// OutputFormat returns the format the image has after this step
	OutputFormat(input Format) Format
}

// RemoveBackgroundStep strips the background and always yields PNG
type RemoveBackgroundStep struct{}

func (RemoveBackgroundStep) Kind() StepKind             { return StepRemoveBackground }
func (RemoveBackgroundStep) OutputFormat(Format) Format { return FormatPNG }

// ResizeStep fits the image into a Width x Height box, keeping the input format
type ResizeStep struct {
	Width  int
	Height int
}

func (ResizeStep) Kind() StepKind                   { return StepResize }
func (ResizeStep) OutputFormat(input Format) Format { return input }

// ConvertStep re-encodes the image into Target
type ConvertStep struct {
	Target Format
}

func (ConvertStep) Kind() StepKind               { return StepConvert }
func (s ConvertStep) OutputFormat(Format) Format { return s.Target }

// StickerStep scales the longest side to StickerSize and yields WebP
type StickerStep struct{}

func (StickerStep) Kind() StepKind             { return StepSticker }
func (StickerStep) OutputFormat(Format) Format { return FormatWebP }

// Plan is an ordered list of steps; the last step decides the output format
type Plan []Step

// OutputFormat folds the steps over the source format
func (p Plan) OutputFormat(source Format) Format {
	f := source
	for _, s := range p {
		f = s.OutputFormat(f)
	}
	return f
}

// Kinds lists the step kinds, mostly for logging
func (p Plan) Kinds() []string {
	kinds := make([]string, len(p))
	for i, s := range p {
		kinds[i] = string(s.Kind())
	}
	return kinds
}

// IsSticker reports whether the plan produces a sticker
func (p Plan) IsSticker() bool {
	for _, s := range p {
		if s.Kind() == StepSticker {
			return true
		}
	}
	return false
}

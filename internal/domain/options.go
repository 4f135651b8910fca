package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Format is an output image format
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
)

// ParseFormat normalizes a user or decoder supplied format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	case "gif":
		return FormatGIF, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrValidation, s)
	}
}

// FormatFromContentType maps an image MIME type to its format
func FormatFromContentType(contentType string) (Format, error) {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return FormatPNG, nil
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return FormatJPEG, nil
	case "image/webp":
		return FormatWebP, nil
	case "image/gif":
		return FormatGIF, nil
	default:
		return "", fmt.Errorf("%w: unsupported content type %q", ErrValidation, contentType)
	}
}

// Extension returns the file extension including the leading dot
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the normalized MIME type
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case "":
		return "application/octet-stream"
	default:
		return "image/" + string(f)
	}
}

// ConvertibleFormats are the formats a user may pick as a conversion target
var ConvertibleFormats = []Format{FormatPNG, FormatJPEG, FormatWebP}

// Option is a user-toggleable processing flag
type Option string

const (
	OptionRemoveBackground Option = "remove_bg"
	OptionSticker          Option = "as_sticker"
	OptionResize           Option = "resize"
)

// ParseOption accepts both the persisted key and the short callback alias
func ParseOption(s string) (Option, error) {
	switch s {
	case "remove_bg", "bg":
		return OptionRemoveBackground, nil
	case "as_sticker", "sticker":
		return OptionSticker, nil
	case "resize":
		return OptionResize, nil
	default:
		return "", fmt.Errorf("%w: unknown option %q", ErrValidation, s)
	}
}

const (
	DefaultResizeWidth  = 512
	DefaultResizeHeight = 512
	MaxResizeDimension  = 4096
)

// Options is the processing options bag persisted on a job.
// It is stored as JSON text and decoded into a Plan before any processing.
type Options struct {
	RemoveBackground  bool     `json:"remove_bg"`
	AsSticker         bool     `json:"as_sticker"`
	TargetFormat      Format   `json:"target_format,omitempty"`
	ResizeWidth       int      `json:"resize_width,omitempty"`
	ResizeHeight      int      `json:"resize_height,omitempty"`
	UserTier          UserTier `json:"user_tier,omitempty"`
	TelegramMessageID int      `json:"telegram_message_id,omitempty"`
}

// DefaultOptions returns the options a freshly created job starts with
func DefaultOptions() Options {
	return Options{}
}

// Toggle flips a boolean option and returns the updated copy
func (o Options) Toggle(opt Option) (Options, error) {
	switch opt {
	case OptionRemoveBackground:
		o.RemoveBackground = !o.RemoveBackground
	case OptionSticker:
		o.AsSticker = !o.AsSticker
	case OptionResize:
		if o.HasResize() {
			o.ResizeWidth, o.ResizeHeight = 0, 0
		} else {
			o.ResizeWidth, o.ResizeHeight = DefaultResizeWidth, DefaultResizeHeight
		}
	default:
		return o, fmt.Errorf("%w: unknown option %q", ErrValidation, opt)
	}
	return o, nil
}

// WithTargetFormat selects a conversion target. Picking the current target clears it.
func (o Options) WithTargetFormat(f Format) (Options, error) {
	if !isConvertible(f) {
		return o, fmt.Errorf("%w: format %q is not a conversion target", ErrValidation, f)
	}
	if o.TargetFormat == f {
		o.TargetFormat = ""
	} else {
		o.TargetFormat = f
	}
	return o, nil
}

// Stamp records confirmation metadata on the options
func (o Options) Stamp(tier UserTier, messageID int) Options {
	o.UserTier = tier
	o.TelegramMessageID = messageID
	return o
}

// HasResize reports whether a resize box is set
func (o Options) HasResize() bool {
	return o.ResizeWidth > 0 && o.ResizeHeight > 0
}

// HasEffect reports whether at least one option produces a transform
func (o Options) HasEffect() bool {
	return o.RemoveBackground || o.AsSticker || o.TargetFormat != "" || o.HasResize()
}

// Validate checks option values that JSON decoding alone cannot enforce
func (o Options) Validate() error {
	if o.TargetFormat != "" && !isConvertible(o.TargetFormat) {
		return fmt.Errorf("%w: unsupported target format %q", ErrValidation, o.TargetFormat)
	}
	if o.ResizeWidth < 0 || o.ResizeHeight < 0 ||
		o.ResizeWidth > MaxResizeDimension || o.ResizeHeight > MaxResizeDimension {
		return fmt.Errorf("%w: resize %dx%d out of range", ErrValidation, o.ResizeWidth, o.ResizeHeight)
	}
	if (o.ResizeWidth == 0) != (o.ResizeHeight == 0) {
		return fmt.Errorf("%w: resize needs both width and height", ErrValidation)
	}
	return nil
}

// SameEffect compares only the fields that change processing output
func (o Options) SameEffect(other Options) bool {
	return o.RemoveBackground == other.RemoveBackground &&
		o.AsSticker == other.AsSticker &&
		o.TargetFormat == other.TargetFormat &&
		o.ResizeWidth == other.ResizeWidth &&
		o.ResizeHeight == other.ResizeHeight
}

// Plan converts the options into an ordered list of transform steps
func (o Options) Plan() Plan {
	var plan Plan
	if o.RemoveBackground {
		plan = append(plan, RemoveBackgroundStep{})
	}
	if o.HasResize() {
		plan = append(plan, ResizeStep{Width: o.ResizeWidth, Height: o.ResizeHeight})
	}
	if o.TargetFormat != "" {
		plan = append(plan, ConvertStep{Target: o.TargetFormat})
	}
	if o.AsSticker {
		plan = append(plan, StickerStep{})
	}
	return plan
}

// Value implements driver.Valuer so the bag is written as JSON text
func (o Options) Value() (driver.Value, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal options: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Unknown keys are ignored.
func (o *Options) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*o = DefaultOptions()
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: cannot scan %T into options", ErrInvalidPayload, src)
	}

	if len(raw) == 0 {
		*o = DefaultOptions()
		return nil
	}

	var decoded Options
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if decoded.TargetFormat != "" {
		f, err := ParseFormat(string(decoded.TargetFormat))
		if err != nil {
			return err
		}
		decoded.TargetFormat = f
	}
	*o = decoded
	return nil
}

func isConvertible(f Format) bool {
	for _, c := range ConvertibleFormats {
		if c == f {
			return true
		}
	}
	return false
}

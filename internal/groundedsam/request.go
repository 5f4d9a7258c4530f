package groundedsam

import (
	"image"

	"github.com/example/groundedsam/internal/codec"
)

// Default thresholds applied when a Params field is nil.
const (
	DefaultBoxThreshold  = 0.3
	DefaultTextThreshold = 0.25
	DefaultIoUThreshold  = 0.5
)

// Params are the per-call task options. The zero value requests
// segmentation with default thresholds and an empty prompt.
//
// Thresholds are forwarded verbatim; range checks are left to the service.
type Params struct {
	TextPrompt string
	TaskType   Choice[TaskType]

	// InpaintPrompt is only meaningful for inpainting tasks but is sent
	// regardless of task type.
	InpaintPrompt *string

	BoxThreshold  *float64
	TextThreshold *float64
	IoUThreshold  *float64

	InpaintMode  Choice[InpaintMode]
	ScribbleMode Choice[ScribbleMode]

	// OpenAIAPIKey is forwarded as-is and never logged.
	OpenAIAPIKey *string
}

// Input is an image and optional mask already normalized to rasters.
type Input struct {
	Image image.Image
	Mask  image.Image
}

// InputImage is the wire form of Input.
type InputImage struct {
	Image string  `json:"image"`
	Mask  *string `json:"mask"`
}

// Payload is the JSON body posted to the service. Unset optional fields are
// sent as null.
type Payload struct {
	InputImage    InputImage `json:"input_image"`
	TextPrompt    string     `json:"text_prompt"`
	TaskType      string     `json:"task_type"`
	InpaintPrompt *string    `json:"inpaint_prompt"`
	BoxThreshold  *float64   `json:"box_threshold"`
	TextThreshold *float64   `json:"text_threshold"`
	IoUThreshold  *float64   `json:"iou_threshold"`
	InpaintMode   *string    `json:"inpaint_mode"`
	ScribbleMode  *string    `json:"scribble_mode"`
	OpenAIAPIKey  *string    `json:"openai_api_key"`
}

// Float returns a pointer to v, for filling optional thresholds.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s, for filling optional strings.
func String(s string) *string { return &s }

// encodeInput renders the input rasters as base64 PNG. Input masks are
// user-drawn images and use the raster encoding, not the array one.
func encodeInput(in Input) (InputImage, error) {
	img, err := codec.EncodeImage(in.Image)
	if err != nil {
		return InputImage{}, &codec.EncodeError{Field: codec.FieldImage, Index: -1, Err: err}
	}
	wire := InputImage{Image: img}
	if in.Mask != nil {
		mask, err := codec.EncodeImage(in.Mask)
		if err != nil {
			return InputImage{}, &codec.EncodeError{Field: codec.FieldMask, Index: -1, Err: err}
		}
		wire.Mask = &mask
	}
	return wire, nil
}

// newPayload normalizes every selector to its wire string and fills
// default thresholds.
func newPayload(input InputImage, p Params) *Payload {
	return &Payload{
		InputImage:    input,
		TextPrompt:    p.TextPrompt,
		TaskType:      p.TaskType.Or(TaskSegmentation).Value(),
		InpaintPrompt: copyString(p.InpaintPrompt),
		BoxThreshold:  thresholdOr(p.BoxThreshold, DefaultBoxThreshold),
		TextThreshold: thresholdOr(p.TextThreshold, DefaultTextThreshold),
		IoUThreshold:  thresholdOr(p.IoUThreshold, DefaultIoUThreshold),
		InpaintMode:   p.InpaintMode.wire(),
		ScribbleMode:  p.ScribbleMode.wire(),
		OpenAIAPIKey:  copyString(p.OpenAIAPIKey),
	}
}

func thresholdOr(v *float64, def float64) *float64 {
	if v == nil {
		return &def
	}
	out := *v
	return &out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

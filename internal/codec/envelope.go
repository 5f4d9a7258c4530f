package codec

import (
	"errors"
	"image"

	"github.com/example/groundedsam/internal/npy"
)

// OutputMessage is the wire form of a segmentation result.
type OutputMessage struct {
	FullImage string    `json:"full_image"`
	MaskImage *string   `json:"mask_image,omitempty"`
	Masks     *[]string `json:"masks,omitempty"`
}

// Output is the decoded result. A nil MaskImage means no mask image was
// returned. A nil Masks slice means no masks were returned; a non-nil empty
// slice means the service returned an empty list.
type Output struct {
	FullImage image.Image
	MaskImage image.Image
	Masks     []*npy.Array
}

// HasMasks reports whether the masks field is present, even if empty.
func (o *Output) HasMasks() bool {
	return o.Masks != nil
}

// EncodeOutput builds the wire form of out, omitting absent fields.
func EncodeOutput(out *Output) (*OutputMessage, error) {
	if out == nil || out.FullImage == nil {
		return nil, &EncodeError{Field: FieldFullImage, Index: -1, Err: errors.New("full image is required")}
	}

	full, err := EncodeImage(out.FullImage)
	if err != nil {
		return nil, &EncodeError{Field: FieldFullImage, Index: -1, Err: err}
	}
	msg := &OutputMessage{FullImage: full}

	if out.MaskImage != nil {
		mask, err := EncodeImage(out.MaskImage)
		if err != nil {
			return nil, &EncodeError{Field: FieldMaskImage, Index: -1, Err: err}
		}
		msg.MaskImage = &mask
	}

	if out.Masks != nil {
		masks := make([]string, len(out.Masks))
		for i, a := range out.Masks {
			s, err := EncodeArray(a)
			if err != nil {
				return nil, &EncodeError{Field: FieldMasks, Index: i, Err: err}
			}
			masks[i] = s
		}
		msg.Masks = &masks
	}
	return msg, nil
}

// DecodeOutput decodes every present field of msg. An empty mask_image
// string is treated as absent.
func DecodeOutput(msg *OutputMessage) (*Output, error) {
	if msg == nil {
		return nil, &DecodeError{Field: FieldFullImage, Index: -1, Err: errors.New("nil message")}
	}

	full, err := DecodeImage(msg.FullImage)
	if err != nil {
		return nil, &DecodeError{Field: FieldFullImage, Index: -1, Err: err}
	}
	out := &Output{FullImage: full}

	if msg.MaskImage != nil && *msg.MaskImage != "" {
		mask, err := DecodeImage(*msg.MaskImage)
		if err != nil {
			return nil, &DecodeError{Field: FieldMaskImage, Index: -1, Err: err}
		}
		out.MaskImage = mask
	}

	if msg.Masks != nil {
		out.Masks = make([]*npy.Array, len(*msg.Masks))
		for i, s := range *msg.Masks {
			a, err := DecodeArray(s)
			if err != nil {
				return nil, &DecodeError{Field: FieldMasks, Index: i, Err: err}
			}
			out.Masks[i] = a
		}
	}
	return out, nil
}

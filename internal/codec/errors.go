package codec

import "fmt"

// Envelope field names used in error reports.
const (
	FieldFullImage = "full_image"
	FieldMaskImage = "mask_image"
	FieldMasks     = "masks"
	FieldImage     = "input_image.image"
	FieldMask      = "input_image.mask"
)

// DecodeError reports a wire field that is present but cannot be decoded.
// Index is the position within masks, or -1 for single-valued fields.
type DecodeError struct {
	Field string
	Index int
	Err   error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("decode %s[%d]: %v", e.Field, e.Index, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a native value that could not be encoded.
type EncodeError struct {
	Field string
	Index int
	Err   error
}

// Error implements the error interface.
func (e *EncodeError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("encode %s[%d]: %v", e.Field, e.Index, e.Err)
	}
	return fmt.Sprintf("encode %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *EncodeError) Unwrap() error { return e.Err }

// Package codec converts images and numeric arrays to and from the base64
// text used on the wire, and assembles the result envelope.
//
// Rasters always travel as PNG so pixel values survive exactly. Output masks
// travel as .npy arrays so that non-binary values and dtypes survive too. The
// two encodings are never mixed.
package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/example/groundedsam/internal/npy"
)

// MaxImagePixels bounds the width times height a decoder accepts. The
// header is checked before any pixel buffer is allocated.
const MaxImagePixels = 1 << 26

var (
	// ErrUnsupportedLayout is returned when an array cannot be viewed as a raster.
	ErrUnsupportedLayout = errors.New("codec: array layout is not a raster")
	// ErrImageTooLarge is returned when declared dimensions exceed MaxImagePixels.
	ErrImageTooLarge = errors.New("codec: image dimensions exceed limit")
)

// EncodeImage renders img as PNG and returns it base64 encoded.
func EncodeImage(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("codec: nil image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImage parses a base64 PNG payload.
func DecodeImage(s string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	if err := checkDimensions(cfg); err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	return img, nil
}

// DecodeRaster decodes raw in any registered image format after checking
// its declared dimensions. It returns the format name.
func DecodeRaster(raw []byte) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}
	if err := checkDimensions(cfg); err != nil {
		return nil, format, err
	}
	return image.Decode(bytes.NewReader(raw))
}

func checkDimensions(cfg image.Config) error {
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

// EncodeArray serializes a as .npy and returns it base64 encoded.
func EncodeArray(a *npy.Array) (string, error) {
	raw, err := npy.Marshal(a)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeArray parses a base64 .npy payload.
func DecodeArray(s string) (*npy.Array, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	a, err := npy.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ArrayToImage views an HxW, HxWx1, HxWx3 or HxWx4 uint8 or bool array as a
// raster. Two-dimensional and single-channel arrays become *image.Gray (bool
// true maps to 255), three channels become opaque *image.NRGBA and four
// channels are taken as RGBA.
func ArrayToImage(a *npy.Array) (image.Image, error) {
	if a == nil {
		return nil, errors.New("codec: nil array")
	}
	if a.DType != npy.Uint8 && a.DType != npy.Bool {
		return nil, fmt.Errorf("%w: dtype %s", ErrUnsupportedLayout, a.DType)
	}

	var h, w, c int
	switch len(a.Shape) {
	case 2:
		h, w, c = a.Shape[0], a.Shape[1], 1
	case 3:
		h, w, c = a.Shape[0], a.Shape[1], a.Shape[2]
	default:
		return nil, fmt.Errorf("%w: shape %v", ErrUnsupportedLayout, a.Shape)
	}
	if len(a.Data) != h*w*c {
		return nil, fmt.Errorf("%w: %d bytes for shape %v", ErrUnsupportedLayout, len(a.Data), a.Shape)
	}

	px := a.Data
	if a.DType == npy.Bool {
		px = make([]byte, len(a.Data))
		for i, b := range a.Data {
			if b != 0 {
				px[i] = 0xff
			}
		}
	}

	rect := image.Rect(0, 0, w, h)
	switch c {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, px)
		return img, nil
	case 3:
		img := image.NewNRGBA(rect)
		for i := 0; i < w*h; i++ {
			copy(img.Pix[i*4:i*4+3], px[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, px)
		return img, nil
	}
	return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedLayout, c)
}

// ImageToArray is the inverse of ArrayToImage for 8-bit rasters: gray images
// yield HxW uint8 arrays, everything else HxWx4 non-premultiplied RGBA.
func ImageToArray(img image.Image) (*npy.Array, error) {
	if img == nil {
		return nil, errors.New("codec: nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok {
		data := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := g.PixOffset(b.Min.X, y)
			data = append(data, g.Pix[off:off+w]...)
		}
		return npy.New(npy.Uint8, []int{h, w}, data)
	}

	data := make([]byte, 0, w*h*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			data = append(data, c.R, c.G, c.B, c.A)
		}
	}
	return npy.New(npy.Uint8, []int{h, w, 4}, data)
}

package groundedsam

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/groundedsam/internal/codec"
	"github.com/example/groundedsam/internal/npy"
)

// CallWithImage sends an in-memory image and optional mask.
func (c *Client) CallWithImage(ctx context.Context, img, mask image.Image, p Params) (*codec.Output, error) {
	return c.Call(ctx, Input{Image: img, Mask: mask}, p)
}

// CallWithArray sends an HxWx3 (RGB, not BGR) or HxW uint8 array and an
// optional mask array. Arrays are converted to rasters first.
func (c *Client) CallWithArray(ctx context.Context, img, mask *npy.Array, p Params) (*codec.Output, error) {
	in, err := arrayInput(img, mask)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, in, p)
}

// CallWithFilepath loads the image and, when maskPath is not empty, the mask
// from disk. PNG, JPEG, GIF, BMP, TIFF and WebP files are accepted.
func (c *Client) CallWithFilepath(ctx context.Context, imagePath, maskPath string, p Params) (*codec.Output, error) {
	in, err := fileInput(imagePath, maskPath)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, in, p)
}

func arrayInput(img, mask *npy.Array) (Input, error) {
	var in Input
	var err error
	if in.Image, err = codec.ArrayToImage(img); err != nil {
		return Input{}, &codec.EncodeError{Field: codec.FieldImage, Index: -1, Err: err}
	}
	if mask != nil {
		if in.Mask, err = codec.ArrayToImage(mask); err != nil {
			return Input{}, &codec.EncodeError{Field: codec.FieldMask, Index: -1, Err: err}
		}
	}
	return in, nil
}

func fileInput(imagePath, maskPath string) (Input, error) {
	var in Input
	var err error
	if in.Image, err = LoadImage(imagePath); err != nil {
		return Input{}, err
	}
	if maskPath != "" {
		if in.Mask, err = LoadImage(maskPath); err != nil {
			return Input{}, err
		}
	}
	return in, nil
}

// LoadImage decodes a raster file in any registered format.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

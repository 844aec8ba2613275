// Package imagestack decodes a sequence of PNG images into the
// normalized float layer format payload.PackImageStack expects: one
// []float32 per image, row-major, bottom-up, values in [0, 1].
package imagestack

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/gladius-go/slicer/internal/cerrors"
)

// Layer is one decoded image, normalized to [0, 1] and stored
// bottom-up (row 0 is the image's last scanline), matching the
// orientation payload.PackImageStack concatenates layers in.
type Layer struct {
	Width, Height int
	Values        []float32
}

// DecodePNG reads a single PNG and normalizes it to a Layer. Grayscale
// (8 and 16-bit), grayscale+alpha, RGB, and RGBA inputs are supported;
// RGB/RGBA are reduced to luminance via the standard Rec. 601 weights.
// Palette (indexed) images and anything else image/png can decode but
// this function does not special-case are still accepted through the
// generic image.Image path below, so no format is rejected outright —
// only a decode error from the underlying library is.
func DecodePNG(r io.Reader) (Layer, error) {
	img, err := png.Decode(r)
	if err != nil {
		return Layer{}, cerrors.New(cerrors.KindUnsupportedFormat, "imagestack.DecodePNG", err)
	}
	return fromImage(img), nil
}

func fromImage(img image.Image) Layer {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	values := make([]float32, w*h)
	for y := 0; y < h; y++ {
		// Row 0 of the output is the image's bottom scanline.
		srcY := b.Min.Y + (h - 1 - y)
		for x := 0; x < w; x++ {
			r, g, bch, _ := img.At(b.Min.X+x, srcY).RGBA()
			lum := 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(bch)
			values[y*w+x] = lum / 65535
		}
	}
	return Layer{Width: w, Height: h, Values: values}
}

// DecodeStack decodes every reader in order, erroring on the first
// decode failure. It does not require every layer to share the same
// dimensions; callers that need uniform layers (as a voxel image
// stack does) should check Width/Height themselves and report a
// cerrors.KindInvalidModel mismatch.
func DecodeStack(readers []io.Reader) ([]Layer, error) {
	layers := make([]Layer, 0, len(readers))
	for i, r := range readers {
		l, err := DecodePNG(r)
		if err != nil {
			return nil, cerrors.New(cerrors.KindUnsupportedFormat, "imagestack.DecodeStack",
				fmt.Errorf("layer %d: %w", i, err))
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// ToFloatLayers extracts the raw Values slices in order, the shape
// payload.PackImageStack takes directly.
func ToFloatLayers(layers []Layer) [][]float32 {
	out := make([][]float32, len(layers))
	for i, l := range layers {
		out[i] = l.Values
	}
	return out
}

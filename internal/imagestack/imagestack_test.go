package imagestack

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func TestDecodePNGGray8WhiteIsNearOne(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	l, err := DecodePNG(encodePNG(t, img))
	require.NoError(t, err)
	require.Equal(t, 2, l.Width)
	require.Equal(t, 2, l.Height)
	for _, v := range l.Values {
		require.InDelta(t, 1.0, v, 1e-4)
	}
}

func TestDecodePNGGray16PreservesPrecision(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 1, 1))
	img.SetGray16(0, 0, color.Gray16{Y: 32768})
	l, err := DecodePNG(encodePNG(t, img))
	require.NoError(t, err)
	require.InDelta(t, 0.5, l.Values[0], 0.01)
}

func TestDecodePNGRGBAUsesLuminance(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, G: 0, B: 0, A: 255})
	l, err := DecodePNG(encodePNG(t, img))
	require.NoError(t, err)
	require.Greater(t, l.Values[0], float32(0))
	require.Less(t, l.Values[0], float32(1))
}

func TestDecodePNGIsBottomUp(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 1, 2))
	img.SetGray(0, 0, color.Gray{Y: 0})   // top row: black
	img.SetGray(0, 1, color.Gray{Y: 255}) // bottom row: white
	l, err := DecodePNG(encodePNG(t, img))
	require.NoError(t, err)
	require.InDelta(t, 1.0, l.Values[0], 1e-4, "row 0 of output must be the image's bottom scanline")
	require.InDelta(t, 0.0, l.Values[1], 1e-4)
}

func TestDecodePNGRejectsGarbage(t *testing.T) {
	_, err := DecodePNG(bytes.NewBufferString("not a png"))
	require.Error(t, err)
}

func TestDecodeStackPropagatesIndexOnFailure(t *testing.T) {
	good := image.NewGray(image.Rect(0, 0, 1, 1))
	readers := []io.Reader{encodePNG(t, good), bytes.NewBufferString("garbage")}
	_, err := DecodeStack(readers)
	require.Error(t, err)
	require.Contains(t, err.Error(), "layer 1")
}

func TestDecodeStackAndToFloatLayersRoundTripsOrder(t *testing.T) {
	a := image.NewGray(image.Rect(0, 0, 1, 1))
	a.SetGray(0, 0, color.Gray{Y: 0})
	b := image.NewGray(image.Rect(0, 0, 1, 1))
	b.SetGray(0, 0, color.Gray{Y: 255})

	layers, err := DecodeStack([]io.Reader{encodePNG(t, a), encodePNG(t, b)})
	require.NoError(t, err)
	require.Len(t, layers, 2)

	flat := ToFloatLayers(layers)
	require.Len(t, flat, 2)
	require.InDelta(t, 0.0, flat[0][0], 1e-4)
	require.InDelta(t, 1.0, flat[1][0], 1e-4)
}

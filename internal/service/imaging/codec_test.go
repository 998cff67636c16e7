package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8((x * y) % 256), B: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestStdCodec_RoundTrip(t *testing.T) {
	c := NewStdCodec()

	src, err := c.Decode(leafPNG(t, 1000, 500))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1000, 500), src.Bounds())

	scaled := c.Scale(src, 768, 384)
	data, err := c.Encode(scaled, 0.75)
	require.NoError(t, err)

	out, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 768, out.Bounds().Dx())
	assert.Equal(t, 384, out.Bounds().Dy())
}

func TestStdCodec_DecodeRejectsGarbage(t *testing.T) {
	_, err := NewStdCodec().Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestEngine_WithStdCodec(t *testing.T) {
	e := NewEngine(NewStdCodec(), nil, nil)

	res, err := e.Compress(context.Background(), leafPNG(t, 1200, 900), AdaptivePreset(0), nil)
	require.NoError(t, err)

	assert.Equal(t, 768, res.Width)
	assert.Equal(t, 576, res.Height)
	assert.LessOrEqual(t, res.Size(), DefaultTarget*3/2)
	assert.True(t, bytes.HasPrefix(res.Data, []byte{0xff, 0xd8}), "jpeg magic")
}

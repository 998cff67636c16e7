// internal/service/imaging/codec.go

package imaging

import (
	"bytes"
	"image"
	"image/jpeg"
	"math"

	// decoders for the formats phones upload
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// StdCodec decodes JPEG, PNG, GIF and WebP and encodes JPEG
type StdCodec struct {
	Interpolator draw.Interpolator
}

var _ Codec = (*StdCodec)(nil)

// NewStdCodec returns a codec scaling with Catmull-Rom
func NewStdCodec() *StdCodec {
	return &StdCodec{Interpolator: draw.CatmullRom}
}

// Decode decodes any registered image format
func (c *StdCodec) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Scale draws src onto a new width x height raster
func (c *StdCodec) Scale(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	interp := c.Interpolator
	if interp == nil {
		interp = draw.CatmullRom
	}
	interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// Encode writes img as JPEG. quality is in [0, 1].
func (c *StdCodec) Encode(img image.Image, quality float64) ([]byte, error) {
	q := int(math.Round(quality * 100))
	q = max(1, min(100, q))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

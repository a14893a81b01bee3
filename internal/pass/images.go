package pass

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

type imageSpec struct {
	name          string
	width, height int
}

var defaultImageSpecs = []imageSpec{
	{"icon.png", 29, 29},
	{"icon@2x.png", 58, 58},
	{"logo.png", 160, 50},
	{"logo@2x.png", 320, 100},
}

// defaultImages renders solid placeholder images in the card color. Tenants'
// uploaded artwork is stored elsewhere.
func defaultImages(custom, fallback string) map[string][]byte {
	r, g, b, ok := parseHex(custom)
	if !ok {
		r, g, b, _ = parseHex(fallback)
	}
	fill := color.NRGBA{R: r, G: g, B: b, A: 0xff}

	out := make(map[string][]byte, len(defaultImageSpecs))
	for _, spec := range defaultImageSpecs {
		img := image.NewNRGBA(image.Rect(0, 0, spec.width, spec.height))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)
		var buf bytes.Buffer
		// Encoding an in-memory NRGBA image does not fail.
		_ = png.Encode(&buf, img)
		out[spec.name] = buf.Bytes()
	}
	return out
}

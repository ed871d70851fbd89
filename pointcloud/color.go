package pointcloud

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

func opaque(c colorful.Color) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}
}

// ColorFrom16 reduces 16 bit channels, as LAS files store them, to an opaque 8 bit color.
func ColorFrom16(r, g, b uint16) color.NRGBA {
	return opaque(colorful.Color{
		R: float64(r) / 65535.0,
		G: float64(g) / 65535.0,
		B: float64(b) / 65535.0,
	})
}

// ColorFromPacked decodes a 0x00RRGGBB value, the layout of a PCD rgb field.
func ColorFromPacked(c uint32) color.NRGBA {
	return opaque(colorful.Color{
		R: float64(c>>16&0xFF) / 255.0,
		G: float64(c>>8&0xFF) / 255.0,
		B: float64(c&0xFF) / 255.0,
	})
}

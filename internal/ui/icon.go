package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon(32)

// renderIcon draws a play triangle on a filled square.
func renderIcon(size int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	bg := color.RGBA{R: 0x25, G: 0x63, B: 0xeb, A: 0xff}
	fg := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	left, right := size*3/8, size*3/4
	mid := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, bg)
			if x < left || x > right {
				continue
			}
			// half-height of the triangle shrinks linearly toward the tip
			half := (right - x) * (size / 4) / (right - left)
			if y >= mid-half && y <= mid+half {
				img.Set(x, y, fg)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

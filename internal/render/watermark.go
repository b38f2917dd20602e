package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	WatermarkLabel = "VideoCut"

	// Layout in output pixels, anchored to the bottom-right corner.
	watermarkFontRatio = 0.05
	watermarkPadding   = 20
	watermarkInset     = 10
	watermarkRadius    = 10
)

var watermarkFill = color.NRGBA{R: 0, G: 0, B: 0, A: 153} // rgba(0,0,0,0.6)

// Watermark draws the free-tier label onto frames. Faces are cached per
// frame height since the size is a fraction of it.
type Watermark struct {
	label string
	font  *opentype.Font

	mu    sync.Mutex
	faces map[int]font.Face
}

func NewWatermark() (*Watermark, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse watermark font: %w", err)
	}
	return &Watermark{label: WatermarkLabel, font: f, faces: make(map[int]font.Face)}, nil
}

// Layout is where the pill and the text baseline land for a frame size.
type Layout struct {
	Pill     image.Rectangle
	Baseline fixed.Point26_6
	FontSize float64
}

// Layout computes the overlay geometry for a w x h frame.
func (w *Watermark) Layout(width, height int) (Layout, error) {
	face, size, err := w.face(height)
	if err != nil {
		return Layout{}, err
	}
	textW := float64(font.MeasureString(face, w.label)) / 64

	x := float64(width) - textW - watermarkPadding
	y := float64(height) - watermarkPadding

	pill := image.Rect(
		int(math.Floor(x-watermarkInset)),
		int(math.Floor(y-size)),
		int(math.Ceil(x-watermarkInset+textW+2*watermarkInset)),
		int(math.Ceil(y+watermarkInset)),
	)
	return Layout{
		Pill:     pill,
		Baseline: fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
		FontSize: size,
	}, nil
}

// Apply draws the overlay in place unless premium is set.
func (w *Watermark) Apply(frame *image.RGBA, premium bool) error {
	if premium {
		return nil
	}
	b := frame.Bounds()
	layout, err := w.Layout(b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	face, _, _ := w.face(b.Dy())

	pill := layout.Pill.Add(b.Min)
	mask := roundedMask(pill.Dx(), pill.Dy(), watermarkRadius)
	draw.DrawMask(frame, pill, image.NewUniform(watermarkFill), image.Point{}, mask, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  frame,
		Src:  image.White,
		Face: face,
		Dot:  layout.Baseline.Add(fixed.P(b.Min.X, b.Min.Y)),
	}
	d.DrawString(w.label)
	return nil
}

func (w *Watermark) face(height int) (font.Face, float64, error) {
	size := float64(height) * watermarkFontRatio
	w.mu.Lock()
	defer w.mu.Unlock()
	if f, ok := w.faces[height]; ok {
		return f, size, nil
	}
	f, err := opentype.NewFace(w.font, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create watermark face: %w", err)
	}
	w.faces[height] = f
	return f, size, nil
}

// roundedMask returns an alpha mask of a w x h rectangle with rounded corners,
// antialiased by sampling each pixel centre's distance to the corner arc.
func roundedMask(w, h, radius int) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	r := float64(radius)
	if limit := float64(min(w, h)) / 2; r > limit {
		r = limit
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			cx, cy := px, py
			if px < r {
				cx = r
			} else if px > float64(w)-r {
				cx = float64(w) - r
			}
			if py < r {
				cy = r
			} else if py > float64(h)-r {
				cy = float64(h) - r
			}
			dist := math.Hypot(px-cx, py-cy)
			cov := r + 0.5 - dist
			switch {
			case cov >= 1:
				m.Pix[y*m.Stride+x] = 0xff
			case cov > 0:
				m.Pix[y*m.Stride+x] = uint8(cov * 0xff)
			}
		}
	}
	return m
}

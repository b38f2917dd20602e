package render

import (
	"image"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Effect is one filter function applied in place to an RGBA frame.
type Effect interface {
	Apply(img *image.RGBA)
	Name() string
}

// EffectChain applies effects in order.
type EffectChain []Effect

func (c EffectChain) Apply(img *image.RGBA) {
	for _, e := range c {
		e.Apply(img)
	}
}

// Compositor draws a source frame with a filter applied. It keeps no state
// between frames other than a cache of parsed filter strings.
type Compositor struct {
	mu     sync.Mutex
	parsed map[string]EffectChain
}

func NewCompositor() *Compositor {
	return &Compositor{parsed: make(map[string]EffectChain)}
}

// Apply returns a filtered copy of frame. The input is never modified.
func (c *Compositor) Apply(frame *image.RGBA, f Filter) *image.RGBA {
	out := cloneRGBA(frame)
	c.chain(f.Transform).Apply(out)
	return out
}

func (c *Compositor) chain(transform string) EffectChain {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chain, ok := c.parsed[transform]; ok {
		return chain
	}
	chain := ParseTransform(transform)
	c.parsed[transform] = chain
	return chain
}

// ParseTransform parses a CSS filter-function list such as
// "contrast(150%) blur(2px)". Unknown functions and malformed arguments are
// skipped, so the worst case is the identity chain.
func ParseTransform(s string) EffectChain {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil
	}

	var chain EffectChain
	for s != "" {
		open := strings.IndexByte(s, '(')
		end := strings.IndexByte(s, ')')
		if open <= 0 || end < open {
			break
		}
		name := strings.ToLower(strings.TrimSpace(s[:open]))
		arg := strings.TrimSpace(s[open+1 : end])
		s = strings.TrimSpace(s[end+1:])

		if e := newEffect(name, arg); e != nil {
			chain = append(chain, e)
		}
	}
	return chain
}

func newEffect(name, arg string) Effect {
	switch name {
	case "blur":
		px, ok := parseLength(arg)
		if !ok || px <= 0 {
			return nil
		}
		return &BlurEffect{Sigma: px}
	case "grayscale", "sepia", "invert":
		a, ok := parseAmount(arg)
		if !ok {
			return nil
		}
		a = math.Min(a, 1)
		switch name {
		case "grayscale":
			return grayscaleMatrix(a)
		case "sepia":
			return sepiaMatrix(a)
		default:
			return invertMatrix(a)
		}
	case "saturate", "brightness", "contrast":
		a, ok := parseAmount(arg)
		if !ok {
			return nil
		}
		switch name {
		case "saturate":
			return saturateMatrix(a)
		case "brightness":
			return brightnessMatrix(a)
		default:
			return contrastMatrix(a)
		}
	}
	return nil
}

// parseAmount accepts "150%", "1.5" or "" (meaning 1).
func parseAmount(arg string) (float64, bool) {
	if arg == "" {
		return 1, true
	}
	scale := 1.0
	if strings.HasSuffix(arg, "%") {
		arg = strings.TrimSuffix(arg, "%")
		scale = 0.01
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || v < 0 || !finite(v) {
		return 0, false
	}
	return v * scale, true
}

// parseLength accepts "2px" or a bare number of pixels.
func parseLength(arg string) (float64, bool) {
	if arg == "" {
		return 0, true
	}
	arg = strings.TrimSuffix(arg, "px")
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || v < 0 || !finite(v) {
		return 0, false
	}
	return v, true
}

// ColorMatrix is an affine transform of the RGB channels, laid out as three
// rows of {r, g, b, offset}. Offsets are in 0..255 units.
type ColorMatrix struct {
	name string
	m    [12]float64
}

func (c *ColorMatrix) Name() string { return c.name }

func (c *ColorMatrix) Apply(img *image.RGBA) {
	m := c.m
	b := img.Rect
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			r, g, bl, a := float64(row[i]), float64(row[i+1]), float64(row[i+2]), float64(row[i+3])
			row[i] = clampChannel(m[0]*r+m[1]*g+m[2]*bl+m[3], a)
			row[i+1] = clampChannel(m[4]*r+m[5]*g+m[6]*bl+m[7], a)
			row[i+2] = clampChannel(m[8]*r+m[9]*g+m[10]*bl+m[11], a)
		}
	}
}

func grayscaleMatrix(a float64) *ColorMatrix {
	s := 1 - a
	return &ColorMatrix{name: "grayscale", m: [12]float64{
		0.2126 + 0.7874*s, 0.7152 - 0.7152*s, 0.0722 - 0.0722*s, 0,
		0.2126 - 0.2126*s, 0.7152 + 0.2848*s, 0.0722 - 0.0722*s, 0,
		0.2126 - 0.2126*s, 0.7152 - 0.7152*s, 0.0722 + 0.9278*s, 0,
	}}
}

func sepiaMatrix(a float64) *ColorMatrix {
	s := 1 - a
	return &ColorMatrix{name: "sepia", m: [12]float64{
		0.393 + 0.607*s, 0.769 - 0.769*s, 0.189 - 0.189*s, 0,
		0.349 - 0.349*s, 0.686 + 0.314*s, 0.168 - 0.168*s, 0,
		0.272 - 0.272*s, 0.534 - 0.534*s, 0.131 + 0.869*s, 0,
	}}
}

func saturateMatrix(s float64) *ColorMatrix {
	return &ColorMatrix{name: "saturate", m: [12]float64{
		0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s, 0,
		0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s, 0,
		0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s, 0,
	}}
}

func brightnessMatrix(a float64) *ColorMatrix {
	return &ColorMatrix{name: "brightness", m: [12]float64{
		a, 0, 0, 0,
		0, a, 0, 0,
		0, 0, a, 0,
	}}
}

func contrastMatrix(a float64) *ColorMatrix {
	off := (0.5 - 0.5*a) * 255
	return &ColorMatrix{name: "contrast", m: [12]float64{
		a, 0, 0, off,
		0, a, 0, off,
		0, 0, a, off,
	}}
}

func invertMatrix(a float64) *ColorMatrix {
	k := 1 - 2*a
	off := a * 255
	return &ColorMatrix{name: "invert", m: [12]float64{
		k, 0, 0, off,
		0, k, 0, off,
		0, 0, k, off,
	}}
}

// BlurEffect approximates a gaussian blur of the given standard deviation
// with three successive box blurs.
type BlurEffect struct {
	Sigma float64
}

func (e *BlurEffect) Name() string { return "blur" }

func (e *BlurEffect) Apply(img *image.RGBA) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 || e.Sigma <= 0 {
		return
	}
	r := int(math.Round((math.Sqrt(4*e.Sigma*e.Sigma+1) - 1) / 2))
	if r < 1 {
		r = 1
	}

	tmp := make([]uint8, len(img.Pix))
	for pass := 0; pass < 3; pass++ {
		boxBlurH(img.Pix, tmp, w, h, img.Stride, r)
		boxBlurV(tmp, img.Pix, w, h, img.Stride, r)
	}
}

func boxBlurH(src, dst []uint8, w, h, stride, r int) {
	div := 2*r + 1
	for y := 0; y < h; y++ {
		row := y * stride
		for c := 0; c < 4; c++ {
			sum := 0
			for k := -r; k <= r; k++ {
				sum += int(src[row+clampIndex(k, w)*4+c])
			}
			for x := 0; x < w; x++ {
				dst[row+x*4+c] = uint8((sum + div/2) / div)
				sum += int(src[row+clampIndex(x+r+1, w)*4+c]) - int(src[row+clampIndex(x-r, w)*4+c])
			}
		}
	}
}

func boxBlurV(src, dst []uint8, w, h, stride, r int) {
	div := 2*r + 1
	for x := 0; x < w; x++ {
		col := x * 4
		for c := 0; c < 4; c++ {
			sum := 0
			for k := -r; k <= r; k++ {
				sum += int(src[clampIndex(k, h)*stride+col+c])
			}
			for y := 0; y < h; y++ {
				dst[y*stride+col+c] = uint8((sum + div/2) / div)
				sum += int(src[clampIndex(y+r+1, h)*stride+col+c]) - int(src[clampIndex(y-r, h)*stride+col+c])
			}
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// clampChannel rounds v into [0, alpha]; pixels are alpha-premultiplied.
func clampChannel(v, alpha float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= alpha {
		return uint8(alpha)
	}
	return uint8(v + 0.5)
}

// cloneRGBA copies src into a new image with the same bounds and a tight stride.
func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	w := src.Rect.Dx() * 4
	for y := 0; y < src.Rect.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+w], src.Pix[y*src.Stride:y*src.Stride+w])
	}
	return dst
}

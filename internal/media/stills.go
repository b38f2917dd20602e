package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/videocut/videocut-agent/internal/render"
)

const (
	MaxStills    = 4
	stillScale   = 4
	stillQuality = 70
)

// Still is one downscaled JPEG frame, base64 encoded.
type Still struct {
	Timestamp float64 `json:"timestamp"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	MIMEType  string  `json:"mime_type"`
	Data      string  `json:"data"`
}

// StillSampler grabs evenly spaced frames for metadata generation.
type StillSampler struct {
	open   func(path string) (frameReader, error)
	logger *slog.Logger
}

func NewStillSampler(logger *slog.Logger) *StillSampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StillSampler{open: openVidio, logger: logger}
}

// StillPositions returns n fractions of the duration, spread from 10% to 90%.
func StillPositions(n int) []float64 {
	if n < 1 {
		n = 1
	}
	if n > MaxStills {
		n = MaxStills
	}
	if n == 1 {
		return []float64{0.5}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.1 + 0.8*float64(i)/float64(n-1)
	}
	return out
}

// Sample decodes path once, front to back, and encodes n stills at
// quarter resolution.
func (s *StillSampler) Sample(ctx context.Context, path string, n int) ([]Still, error) {
	r, err := s.open(path)
	if err != nil {
		return nil, &render.DecodeError{Op: "stills", Err: err}
	}
	defer r.Close()

	total := r.Frames()
	fps := r.FPS()
	if total <= 0 || fps <= 0 {
		return nil, &render.DecodeError{Op: "stills", Err: fmt.Errorf("unknown frame count")}
	}

	frame := image.NewRGBA(image.Rect(0, 0, r.Width(), r.Height()))
	if err := r.SetFrameBuffer(frame.Pix); err != nil {
		return nil, &render.DecodeError{Op: "stills", Err: err}
	}

	positions := StillPositions(n)
	targets := make([]int, len(positions))
	for i, p := range positions {
		targets[i] = int(p * float64(total-1))
	}

	stills := make([]Still, 0, len(targets))
	next := 0
	for idx := 0; next < len(targets) && r.Read(); idx++ {
		if idx%30 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for next < len(targets) && targets[next] == idx {
			still, err := encodeStill(frame, float64(idx)/fps)
			if err != nil {
				return nil, err
			}
			stills = append(stills, still)
			next++
		}
	}

	if len(stills) == 0 {
		return nil, &render.DecodeError{Op: "stills", Err: fmt.Errorf("no frames decoded")}
	}
	s.logger.Debug("sampled stills", "count", len(stills), "frames", total)
	return stills, nil
}

func encodeStill(frame *image.RGBA, ts float64) (Still, error) {
	b := frame.Bounds()
	w, h := max(b.Dx()/stillScale, 1), max(b.Dy()/stillScale, 1)

	small := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), frame, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, &jpeg.Options{Quality: stillQuality}); err != nil {
		return Still{}, fmt.Errorf("cannot encode still: %w", err)
	}
	return Still{
		Timestamp: ts,
		Width:     w,
		Height:    h,
		MIMEType:  "image/jpeg",
		Data:      base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

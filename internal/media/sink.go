package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	vidio "github.com/AlexEidt/Vidio"

	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/render"
)

// frameWriter is the part of *vidio.VideoWriter the sink uses.
type frameWriter interface {
	Write(frame []byte) error
	Close()
}

func createVidio(path string, width, height int, opts *vidio.Options) (frameWriter, error) {
	w, err := vidio.NewVideoWriter(path, width, height, opts)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// SinkConfig wires a VidioSink.
type SinkConfig struct {
	Runner     host.Runner
	FFmpegPath string
	Format     Format
	OutputPath string
	MuxTimeout time.Duration
	Logger     *slog.Logger
}

// VidioSink implements render.CaptureSink. Frames are encoded to a
// video-only intermediate next to the output; Stop muxes in the audio tap
// or renames the intermediate into place.
type VidioSink struct {
	cfg    SinkConfig
	create func(path string, width, height int, opts *vidio.Options) (frameWriter, error)
	logger *slog.Logger

	videoPath string
	writer    frameWriter
	spec      render.StreamSpec
	audio     *render.AudioTrack
	frames    int
	finalized bool
}

func NewVidioSink(cfg SinkConfig) *VidioSink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VidioSink{cfg: cfg, create: createVidio, logger: logger}
}

// OutputPath is where Stop leaves the finished file.
func (s *VidioSink) OutputPath() string {
	return s.cfg.OutputPath
}

func (s *VidioSink) Start(ctx context.Context, spec render.StreamSpec, audio *render.AudioTrack) error {
	if s.writer != nil || s.finalized {
		return errors.New("sink already started")
	}
	if s.cfg.Format.VideoCodec == "" {
		return &render.EncodingError{Op: "start", Err: render.ErrNoEncoder}
	}
	if spec.Width <= 0 || spec.Height <= 0 || spec.FPS <= 0 {
		return &render.EncodingError{Op: "start", Err: fmt.Errorf("invalid stream %dx%d@%g", spec.Width, spec.Height, spec.FPS)}
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.OutputPath), 0755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}

	s.videoPath = videoOnlyPath(s.cfg.OutputPath)
	w, err := s.create(s.videoPath, spec.Width, spec.Height, &vidio.Options{
		FPS:     spec.FPS,
		Codec:   s.cfg.Format.VideoCodec,
		Bitrate: host.EstimateBitrate(spec.Width, spec.Height, spec.FPS),
	})
	if err != nil {
		return &render.EncodingError{Op: "start", Err: err}
	}

	s.writer = w
	s.spec = spec
	s.audio = audio
	s.logger.Debug("capture sink started",
		"codec", s.cfg.Format.VideoCodec,
		"width", spec.Width,
		"height", spec.Height,
		"fps", spec.FPS,
		"audio", audio != nil,
	)
	return nil
}

func (s *VidioSink) WriteFrame(img *image.RGBA) error {
	if s.writer == nil {
		return errors.New("sink not started")
	}
	b := img.Bounds()
	if b.Dx() != s.spec.Width || b.Dy() != s.spec.Height {
		return fmt.Errorf("frame is %dx%d, stream is %dx%d", b.Dx(), b.Dy(), s.spec.Width, s.spec.Height)
	}
	if err := s.writer.Write(img.Pix[:b.Dx()*b.Dy()*4]); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Stop finalizes whatever was written into one playable file.
func (s *VidioSink) Stop(ctx context.Context) (*render.Output, error) {
	if s.finalized {
		return nil, errors.New("sink already finalized")
	}
	if s.writer == nil {
		return nil, &render.EncodingError{Op: "finalize", Err: errors.New("sink not started")}
	}
	s.writer.Close()
	s.writer = nil

	if s.frames == 0 {
		s.removePartial()
		return nil, &render.EncodingError{Op: "finalize", Err: render.ErrNoFrames}
	}

	out := s.cfg.OutputPath
	if s.audio != nil {
		args := MuxArgs(s.videoPath, s.audio.Path, s.cfg.Format, out)
		r := s.cfg.Runner.Run(ctx, s.cfg.MuxTimeout, s.cfg.FFmpegPath, args...)
		if err := host.ResultError(s.cfg.FFmpegPath, r); err != nil {
			s.removePartial()
			return nil, &render.EncodingError{Op: "mux", Err: err}
		}
		os.Remove(s.videoPath)
	} else if err := os.Rename(s.videoPath, out); err != nil {
		s.removePartial()
		return nil, &render.EncodingError{Op: "finalize", Err: err}
	}

	info, err := os.Stat(out)
	if err != nil {
		s.removePartial()
		return nil, &render.EncodingError{Op: "finalize", Err: err}
	}

	s.finalized = true
	return &render.Output{
		Path:     out,
		MIMEType: s.cfg.Format.MIMEType,
		Size:     info.Size(),
		Frames:   s.frames,
		Duration: float64(s.frames) / s.spec.FPS,
	}, nil
}

// Discard stops the encoder and removes partial output.
func (s *VidioSink) Discard() error {
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	if !s.finalized {
		s.removePartial()
	}
	return nil
}

func (s *VidioSink) removePartial() {
	for _, p := range []string{s.videoPath, s.cfg.OutputPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove partial output", "file", filepath.Base(p), "error", err)
		}
	}
}

// videoOnlyPath maps "out/clip.webm" to "out/clip.video.webm".
func videoOnlyPath(out string) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + ".video" + ext
}

package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	vidio "github.com/AlexEidt/Vidio"

	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/render"
)

var (
	errPaused       = errors.New("frame source is paused")
	errSourceClosed = errors.New("frame source is closed")
)

// frameReader is the part of *vidio.Video the source and stills use.
type frameReader interface {
	Width() int
	Height() int
	FPS() float64
	Frames() int
	Read() bool
	SetFrameBuffer(buffer []byte) error
	Close()
}

func openVidio(path string) (frameReader, error) {
	v, err := vidio.NewVideo(path)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SourceConfig wires a VidioSource.
type SourceConfig struct {
	Prober       *Prober
	Runner       host.Runner
	FFmpegPath   string
	ScratchDir   string
	AudioTimeout time.Duration
	Logger       *slog.Logger
}

// VidioSource implements render.FrameSource over a Vidio decoder. Seeking
// forward skips frames; seeking backwards reopens the decoder.
type VidioSource struct {
	cfg    SourceConfig
	open   func(path string) (frameReader, error)
	logger *slog.Logger

	clip    render.Clip
	info    render.SourceInfo
	reader  frameReader
	frame   *image.RGBA
	pos     int // index of the frame in the buffer, -1 before the first read
	eof     bool
	seekPos float64
	ticks   int
	rate    float64
	playing bool
	tapPath string

	// A Load or Seek abandoned by the watchdog may still be decoding when
	// Close runs. busy marks such a call; it closes the decoder on return.
	mu     sync.Mutex
	busy   bool
	closed bool
}

func NewVidioSource(cfg SourceConfig) *VidioSource {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &VidioSource{
		cfg:    cfg,
		open:   openVidio,
		logger: logger,
		pos:    -1,
		rate:   render.DefaultRate,
	}
}

func (s *VidioSource) Load(ctx context.Context, clip render.Clip) (render.SourceInfo, error) {
	probe, err := s.cfg.Prober.Probe(ctx, clip.Path)
	if err != nil {
		return render.SourceInfo{}, err
	}

	if err := s.enter(); err != nil {
		return render.SourceInfo{}, err
	}
	defer s.leave()

	s.clip = clip
	if err := s.reopen(); err != nil {
		return render.SourceInfo{}, &render.DecodeError{Op: "load", Err: err}
	}

	fps := s.reader.FPS()
	if fps <= 0 {
		fps = probe.FrameRate
	}
	if fps <= 0 || math.IsNaN(fps) {
		return render.SourceInfo{}, &render.DecodeError{Op: "load", Err: errors.New("unknown frame rate")}
	}

	duration := probe.Duration
	if duration <= 0 {
		duration = clip.Duration
	}

	s.info = render.SourceInfo{
		Duration:   duration,
		Width:      s.reader.Width(),
		Height:     s.reader.Height(),
		FPS:        fps,
		HasAudio:   probe.HasAudio(),
		SampleRate: probe.AudioSample,
	}
	return s.info, nil
}

// enter marks a decoder call in flight. It fails once the source is closed.
func (s *VidioSource) enter() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSourceClosed
	}
	s.busy = true
	return nil
}

// leave ends a decoder call and closes the decoder if Close ran meanwhile.
func (s *VidioSource) leave() {
	s.mu.Lock()
	s.busy = false
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.closeReader()
	}
}

func (s *VidioSource) closeReader() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
}

func (s *VidioSource) reopen() error {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
	r, err := s.open(s.clip.Path)
	if err != nil {
		return err
	}
	frame := image.NewRGBA(image.Rect(0, 0, r.Width(), r.Height()))
	if err := r.SetFrameBuffer(frame.Pix); err != nil {
		r.Close()
		return err
	}
	s.reader = r
	s.frame = frame
	s.pos = -1
	s.eof = false
	return nil
}

func (s *VidioSource) frameIndex(t float64) int {
	return int(math.Floor(t*s.info.FPS + 1e-6))
}

// Seek decodes forward to the frame at t so the first Next returns it.
func (s *VidioSource) Seek(ctx context.Context, t float64) error {
	if err := s.enter(); err != nil {
		return err
	}
	defer s.leave()

	if s.reader == nil {
		return errors.New("source not loaded")
	}
	target := s.frameIndex(t)
	if target < s.pos {
		if err := s.reopen(); err != nil {
			return err
		}
	}
	for s.pos < target && !s.eof {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.reader.Read() {
			s.eof = true
			break
		}
		s.pos++
	}
	s.seekPos = t
	s.ticks = 0
	return nil
}

func (s *VidioSource) Play(params render.PlaybackParams) error {
	s.rate = params.Normalize().Rate
	s.playing = true
	return nil
}

func (s *VidioSource) Pause() {
	s.playing = false
}

// Next returns the frame at the playhead. The image is reused by the next
// call; callers copy it before holding on to it.
func (s *VidioSource) Next(interval float64) (render.Frame, error) {
	if err := s.enter(); err != nil {
		return render.Frame{}, err
	}
	defer s.leave()

	if s.reader == nil {
		return render.Frame{}, errors.New("source not loaded")
	}
	if !s.playing {
		return render.Frame{}, errPaused
	}

	ts := s.seekPos + float64(s.ticks)*interval*s.rate
	if s.info.Duration > 0 && ts >= s.info.Duration {
		return render.Frame{}, io.EOF
	}

	want := s.frameIndex(ts)
	for s.pos < want {
		if s.eof || !s.reader.Read() {
			s.eof = true
			return render.Frame{}, io.EOF
		}
		s.pos++
	}
	s.ticks++
	return render.Frame{Image: s.frame, Timestamp: ts}, nil
}

// AudioTap renders the trimmed, rate-adjusted audio to a scratch WAV.
func (s *VidioSource) AudioTap(ctx context.Context, trim render.TrimRange, params render.PlaybackParams) (*render.AudioTrack, error) {
	if !s.info.HasAudio {
		return nil, nil
	}

	if err := os.MkdirAll(s.cfg.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}
	f, err := os.CreateTemp(s.cfg.ScratchDir, "tap-*.wav")
	if err != nil {
		return nil, fmt.Errorf("cannot create audio tap file: %w", err)
	}
	path := f.Name()
	f.Close()

	params = params.Normalize()
	args := TapArgs(s.clip.Path, trim, params, s.info.SampleRate, path)
	r := s.cfg.Runner.Run(ctx, s.cfg.AudioTimeout, s.cfg.FFmpegPath, args...)
	if err := host.ResultError(s.cfg.FFmpegPath, r); err != nil {
		os.Remove(path)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("audio tap: %w", err)
	}

	s.tapPath = path
	s.logger.Debug("audio tap rendered",
		"file", filepath.Base(path),
		"rate", params.Rate,
		"preserve_pitch", params.PreservePitch,
		"took_ms", r.Duration.Milliseconds(),
	)
	return &render.AudioTrack{Path: path, Duration: trim.Length() / params.Rate}, nil
}

// Close releases the decoder and the audio tap file. Safe to call twice. A
// decoder call still in flight closes the decoder itself when it returns.
func (s *VidioSource) Close() error {
	s.mu.Lock()
	s.closed = true
	busy := s.busy
	s.playing = false
	s.mu.Unlock()
	if !busy {
		s.closeReader()
	}
	if s.tapPath != "" {
		if err := os.Remove(s.tapPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot remove audio tap: %w", err)
		}
		s.tapPath = ""
	}
	return nil
}

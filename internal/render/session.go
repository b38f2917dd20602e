package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// timestampEpsilon absorbs float error when comparing against the trim end.
const timestampEpsilon = 1e-6

// SessionConfig wires a session to its collaborators.
type SessionConfig struct {
	Source     FrameSource
	Sink       CaptureSink
	Host       Host
	Preflight  Preflight
	Compositor *Compositor
	Watermark  *Watermark
	OutputDir  string
	MaxFPS     float64
	Watchdog   time.Duration
	Logger     *slog.Logger
}

// Session owns one capture pipeline from IDLE to COMPLETE or FAILED. It is
// driven from a single goroutine; State and Progress may be read from others.
type Session struct {
	cfg    SessionConfig
	snap   ExportSession
	logger *slog.Logger

	// set during Prepare
	info   SourceInfo
	trim   TrimRange
	params PlaybackParams
	fps    float64

	eof      bool
	aborted  bool
	released bool

	mu     sync.Mutex
	state  State
	frames int
	lastTS float64
	output *Output
	err    error
}

func NewSession(cfg SessionConfig, snap ExportSession) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		cfg:    cfg,
		snap:   snap,
		logger: logger.With("clip_id", snap.Clip.ID),
		state:  StateIdle,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the error that moved the session to FAILED.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames is the number of frames handed to the sink so far.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Progress is the captured fraction of the trimmed range, in [0, 1].
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateComplete {
		return 1
	}
	if s.frames == 0 || s.trim.Length() <= 0 {
		return 0
	}
	p := (s.lastTS - s.trim.Start) / s.trim.Length()
	return math.Max(0, math.Min(1, p))
}

// OutputFPS is the capture rate chosen during Prepare.
func (s *Session) OutputFPS() float64 {
	return s.fps
}

// Trim is the effective range after normalization against the loaded source.
func (s *Session) Trim() TrimRange {
	return s.trim
}

// Playback is the effective params after host capability checks.
func (s *Session) Playback() PlaybackParams {
	return s.params
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("export session state", "from", prev.String(), "to", st.String())
}

// Prepare loads the source, seeks to the trim start, applies playback params,
// starts the audio tap and the sink, and leaves the session RECORDING.
func (s *Session) Prepare(ctx context.Context) error {
	if st := s.State(); st != StateIdle {
		return fmt.Errorf("cannot prepare session in state %s", st)
	}
	s.setState(StatePreparing)

	if s.cfg.Source == nil || s.cfg.Sink == nil || s.cfg.Compositor == nil {
		return s.fail(errors.New("session is missing a source, sink or compositor"))
	}
	if s.snap.Entitlement.Watermarked() && s.cfg.Watermark == nil {
		return s.fail(&EncodingError{Op: "start", Err: errors.New("watermark overlay unavailable")})
	}

	var info SourceInfo
	err := Watchdog(ctx, s.cfg.Watchdog, "load", func(ctx context.Context) error {
		var err error
		info, err = s.cfg.Source.Load(ctx, s.snap.Clip)
		return err
	})
	if err != nil {
		return s.fail(s.prepareError("load", err))
	}
	s.info = info

	duration := info.Duration
	if duration <= 0 {
		duration = s.snap.Clip.Duration
	}
	s.trim = s.snap.Trim.Normalize(duration)
	if s.trim.Length() <= 0 {
		return s.fail(&DecodeError{Op: "load", Err: errors.New("source has no playable duration")})
	}

	s.params = s.snap.Playback.Normalize()
	if s.params.PreservePitch && (s.cfg.Host == nil || !s.cfg.Host.SupportsPitchPreservation()) {
		s.logger.Info("pitch preservation unsupported by host, ignoring")
		s.params.PreservePitch = false
	}

	s.fps = outputFPS(info.FPS, s.cfg.MaxFPS)
	spec := StreamSpec{
		Width:    info.Width,
		Height:   info.Height,
		FPS:      s.fps,
		Duration: s.trim.Length() / s.params.Rate,
	}

	if s.cfg.Preflight != nil {
		err := s.cfg.Preflight.Check(ctx, ResourceRequest{
			Width:     spec.Width,
			Height:    spec.Height,
			FPS:       spec.FPS,
			Duration:  spec.Duration,
			OutputDir: s.cfg.OutputDir,
		})
		if err != nil {
			var re *ResourceError
			if !errors.As(err, &re) {
				err = &ResourceError{Op: "preflight", Err: err}
			}
			return s.fail(err)
		}
	}

	err = Watchdog(ctx, s.cfg.Watchdog, "seek", func(ctx context.Context) error {
		return s.cfg.Source.Seek(ctx, s.trim.Start)
	})
	if err != nil {
		return s.fail(s.prepareError("seek", err))
	}

	if err := s.cfg.Source.Play(s.params); err != nil {
		s.logger.Warn("playback start refused, continuing", "error", err)
	}

	var audio *AudioTrack
	if info.HasAudio {
		audio, err = s.cfg.Source.AudioTap(ctx, s.trim, s.params)
		if err != nil {
			return s.fail(s.prepareError("audio", err))
		}
	}

	if err := s.cfg.Sink.Start(ctx, spec, audio); err != nil {
		if ctx.Err() != nil {
			return s.fail(ctx.Err())
		}
		return s.fail(asEncoding("start", err))
	}

	s.setState(StateRecording)
	s.logger.Info("export recording",
		"trim_start", s.trim.Start,
		"trim_end", s.trim.End,
		"rate", s.params.Rate,
		"fps", s.fps,
		"filter", s.snap.Filter.Name,
		"watermark", s.snap.Entitlement.Watermarked(),
		"audio", audio != nil,
	)
	return nil
}

// Tick pulls one frame through the compositor and watermark into the sink.
// done is true once the trim end or the end of media is reached; the caller
// then finalizes with Stop.
func (s *Session) Tick(ctx context.Context) (done bool, err error) {
	if st := s.State(); st != StateRecording {
		return st.Terminal(), ErrNotRecording
	}

	frame, err := s.cfg.Source.Next(1 / s.fps)
	if errors.Is(err, io.EOF) {
		s.eof = true
		s.logger.Info("source ended before trim end", "last_ts", s.lastTimestamp(), "trim_end", s.trim.End)
		return true, nil
	}
	if err != nil {
		return true, s.fail(asDecode("decode", err))
	}

	if frame.Timestamp >= s.trim.End-timestampEpsilon {
		return true, nil
	}

	img := s.cfg.Compositor.Apply(frame.Image, s.snap.Filter)
	if s.snap.Entitlement.Watermarked() {
		if err := s.cfg.Watermark.Apply(img, false); err != nil {
			return true, s.fail(&EncodingError{Op: "watermark", Err: err})
		}
	}

	if err := s.cfg.Sink.WriteFrame(img); err != nil {
		return true, s.fail(asEncoding("write", err))
	}

	s.mu.Lock()
	s.frames++
	s.lastTS = frame.Timestamp
	s.mu.Unlock()
	return false, nil
}

// Stop finalizes the capture. Calling it again after COMPLETE returns the same
// output without side effects.
func (s *Session) Stop(ctx context.Context) (*Output, error) {
	s.mu.Lock()
	st, out, failErr := s.state, s.output, s.err
	s.mu.Unlock()

	switch st {
	case StateComplete:
		return out, nil
	case StateFailed:
		return nil, failErr
	case StateIdle, StatePreparing:
		return nil, ErrNotStarted
	case StateFinalizing:
		return nil, errors.New("session is already finalizing")
	}

	s.setState(StateFinalizing)
	s.cfg.Source.Pause()

	out, err := s.cfg.Sink.Stop(ctx)
	if err != nil {
		return nil, s.fail(asEncoding("finalize", err))
	}

	s.released = true
	if err := s.cfg.Source.Close(); err != nil {
		s.logger.Warn("failed to close frame source", "error", err)
	}

	out.Aborted = s.aborted
	out.Truncated = s.aborted || (s.eof && s.trim.End < s.info.Duration-timestampEpsilon)

	s.mu.Lock()
	s.output = out
	s.state = StateComplete
	s.mu.Unlock()

	s.logger.Info("export finalized",
		"frames", out.Frames,
		"duration", out.Duration,
		"size", out.Size,
		"aborted", out.Aborted,
		"truncated", out.Truncated,
	)
	return out, nil
}

// Abort forces an immediate stop-and-finalize. Whatever was captured so far is
// finalized into a valid, truncated output. With nothing captured there is no
// output and the session fails as aborted.
func (s *Session) Abort(ctx context.Context) (*Output, error) {
	switch s.State() {
	case StateRecording:
		s.aborted = true
		if s.Frames() == 0 {
			return nil, s.fail(fmt.Errorf("aborted before the first frame: %w", context.Canceled))
		}
		return s.Stop(ctx)
	case StateIdle, StatePreparing:
		return nil, s.fail(context.Canceled)
	default:
		return s.Stop(ctx)
	}
}

func (s *Session) lastTimestamp() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTS
}

// prepareError keeps cancellation distinct from decode failures.
func (s *Session) prepareError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return asDecode(op, err)
}

// fail moves the session to FAILED and releases everything it acquired.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()

	s.release()
	s.logger.Error("export session failed", "error", err, "kind", ErrorKind(err))
	return err
}

func (s *Session) release() {
	if s.released {
		return
	}
	s.released = true

	if s.cfg.Source != nil {
		s.cfg.Source.Pause()
		if err := s.cfg.Source.Close(); err != nil {
			s.logger.Warn("failed to close frame source", "error", err)
		}
	}
	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.Discard(); err != nil {
			s.logger.Warn("failed to discard capture sink", "error", err)
		}
	}
}

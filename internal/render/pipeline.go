package render

import (
	"context"
	"fmt"
	"image"
	"time"
)

// FrameSource decodes a clip and plays it forward at a playback rate.
type FrameSource interface {
	// Load opens the clip and reports its stream properties. An unsupported
	// container or codec is a *DecodeError.
	Load(ctx context.Context, clip Clip) (SourceInfo, error)

	// Seek moves the playhead to t seconds.
	Seek(ctx context.Context, t float64) error

	// Play starts playback with the given params. An error means the host
	// refused playback; callers log it and carry on.
	Play(params PlaybackParams) error

	Pause()

	// Next returns the frame at the playhead and then advances it by
	// interval seconds of wall time, i.e. interval*rate seconds of media.
	// io.EOF marks the natural end of the media.
	Next(interval float64) (Frame, error)

	// AudioTap renders the trimmed, rate-adjusted audio for capture. It
	// returns nil when the clip has no audio.
	AudioTap(ctx context.Context, trim TrimRange, params PlaybackParams) (*AudioTrack, error)

	// Close releases decoders and scratch files. Safe to call twice. It may
	// run while a Load or Seek abandoned by Watchdog is still returning, and
	// must not free anything that call is using.
	Close() error
}

// CaptureSink encodes frames into exactly one output file.
type CaptureSink interface {
	// Start begins encoding. A missing encoder is an *EncodingError.
	Start(ctx context.Context, spec StreamSpec, audio *AudioTrack) error

	WriteFrame(img *image.RGBA) error

	// Stop finalizes whatever was captured into a playable file.
	Stop(ctx context.Context) (*Output, error)

	// Discard releases the encoder and removes partial output.
	Discard() error
}

// Host reports what the playback environment supports.
type Host interface {
	SupportsPitchPreservation() bool
}

// Preflight checks that the machine can hold a render of the given size.
// Failures are *ResourceError.
type Preflight interface {
	Check(ctx context.Context, req ResourceRequest) error
}

// ResourceRequest describes a render for Preflight.
type ResourceRequest struct {
	Width     int
	Height    int
	FPS       float64
	Duration  float64
	OutputDir string
}

// Watchdog runs fn and fails with a *DecodeError wrapping ErrWatchdog if it
// has not returned within timeout. fn receives a context that is cancelled on
// expiry so cooperative implementations can stop early.
func Watchdog(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(wctx) }()

	select {
	case err := <-done:
		// fn may have returned because wctx expired.
		if err == nil || wctx.Err() == nil {
			return err
		}
	case <-wctx.Done():
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return &DecodeError{Op: op, Err: fmt.Errorf("%w after %s", ErrWatchdog, timeout)}
}

// outputFPS is the capture rate: the source rate capped at max.
func outputFPS(source, max float64) float64 {
	if max <= 0 {
		max = DefaultMaxFPS
	}
	if source <= 0 || source > max {
		return max
	}
	return source
}

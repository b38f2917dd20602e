package render

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	info       SourceInfo
	eofAt      float64
	frameDelay time.Duration
	loadDelay  time.Duration

	loadErr  error
	seekErr  error
	playErr  error
	audioErr error

	seekTo      float64
	rate        float64
	n           int
	played      bool
	paused      int
	closed      int
	audioTrim   TrimRange
	audioParams PlaybackParams
}

func newFakeSource(duration float64) *fakeSource {
	return &fakeSource{info: SourceInfo{Duration: duration, Width: 64, Height: 36, FPS: 30}}
}

func (f *fakeSource) Load(ctx context.Context, clip Clip) (SourceInfo, error) {
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return SourceInfo{}, ctx.Err()
		}
	}
	return f.info, f.loadErr
}

func (f *fakeSource) Seek(ctx context.Context, t float64) error {
	f.seekTo = t
	f.n = 0
	return f.seekErr
}

func (f *fakeSource) Play(p PlaybackParams) error {
	f.rate = p.Rate
	f.played = true
	return f.playErr
}

func (f *fakeSource) Pause() { f.paused++ }

func (f *fakeSource) Next(interval float64) (Frame, error) {
	if f.frameDelay > 0 {
		time.Sleep(f.frameDelay)
	}
	end := f.info.Duration
	if f.eofAt > 0 {
		end = f.eofAt
	}
	ts := f.seekTo + float64(f.n)*interval*f.rate
	if ts >= end {
		return Frame{}, io.EOF
	}
	f.n++
	return Frame{Image: solid(f.info.Width, f.info.Height, 200, 120, 40), Timestamp: ts}, nil
}

func (f *fakeSource) AudioTap(ctx context.Context, trim TrimRange, p PlaybackParams) (*AudioTrack, error) {
	f.audioTrim = trim
	f.audioParams = p
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	return &AudioTrack{Path: "tap.wav", Duration: trim.Length() / p.Rate}, nil
}

func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

type fakeSink struct {
	startErr error
	writeErr error
	stopErr  error

	spec      StreamSpec
	audio     *AudioTrack
	first     *image.RGBA
	sampleAt  *image.Point
	samples   [][4]uint8
	frames    int
	started   int
	stopped   int
	discarded int
}

func (s *fakeSink) Start(ctx context.Context, spec StreamSpec, audio *AudioTrack) error {
	s.started++
	s.spec = spec
	s.audio = audio
	return s.startErr
}

func (s *fakeSink) WriteFrame(img *image.RGBA) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.first == nil {
		s.first = img
	}
	if s.sampleAt != nil {
		s.samples = append(s.samples, pixel(img, s.sampleAt.X, s.sampleAt.Y))
	}
	s.frames++
	return nil
}

func (s *fakeSink) Stop(ctx context.Context) (*Output, error) {
	s.stopped++
	if s.stopErr != nil {
		return nil, s.stopErr
	}
	return &Output{
		Path:     "out.mp4",
		MIMEType: "video/mp4",
		Frames:   s.frames,
		Duration: float64(s.frames) / s.spec.FPS,
	}, nil
}

func (s *fakeSink) Discard() error {
	s.discarded++
	return nil
}

type fakeHost struct{ pitch bool }

func (h fakeHost) SupportsPitchPreservation() bool { return h.pitch }

type fakePreflight struct{ err error }

func (p fakePreflight) Check(ctx context.Context, req ResourceRequest) error { return p.err }

func newTestSession(t *testing.T, src *fakeSource, sink *fakeSink, snap ExportSession) *Session {
	t.Helper()
	wm, err := NewWatermark()
	require.NoError(t, err)
	return NewSession(SessionConfig{
		Source:     src,
		Sink:       sink,
		Host:       fakeHost{pitch: true},
		Compositor: NewCompositor(),
		Watermark:  wm,
		MaxFPS:     DefaultMaxFPS,
		Watchdog:   time.Second,
	}, snap)
}

func runToEnd(t *testing.T, s *Session) *Output {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Prepare(ctx))
	for {
		done, err := s.Tick(ctx)
		require.NoError(t, err)
		if done {
			break
		}
	}
	out, err := s.Stop(ctx)
	require.NoError(t, err)
	return out
}

func TestSession_DurationIsTrimOverRate(t *testing.T) {
	for _, rate := range []float64{1, 1.5, 2, 3.33, 8} {
		src := newFakeSource(10)
		sink := &fakeSink{}
		clip := Clip{ID: "c1", Duration: 10}
		snap := NewExportSession(clip, TrimRange{Start: 2, End: 8}, 0, PlaybackParams{Rate: rate}, EntitlementState{Premium: true})

		out := runToEnd(t, newTestSession(t, src, sink, snap))

		assert.InDelta(t, 6/rate, out.Duration, 1.0/30, "rate %v", rate)
		assert.InDelta(t, 6/rate, sink.spec.Duration, 1e-9)
		assert.False(t, out.Truncated)
		assert.False(t, out.Aborted)
	}
}

func TestSession_TrimmedSepiaAtDoubleSpeed(t *testing.T) {
	src := newFakeSource(10)
	src.info.HasAudio = true
	sink := &fakeSink{}
	clip := Clip{ID: "c1", Duration: 10}
	snap := NewExportSession(clip, TrimRange{Start: 2, End: 8}, 2, PlaybackParams{Rate: 2, PreservePitch: true}, EntitlementState{})

	s := newTestSession(t, src, sink, snap)
	out := runToEnd(t, s)

	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 2.0, src.seekTo)
	assert.Equal(t, 2.0, src.rate)
	assert.Equal(t, 90, sink.frames)
	assert.InDelta(t, 3.0, out.Duration, 1.0/30)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 0, sink.discarded)

	require.NotNil(t, sink.audio)
	assert.Equal(t, TrimRange{Start: 2, End: 8}, src.audioTrim)
	assert.True(t, src.audioParams.PreservePitch)

	// Sepia of (200,120,40) away from the watermark.
	p := pixel(sink.first, 1, 1)
	assert.Greater(t, p[0], p[2])
	assert.NotEqual(t, [4]uint8{200, 120, 40, 255}, p)
}

func TestSession_WatermarkOnlyWhenFree(t *testing.T) {
	for _, premium := range []bool{true, false} {
		src := newFakeSource(2)
		src.info.Width, src.info.Height = 320, 180
		sink := &fakeSink{}
		snap := NewExportSession(Clip{ID: "c1", Duration: 2}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: premium})

		runToEnd(t, newTestSession(t, src, sink, snap))

		corner := pixel(sink.first, 300, 160)
		if premium {
			assert.Equal(t, [4]uint8{200, 120, 40, 255}, corner)
		} else {
			assert.NotEqual(t, [4]uint8{200, 120, 40, 255}, corner)
		}
		assert.Equal(t, [4]uint8{200, 120, 40, 255}, pixel(sink.first, 0, 0))
	}
}

func TestSession_FreeTrimTwoToEight(t *testing.T) {
	src := newFakeSource(10)
	src.info.Width, src.info.Height = 320, 180
	sink := &fakeSink{sampleAt: &image.Point{X: 300, Y: 160}}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{Start: 2, End: 8}, 0, PlaybackParams{Rate: 1}, EntitlementState{})

	s := newTestSession(t, src, sink, snap)
	out := runToEnd(t, s)

	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 180, sink.frames)
	assert.Equal(t, 180, out.Frames)
	assert.InDelta(t, 6.0, out.Duration, 1.0/30)
	require.Len(t, sink.samples, 180)
	for i, p := range sink.samples {
		if p == [4]uint8{200, 120, 40, 255} {
			t.Fatalf("frame %d has no watermark in the corner", i)
		}
	}
}

func TestSession_FilterDoesNotChangeTiming(t *testing.T) {
	var wantFrames int
	var wantDuration float64
	for i, f := range Filters {
		src := newFakeSource(10)
		sink := &fakeSink{}
		snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{Start: 2, End: 8}, i, PlaybackParams{Rate: 1}, EntitlementState{Premium: true})
		require.Equal(t, f.Name, snap.Filter.Name)

		out := runToEnd(t, newTestSession(t, src, sink, snap))

		if i == 0 {
			wantFrames, wantDuration = out.Frames, out.Duration
			assert.Equal(t, 180, wantFrames)
			continue
		}
		assert.Equal(t, wantFrames, out.Frames, "filter %s", f.Name)
		assert.Equal(t, wantDuration, out.Duration, "filter %s", f.Name)
	}
}

func TestSession_EncoderUnavailable(t *testing.T) {
	src := newFakeSource(10)
	sink := &fakeSink{startErr: &EncodingError{Op: "start", Err: ErrNoEncoder}}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{})

	s := newTestSession(t, src, sink, snap)
	err := s.Prepare(context.Background())

	var ee *EncodingError
	require.ErrorAs(t, err, &ee)
	assert.ErrorIs(t, err, ErrNoEncoder)
	assert.Equal(t, KindEncoding, ErrorKind(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 1, src.closed)
	assert.GreaterOrEqual(t, src.paused, 1)
	assert.Equal(t, 1, sink.discarded)

	_, err = s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNoEncoder)
}

func TestSession_LoadFailureIsDecodeError(t *testing.T) {
	src := newFakeSource(10)
	src.loadErr = errors.New("unsupported codec")
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{})

	s := newTestSession(t, src, sink, snap)
	err := s.Prepare(context.Background())

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "load", de.Op)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, sink.started)
	assert.Equal(t, 1, src.closed)
}

func TestSession_LoadWatchdog(t *testing.T) {
	src := newFakeSource(10)
	src.loadDelay = 5 * time.Second
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{})

	s := newTestSession(t, src, sink, snap)
	s.cfg.Watchdog = 20 * time.Millisecond

	err := s.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrWatchdog)
	assert.Equal(t, KindDecode, ErrorKind(err))
	assert.Equal(t, StateFailed, s.State())
}

func TestSession_PreflightFailure(t *testing.T) {
	src := newFakeSource(10)
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{})

	s := newTestSession(t, src, sink, snap)
	s.cfg.Preflight = fakePreflight{err: errors.New("not enough disk")}

	err := s.Prepare(context.Background())
	assert.Equal(t, KindResource, ErrorKind(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, sink.started)
}

func TestSession_PlayRefusedStillRecords(t *testing.T) {
	src := newFakeSource(1)
	src.playErr = errors.New("autoplay blocked")
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 1}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	out := runToEnd(t, newTestSession(t, src, sink, snap))
	assert.Equal(t, 30, out.Frames)
}

func TestSession_PitchDroppedWhenHostLacksSupport(t *testing.T) {
	src := newFakeSource(1)
	src.info.HasAudio = true
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 1}, TrimRange{}, 0, PlaybackParams{Rate: 2, PreservePitch: true}, EntitlementState{Premium: true})

	s := newTestSession(t, src, sink, snap)
	s.cfg.Host = fakeHost{pitch: false}
	require.NoError(t, s.Prepare(context.Background()))

	assert.False(t, s.Playback().PreservePitch)
	assert.False(t, src.audioParams.PreservePitch)
}

func TestSession_EndOfMediaBeforeTrimEnd(t *testing.T) {
	src := newFakeSource(10)
	src.eofAt = 5
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{Start: 2, End: 8}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	s := newTestSession(t, src, sink, snap)
	out := runToEnd(t, s)

	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 90, out.Frames)
	assert.True(t, out.Truncated)
	assert.False(t, out.Aborted)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	src := newFakeSource(1)
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 1}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	s := newTestSession(t, src, sink, snap)
	first := runToEnd(t, s)

	second, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, sink.stopped)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1.0, s.Progress())

	done, err := s.Tick(context.Background())
	assert.True(t, done)
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestSession_StopBeforePrepare(t *testing.T) {
	s := newTestSession(t, newFakeSource(1), &fakeSink{}, ExportSession{})
	_, err := s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_AbortFinalizesPartialOutput(t *testing.T) {
	src := newFakeSource(10)
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	s := newTestSession(t, src, sink, snap)
	ctx := context.Background()
	require.NoError(t, s.Prepare(ctx))
	for i := 0; i < 15; i++ {
		_, err := s.Tick(ctx)
		require.NoError(t, err)
	}
	assert.InDelta(t, 14.0/30/10, s.Progress(), 1e-9)

	out, err := s.Abort(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, out.Frames)
	assert.True(t, out.Aborted)
	assert.True(t, out.Truncated)
	assert.Equal(t, StateComplete, s.State())
}

func TestSession_AbortBeforeFirstFrame(t *testing.T) {
	src := newFakeSource(10)
	sink := &fakeSink{}
	snap := NewExportSession(Clip{ID: "c1", Duration: 10}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	s := newTestSession(t, src, sink, snap)
	require.NoError(t, s.Prepare(context.Background()))

	out, err := s.Abort(context.Background())
	assert.Nil(t, out)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindAborted, ErrorKind(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 0, sink.stopped)
	assert.Equal(t, 1, sink.discarded)
	assert.Equal(t, 1, src.closed)
}

func TestSession_WriteFailure(t *testing.T) {
	src := newFakeSource(1)
	sink := &fakeSink{writeErr: errors.New("pipe closed")}
	snap := NewExportSession(Clip{ID: "c1", Duration: 1}, TrimRange{}, 0, DefaultPlayback(), EntitlementState{Premium: true})

	s := newTestSession(t, src, sink, snap)
	require.NoError(t, s.Prepare(context.Background()))

	done, err := s.Tick(context.Background())
	assert.True(t, done)
	assert.Equal(t, KindEncoding, ErrorKind(err))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 1, sink.discarded)
}

func TestWatchdog(t *testing.T) {
	err := Watchdog(context.Background(), 10*time.Millisecond, "seek", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "seek", de.Op)
	assert.ErrorIs(t, err, ErrWatchdog)

	err = Watchdog(context.Background(), time.Second, "seek", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Watchdog(ctx, time.Second, "seek", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindAborted, ErrorKind(err))
}

func TestOutputFPS(t *testing.T) {
	assert.Equal(t, 24.0, outputFPS(24, 30))
	assert.Equal(t, 30.0, outputFPS(60, 30))
	assert.Equal(t, 30.0, outputFPS(0, 30))
	assert.Equal(t, DefaultMaxFPS, outputFPS(60, 0))
}

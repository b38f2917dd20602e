// Package render turns an edited clip into a re-encoded output file.
//
// Frames flow from a FrameSource through the Compositor (filter) and the
// Watermark overlay into a CaptureSink. A Session owns one such pipeline and
// is driven one frame at a time by Tick; the Controller runs sessions to a
// terminal state and guarantees that only one is active at a time.
package render

import (
	"image"
	"math"
)

const (
	MinRate     = 1.0
	MaxRate     = 8.0
	RateStep    = 0.01
	DefaultRate = 1.0

	// DefaultMaxFPS caps the capture rate regardless of the source frame rate.
	DefaultMaxFPS = 30.0
)

// Clip is an imported source video.
type Clip struct {
	ID       string
	Path     string
	Name     string
	MIMEType string
	Duration float64
}

// TrimRange is the [Start, End) window of the source, in seconds.
type TrimRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Normalize clamps the range into [0, duration]. An End of zero or less means
// "to the end of the clip", and a range that collapses resets to the full clip.
func (t TrimRange) Normalize(duration float64) TrimRange {
	if !finite(duration) || duration <= 0 {
		return TrimRange{}
	}
	start, end := t.Start, t.End
	if !finite(start) || start < 0 {
		start = 0
	}
	if !finite(end) || end <= 0 || end > duration {
		end = duration
	}
	if start >= end {
		return TrimRange{Start: 0, End: duration}
	}
	return TrimRange{Start: start, End: end}
}

// Length is the trimmed span in source seconds.
func (t TrimRange) Length() float64 {
	return t.End - t.Start
}

// PlaybackParams controls how fast the source plays during capture.
type PlaybackParams struct {
	Rate          float64 `json:"rate"`
	PreservePitch bool    `json:"preserve_pitch"`
}

func DefaultPlayback() PlaybackParams {
	return PlaybackParams{Rate: DefaultRate, PreservePitch: true}
}

// ClampRate returns in clamped to [MinRate, MaxRate] and rounded to two
// decimals. NaN, infinite and negative inputs are ignored and prev is kept.
func ClampRate(prev, in float64) float64 {
	if !finite(in) || in < 0 {
		if !finite(prev) || prev < MinRate || prev > MaxRate {
			return DefaultRate
		}
		return prev
	}
	in = math.Round(in*100) / 100
	if in < MinRate {
		return MinRate
	}
	if in > MaxRate {
		return MaxRate
	}
	return in
}

// StepRate nudges prev by delta, as the editor's +/- buttons do.
func StepRate(prev, delta float64) float64 {
	if !finite(delta) {
		return ClampRate(prev, prev)
	}
	return ClampRate(prev, prev+delta)
}

// Normalize applies ClampRate to the rate, keeping the default on bad input.
func (p PlaybackParams) Normalize() PlaybackParams {
	p.Rate = ClampRate(DefaultRate, p.Rate)
	return p
}

// EntitlementState is injected per export by the caller. The render pipeline
// only reads it.
type EntitlementState struct {
	Premium bool `json:"premium"`
}

// Watermarked reports whether exports carry the overlay.
func (e EntitlementState) Watermarked() bool {
	return !e.Premium
}

// FilterUnlocked reports whether the catalog entry at index may be used.
func (e EntitlementState) FilterUnlocked(index int) bool {
	if index < 0 || index >= len(Filters) {
		return false
	}
	return e.Premium || index <= FreeFilterMaxIndex
}

// ExportSession is the immutable snapshot of edit state taken when an export
// starts. Later edits to the clip do not affect a running export.
type ExportSession struct {
	Clip             Clip
	Trim             TrimRange
	Filter           Filter
	FilterIndex      int
	FilterDowngraded bool
	Playback         PlaybackParams
	Entitlement      EntitlementState
}

// NewExportSession snapshots the edit state, applying clamp-and-ignore rules
// to every field: the trim is normalized against the clip duration, the rate
// is clamped, and a locked or unknown filter falls back to Normal.
func NewExportSession(clip Clip, trim TrimRange, filterIndex int, playback PlaybackParams, ent EntitlementState) ExportSession {
	filter, index, downgraded := ResolveFilter(filterIndex, ent)
	if clip.Duration > 0 {
		trim = trim.Normalize(clip.Duration)
	}
	return ExportSession{
		Clip:             clip,
		Trim:             trim,
		Filter:           filter,
		FilterIndex:      index,
		FilterDowngraded: downgraded,
		Playback:         playback.Normalize(),
		Entitlement:      ent,
	}
}

// ExpectedDuration is the output length implied by the snapshot.
func (s ExportSession) ExpectedDuration() float64 {
	rate := s.Playback.Rate
	if rate <= 0 {
		rate = DefaultRate
	}
	return s.Trim.Length() / rate
}

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateRecording
	StateFinalizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePreparing:
		return "PREPARING"
	case StateRecording:
		return "RECORDING"
	case StateFinalizing:
		return "FINALIZING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// SourceInfo is what a FrameSource learns when it loads a clip.
type SourceInfo struct {
	Duration   float64
	Width      int
	Height     int
	FPS        float64
	HasAudio   bool
	SampleRate int
}

// Frame is one decoded picture and the source time it was taken at.
type Frame struct {
	Image     *image.RGBA
	Timestamp float64
}

// AudioTrack is the trimmed, rate-adjusted audio rendered for capture only.
// It is never played back.
type AudioTrack struct {
	Path     string
	Duration float64
}

// StreamSpec describes the video stream handed to a CaptureSink.
type StreamSpec struct {
	Width    int
	Height   int
	FPS      float64
	Duration float64
}

// Output is the single finalized file a session produces.
type Output struct {
	Path      string  `json:"path"`
	MIMEType  string  `json:"mime_type"`
	Size      int64   `json:"size"`
	Frames    int     `json:"frames"`
	Duration  float64 `json:"duration"`
	Truncated bool    `json:"truncated"`
	Aborted   bool    `json:"aborted"`
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

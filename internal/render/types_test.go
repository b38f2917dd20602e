package render

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampRate(t *testing.T) {
	tests := []struct {
		name string
		prev float64
		in   float64
		want float64
	}{
		{"in range", 1, 2.5, 2.5},
		{"rounds to hundredths", 1, 1.234, 1.23},
		{"below minimum", 2, 0.5, MinRate},
		{"above maximum", 2, 12, MaxRate},
		{"exact max", 1, 8, 8},
		{"nan keeps previous", 3, math.NaN(), 3},
		{"inf keeps previous", 3, math.Inf(1), 3},
		{"negative keeps previous", 4, -2, 4},
		{"bad previous falls back to default", math.NaN(), math.NaN(), DefaultRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampRate(tt.prev, tt.in))
		})
	}
}

func TestStepRate(t *testing.T) {
	assert.Equal(t, 1.01, StepRate(1, RateStep))
	assert.Equal(t, MinRate, StepRate(1, -RateStep))
	assert.Equal(t, MaxRate, StepRate(7.995, 0.1))
	assert.Equal(t, 2.0, StepRate(2, math.NaN()))
}

func TestTrimRange_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		in       TrimRange
		duration float64
		want     TrimRange
	}{
		{"inside", TrimRange{2, 8}, 10, TrimRange{2, 8}},
		{"zero end means full", TrimRange{3, 0}, 10, TrimRange{3, 10}},
		{"end past duration", TrimRange{1, 20}, 10, TrimRange{1, 10}},
		{"negative start", TrimRange{-4, 5}, 10, TrimRange{0, 5}},
		{"collapsed resets", TrimRange{6, 6}, 10, TrimRange{0, 10}},
		{"inverted resets", TrimRange{8, 2}, 10, TrimRange{0, 10}},
		{"nan start", TrimRange{math.NaN(), 4}, 10, TrimRange{0, 4}},
		{"unknown duration", TrimRange{1, 2}, 0, TrimRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize(tt.duration))
		})
	}
}

func TestResolveFilter(t *testing.T) {
	free := EntitlementState{}
	premium := EntitlementState{Premium: true}

	f, idx, down := ResolveFilter(2, free)
	assert.Equal(t, "Sepia", f.Name)
	assert.Equal(t, 2, idx)
	assert.False(t, down)

	f, idx, down = ResolveFilter(5, free)
	assert.Equal(t, "Normal", f.Name)
	assert.Equal(t, 0, idx)
	assert.True(t, down)

	f, _, down = ResolveFilter(5, premium)
	assert.Equal(t, "Blur", f.Name)
	assert.False(t, down)

	f, _, down = ResolveFilter(len(Filters), premium)
	assert.Equal(t, "Normal", f.Name)
	assert.True(t, down)

	_, _, down = ResolveFilter(-1, premium)
	assert.True(t, down)
}

func TestFilterByName(t *testing.T) {
	f, idx, ok := FilterByName("saturate")
	assert.True(t, ok)
	assert.Equal(t, 7, idx)
	assert.Equal(t, "saturate(200%)", f.Transform)

	_, _, ok = FilterByName("vhs")
	assert.False(t, ok)
}

func TestNewExportSession_ClampsSnapshot(t *testing.T) {
	clip := Clip{ID: "c1", Duration: 10}
	snap := NewExportSession(clip, TrimRange{Start: 2, End: 30}, 6, PlaybackParams{Rate: 20, PreservePitch: true}, EntitlementState{})

	assert.Equal(t, TrimRange{Start: 2, End: 10}, snap.Trim)
	assert.Equal(t, MaxRate, snap.Playback.Rate)
	assert.True(t, snap.Playback.PreservePitch)
	assert.Equal(t, "Normal", snap.Filter.Name)
	assert.True(t, snap.FilterDowngraded)
	assert.InDelta(t, 1.0, snap.ExpectedDuration(), 1e-9)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "RECORDING", StateRecording.String())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateComplete.Terminal())
	assert.False(t, StateFinalizing.Terminal())
}

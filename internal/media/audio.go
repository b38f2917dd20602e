package media

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/videocut/videocut-agent/internal/render"
)

const defaultSampleRate = 48000

// AudioFilter returns the ffmpeg -af chain that plays audio at rate. With
// preservePitch the tempo changes alone; otherwise the audio is resampled
// so pitch rises with speed.
func AudioFilter(rate float64, preservePitch bool, sampleRate int) string {
	if math.Abs(rate-1) < 1e-9 || rate <= 0 {
		return ""
	}
	if preservePitch {
		return atempoChain(rate)
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	return fmt.Sprintf("asetrate=%d,aresample=%d", int(math.Round(float64(sampleRate)*rate)), sampleRate)
}

// atempoChain splits rate into factors atempo accepts (at most 2 each).
func atempoChain(rate float64) string {
	var parts []string
	for rate > 2 {
		parts = append(parts, "atempo=2")
		rate /= 2
	}
	parts = append(parts, "atempo="+strconv.FormatFloat(rate, 'f', -1, 64))
	return strings.Join(parts, ",")
}

// TapArgs builds the ffmpeg arguments that render the trimmed, rate-adjusted
// audio of input into a stereo PCM WAV at out.
func TapArgs(input string, trim render.TrimRange, params render.PlaybackParams, sampleRate int, out string) []string {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(trim.Start),
		"-t", formatSeconds(trim.Length()),
		"-i", input,
		"-vn",
	}
	if af := AudioFilter(params.Rate, params.PreservePitch, sampleRate); af != "" {
		args = append(args, "-af", af)
	}
	return append(args,
		"-ac", "2",
		"-ar", strconv.Itoa(sampleRate),
		"-c:a", "pcm_s16le",
		out,
	)
}

// MuxArgs builds the ffmpeg arguments that join the encoded video with the
// audio tap. The video is stream-copied and -shortest keeps audio from
// outlasting a truncated capture.
func MuxArgs(video, audio string, f Format, out string) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", f.AudioCodec,
		"-shortest",
	}
	if f.Ext == ".mp4" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, out)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

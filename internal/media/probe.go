// Package media is the ffmpeg-backed side of the render pipeline: probing
// clips, decoding frames with Vidio, rendering the audio tap, encoding and
// muxing the output, and sampling stills.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/render"
)

const probeCacheSize = 128

// ErrNoVideoStream means the container holds no decodable video.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeResult holds the stream properties of a clip.
type ProbeResult struct {
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec"`
	Bitrate     int64   `json:"bitrate"`
	FrameRate   float64 `json:"frame_rate"`
	AudioCodec  string  `json:"audio_codec,omitempty"`
	AudioSample int     `json:"audio_sample_rate,omitempty"`
	FormatName  string  `json:"format_name"`
}

// HasAudio reports whether the clip carries an audio stream.
func (p *ProbeResult) HasAudio() bool {
	return p.AudioCodec != ""
}

// Prober runs ffprobe and caches results per file version.
type Prober struct {
	runner  host.Runner
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
	cache   *lru.Cache[string, *ProbeResult]
}

func NewProber(runner host.Runner, ffprobePath string, timeout time.Duration, logger *slog.Logger) (*Prober, error) {
	cache, err := lru.New[string, *ProbeResult](probeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		runner:  runner,
		ffprobe: ffprobePath,
		timeout: timeout,
		logger:  logger,
		cache:   cache,
	}, nil
}

// Probe returns the stream properties of path. Failures are *render.DecodeError.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &render.DecodeError{Op: "probe", Err: err}
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if res, ok := p.cache.Get(key); ok {
		return res, nil
	}

	r := p.runner.Run(ctx, p.timeout, p.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err := host.ResultError(p.ffprobe, r); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &render.DecodeError{Op: "probe", Err: err}
	}

	res, err := parseProbeOutput(r.Stdout)
	if err != nil {
		return nil, &render.DecodeError{Op: "probe", Err: err}
	}

	p.cache.Add(key, res)
	p.logger.Debug("probed clip",
		"duration", res.Duration,
		"width", res.Width,
		"height", res.Height,
		"fps", res.FrameRate,
		"codec", res.Codec,
		"audio", res.AudioCodec,
	)
	return res, nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
		Duration     string `json:"duration"`
		BitRate      string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{FormatName: out.Format.FormatName}
	res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	res.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)

	foundVideo := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.FrameRate <= 0 {
				res.FrameRate = parseRate(s.RFrameRate)
			}
			if res.Duration <= 0 {
				res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if res.AudioCodec != "" {
				continue
			}
			res.AudioCodec = s.CodecName
			res.AudioSample, _ = strconv.Atoi(s.SampleRate)
		}
	}

	if !foundVideo || res.Width <= 0 || res.Height <= 0 {
		return nil, ErrNoVideoStream
	}
	return res, nil
}

// parseRate turns "30000/1001" or "25" into frames per second.
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

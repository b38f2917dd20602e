package media

import (
	"log/slog"
	"time"

	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/render"
)

// Factory builds a fresh source and sink for each export.
type Factory struct {
	Prober       *Prober
	Runner       host.Runner
	FFmpegPath   string
	ScratchDir   string
	AudioTimeout time.Duration
	MuxTimeout   time.Duration
	Logger       *slog.Logger
}

func (f *Factory) NewSource() render.FrameSource {
	return NewVidioSource(SourceConfig{
		Prober:       f.Prober,
		Runner:       f.Runner,
		FFmpegPath:   f.FFmpegPath,
		ScratchDir:   f.ScratchDir,
		AudioTimeout: f.AudioTimeout,
		Logger:       f.Logger,
	})
}

func (f *Factory) NewSink(format Format, outputPath string) render.CaptureSink {
	return NewVidioSink(SinkConfig{
		Runner:     f.Runner,
		FFmpegPath: f.FFmpegPath,
		Format:     format,
		OutputPath: outputPath,
		MuxTimeout: f.MuxTimeout,
		Logger:     f.Logger,
	})
}

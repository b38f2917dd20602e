// Package insight turns sampled stills into descriptive clip metadata.
package insight

import (
	"context"
	"errors"
	"log/slog"

	"github.com/videocut/videocut-agent/internal/media"
)

// ErrNoStills is returned when there is nothing to analyze.
var ErrNoStills = errors.New("no stills to analyze")

// Metadata describes a clip for publishing.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Mood        string   `json:"mood"`
}

// Analyzer produces metadata from a handful of stills.
type Analyzer interface {
	Analyze(ctx context.Context, stills []media.Still) (*Metadata, error)
}

// StubAnalyzer stands in when no analysis backend is configured. It answers
// with placeholder metadata rather than failing.
type StubAnalyzer struct {
	logger *slog.Logger
}

func NewStubAnalyzer(logger *slog.Logger) *StubAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubAnalyzer{logger: logger}
}

func (a *StubAnalyzer) Analyze(ctx context.Context, stills []media.Still) (*Metadata, error) {
	if len(stills) == 0 {
		return nil, ErrNoStills
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.logger.Warn("no analysis backend configured, returning placeholder metadata", "stills", len(stills))
	return &Metadata{
		Title:       "API Key Missing",
		Description: "Please provide a valid API key to use AI features.",
		Tags:        []string{},
		Mood:        "Unknown",
	}, nil
}

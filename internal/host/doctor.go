package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// Doctor probes the ffmpeg install.
type Doctor interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

// FFmpegDoctor is the production Doctor. It asks ffmpeg for its version,
// encoders and filters.
type FFmpegDoctor struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	logger  *slog.Logger
}

func NewFFmpegDoctor(runner Runner, ffmpegPath, ffprobePath string, timeout time.Duration, logger *slog.Logger) *FFmpegDoctor {
	return &FFmpegDoctor{
		runner:  runner,
		ffmpeg:  ffmpegPath,
		ffprobe: ffprobePath,
		timeout: timeout,
		logger:  logger,
	}
}

// RunDoctor probes the installed ffmpeg.
func (d *FFmpegDoctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ffmpeg, err := ResolveBinary(d.ffmpeg)
	if err != nil {
		return nil, err
	}

	version := d.runner.Run(ctx, d.timeout, ffmpeg, "-hide_banner", "-version")
	if err := ResultError(ffmpeg, version); err != nil {
		return nil, fmt.Errorf("ffmpeg version probe: %w", err)
	}

	encoders := d.runner.Run(ctx, d.timeout, ffmpeg, "-hide_banner", "-encoders")
	if err := ResultError(ffmpeg, encoders); err != nil {
		return nil, fmt.Errorf("ffmpeg encoder probe: %w", err)
	}

	filters := d.runner.Run(ctx, d.timeout, ffmpeg, "-hide_banner", "-filters")
	if err := ResultError(ffmpeg, filters); err != nil {
		return nil, fmt.Errorf("ffmpeg filter probe: %w", err)
	}

	caps := &Capabilities{
		FFmpegPath: ffmpeg,
		Version:    parseVersion(version.Stdout),
		Encoders:   parseEncoders(encoders.Stdout),
		Filters:    parseFilters(filters.Stdout),
	}

	if ffprobe, err := ResolveBinary(d.ffprobe); err == nil {
		if r := d.runner.Run(ctx, d.timeout, ffprobe, "-hide_banner", "-version"); r.IsSuccess() {
			caps.FFprobePath = ffprobe
			caps.HasProbe = true
		}
	}

	caps.HasX264 = caps.Encoders["libx264"]
	caps.HasAAC = caps.Encoders["aac"]
	caps.HasVP9 = caps.Encoders["libvpx-vp9"]
	caps.HasOpus = caps.Encoders["libopus"]
	caps.PitchPreservation = caps.Filters["atempo"]
	caps.ProbedAt = time.Now()

	if d.logger != nil {
		d.logger.Info("ffmpeg probe complete",
			"version", caps.Version,
			"x264", caps.HasX264,
			"vp9", caps.HasVP9,
			"opus", caps.HasOpus,
			"atempo", caps.PitchPreservation,
			"ffprobe", caps.HasProbe,
		)
	}
	return caps, nil
}

// ResolveBinary finds an executable by path or on PATH.
func ResolveBinary(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no binary configured")
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found: %w", name, err)
	}
	return p, nil
}

// PreferBinaryDirs moves the directories of the given absolute binary paths
// to the front of PATH. The Vidio decoder and encoder find ffmpeg and ffprobe
// by name on PATH, so this makes a configured install apply to them too.
func PreferBinaryDirs(bins ...string) error {
	path := prependDirs(os.Getenv("PATH"), bins)
	return os.Setenv("PATH", path)
}

func prependDirs(pathList string, bins []string) string {
	var front []string
	for _, b := range bins {
		if !filepath.IsAbs(b) {
			continue
		}
		if dir := filepath.Dir(b); !slices.Contains(front, dir) {
			front = append(front, dir)
		}
	}
	if len(front) == 0 {
		return pathList
	}
	rest := slices.DeleteFunc(filepath.SplitList(pathList), func(d string) bool {
		return d == "" || slices.Contains(front, filepath.Clean(d))
	})
	return strings.Join(append(front, rest...), string(os.PathListSeparator))
}

// StandardName reports whether bin is named name, ignoring a .exe suffix.
// Vidio only ever looks for the standard names.
func StandardName(bin, name string) bool {
	base := strings.TrimSuffix(filepath.Base(bin), ".exe")
	return base == name
}

// parseVersion pulls "6.1.1" out of "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out []byte) string {
	line, _, _ := bytes.Cut(out, []byte("\n"))
	fields := strings.Fields(string(line))
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// parseEncoders reads the table printed after the "------" separator, one
// " V....D name  description" row per encoder.
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "---") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// parseFilters reads " TSC atempo  A->A  description" rows; the legend above
// the table has no "->" column.
func parseFilters(out []byte) map[string]bool {
	filters := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 3 && strings.Contains(fields[2], "->") {
			filters[fields[1]] = true
		}
	}
	return filters
}

// CachedDoctor wraps a Doctor to cache probe results with a configurable TTL.
// This avoids spawning ffmpeg on every export.
type CachedDoctor struct {
	doctor Doctor
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around doctor probes.
func NewCachedDoctor(doctor Doctor, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		doctor: doctor,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.doctor.RunDoctor(ctx)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("ffmpeg probe failed", "error", err)
		}
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// SupportsPitchPreservation reports whether the last probe found atempo.
func (d *CachedDoctor) SupportsPitchPreservation() bool {
	caps := d.Peek()
	return caps != nil && caps.PitchPreservation
}

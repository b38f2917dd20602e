// Package host knows about the machine the agent runs on: the installed
// ffmpeg toolchain, what it can encode, and how much memory and disk is free.
package host

import "time"

// Capabilities represents what the installed ffmpeg can do, as reported by
// its -version, -encoders and -filters listings.
type Capabilities struct {
	FFmpegPath  string          `json:"ffmpeg_path"`
	FFprobePath string          `json:"ffprobe_path,omitempty"`
	Version     string          `json:"version"`
	Encoders    map[string]bool `json:"-"`
	Filters     map[string]bool `json:"-"`

	HasX264           bool      `json:"has_x264"`
	HasAAC            bool      `json:"has_aac"`
	HasVP9            bool      `json:"has_vp9"`
	HasOpus           bool      `json:"has_opus"`
	HasProbe          bool      `json:"has_probe"`
	PitchPreservation bool      `json:"pitch_preservation"`
	ProbedAt          time.Time `json:"probed_at"`
}

// HasEncoder reports whether ffmpeg lists the named encoder.
func (c *Capabilities) HasEncoder(name string) bool {
	return c != nil && c.Encoders[name]
}

// CanExport reports whether at least one supported video encoder exists.
func (c *Capabilities) CanExport() bool {
	return c != nil && (c.HasVP9 || c.HasX264)
}

// RunResult is the structured outcome of executing a subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	Stdout     []byte        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Resources is a point-in-time view of free memory and disk.
type Resources struct {
	MemoryTotal     uint64 `json:"memory_total"`
	MemoryAvailable uint64 `json:"memory_available"`
	DiskTotal       uint64 `json:"disk_total"`
	DiskFree        uint64 `json:"disk_free"`
	DiskPath        string `json:"disk_path"`
}

// Package config provides configuration management for the VideoCut Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8787
	DefaultLogLevel = "info"
	DefaultDataDir  = ".videocut"

	// Environment variable names
	EnvPort     = "VIDEOCUT_PORT"
	EnvLogLevel = "VIDEOCUT_LOG_LEVEL"
	EnvDataDir  = "VIDEOCUT_DATA_DIR"
	EnvHeadless = "VIDEOCUT_HEADLESS"

	// Render environment variable names
	EnvFFmpeg         = "VIDEOCUT_FFMPEG"
	EnvFFprobe        = "VIDEOCUT_FFPROBE"
	EnvSeekTimeout    = "VIDEOCUT_SEEK_TIMEOUT"
	EnvMaxFPS         = "VIDEOCUT_MAX_FPS"
	EnvMaxUploadMB    = "VIDEOCUT_MAX_UPLOAD_MB"
	EnvPollIntervalMs = "VIDEOCUT_POLL_INTERVAL_MS"

	// Database filename
	DBFilename = "videocut.db"

	// Render defaults
	DefaultFFmpeg         = "ffmpeg"
	DefaultFFprobe        = "ffprobe"
	DefaultSeekTimeout    = 20 // seconds
	DefaultMaxFPS         = 30
	DefaultMaxUploadMB    = 2048
	DefaultPollIntervalMs = 1000
	DefaultDoctorTimeout  = 15 // seconds
	DefaultProbeTimeout   = 30 // seconds
	DefaultAudioTimeout   = 600
	DefaultMuxTimeout     = 600
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	UploadsDir() string
	ExportsDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	SeekTimeout() time.Duration
	MaxFPS() float64
	MaxUploadBytes() int64
	PollInterval() time.Duration
	DoctorTimeout() time.Duration
	ProbeTimeout() time.Duration
	AudioTimeout() time.Duration
	MuxTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	ffmpegPath     string
	ffprobePath    string
	seekTimeout    time.Duration
	maxFPS         float64
	maxUploadBytes int64
	pollInterval   time.Duration
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		ffmpegPath:     DefaultFFmpeg,
		ffprobePath:    DefaultFFprobe,
		seekTimeout:    DefaultSeekTimeout * time.Second,
		maxFPS:         DefaultMaxFPS,
		maxUploadBytes: DefaultMaxUploadMB << 20,
		pollInterval:   DefaultPollIntervalMs * time.Millisecond,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if v := os.Getenv(EnvFFmpeg); v != "" {
		cfg.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		cfg.ffprobePath = v
	}

	if v := os.Getenv(EnvSeekTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvSeekTimeout)
		}
		cfg.seekTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvMaxFPS); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil || fps <= 0 || fps > DefaultMaxFPS*2 {
			return nil, fmt.Errorf("invalid %s: must be between 0 and %d", EnvMaxFPS, DefaultMaxFPS*2)
		}
		cfg.maxFPS = fps
	}

	if v := os.Getenv(EnvMaxUploadMB); v != "" {
		mb, err := strconv.ParseInt(v, 10, 64)
		if err != nil || mb <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of megabytes", EnvMaxUploadMB)
		}
		cfg.maxUploadBytes = mb << 20
	}

	if v := os.Getenv(EnvPollIntervalMs); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 50 {
			return nil, fmt.Errorf("invalid %s: must be at least 50", EnvPollIntervalMs)
		}
		cfg.pollInterval = time.Duration(ms) * time.Millisecond
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir holds scratch files such as rendered audio taps.
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// UploadsDir holds clips uploaded over HTTP. Files here are owned by the agent
// and removed when their clip is closed.
func (c *EnvConfig) UploadsDir() string {
	return filepath.Join(c.dataDir, "uploads")
}

// ExportsDir holds finished renders, one subdirectory per export.
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// FFmpegPath is the ffmpeg used for probing, audio and muxing. Its directory
// is put first on PATH at startup so frame decode and encode pick it up as
// long as the file is named ffmpeg.
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// FFprobePath follows the same PATH rule as FFmpegPath.
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// SeekTimeout bounds how long a load or seek may take before the export fails.
func (c *EnvConfig) SeekTimeout() time.Duration {
	return c.seekTimeout
}

func (c *EnvConfig) MaxFPS() float64 {
	return c.maxFPS
}

func (c *EnvConfig) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return time.Duration(DefaultDoctorTimeout) * time.Second
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return time.Duration(DefaultProbeTimeout) * time.Second
}

func (c *EnvConfig) AudioTimeout() time.Duration {
	return time.Duration(DefaultAudioTimeout) * time.Second
}

func (c *EnvConfig) MuxTimeout() time.Duration {
	return time.Duration(DefaultMuxTimeout) * time.Second
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

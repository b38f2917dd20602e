package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/videocut/videocut-agent/internal/render"
)

const (
	// frames held in flight between decoder, compositor and encoder
	bufferedFrames = 8
	memoryHeadroom = 64 * 1024 * 1024

	// rough H.264/VP9 output density, bits per pixel per frame
	bitsPerPixel = 0.15

	// 48 kHz stereo s16 for the scratch audio tap
	audioBytesPerSecond = 48000 * 2 * 2
)

// ResourceChecker implements render.Preflight with gopsutil.
type ResourceChecker struct {
	logger *slog.Logger

	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
}

func NewResourceChecker(logger *slog.Logger) *ResourceChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceChecker{
		logger:        logger,
		virtualMemory: mem.VirtualMemoryWithContext,
		diskUsage:     disk.UsageWithContext,
	}
}

// Estimate returns the memory and disk a render of req is expected to need.
func Estimate(req render.ResourceRequest) (memBytes, diskBytes uint64) {
	frame := uint64(req.Width) * uint64(req.Height) * 4
	memBytes = frame*bufferedFrames + memoryHeadroom

	video := float64(EstimateBitrate(req.Width, req.Height, req.FPS)) * req.Duration / 8
	audio := float64(audioBytesPerSecond) * req.Duration
	// The video-only intermediate and the muxed file coexist briefly.
	diskBytes = uint64(2*video + audio)
	return memBytes, diskBytes
}

// EstimateBitrate is the target video bitrate in bits per second.
func EstimateBitrate(width, height int, fps float64) int {
	return int(float64(width) * float64(height) * fps * bitsPerPixel)
}

// Check fails with a *render.ResourceError when memory or disk is short.
func (c *ResourceChecker) Check(ctx context.Context, req render.ResourceRequest) error {
	needMem, needDisk := Estimate(req)

	vm, err := c.virtualMemory(ctx)
	if err != nil {
		c.logger.Warn("memory probe failed, skipping check", "error", err)
	} else if vm.Available < needMem {
		return &render.ResourceError{Op: "memory", Err: fmt.Errorf("need %s, %s available",
			humanize.Bytes(needMem), humanize.Bytes(vm.Available))}
	}

	dir := existingDir(req.OutputDir)
	du, err := c.diskUsage(ctx, dir)
	if err != nil {
		c.logger.Warn("disk probe failed, skipping check", "error", err, "path", filepath.Base(dir))
		return nil
	}
	if du.Free < needDisk {
		return &render.ResourceError{Op: "disk", Err: fmt.Errorf("need %s in %s, %s free",
			humanize.Bytes(needDisk), filepath.Base(dir), humanize.Bytes(du.Free))}
	}

	c.logger.Debug("preflight passed",
		"need_memory", humanize.Bytes(needMem),
		"need_disk", humanize.Bytes(needDisk),
	)
	return nil
}

// Snapshot reports current free memory and disk for dir.
func (c *ResourceChecker) Snapshot(ctx context.Context, dir string) (*Resources, error) {
	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory probe: %w", err)
	}
	dir = existingDir(dir)
	du, err := c.diskUsage(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("disk probe: %w", err)
	}
	return &Resources{
		MemoryTotal:     vm.Total,
		MemoryAvailable: vm.Available,
		DiskTotal:       du.Total,
		DiskFree:        du.Free,
		DiskPath:        dir,
	}, nil
}

// existingDir walks up from dir to the nearest directory that exists.
func existingDir(dir string) string {
	if dir == "" {
		return os.TempDir()
	}
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

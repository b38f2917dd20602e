package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/videocut/videocut-agent/internal/export"
	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/logging"
	"github.com/videocut/videocut-agent/internal/media"
	"github.com/videocut/videocut-agent/internal/render"
)

// PipelineFactory builds the per-export decode and encode ends.
type PipelineFactory interface {
	NewSource() render.FrameSource
	NewSink(format media.Format, outputPath string) render.CaptureSink
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Repo         Repository
	Controller   *render.Controller
	Factory      PipelineFactory
	Doctor       *host.CachedDoctor
	ExportsDir   string
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Runner executes queued exports one at a time.
type Runner struct {
	repo         Repository
	controller   *render.Controller
	factory      PipelineFactory
	doctor       *host.CachedDoctor
	exportsDir   string
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
}

func NewRunner(cfg RunnerConfig) *Runner {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:         cfg.Repo,
		controller:   cfg.Controller,
		factory:      cfg.Factory,
		doctor:       cfg.Doctor,
		exportsDir:   cfg.ExportsDir,
		logger:       logger,
		pollInterval: poll,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("export runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("export runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextExport(ctx)
			}
		}
	}
}

// Pause stops picking up new exports. A running export is not affected.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("export runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("export runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Current returns the ID of the export being rendered, or "".
func (r *Runner) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Cancel aborts an export. A pending export fails without rendering; a
// running one stops capturing and keeps what was recorded.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	for range 3 {
		if r.cancelCurrent(id) {
			return nil
		}

		exp, err := r.repo.GetExport(ctx, id)
		if err != nil {
			return err
		}
		if exp == nil {
			return ErrNotFound
		}
		if exp.Finished() {
			return ErrExportFinished
		}
		if exp.Status == ExportStatusPending {
			failed, err := r.repo.FailPendingExport(ctx, id, render.KindAborted, "cancelled before start")
			if err != nil {
				return err
			}
			if failed {
				return nil
			}
		}
		// Claimed by the runner since the read; cancel it as running.
	}
	return fmt.Errorf("export %s changed state during cancel", id)
}

func (r *Runner) cancelCurrent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != id || r.cancel == nil {
		return false
	}
	r.cancel()
	r.logger.Info("export cancel requested", "export_id", id)
	return true
}

func (r *Runner) processNextExport(ctx context.Context) {
	exports, err := r.repo.ListPendingExports(ctx)
	if err != nil {
		r.logger.Error("failed to list pending exports", "error", err)
		return
	}
	if len(exports) == 0 {
		return
	}
	r.runExport(ctx, exports[0])
}

func (r *Runner) runExport(ctx context.Context, exp *Export) {
	logger := logging.WithExportID(r.logger, exp.ID)
	// Bookkeeping outlives a shutdown so the final state is recorded.
	dbCtx := context.WithoutCancel(ctx)

	fail := func(kind string, err error) {
		logger.Error("export failed", "kind", kind, "error", err)
		if ferr := r.repo.FailExport(dbCtx, exp.ID, kind, err.Error()); ferr != nil {
			logger.Error("failed to record export failure", "error", ferr)
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.current = exp.ID
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = ""
		r.cancel = nil
		r.mu.Unlock()
	}()

	claimed, err := r.repo.ClaimExport(ctx, exp.ID)
	if err != nil {
		logger.Error("failed to claim export", "error", err)
		return
	}
	if !claimed {
		return
	}

	clip, err := r.repo.GetClip(ctx, exp.ClipID)
	if err != nil || clip == nil {
		fail(render.KindInternal, errors.Join(errors.New("clip not found"), err))
		return
	}

	caps, err := r.doctor.Get(ctx)
	if err != nil {
		fail(render.KindEncoding, fmt.Errorf("capability probe failed: %w", err))
		return
	}
	format, err := media.PickFormat(caps)
	if err != nil {
		fail(render.ErrorKind(err), err)
		return
	}

	name := export.OutputName(clip.DisplayName, !exp.Premium, format.Ext)
	outDir := filepath.Join(r.exportsDir, exp.ID)

	logger.Info("export started", "clip_id", clip.ID, "format", format.Ext, "filter", exp.FilterName, "rate", exp.Rate)

	lastState, lastPct := "", -1
	out, err := r.controller.Run(jobCtx, render.Job{
		Snapshot:  exp.Session(clip),
		OutputDir: outDir,
		Source:    r.factory.NewSource(),
		Sink:      r.factory.NewSink(format, filepath.Join(outDir, name)),
		Progress: func(state render.State, fraction float64) {
			pct := int(fraction * 100)
			if state.String() == lastState && pct == lastPct {
				return
			}
			lastState, lastPct = state.String(), pct
			if err := r.repo.UpdateExportProgress(dbCtx, exp.ID, lastState, pct); err != nil {
				logger.Warn("failed to record export progress", "error", err)
			}
		},
	})
	if err != nil {
		fail(render.ErrorKind(err), err)
		return
	}

	copied := ""
	if exp.OutputDir != "" {
		copied = r.deliver(logger, exp, clip, out, name)
	}

	if err := r.repo.CompleteExport(dbCtx, exp.ID, out, copied); err != nil {
		logger.Error("failed to record export completion", "error", err)
		return
	}
	logger.Info("export completed",
		"frames", out.Frames,
		"duration", out.Duration,
		"truncated", out.Truncated,
		"aborted", out.Aborted,
	)
}

// deliver copies the finished file to the caller's directory. A failed copy
// is logged; the export itself still succeeded.
func (r *Runner) deliver(logger *slog.Logger, exp *Export, clip *Clip, out *render.Output, name string) string {
	edl := ""
	if exp.WriteEDL {
		title := strings.TrimSuffix(name, filepath.Ext(name))
		edl = export.GenerateEDL([]export.Cut{{
			Name:      clip.DisplayName,
			MediaPath: clip.Path,
			Start:     exp.TrimStart,
			End:       min(exp.TrimEnd, exp.TrimStart+out.Duration*exp.Rate),
			Rate:      exp.Rate,
		}}, title, clip.FPS)
	}

	d, err := export.Deliver(out.Path, exp.OutputDir, name, edl)
	if err != nil {
		logger.Warn("failed to copy export to output dir", "error", err)
		if d == nil {
			return ""
		}
	}
	return d.Path
}

package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// finalizeTimeout bounds Stop after the caller's context is gone.
const finalizeTimeout = 2 * time.Minute

// ControllerConfig holds the collaborators shared by every session.
type ControllerConfig struct {
	Host      Host
	Preflight Preflight
	MaxFPS    float64
	Watchdog  time.Duration
	Logger    *slog.Logger
}

// Job is one export request handed to the controller.
type Job struct {
	Snapshot  ExportSession
	OutputDir string
	Source    FrameSource
	Sink      CaptureSink

	// Progress, if set, is called from the render goroutine after each
	// state change and each captured frame.
	Progress func(state State, fraction float64)
}

// Controller runs export sessions one at a time.
type Controller struct {
	cfg        ControllerConfig
	logger     *slog.Logger
	compositor *Compositor
	watermark  *Watermark

	mu     sync.Mutex
	active *Session
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	wm, err := NewWatermark()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		cfg:        cfg,
		logger:     logger,
		compositor: NewCompositor(),
		watermark:  wm,
	}, nil
}

// Busy reports whether a session is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Run drives one session to completion. It returns ErrBusy without touching
// job.Source or job.Sink when another session is active. Cancelling ctx
// finalizes whatever was captured into an aborted, truncated output.
func (c *Controller) Run(ctx context.Context, job Job) (*Output, error) {
	if job.Source == nil || job.Sink == nil {
		return nil, fmt.Errorf("job requires a frame source and a capture sink")
	}

	s := NewSession(SessionConfig{
		Source:     job.Source,
		Sink:       job.Sink,
		Host:       c.cfg.Host,
		Preflight:  c.cfg.Preflight,
		Compositor: c.compositor,
		Watermark:  c.watermark,
		OutputDir:  job.OutputDir,
		MaxFPS:     c.cfg.MaxFPS,
		Watchdog:   c.cfg.Watchdog,
		Logger:     c.logger,
	}, job.Snapshot)

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.active = s
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	report := func() {
		if job.Progress != nil {
			job.Progress(s.State(), s.Progress())
		}
	}

	if job.Progress != nil {
		job.Progress(StatePreparing, 0)
	}
	if err := s.Prepare(ctx); err != nil {
		report()
		return nil, err
	}
	report()

	for {
		if ctx.Err() != nil {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
			out, err := s.Abort(fctx)
			cancel()
			report()
			return out, err
		}

		done, err := s.Tick(ctx)
		if err != nil {
			report()
			return nil, err
		}
		if done {
			break
		}
		report()
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	out, err := s.Stop(fctx)
	report()
	return out, err
}

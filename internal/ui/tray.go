package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/videocut/videocut-agent/internal/catalog"
)

const refreshInterval = 2 * time.Second

// ExportQueue is the runner control surface the tray needs.
type ExportQueue interface {
	Pause()
	Resume()
	IsPaused() bool
	Current() string
}

type Tray struct {
	catalogSvc catalog.CatalogService
	runner     ExportQueue
	logger     *slog.Logger

	statusItem *systray.MenuItem
	queueItem  *systray.MenuItem
	lastItem   *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	CatalogService catalog.CatalogService
	Runner         ExportQueue
	Logger         *slog.Logger
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		catalogSvc: cfg.CatalogService,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
		onQuit:     cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit is called.
func (t *Tray) Run(ctx context.Context) {
	systray.Run(func() { t.onReady(ctx) }, t.onExit)
}

func (t *Tray) onReady(ctx context.Context) {
	systray.SetIcon(iconBytes)
	systray.SetTitle("VideoCut")
	systray.SetTooltip("VideoCut Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current export status")
	t.statusItem.Disable()

	t.queueItem = systray.AddMenuItem("Queued: 0", "Exports waiting to render")
	t.queueItem.Disable()

	t.lastItem = systray.AddMenuItem("Last export: none", "Most recent finished export")
	t.lastItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause the export queue")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit VideoCut Agent")

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-ctx.Done():
				systray.Quit()
				return
			}
		}
	}()

	go t.watch(ctx)

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) watch(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		t.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *Tray) refresh(ctx context.Context) {
	exports, err := t.catalogSvc.ListExports(ctx, 50)
	if err != nil {
		t.logger.Debug("tray refresh failed", "error", err)
		return
	}

	current := ""
	paused := false
	if t.runner != nil {
		current = t.runner.Current()
		paused = t.runner.IsPaused()
	}
	s := summarize(exports, current, paused)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle("Status: " + s.status)
	t.queueItem.SetTitle(fmt.Sprintf("Queued: %d", s.queued))
	if s.last != "" {
		t.lastItem.SetTitle("Last export: " + s.last)
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

type trayStatus struct {
	status string
	queued int
	last   string
}

// summarize condenses the export list, newest first, into menu text.
func summarize(exports []*catalog.Export, current string, paused bool) trayStatus {
	s := trayStatus{status: "Idle"}
	if paused {
		s.status = "Paused"
	}
	for _, e := range exports {
		switch {
		case e.Status == catalog.ExportStatusPending:
			s.queued++
		case e.Status == catalog.ExportStatusRunning && e.ID == current:
			s.status = fmt.Sprintf("Exporting %d%%", e.Progress)
		case e.Finished() && s.last == "":
			if e.Status == catalog.ExportStatusCompleted {
				s.last = "done"
			} else {
				s.last = "failed (" + e.ErrorKind + ")"
			}
		}
	}
	return s
}

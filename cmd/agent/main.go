package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/videocut/videocut-agent/internal/api"
	"github.com/videocut/videocut-agent/internal/catalog"
	"github.com/videocut/videocut-agent/internal/config"
	"github.com/videocut/videocut-agent/internal/db"
	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/insight"
	"github.com/videocut/videocut-agent/internal/logging"
	"github.com/videocut/videocut-agent/internal/media"
	"github.com/videocut/videocut-agent/internal/playback"
	"github.com/videocut/videocut-agent/internal/render"
	"github.com/videocut/videocut-agent/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.UploadsDir(), cfg.ExportsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting videocut agent", "version", config.Version, "commit", config.GitCommit, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  VIDEOCUT AGENT v%-24s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	hostExec := host.NewExec(logging.WithComponent(logger, "exec"), cfg.LogLevel() == "debug")

	ffmpegPath, err := host.ResolveBinary(cfg.FFmpegPath())
	if err != nil {
		logger.Warn("ffmpeg not found, exports will fail until it is installed", "error", err)
		ffmpegPath = cfg.FFmpegPath()
	}
	ffprobePath, err := host.ResolveBinary(cfg.FFprobePath())
	if err != nil {
		logger.Warn("ffprobe not found, clips cannot be imported", "error", err)
		ffprobePath = cfg.FFprobePath()
	}
	if err := host.PreferBinaryDirs(ffmpegPath, ffprobePath); err != nil {
		logger.Warn("failed to update PATH for the frame decoder", "error", err)
	}
	for bin, name := range map[string]string{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"} {
		if !host.StandardName(bin, name) {
			logger.Warn("frame decode and encode use the "+name+" found on PATH, not the configured binary", "binary", bin)
		}
	}

	doctor := host.NewCachedDoctor(
		host.NewFFmpegDoctor(hostExec, ffmpegPath, ffprobePath, cfg.DoctorTimeout(), logger),
		logger,
	)
	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.DoctorTimeout())
	if caps, err := doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial ffmpeg probe failed", "error", err)
	} else if format, err := media.PickFormat(caps); err != nil {
		logger.Warn("no usable video encoder found", "version", caps.Version)
	} else {
		logger.Info("ffmpeg capabilities detected",
			"version", caps.Version,
			"format", format.MIMEType,
			"pitch_preservation", caps.PitchPreservation,
		)
	}
	initCancel()

	resources := host.NewResourceChecker(logging.WithComponent(logger, "preflight"))

	prober, err := media.NewProber(hostExec, ffprobePath, cfg.ProbeTimeout(), logger)
	if err != nil {
		return fmt.Errorf("failed to create prober: %w", err)
	}

	controller, err := render.NewController(render.ControllerConfig{
		Host:      doctor,
		Preflight: resources,
		MaxFPS:    cfg.MaxFPS(),
		Watchdog:  cfg.SeekTimeout(),
		Logger:    logging.WithComponent(logger, "render"),
	})
	if err != nil {
		return fmt.Errorf("failed to create render controller: %w", err)
	}

	catalogSvc := catalog.NewService(repo, prober, cfg.UploadsDir(), logger)
	playbackSvc := playback.NewServer(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := catalog.NewRunner(catalog.RunnerConfig{
		Repo:       repo,
		Controller: controller,
		Factory: &media.Factory{
			Prober:       prober,
			Runner:       hostExec,
			FFmpegPath:   ffmpegPath,
			ScratchDir:   cfg.CacheDir(),
			AudioTimeout: cfg.AudioTimeout(),
			MuxTimeout:   cfg.MuxTimeout(),
			Logger:       logging.WithComponent(logger, "media"),
		},
		Doctor:       doctor,
		ExportsDir:   cfg.ExportsDir(),
		PollInterval: cfg.PollInterval(),
		Logger:       logging.WithComponent(logger, "runner"),
	})
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		CatalogService: catalogSvc,
		PlaybackServer: playbackSvc,
		Config:         repo,
		Runner:         runner,
		Doctor:         doctor,
		Resources:      resources,
		Stills:         media.NewStillSampler(logger),
		Analyzer:       insight.NewStubAnalyzer(logger),
		ExportsDir:     cfg.ExportsDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			CatalogService: catalogSvc,
			Runner:         runner,
			Logger:         logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run(ctx)
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	// Stops the runner; a render in progress is finalized with what it has.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	for runner.Current() != "" && shutdownCtx.Err() == nil {
		time.Sleep(100 * time.Millisecond)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureDeviceID(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}

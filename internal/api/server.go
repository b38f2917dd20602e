package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/videocut/videocut-agent/internal/catalog"
	"github.com/videocut/videocut-agent/internal/host"
	"github.com/videocut/videocut-agent/internal/insight"
	"github.com/videocut/videocut-agent/internal/media"
	"github.com/videocut/videocut-agent/internal/playback"
)

// ConfigStore reads agent settings such as the auth token.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// ExportRunner is the part of the export queue the API drives.
type ExportRunner interface {
	Cancel(ctx context.Context, id string) error
	Current() string
	IsPaused() bool
}

// StillSource samples preview stills from a clip.
type StillSource interface {
	Sample(ctx context.Context, path string, n int) ([]media.Still, error)
}

// ResourceReporter reports free memory and disk for the status endpoint.
type ResourceReporter interface {
	Snapshot(ctx context.Context, dir string) (*host.Resources, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	CatalogService catalog.CatalogService
	PlaybackServer playback.PlaybackService
	Config         ConfigStore
	Runner         ExportRunner
	Doctor         *host.CachedDoctor
	Resources      ResourceReporter
	Stills         StillSource
	Analyzer       insight.Analyzer
	ExportsDir     string
	MaxUploadBytes int64
	Logger         *slog.Logger
	StartTime      time.Time
	DeviceID       string
	Version        string
}

// NewServer binds to loopback only. Read and write timeouts stay off because
// uploads and downloads stream whole clips.
func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       0,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

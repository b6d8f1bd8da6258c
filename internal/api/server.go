package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/pipelines"
	"github.com/heimdex/heimdex-storyboard/internal/playback"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

// RunService is the run catalog as seen by the HTTP layer.
type RunService interface {
	Submit(ctx context.Context, path, language, source string) (*catalog.Run, error)
	SaveUpload(ctx context.Context, filename string, r io.Reader, language string) (*catalog.Run, error)
	GetRun(ctx context.Context, id string) (*catalog.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*catalog.Run, error)
	CountRuns(ctx context.Context) (map[string]int, error)
	GetResult(ctx context.Context, runID string) (*storyboard.Result, error)
	GetScenes(ctx context.Context, runID string) ([]storyboard.SceneResult, error)
}

// RunnerControl pauses and inspects the background runner.
type RunnerControl interface {
	Pause()
	Resume()
	IsPaused() bool
	CurrentRun() string
}

// EventStream serves live run events over a WebSocket.
type EventStream interface {
	ServeWS(w http.ResponseWriter, r *http.Request, runID string)
	ClientCount() int
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr           string
	Version        string
	Service        RunService
	Tokens         TokenStore
	Runner         RunnerControl
	Doctor         *pipelines.CachedDoctor
	PlaybackServer *playback.Server
	Events         EventStream
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	StartTime      time.Time
	DeviceID       string
	// MaxUploadBytes caps multipart uploads; zero means unlimited.
	MaxUploadBytes int64
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
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

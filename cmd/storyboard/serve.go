package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-storyboard/internal/api"
	"github.com/heimdex/heimdex-storyboard/internal/catalog"
	"github.com/heimdex/heimdex-storyboard/internal/cloud"
	"github.com/heimdex/heimdex-storyboard/internal/config"
	"github.com/heimdex/heimdex-storyboard/internal/db"
	"github.com/heimdex/heimdex-storyboard/internal/events"
	"github.com/heimdex/heimdex-storyboard/internal/logging"
	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/playback"
	"github.com/heimdex/heimdex-storyboard/internal/ui"
	"github.com/heimdex/heimdex-storyboard/internal/watcher"
	"github.com/heimdex/heimdex-storyboard/internal/workspace"
)

// 8 GiB
const maxUploadBytes = 8 << 30

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, ctx.logger(cfg), cmd.OutOrStdout(), headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Do not show the system tray icon")
	return cmd
}

func serve(parent context.Context, cfg config.Config, logger *slog.Logger, stdout io.Writer, headless bool) error {
	startTime := time.Now()

	for _, dir := range []string{cfg.DataDir(), cfg.UploadDir(), cfg.WorkspaceDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger.Info("starting heimdex storyboard",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config", cfg.Source(),
	)

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
	authToken, err := ensureAuthToken(repo, cfg.APIToken())
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m := metrics.New()

	hub := events.NewHub(logger, m)
	go hub.Run(ctx)

	kc := cfg.Kafka()
	publisher := events.NewPublisher(events.KafkaConfig{
		Enabled:        kc.Enabled,
		Brokers:        kc.Brokers,
		ProgressTopic:  kc.ProgressTopic,
		CompletedTopic: kc.CompletedTopic,
		ClientID:       kc.ClientID,
	}, logger, m)
	defer publisher.Close()
	if publisher.Enabled() {
		logger.Info("kafka publishing enabled", "brokers", kc.Brokers)
	}

	service := catalog.NewService(repo, cfg.UploadDir(), logging.WithComponent(logger, "catalog"))

	st, err := newStack(ctx, cfg, logger, m, events.Multi{service, hub, publisher})
	if err != nil {
		return err
	}
	defer st.Close()

	root, err := workspace.Open(cfg.WorkspaceDir())
	if err != nil {
		return err
	}

	runner := catalog.NewRunner(service, repo, st.processor, root, logging.WithComponent(logger, "runner"))
	runner.SetMetrics(m)
	if d := cfg.PollInterval(); d > 0 {
		runner.SetPollInterval(d)
	}

	if cc := cfg.Cloud(); cc.Enabled {
		runner.SetUploader(cloud.NewHTTPClient(cloud.Config{
			BaseURL:     cc.BaseURL,
			Token:       cc.Token,
			OrgSlug:     cc.OrgSlug,
			LibraryID:   cc.LibraryID,
			LibraryName: cc.LibraryName,
			DeviceID:    firstNonEmpty(cc.DeviceID, deviceID),
			Logger:      logger,
		}))
		logger.Info("cloud upload enabled", "base_url", cc.BaseURL, "org_slug", cc.OrgSlug)
	}
	go runner.Start(ctx)

	wc := cfg.Watcher()
	if wc.Enabled {
		fsw, err := watcher.NewFSWatcher(config.Seconds(wc.SettleSeconds), logger)
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer fsw.Stop()
		inbox := watcher.NewInbox(fsw, wc.InboxDir, cfg.Transcription().Language, service, logging.WithComponent(logger, "watcher"))
		if err := inbox.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           cfg.Addr(),
		Version:        config.Version,
		Service:        service,
		Tokens:         repo,
		Runner:         runner,
		Doctor:         st.doctor,
		PlaybackServer: playback.NewServer(logger),
		Events:         hub,
		Metrics:        m,
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
		DeviceID:       deviceID,
		MaxUploadBytes: maxUploadBytes,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	printBanner(stdout, cfg, authToken, deviceID, st)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	var tray *ui.Tray

	if headless {
		logger.Info("running in headless mode (no system tray)")
	} else {
		baseURL := "http://" + cfg.Addr()
		tray = ui.NewTray(ui.TrayConfig{
			Runs:   service,
			Runner: runner,
			Logger: logger,
			OnOpenInbox: func() error {
				if err := os.MkdirAll(wc.InboxDir, 0755); err != nil {
					return err
				}
				return openURL(wc.InboxDir)
			},
			OnOpenUI: func() error {
				return openURL(baseURL + "/runs?token=" + url.QueryEscape(authToken))
			},
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-quitCh:
	case <-parent.Done():
	case runErr = <-serverErr:
		logger.Error("HTTP server error", "error", runErr)
	}

	logger.Info("initiating graceful shutdown")
	cancel()
	if tray != nil {
		tray.Quit()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

func printBanner(w io.Writer, cfg config.Config, token, deviceID string, st *stack) {
	transcriber := "none"
	if st.transcriber != nil {
		transcriber = st.transcriber.Name()
	}
	rows := [][]string{
		{"API URL", "http://" + cfg.Addr()},
		{"Auth Token", token},
		{"Device ID", abbreviate(deviceID, 16)},
		{"Detectors", fmt.Sprint(st.resolver.Detectors())},
		{"Transcriber", transcriber},
		{"Inbox", inboxLabel(cfg.Watcher())},
	}
	fmt.Fprintf(w, "\nHEIMDEX STORYBOARD v%s\n%s\n\n", config.Version, renderTable([]string{"Setting", "Value"}, rows, nil))
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func inboxLabel(w config.Watcher) string {
	if !w.Enabled {
		return "disabled"
	}
	return w.InboxDir
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func openURL(target string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
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

// ensureAuthToken stores the configured token, or keeps or generates one
// when none is configured.
func ensureAuthToken(repo catalog.Repository, configured string) (string, error) {
	ctx := context.Background()

	if configured != "" {
		return configured, repo.SetConfig(ctx, api.AuthTokenKey, configured)
	}

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

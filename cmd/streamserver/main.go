/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/music-assistant/streamserver/internal/audio"
	"github.com/music-assistant/streamserver/internal/config"
	"github.com/music-assistant/streamserver/internal/events"
	"github.com/music-assistant/streamserver/internal/logging"
	"github.com/music-assistant/streamserver/internal/netutil"
	"github.com/music-assistant/streamserver/internal/player"
	"github.com/music-assistant/streamserver/internal/provider"
	"github.com/music-assistant/streamserver/internal/queue"
	"github.com/music-assistant/streamserver/internal/streams"
	"github.com/music-assistant/streamserver/internal/telemetry"
	"github.com/music-assistant/streamserver/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "streamserver",
	Short: "Music Assistant stream server",
	Long:  "Serves transcoded audio streams from player queues to networked players on the local network.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stream server",
	Long:  "Start the HTTP stream endpoints and the metrics listener",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("stream server starting")

	present, libsoxr, ffVersion := audio.CheckAudioSupport(context.Background(), cfg.FFmpegBin)
	if !present {
		return fmt.Errorf("ffmpeg binary %q not found, set MASS_FFMPEG_BIN", cfg.FFmpegBin)
	}
	logger.Info().
		Str("version", ffVersion).
		Bool("libsoxr", libsoxr).
		Msg("detected ffmpeg")
	if !libsoxr {
		logger.Warn().Msg("ffmpeg was built without libsoxr, resampling quality is reduced")
	}

	bindPort := cfg.BindPort
	if bindPort == 0 {
		var err error
		bindPort, err = netutil.SelectFreePort(config.DefaultPortRangeStart, config.DefaultPortRangeEnd)
		if err != nil {
			return fmt.Errorf("select stream port: %w", err)
		}
	}
	publishIP := cfg.PublishIP
	if publishIP == "" {
		publishIP = netutil.PrimaryIP()
	}
	baseURL := fmt.Sprintf("http://%s:%d", publishIP, bindPort)

	settingsStore, err := player.OpenSettingsStore(cfg.PlayerSettingsFile)
	if err != nil {
		return fmt.Errorf("open player settings: %w", err)
	}

	ctrl := streams.NewController(streams.Options{
		BaseURL:     baseURL,
		Provider:    provider.New(cfg.FFmpegBin, logger),
		Queues:      queue.NewMemoryController(),
		Players:     player.NewMemoryRegistry(),
		Settings:    settingsStore,
		Bus:         events.NewBus(),
		Transcoders: streams.FFmpegTranscoderFactory(cfg.FFmpegBin, logger, cfg.Environment == "development"),
		Logger:      logger,
	})

	streamServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindIP, bindPort),
		Handler: ctrl.Router(),
	}
	go func() {
		logger.Info().Str("addr", streamServer.Addr).Str("base_url", baseURL).Msg("stream server listening")
		if err := streamServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("stream server error")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", telemetry.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsBind, Handler: metricsMux}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	ctrl.Stop()
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := streamServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	_ = metricsServer.Shutdown(timeoutCtx)

	logger.Info().Msg("stream server stopped")
	return nil
}

package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/ghost-dictate/internal/audio"
	"github.com/sjawhar/ghost-dictate/internal/config"
	"github.com/sjawhar/ghost-dictate/internal/gdrive"
	"github.com/sjawhar/ghost-dictate/internal/journal"
	"github.com/sjawhar/ghost-dictate/internal/llm"
	"github.com/sjawhar/ghost-dictate/internal/logging"
	"github.com/sjawhar/ghost-dictate/internal/metrics"
	"github.com/sjawhar/ghost-dictate/internal/realtime"
	"github.com/sjawhar/ghost-dictate/internal/server"
	"github.com/sjawhar/ghost-dictate/internal/session"
	"github.com/sjawhar/ghost-dictate/internal/storage"
	"github.com/sjawhar/ghost-dictate/internal/summary"
)

//go:embed static/*
var staticFiles embed.FS

const shutdownTimeout = 30 * time.Second

func main() {
	defaultConfig := os.Getenv(config.EnvPrefix + "CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML config file")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		logger.Error("config_load_failed", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	for _, w := range warnings {
		logger.Warn("config_warning", slog.String("warning", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, warnings, logger); err != nil {
		logger.Error("ghost_dictate_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, warnings []string, logger *slog.Logger) error {
	logger.Info("ghost_dictate_starting", slog.String("realtime_url", cfg.RealtimeURL))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("static assets init: %w", err)
	}

	hub := server.NewHub(logger)
	writer := storage.NewWriter(cfg.TranscriptsDir)
	idle := journal.NewIdleDetector(cfg.ParsedIdleTimeout())

	journalOpts := []journal.Option{
		journal.WithTranscriptWriter(writer),
		journal.WithBroadcaster(hub),
		journal.WithIdleDetector(idle),
		journal.WithLogger(logger),
	}
	sessionOpts := []session.Option{
		session.WithConnOptions(
			realtime.WithConnectTimeout(cfg.ParsedConnectTimeout()),
			realtime.WithLogger(logger),
			realtime.WithMetrics(m),
		),
		session.WithLogger(logger),
		session.WithMetrics(m),
	}

	if cfg.RecordAudio {
		recorder := audio.NewRecorder(cfg.AudioDir, cfg.MicSampleRate)
		journalOpts = append(journalOpts, journal.WithRecorder(recorder))
		sessionOpts = append(sessionOpts, session.WithChunkTap(recorder.Tap))
	}

	if key := cfg.SummaryAPIKey(); key != "" {
		factory := func(provider, model string) (llm.Client, error) {
			return llm.NewClient(provider, key, model)
		}
		summarizer := summary.New(cfg.SummaryModel, factory, store, logger)
		journalOpts = append(journalOpts, journal.WithSummarizer(summarizer))
	}

	if cfg.GDriveFolderID != "" {
		exporter, err := gdrive.NewExporter(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID, logger)
		if err != nil {
			logger.Warn("gdrive_export_disabled", slog.String("error", err.Error()))
		} else {
			journalOpts = append(journalOpts, journal.WithExporter(exporter))
		}
	}

	producer := audio.NewProducer(audio.CaptureConfig{
		SampleRate:    cfg.MicSampleRate,
		ChunkInterval: cfg.ParsedChunkInterval(),
	}, audio.WithLogger(logger), audio.WithMetrics(m))

	app := &dictationApp{
		controller: session.NewController(cfg.RealtimeURL, cfg.RealtimeToken, producer, sessionOpts...),
		journal:    journal.New(store, journalOpts...),
		hub:        hub,
		logger:     logging.NewComponentLogger(logger, "app"),
	}
	idle.OnIdle(app.onIdle)

	handler, err := server.Handler(assets, hub, store, server.ControlHooks{
		StartRecording:  app.start,
		StopRecording:   app.stop,
		Status:          app.status,
		Warnings:        func() []string { return warnings },
		OnStatusChanged: hub.BroadcastStatusChanged,
	},
		server.WithAudioDir(cfg.AudioDir),
		server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		server.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	serveErr := server.Serve(ctx, cfg.HTTPAddr, handler, logger)

	logger.Info("ghost_dictate_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		app.journal.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("background_work_abandoned", slog.String("reason", shutdownCtx.Err().Error()))
	}

	return serveErr
}

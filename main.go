package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/john/unichat/internal/archive"
	"github.com/john/unichat/internal/config"
	"github.com/john/unichat/internal/health"
	"github.com/john/unichat/internal/host"
	"github.com/john/unichat/internal/intercept"
	"github.com/john/unichat/internal/kick"
	"github.com/john/unichat/internal/logging"
	"github.com/john/unichat/internal/metrics"
	"github.com/john/unichat/internal/recorder"
	"github.com/john/unichat/internal/scraper"
	"github.com/john/unichat/internal/twitch"
	"github.com/john/unichat/internal/uploader"
	"github.com/john/unichat/internal/youtube"
)

// platform is a scraper whose recoverable errors can be routed to its runner.
type platform interface {
	scraper.Platform
	SetReporter(scraper.Reporter)
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewSlog(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("unichat starting", "dev", cfg.Dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	bus := host.NewBus(cfg.Host.BusBuffer, logger)
	defer bus.Close()

	commands := host.StaticCommands{
		Dev: cfg.Dev,
		URLs: map[string]string{
			twitch.ScraperID:  cfg.Twitch.URL,
			youtube.ScraperID: cfg.YouTube.URL,
			kick.ScraperID:    cfg.Kick.URL,
		},
	}
	dev, _ := commands.IsDev(ctx)

	var eventLogs []*recorder.EventLog
	newEventLog := func(scraperID string) *recorder.EventLog {
		l := recorder.NewEventLog(cfg.Recorder.EventLogDir, scraperID, recorder.EventLogLevel(cfg.Recorder.EventLogLevel), dev, logger)
		eventLogs = append(eventLogs, l)
		return l
	}
	dispatcher := func(scraperID string) *host.Dispatcher {
		return host.NewDispatcher(scraperID, bus, nil)
	}

	platforms := []platform{
		twitch.New(intercept.NewPort(logger), dispatcher(twitch.ScraperID), twitch.Options{
			Transport:        cfg.Twitch.Transport,
			Username:         cfg.Twitch.Username,
			OAuth:            cfg.Twitch.OAuth,
			HandshakeTimeout: cfg.Twitch.HandshakeTimeout,
			JoinWindow:       cfg.Twitch.JoinWindow,
			Logger:           logger,
			FrameLog:         newEventLog(twitch.ScraperID),
		}),
		youtube.New(intercept.NewPort(logger), dispatcher(youtube.ScraperID), youtube.Options{
			MinInterval: cfg.YouTube.MinInterval,
			MaxInterval: cfg.YouTube.MaxInterval,
			Logger:      logger,
			FrameLog:    newEventLog(youtube.ScraperID),
		}),
		kick.New(intercept.NewPort(logger), dispatcher(kick.ScraperID), kick.Options{
			Chatrooms: cfg.Kick.Chatrooms,
			Logger:    logger,
			FrameLog:  newEventLog(kick.ScraperID),
		}),
	}

	// Consumers subscribe before any scraper runs so no envelope is missed.
	subscribe := func(name string) <-chan host.Envelope {
		envs, err := bus.Subscribe(ctx)
		if err != nil {
			logger.Error("failed to subscribe", "consumer", name, "error", err)
			os.Exit(1)
		}
		return envs
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	tracker := health.NewTracker()

	rec := recorder.New(recorder.Options{
		OutputDir:       cfg.Recorder.OutputDir,
		BufferSize:      cfg.Recorder.BufferSize,
		RotateMinutes:   cfg.Recorder.RotateMinutes,
		RotateMegabytes: cfg.Recorder.RotateMegabytes,
		Level:           recorder.Level(cfg.Recorder.Level),
		Logger:          logger,
	})
	fileChan := make(chan string, 100)

	var up *uploader.Uploader
	if cfg.Uploader.Enabled {
		if cfg.S3.RoleARN != "" {
			logger.Info("using OIDC authentication", "role", cfg.S3.RoleARN)
		} else {
			logger.Warn("using static AWS credentials (deprecated), migrate to OIDC")
		}
		up, err = uploader.New(ctx, uploader.Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			RoleARN:         cfg.S3.RoleARN,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			DeleteAfter:     cfg.Uploader.DeleteAfterUpload,
			MaxRetries:      cfg.Uploader.MaxRetries,
			Logger:          logger,
		})
		if err != nil {
			logger.Error("failed to create uploader", "error", err)
			os.Exit(1)
		}
		if err := up.ScanAndUploadExisting(ctx, cfg.Recorder.OutputDir); err != nil {
			logger.Warn("failed to scan for existing files", "error", err)
		}
	}

	var batcher *archive.Batcher
	if cfg.Archive.DatabaseURL != "" {
		pool, err := archive.Connect(ctx, cfg.Archive.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		batcher = archive.NewBatcher(ctx, pool, archive.Config{
			MaxBatch:     cfg.Archive.MaxBatch,
			FlushEvery:   cfg.Archive.FlushEvery,
			ChanBuffer:   cfg.Archive.ChanBuffer,
			FlushTimeout: 5 * time.Second,
		}, logger)
	}

	healthServer := health.New(cfg.Health.Addr, tracker, registry, logger)

	var wg sync.WaitGroup
	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
			}
		}()
	}

	recEnvs, metricEnvs, statusEnvs := subscribe("recorder"), subscribe("metrics"), subscribe("health")
	start("recorder", func() error { return rec.Start(ctx, recEnvs, fileChan) })
	start("metrics", func() error { m.Consume(ctx, metricEnvs); return nil })
	start("health-tracker", func() error { tracker.Consume(ctx, statusEnvs); return nil })
	if up != nil {
		start("uploader", func() error { return up.Start(ctx, fileChan) })
	}
	if batcher != nil {
		archiveEnvs := subscribe("archive")
		start("archive", func() error {
			batcher.Consume(ctx, archiveEnvs)
			<-batcher.Done()
			return nil
		})
	}
	start("health", healthServer.Start)

	for _, p := range platforms {
		runner := scraper.NewRunner(p, dispatcher(p.ID()), scraper.Options{
			Interval: cfg.Lifecycle.Interval,
			Logger:   logger,
		})
		p.SetReporter(runner)

		target, err := commands.URL(ctx, p.ID())
		if err != nil {
			logger.Warn("no target page", "scraper", p.ID(), "error", err)
		}
		start(p.ID(), func() error { return runner.Run(ctx, target) })
	}

	logger.Info("all components started successfully")

	<-sigChan
	logger.Info("shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health server", "error", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	for _, l := range eventLogs {
		l.Close()
	}
	logger.Info("unichat stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"golang.org/x/sync/errgroup"

	"printlink-backend/config"
	"printlink-backend/internal/api"
	"printlink-backend/internal/cloud"
	"printlink-backend/internal/db"
	"printlink-backend/internal/discovery"
	"printlink-backend/internal/firmware"
	"printlink-backend/internal/logger"
	"printlink-backend/internal/notification"
	"printlink-backend/internal/registry"
	"printlink-backend/internal/store"
	"printlink-backend/internal/transport"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var notifier registry.Notifier
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Warn().Msg("VAPID keys are not configured, push notifications disabled")
	} else {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, &webpushOptions, log)
		pool.Start(gctx)
		notifier = pool
	}

	var fw *firmware.Cache
	if cfg.Firmware.Enabled {
		fw = firmware.NewCache(&http.Client{Timeout: cfg.Firmware.Timeout}, cfg.Firmware.FeedURL, cfg.Firmware.Models, 2*cfg.Firmware.Interval)
		checker := firmware.NewChecker(fw, cfg.Firmware.Interval, log)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
	}

	var (
		session *cloud.Session
		relay   transport.Relay
		cl      registry.Cloud
	)
	if cfg.Cloud.Enabled {
		session, err = cloud.Connect(ctx, cloud.Options{
			URL:           cfg.Cloud.URL,
			SubjectPrefix: cfg.Cloud.SubjectPrefix,
			Bucket:        cfg.Cloud.ObjectBucket,
			CredsFile:     cfg.Cloud.CredsFile,
			Logger:        log,
		})
		if err != nil {
			log.Error().Err(err).Msg("cloud relay unavailable, continuing with local devices only")
		} else {
			defer session.Close()
			relay, cl = session, session
		}
	}

	reg := registry.New(registry.Deps{
		Factory:  registry.NewFactory(cfg, relay, transport.RealClock(), log),
		Store:    appStore,
		Firmware: fw,
		Notifier: notifier,
		Cloud:    cl,
		Logger:   log,
	}, registry.Options{
		UploadDir: cfg.Transfer.UploadDir,
	})
	g.Go(func() error { return reg.Run(gctx) })

	if cl != nil {
		g.Go(func() error {
			if err := reg.SyncCloud(gctx); err != nil {
				log.Error().Err(err).Msg("failed to load cloud devices")
			}
			return nil
		})
	}

	if cfg.Discovery.Enabled {
		listener := discovery.NewListener(fmt.Sprintf(":%d", cfg.Discovery.Port), cfg.Discovery.BufferSize, log)
		g.Go(func() error { return listener.Run(gctx) })
		g.Go(func() error {
			for a := range listener.Announcements() {
				reg.HandleAnnouncement(a)
			}
			return nil
		})
	}

	deps := api.Deps{
		Store:   appStore,
		Devices: reg,
		Archives: api.ArchiveOptions{
			OutputDir:     cfg.Archive.OutputDir,
			UploadDir:     cfg.Transfer.UploadDir,
			SlicerVersion: cfg.Archive.SlicerVersion,
			AppVersion:    cfg.Archive.AppVersion,
		},
		WebPush: &webpushOptions,
		Logger:  log,
	}
	if fw != nil {
		deps.Firmware = fw
	}
	handler := api.NewHandler(deps)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(handler, cfg.Server),
	}

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received, stopping services")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server gracefully stopped")
}

package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/anomaly"
	"github.com/enmstack/analytics-service/internal/api/middleware"
	"github.com/enmstack/analytics-service/internal/api/rest"
	"github.com/enmstack/analytics-service/internal/api/websocket"
	"github.com/enmstack/analytics-service/internal/baseline"
	"github.com/enmstack/analytics-service/internal/config"
	"github.com/enmstack/analytics-service/internal/events"
	"github.com/enmstack/analytics-service/internal/features"
	"github.com/enmstack/analytics-service/internal/kpi"
	"github.com/enmstack/analytics-service/internal/pkg/logger"
	"github.com/enmstack/analytics-service/internal/repository"
	"github.com/enmstack/analytics-service/internal/scheduler"
	"github.com/enmstack/analytics-service/internal/service"
	"github.com/enmstack/analytics-service/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		JSON:       cfg.LogJSON,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store first; nothing works without it.
	store, err := repository.NewTimescaleStore(cfg.DSN(), cfg.DBPoolSize)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		store.Close()
		return fmt.Errorf("store health check: %w", err)
	}
	if err := applyMigrations(store); err != nil {
		store.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("store ready", zap.String("host", cfg.DBHost), zap.Int("pool_size", cfg.DBPoolSize))

	// Event bus.
	busCtx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	bus, err := events.NewBus(busCtx, cfg.BusAddr(), cfg.BusPassword, cfg.BusDB, log)
	cancel()
	if err != nil {
		store.Close()
		return fmt.Errorf("connect event bus: %w", err)
	}
	log.Info("event bus connected", zap.String("addr", cfg.BusAddr()))

	// Engines.
	aggregator := features.NewAggregator(store, log)
	blobs, err := baseline.NewBlobStore(cfg.ModelDir)
	if err != nil {
		bus.Close()
		store.Close()
		return fmt.Errorf("open model dir: %w", err)
	}
	baselines := baseline.NewEngine(store, aggregator, blobs, log)
	anomalies := anomaly.NewEngine(store, aggregator, baselines, bus, nil, cfg.AnomalyContamination, log)
	tariff := kpi.TwoBandTariff{Peak: cfg.TariffPeak, OffPeak: cfg.TariffOffPeak}
	kpis := kpi.NewEngine(store, tariff, cfg.CarbonFactor, log)
	coordinator := service.NewTrainingCoordinator(store, baselines, bus,
		time.Duration(cfg.TrainingTimeoutSec)*time.Second, log)

	// WebSocket fan-out.
	hub := websocket.NewHub(rootCtx, log)
	go hub.Run()
	wsHandler := websocket.NewHandler(rootCtx, hub, cfg.AllowedOrigins,
		time.Duration(cfg.WebSocketHeartbeatInterval)*time.Second, cfg.WebSocketMaxConnections, log)

	// Bus subscriber feeding the fan-out.
	subscriber := events.NewSubscriber(bus.Client(), log)
	if cfg.BusPubSubEnabled {
		subscriber.Register(websocket.NewRouter(hub).Handle)
		if err := subscriber.Start(rootCtx); err != nil {
			bus.Close()
			store.Close()
			return fmt.Errorf("start subscriber: %w", err)
		}
	}

	// Jobs that died with a previous process stay running forever otherwise.
	if n, err := store.FailStuckTrainingJobs(rootCtx, time.Hour); err != nil {
		log.Warn("stuck job cleanup failed", zap.Error(err))
	} else if n > 0 {
		log.Info("failed stuck training jobs from previous run", zap.Int64("count", n))
	}

	// Scheduler.
	sweeps := service.NewSweeps(store, coordinator, anomalies, kpis, bus, log)
	sched := scheduler.New(sweeps.RetrainAll, sweeps.DetectAll, sweeps.CalculateKPIs, sweeps.CleanupStuck, log)
	if cfg.SchedulerEnabled {
		sched.Start(rootCtx)
	}

	// HTTP surface.
	limiter := middleware.NewRateLimiter(bus.Client(), middleware.RateLimiterConfig{
		Critical:     cfg.RateLimitCritical,
		Normal:       cfg.RateLimitNormal,
		Heavy:        cfg.RateLimitHeavy,
		Default:      cfg.RateLimitDefault,
		Global:       cfg.RateLimitGlobal,
		Whitelist:    cfg.Whitelist,
		BypassHeader: cfg.BypassHeader,
	}, log)
	throttle := middleware.NewConnectionThrottle(cfg.MaxConnectionsPerIP, cfg.MaxConnectionsTotal)

	handler := rest.NewHandler(store, baselines, anomalies, kpis, coordinator, sched,
		hub, throttle, bus, tariff, cfg.CarbonFactor, rest.FeatureFlags{
			WebSocket: cfg.WebSocketEnabled,
			Scheduler: cfg.SchedulerEnabled,
			BusPubSub: cfg.BusPubSubEnabled,
		}, log)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	rest.SetupRoutes(router, handler, limiter, wsHandler, cfg.WebSocketEnabled)

	chain := middleware.RequestID(
		middleware.Logging(log)(
			middleware.Timeout(time.Duration(cfg.RequestTimeoutSec) * time.Second)(
				throttle.Wrap(router))))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(chain)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.TrainingTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-rootCtx.Done():
	}

	// Reverse-order shutdown under one deadline.
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown exceeded deadline, forcing close", zap.Error(err))
		srv.Close()
	}
	if cfg.SchedulerEnabled {
		sched.Stop()
	}
	if cfg.BusPubSubEnabled {
		subscriber.Stop()
	}
	hub.Stop()
	if err := bus.Close(); err != nil {
		log.Warn("event bus close failed", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Warn("store close failed", zap.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}

// applyMigrations runs every embedded migration file in name order.
func applyMigrations(store *repository.TimescaleStore) error {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(entries)
	for _, name := range entries {
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if err := store.RunMigrations(string(sql)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

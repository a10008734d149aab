package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/quickbite/order-tracking/docs"
	"github.com/quickbite/order-tracking/internal/api"
	"github.com/quickbite/order-tracking/internal/core/service"
	"github.com/quickbite/order-tracking/internal/infrastructure/config"
	mongodb "github.com/quickbite/order-tracking/internal/infrastructure/db/mongo"
	redisdb "github.com/quickbite/order-tracking/internal/infrastructure/db/redis"
	"github.com/quickbite/order-tracking/internal/jobs"
	"github.com/quickbite/order-tracking/internal/tracking"
	"github.com/quickbite/order-tracking/pkg/logger"
)

// @title                      Order Tracking API
// @version                    1.0
// @description                Realtime order tracking for the QuickBite delivery platform.
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		fallback := logger.Init(logger.Options{})
		fallback.Fatal().Err(err).Msg("configuration failed")
	}

	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})

	// --- Backends ---
	mongoClient, db, err := mongodb.Connect(ctx, cfg.Mongo)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connection failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(shutdownCtx)
	}()

	rdb, err := redisdb.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer rdb.Close()

	orderRepo := mongodb.NewOrderRepository(db)
	authRepo := mongodb.NewAuthRepository(db)
	if err := orderRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("order indexes failed")
	}
	if err := authRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("auth indexes failed")
	}
	positions := redisdb.NewPositionCache(rdb)

	// --- Tracking core ---
	feed := tracking.NewFeed(cfg.Tracking.CourierSpeedKmh)
	registry := tracking.NewRegistry(orderRepo, positions, feed, tracking.Options{
		QueueSize: cfg.Tracking.SubscriberQueueSize,
		IdleTTL:   cfg.Tracking.SessionIdleTTL,
	}, log)
	trackingService := service.NewTrackingService(orderRepo, registry, log)

	// --- Background jobs ---
	jobList := []jobs.Job{jobs.NewSessionSweepJob(registry, log)}
	if cfg.Tracking.SimulatorEnabled {
		jobList = append(jobList, jobs.NewCourierSimulatorJob(orderRepo, trackingService, log))
	}
	manager := jobs.NewJobManager(log, jobList...)
	if err := manager.StartAll(); err != nil {
		log.Fatal().Err(err).Msg("background jobs failed to start")
	}
	defer manager.StopAll()

	// --- HTTP server ---
	e := api.NewRouter(api.Dependencies{
		Mongo:     db,
		Redis:     rdb,
		Registry:  registry,
		Tracking:  trackingService,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("order tracking service listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Brownie44l1/jute-web/internal/auth"
	"github.com/Brownie44l1/jute-web/internal/config"
	"github.com/Brownie44l1/jute-web/internal/events"
	"github.com/Brownie44l1/jute-web/internal/handlers"
	"github.com/Brownie44l1/jute-web/internal/predictor"
	"github.com/Brownie44l1/jute-web/internal/preview"
	"github.com/Brownie44l1/jute-web/internal/workflow"
)

func newLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	gin.SetMode(cfg.GinMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := predictor.NewClient(cfg.Backend, logger)
	hub := events.NewHub(logger)
	go hub.Run(ctx)

	previews := preview.NewGenerator(cfg.Upload.PreviewMaxSide, cfg.Upload.MaxPixels)
	service := workflow.NewService(client, previews, hub.Publish, logger)
	go service.RunEviction(ctx, cfg.Sessions.SweepInterval, cfg.Sessions.IdleTimeout)

	provider := auth.NewSupabaseProvider(cfg.Auth, logger)
	authMW := auth.NewMiddleware(provider, cfg.Auth.CookieName, cfg.Auth.SignInURL, logger)

	handler := handlers.NewHandler(service, client, provider, authMW, hub, handlers.Options{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		SignInURL:      cfg.Auth.SignInURL,
	}, logger)
	defer handler.Close()

	probeCtx, cancelProbe := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Health(probeCtx); err != nil {
		logger.Warn("inference backend not reachable yet", zap.String("base_url", cfg.Backend.BaseURL), zap.Error(err))
	} else if models, err := client.Models(probeCtx); err == nil {
		logger.Info("inference backend ready", zap.Strings("models", models))
	}
	cancelProbe()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("backend", cfg.Backend.BaseURL),
			zap.String("predict_path", cfg.Backend.PredictPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.Wait()
	}()
	select {
	case <-done:
	case <-time.After(cfg.Backend.RequestTimeout):
		logger.Warn("background requests still running at exit")
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/lesion-api/internal/config"
	"github.com/Brownie44l1/lesion-api/internal/handlers"
	"github.com/Brownie44l1/lesion-api/internal/logger"
	"github.com/Brownie44l1/lesion-api/internal/model"
	"github.com/Brownie44l1/lesion-api/internal/observer"
	"github.com/Brownie44l1/lesion-api/internal/pipeline"
	"github.com/Brownie44l1/lesion-api/internal/session"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}

	loader := model.NewONNXLoader(cfg.ModelPath, cfg.MetadataPath, cfg.ORTLibraryPath, cfg.CacheModel)
	defer model.ShutdownEnvironment()
	defer loader.Close()

	logger.WithFields(logrus.Fields{
		"model_path":    cfg.ModelPath,
		"metadata_path": cfg.MetadataPath,
		"cache_model":   cfg.CacheModel,
	}).Info("Loading model")

	// A missing model is not fatal: the screen still works and every
	// classification reports the load failure.
	if meta, err := loader.Metadata(); err != nil {
		logger.WithError(err).Warn("Model unavailable, classifications will fail until it is installed")
	} else {
		logger.WithField("classes", meta.Classes).Info("Model loaded")
	}

	classifier := pipeline.New(loader)

	events := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New(classifier, events)
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Session stopped")
		}
	}()

	h := handlers.NewHandler(classifier, sess, loader, metrics, handlers.Options{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      handlers.NewRouter(h),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address":    cfg.ServerAddress(),
			"session_id": sess.ID().String(),
			"timeout":    cfg.RequestTimeout.String(),
			"endpoints": []string{
				"GET /health",
				"GET /metrics",
				"POST /predict",
				"POST /predict/image",
				"GET /session",
				"PUT /session/image",
				"POST /session/predict",
			},
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	<-sessionDone

	logger.Info("Server exited")
}

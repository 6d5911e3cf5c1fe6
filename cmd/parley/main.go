package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/api"
	"github.com/nidhogg/parley/internal/config"
	"github.com/nidhogg/parley/internal/conversation"
	"github.com/nidhogg/parley/internal/files"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/storage"
	"github.com/nidhogg/parley/internal/store"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Parley...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/parley.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Document store
	docs, err := store.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
	if err != nil {
		logger.Fatal("MongoDB unavailable", zap.Error(err))
	}
	if err := docs.EnsureCollections(ctx,
		agent.Collection,
		conversation.ConversationCollection,
		conversation.MessageCollection,
	); err != nil {
		logger.Fatal("collection bootstrap failed", zap.Error(err))
	}

	// Object storage
	objStore, err := storage.NewMinio(ctx, storage.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		Secure:    cfg.Minio.Secure,
		Region:    cfg.Minio.Region,
		Bucket:    cfg.Minio.Bucket,
	}, logger)
	if err != nil {
		logger.Fatal("MinIO unavailable", zap.Error(err))
	}

	presignTTL := time.Duration(cfg.Uploads.PresignExpirySeconds) * time.Second
	if presignTTL <= 0 {
		presignTTL = files.DefaultPresignTTL
	}

	// Presign cache is optional; without Redis every URL is re-signed.
	var urlCache *files.URLCache
	if cfg.Redis.URL != "" {
		urlCache, err = files.NewURLCache(ctx, cfg.Redis.URL, presignTTL/2, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without presign cache", zap.Error(err))
			urlCache = nil
		}
	}

	fileSvc := files.NewService(objStore, urlCache, cfg.Uploads.Prefix, presignTTL, logger)

	// LLM client
	llm := provider.NewClient(provider.Config{
		Endpoint:     cfg.LLM.Endpoint,
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.DefaultModel,
		Timeout:      time.Duration(cfg.LLM.TimeoutSeconds * float64(time.Second)),
	}, logger)

	// Domain services
	agents := agent.NewRepository(docs, logger)
	convs := conversation.NewService(conversation.NewLog(docs, logger), agents, fileSvc, llm, logger)

	handler := api.NewHandler(agents, convs, fileSvc, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Parley listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Parley...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if urlCache != nil {
		urlCache.Close()
	}
	docs.Close(shutdownCtx)
}

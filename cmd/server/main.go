package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/logger"
	"fieldsync/internal/remote"
	"fieldsync/internal/store"
	"fieldsync/internal/sync"
)

func main() {
	// Load Config
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLoggerWithFile(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting fieldsync engine")

	// Init State Store
	stateStore, err := store.New(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Remote endpoint binding
	client := remote.NewHTTPClient(cfg.Remote, nil)

	// Init Sync Engine
	engine, err := sync.NewEngine(cfg, stateStore, client)
	if err != nil {
		logger.Log.Fatal("Failed to init sync engine", zap.Error(err))
	}
	engine.Start()
	defer engine.Stop()

	// Init API
	handler := api.NewHandler(engine, cfg.Server)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "nexus-ai-engine/configs"
	"nexus-ai-engine/pkg/logger"
	"nexus-ai-engine/pkg/server"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// .envファイルを読み込み（存在しなくても続行）
	envErr := godotenv.Load()

	// 設定の読み込み
	cfg := config.LoadConfig()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.Environment == "development"})
	logger.SetGlobalLogger(log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg(".env file not loaded")
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// LLM機能はエンドポイントが設定されている場合のみ有効
	responder, extractor := server.Assistant(cfg, log)

	a := server.NewApp(cfg, log, responder, extractor)
	if err := a.Sweeper.Start(cfg.CacheSweepSchedule); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.CacheSweepSchedule).Msg("Invalid cache sweep schedule")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(cfg, a, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("environment", cfg.Environment).Msg("Starting NEXUS AI Engine")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	a.Sweeper.Stop()
}

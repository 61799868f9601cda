package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finreport/internal/api"
	"finreport/internal/assembler"
	"finreport/internal/auth"
	"finreport/internal/cache"
	"finreport/internal/config"
	"finreport/internal/fetcher"
	"finreport/internal/filestore"
	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/redis"
	"finreport/internal/service/ai"
	"finreport/internal/storage"
	"finreport/internal/sysprompt"
	"finreport/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat, "stdout"); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	var cacheOpts []cache.Option
	if cfg.RedisAddr != "" {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("redis unavailable, cache runs on the database only", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			defer rdb.Close()
			cacheOpts = append(cacheOpts, cache.WithHotTier(rdb))
		}
	}
	dataCache := cache.New(db, cfg.DBDriver, cacheOpts...)
	if err := dataCache.Initialize(); err != nil {
		logger.Fatal("initialize cache", zap.Error(err))
	}
	cleanInterval := time.Duration(cfg.CacheCleanIntervalMinutes) * time.Minute
	if cleanInterval <= 0 {
		cleanInterval = 30 * time.Minute
	}
	dataCache.StartSweeper(ctx, cleanInterval)

	files, err := filestore.Open(cfg.FileBaseDir)
	if err != nil {
		logger.Fatal("open file store", zap.Error(err))
	}
	defer files.Close()
	resolver, err := assembler.NewResolver(ctx, files)
	if err != nil {
		logger.Fatal("init document resolver", zap.Error(err))
	}

	fetchers := fetcher.NewRegistry(
		fetcher.NewYFinance(cfg.YFinanceBaseURL, nil),
		fetcher.NewFRED(cfg.FredBaseURL, cfg.FredAPIKey, nil),
		fetcher.NewNYFed(fetcher.DefaultNYFedCatalog, nil),
	)
	if cfg.FredAPIKey == "" {
		logger.Warn("FRED_API_KEY not set, fred requests will be rejected")
	}

	prompt, err := sysprompt.New(cfg.SystemPrompt, cfg.SystemPromptFile)
	if err != nil {
		logger.Fatal("load system prompt", zap.Error(err))
	}
	defer prompt.Close()
	if err := prompt.Watch(ctx); err != nil {
		logger.Warn("system prompt hot reload disabled", zap.Error(err))
	}

	backend, err := ai.NewBackend(ctx, cfg.LLM)
	if err != nil {
		logger.Fatal("init language model", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
	}
	gateway := ai.NewGateway(backend, cfg.LLM)

	authService, err := auth.NewService(cfg.JWTSecretKey, cfg.JWTAlgorithm,
		time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute)
	if err != nil {
		logger.Fatal("init auth", zap.Error(err))
	}

	pool := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.MinWorkers,
		MaxWorkers:  cfg.MaxWorkers,
		QueueSize:   cfg.QueueSize,
		IdleTimeout: time.Duration(cfg.WorkerIdleTimeout) * time.Second,
	})
	defer pool.Close()

	handlers := api.NewHandler(api.Deps{
		Config:       cfg,
		DB:           db,
		Cache:        dataCache,
		Fetchers:     fetchers,
		Files:        files,
		Resolver:     resolver,
		Gateway:      gateway,
		Auth:         authService,
		SystemPrompt: prompt,
		Dispatcher:   pool,
	})

	router := gin.New()
	handlers.RegisterRoutes(router)

	addr := cfg.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("server listening", zap.String("addr", addr), zap.String("model", gateway.Model()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

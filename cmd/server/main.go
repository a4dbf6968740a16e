// Package main runs the media conversion HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mediaforge/backend/config"
	"github.com/mediaforge/backend/internal/auth"
	"github.com/mediaforge/backend/internal/cleanup"
	"github.com/mediaforge/backend/internal/media"
	"github.com/mediaforge/backend/internal/middleware"
	"github.com/mediaforge/backend/internal/quota"
	"github.com/mediaforge/backend/pkg/database"
	"github.com/mediaforge/backend/pkg/queue"
	"github.com/mediaforge/backend/pkg/redis"
	"github.com/mediaforge/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	for _, dir := range []string{cfg.Media.UploadDir, cfg.Media.OutputDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			logger.Fatal("create storage dir", zap.Error(err), zap.String("dir", dir))
		}
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis powers the shared rate limiter and the archive queue; both
	// degrade gracefully without it.
	var rdb *redis.Client
	if client, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger); err != nil {
		logger.Warn("redis unavailable, rate limiting falls back to in-process and archiving is disabled", zap.Error(err))
	} else {
		rdb = client
		defer rdb.Close()
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	gatekeeper := quota.NewGatekeeper(quota.NewRepository(pool), cfg.Media.DailyLimit)
	ledger := media.NewLedger()

	var archiver media.Archiver
	if rdb != nil && cfg.AWS.ArchiveBucket != "" {
		archiver = queue.NewQueue(rdb.Client, logger)
		logger.Info("output archiving enabled", zap.String("bucket", cfg.AWS.ArchiveBucket))
	}
	executor := media.NewExecutor(ledger, gatekeeper, archiver, cfg.Media.FFmpegPath, cfg.Media.FFprobePath, logger)
	mediaHandler := media.NewHandler(ledger, executor, gatekeeper,
		cfg.Media.UploadDir, cfg.Media.OutputDir, cfg.Media.MaxUploadBytes(), logger)

	sweeper := cleanup.NewSweeper(
		[]string{cfg.Media.UploadDir, cfg.Media.OutputDir},
		cfg.Media.RetentionWindow(), cfg.Media.SweepInterval(), logger)

	var limiterRedis *goredis.Client
	if rdb != nil {
		limiterRedis = rdb.Client
	}
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPM, limiterRedis)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.MaxMultipartMemory = cfg.Media.MaxUploadBytes()

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	api := router.Group("/media")
	api.Use(middleware.JWT(jwtService), middleware.RateLimit(limiter))
	{
		api.POST("/upload", mediaHandler.Upload)
		api.POST("/convert", mediaHandler.Convert)
		api.GET("/jobs/:id", mediaHandler.JobStatus)
	}

	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole("admin"))
	{
		admin.GET("/jobs", mediaHandler.ListJobs)
	}

	// Live progress over websocket (token in query; no Authorization header).
	router.GET("/ws/jobs/:id", media.ServeJobProgress(ledger, func(token string) error {
		_, err := jwtService.Validate(token)
		return err
	}, logger))

	// Completed outputs are retrievable by name until the sweeper reaps them.
	router.Static("/downloads", cfg.Media.OutputDir)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go sweeper.Run(sweepCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"chatrelay/config"
	"chatrelay/internal/auth"
	directoryPostgres "chatrelay/internal/directory/postgres"
	"chatrelay/internal/gateway"
	"chatrelay/internal/metrics"
	"chatrelay/internal/presence"
	"chatrelay/internal/registry"
	"chatrelay/internal/room"
	"chatrelay/internal/server"
	storePostgres "chatrelay/internal/store/postgres"
	"chatrelay/internal/transform"
	"chatrelay/pkg/jwt"
	"chatrelay/pkg/log"
	"chatrelay/pkg/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Failed to load config:", err)
		return
	}

	// Initialize logger
	logger := log.Init(log.ZapConfig{
		Level:    cfg.Logger.Level,
		Mode:     cfg.Logger.Mode,
		Encoding: cfg.Logger.Encoding,
	})

	ctx := context.Background()
	logger.Info(ctx, "Starting chatrelay...")

	// Open the message database and bring the schema current
	db, err := storePostgres.Open(storePostgres.OpenConfig{
		URL:          cfg.Postgres.URL,
		MaxOpenConns: cfg.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Postgres.MaxIdleConns,
		ConnMaxLife:  cfg.Postgres.ConnMaxLife,
	})
	if err != nil {
		logger.Errorf(ctx, "Failed to open Postgres: %v", err)
		return
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Errorf(ctx, "Failed to connect to Postgres: %v", err)
		return
	}
	if err := storePostgres.RunMigrations(cfg.Postgres.URL); err != nil {
		logger.Errorf(ctx, "Failed to run migrations: %v", err)
		return
	}
	logger.Info(ctx, "Postgres connected, schema current")

	// Initialize Redis client for the online-set mirror
	redisClient, err := redis.NewClient(redis.Config{
		Addr:            cfg.Redis.Addr,
		Password:        cfg.Redis.Password,
		DB:              cfg.Redis.DB,
		UseTLS:          cfg.Redis.UseTLS,
		MaxRetries:      cfg.Redis.MaxRetries,
		MinIdleConns:    cfg.Redis.MinIdleConns,
		PoolSize:        cfg.Redis.PoolSize,
		PoolTimeout:     cfg.Redis.PoolTimeout,
		ConnMaxIdleTime: cfg.Redis.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Redis.ConnMaxLifetime,
	})
	if err != nil {
		logger.Errorf(ctx, "Failed to connect to Redis: %v", err)
		return
	}
	defer redisClient.Close()
	logger.Infof(ctx, "Redis connected successfully to %s", cfg.Redis.Addr)

	// Initialize metrics
	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewCollector(promRegistry)

	// Initialize domain components
	messageStore := storePostgres.New(logger, db)
	dir := directoryPostgres.New(logger, db)
	transformer := transform.New(dir, logger)
	connRegistry := registry.New(logger)
	mirror := presence.NewOnlineSet(redisClient, logger)
	tracker := presence.New(dir, transformer, mirror, logger, recorder)
	broker := room.New(messageStore, transformer, logger, recorder)

	// Initialize JWT validator
	jwtValidator := jwt.NewValidator(jwt.Config{
		SecretKey: cfg.JWT.SecretKey,
	})

	// Initialize admission control
	authorizer := auth.NewCachedAuthorizer(
		auth.NewDirectoryAuthorizer(dir, logger),
		cfg.Limits.AuthCacheTTL,
		logger,
	)
	limiter := auth.NewConnectionTracker(auth.RateLimitConfig{
		MaxConnectionsPerUser: cfg.Limits.MaxConnectionsPerUser,
		ConnectRate:           cfg.Limits.ConnectRate,
		ConnectBurst:          cfg.Limits.ConnectBurst,
	}, logger)

	// Initialize WebSocket handler
	wsHandler := gateway.NewHandler(
		connRegistry,
		tracker,
		broker,
		messageStore,
		transformer,
		jwtValidator,
		authorizer,
		limiter,
		logger,
		gateway.WSConfig{
			PongWait:        cfg.WebSocket.PongWait,
			PingPeriod:      cfg.WebSocket.PingInterval,
			WriteWait:       cfg.WebSocket.WriteWait,
			MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			MaxConnections:  cfg.WebSocket.MaxConnections,
		},
		recorder,
	)

	// Setup Gin router
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Setup WebSocket routes
	wsHandler.SetupRoutes(router)

	// Setup server
	srv := server.New(server.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Router:   router,
		Logger:   logger,
		Registry: connRegistry,
		Tracker:  tracker,
		Broker:   broker,
		Limiter:  limiter,
		Redis:    redisClient,
		DB:       db,
		Gatherer: promRegistry,
	})

	// Start server in a goroutine
	go func() {
		if err := srv.Start(); err != nil {
			logger.Errorf(ctx, "Server error: %v", err)
		}
	}()

	logger.Infof(ctx, "chatrelay listening on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down gracefully...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new connections, then close the live ones. Each close
	// runs the connection's teardown, which clears presence and rooms.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "Error shutting down server: %v", err)
	}

	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(ctx, "Error closing WebSocket connections: %v", err)
	}

	logger.Info(ctx, "Server shutdown complete")
}
